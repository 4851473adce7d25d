package session

import (
	"fmt"
	"time"
)

// Mode says who is serving a conversation. The transition ai -> human
// happens at most once; there is no path back. An abandoned handoff strands
// the conversation until the user starts a new one — that behavior is
// carried over deliberately from the system this replaces.
type Mode string

const (
	ModeAI    Mode = "ai"
	ModeHuman Mode = "human"
)

const (
	// humanSessionTag marks outbound messages belonging to a human-served
	// session. The webhook receiver treats any inbound text containing one
	// of these tags as a self-authored echo and drops it to prevent relay
	// loops between the two platforms.
	humanSessionTag = "[HUMAN_SESSION]"
	userTagPrefix   = "[CHAT_USER_ID:"
)

// UserTag renders the identity marker prepended to every message this
// system posts to the agent platform.
func UserTag(userID string) string {
	return userTagPrefix + userID + "]"
}

// HumanSessionTag returns the marker identifying a forwarded human-session
// message.
func HumanSessionTag() string { return humanSessionTag }

// EchoMarkers are the substrings that identify self-authored messages on
// the inbound webhook path.
func EchoMarkers() []string {
	return []string{userTagPrefix, humanSessionTag}
}

// Session is the per-conversation state. Invariant: RoomID and Agent are
// non-empty iff Mode is ModeHuman.
type Session struct {
	ID        string
	UserID    string
	Mode      Mode
	Agent     string
	RoomID    string
	CreatedAt time.Time
	Status    string
}

// New returns a fresh AI-served session.
func New(id, userID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		Mode:      ModeAI,
		CreatedAt: now,
		Status:    "active",
	}
}

// BindHuman flips the session to human-served. It refuses a second
// transition and an empty binding so the mode/room invariant can not be
// violated from the outside.
func (s *Session) BindHuman(agent, roomID string) error {
	if s.Mode == ModeHuman {
		return fmt.Errorf("session %s is already human-served", s.ID)
	}
	if agent == "" || roomID == "" {
		return fmt.Errorf("session %s: handoff binding requires agent and room", s.ID)
	}
	s.Mode = ModeHuman
	s.Agent = agent
	s.RoomID = roomID
	return nil
}

// HumanServed reports whether messages should go to the bound agent.
func (s *Session) HumanServed() bool {
	return s.Mode == ModeHuman && s.RoomID != ""
}
