package webui

import (
	"encoding/json"

	"github.com/go-go-golems/concierge/pkg/chat"
)

// Frame types sent to websocket clients, in transcript order: a begin frame
// opens a streaming message, token frames carry deltas, an optional
// references frame lists cited documents, a final frame closes the message.
// Complete messages (agent replies, system notices) arrive as one message
// frame.
const (
	FrameBegin      = "begin"
	FrameToken      = "token"
	FrameMessage    = "message"
	FrameReferences = "references"
	FrameFinal      = "final"
)

// Frame is the wire format fanned out to every socket of a conversation.
type Frame struct {
	Type      string           `json:"type"`
	ElementID string           `json:"element_id,omitempty"`
	Role      string           `json:"role,omitempty"`
	Text      string           `json:"text,omitempty"`
	Delta     string           `json:"delta,omitempty"`
	Refs      []chat.Reference `json:"refs,omitempty"`
	// Action names the affordance attached to a references frame.
	Action string `json:"action,omitempty"`
}

func (f Frame) marshal() ([]byte, error) {
	return json.Marshal(f)
}

// topicFor computes the per-conversation fan-out topic.
func topicFor(convID string) string { return "chat:" + convID }
