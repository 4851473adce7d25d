package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/concierge/pkg/agentchat"
	"github.com/go-go-golems/concierge/pkg/queue"
	"github.com/go-go-golems/concierge/pkg/ragflow"
	"github.com/go-go-golems/concierge/pkg/session"
)

// Assistant is the AI backend surface the controller needs. Satisfied by
// *ragflow.Client.
type Assistant interface {
	ResolveAssistant(ctx context.Context, name string) (string, error)
	CreateSession(ctx context.Context, userID string) (string, error)
	StreamCompletion(ctx context.Context, question, sessionID, userID string, sink ragflow.TokenSink) (*ragflow.Answer, error)
	DocumentURL(cit ragflow.Citation) string
}

// AgentPlatform is the human-agent platform surface. Satisfied by
// *agentchat.Client.
type AgentPlatform interface {
	Login(ctx context.Context, user, password string) error
	Me(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, channel, text string) (*agentchat.PostedMessage, error)
}

// PlatformDialer returns a fresh, unauthenticated platform client. Handoff
// authenticates per call; nothing is cached across conversations.
type PlatformDialer func() AgentPlatform

// Options carries the tunables the distilled defaults used to hide.
type Options struct {
	Environment   string
	AssistantName string
	// Agents is the weekly rotation, Sunday first.
	Agents        []string
	AgentPassword string
	IdleInterval  time.Duration
	PeekTimeout   time.Duration
	StreamMaxLen  int64
}

// Controller drives conversations: it decides per message whether the AI
// backend or the bound human agent receives it, performs the one-way
// handoff, and owns one relay task per conversation. The UI host invokes
// the On* methods; there is no ambient registry of sessions — every
// conversation object is passed explicitly.
type Controller struct {
	opts      Options
	queues    *queue.Store
	metadata  *session.MetadataStore
	assistant Assistant
	dial      PlatformDialer

	now func() time.Time
}

// Conversation is the per-conversation state owned by its controller calls
// and its single relay task.
type Conversation struct {
	Session    *session.Session
	transcript Transcript

	mu          sync.Mutex
	history     []historyEntry
	aiSessionID string

	// handoffMu serializes RequestHandoff so two concurrent requests cannot
	// both pass the mode check and double-post the transcript.
	handoffMu sync.Mutex

	relayCancel context.CancelFunc
	relayDone   chan struct{}
}

type historyEntry struct {
	role string
	text string
}

// NewController wires a controller from its collaborators.
func NewController(opts Options, queues *queue.Store, metadata *session.MetadataStore, assistant Assistant, dial PlatformDialer) *Controller {
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = 5 * time.Second
	}
	if opts.PeekTimeout <= 0 {
		opts.PeekTimeout = 30 * time.Second
	}
	if opts.StreamMaxLen <= 0 {
		opts.StreamMaxLen = 1000
	}
	return &Controller{
		opts:      opts,
		queues:    queues,
		metadata:  metadata,
		assistant: assistant,
		dial:      dial,
		now:       time.Now,
	}
}

// OnConversationStart creates the session, persists its metadata record and
// starts the conversation's relay task. The assistant is resolved up front
// so a misconfigured backend fails the conversation immediately instead of
// on the first question.
func (c *Controller) OnConversationStart(ctx context.Context, userID string, transcript Transcript) (*Conversation, error) {
	if _, err := c.assistant.ResolveAssistant(ctx, c.opts.AssistantName); err != nil {
		return nil, errors.Wrap(err, "resolve assistant")
	}

	sess := session.New(uuid.NewString(), userID, c.now())
	if err := c.metadata.Create(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "persist session metadata")
	}

	conv := &Conversation{
		Session:    sess,
		transcript: transcript,
		relayDone:  make(chan struct{}),
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	conv.relayCancel = cancel
	go c.runRelay(relayCtx, conv)

	log.Info().Str("session_id", sess.ID).Str("user_id", userID).Msg("conversation started")
	return conv, nil
}

// OnUserMessage routes one user message according to the session mode.
// Upstream failures become a single readable transcript message; they never
// change session state.
func (c *Controller) OnUserMessage(ctx context.Context, conv *Conversation, text string) error {
	conv.remember(RoleUser, text)

	if _, _, human := conv.binding(); human {
		return c.forwardToAgent(ctx, conv, text)
	}
	return c.askAssistant(ctx, conv, text)
}

// OnAction handles UI actions. Only the handoff action exists today.
func (c *Controller) OnAction(ctx context.Context, conv *Conversation, name string) error {
	if name != ActionHandoff {
		return errors.Errorf("unknown action %q", name)
	}
	return c.RequestHandoff(ctx, conv)
}

// OnConversationEnd cancels the relay task, waits for it to exit and only
// then clears the metadata record, so no reader is left dangling against a
// key that is about to disappear.
func (c *Controller) OnConversationEnd(ctx context.Context, conv *Conversation) error {
	if conv.relayCancel != nil {
		conv.relayCancel()
		<-conv.relayDone
	}
	if err := c.metadata.Delete(ctx, conv.Session.UserID, conv.Session.ID); err != nil {
		return err
	}
	log.Info().Str("session_id", conv.Session.ID).Msg("conversation ended")
	return nil
}

// RequestHandoff transfers the conversation to the agent on duty. The
// transition is all-or-nothing: only after the platform accepted the
// transcript snapshot is any state persisted. There is no reversion path;
// a new conversation is the only way back to the AI. Concurrent requests
// are serialized; the loser sees the binding and gets the already-connected
// notice.
func (c *Controller) RequestHandoff(ctx context.Context, conv *Conversation) error {
	conv.handoffMu.Lock()
	defer conv.handoffMu.Unlock()

	if _, _, human := conv.binding(); human {
		return c.notify(ctx, conv, "You are already connected to a support agent.")
	}

	agent := session.AgentOnDuty(c.opts.Agents, c.now())
	if agent == "" {
		return c.notify(ctx, conv, "Handoff failed: no support agent is configured.")
	}

	platform := c.dial()
	if err := platform.Login(ctx, conv.Session.UserID, c.opts.AgentPassword); err != nil {
		log.Error().Err(err).Str("session_id", conv.Session.ID).Msg("handoff login failed")
		return c.notify(ctx, conv, "Handoff failed: could not authenticate with the support platform.")
	}
	if _, err := platform.Me(ctx); err != nil {
		log.Error().Err(err).Str("session_id", conv.Session.ID).Msg("handoff identity check failed")
		return c.notify(ctx, conv, "Handoff failed: could not authenticate with the support platform.")
	}

	snapshot := session.UserTag(conv.Session.UserID) + "\n" + conv.snapshot()
	posted, err := platform.PostMessage(ctx, "@"+agent, snapshot)
	if err != nil {
		log.Error().Err(err).Str("session_id", conv.Session.ID).Str("agent", agent).Msg("handoff post failed")
		return c.notify(ctx, conv, "Handoff failed: the transcript could not be delivered.")
	}

	conv.mu.Lock()
	err = conv.Session.BindHuman(agent, posted.RoomID)
	conv.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "bind handoff")
	}
	if err := c.metadata.BindHandoff(ctx, conv.Session, c.now()); err != nil {
		// The in-memory binding already happened and the agent has the
		// transcript; losing the metadata record only hurts diagnostics.
		log.Error().Err(err).Str("session_id", conv.Session.ID).Msg("failed to persist handoff binding")
	}

	log.Info().
		Str("session_id", conv.Session.ID).
		Str("agent", agent).
		Str("room_id", posted.RoomID).
		Msg("conversation handed off to support agent")
	return c.notify(ctx, conv,
		fmt.Sprintf("You are now connected to support agent %s. Start a new conversation to talk to the AI again.", agent))
}

// forwardToAgent posts a human-session message verbatim to the bound agent,
// tagged so the webhook receiver can recognize the echo.
func (c *Controller) forwardToAgent(ctx context.Context, conv *Conversation, text string) error {
	agent, _, _ := conv.binding()
	platform := c.dial()
	if err := platform.Login(ctx, conv.Session.UserID, c.opts.AgentPassword); err != nil {
		log.Error().Err(err).Str("session_id", conv.Session.ID).Msg("agent forward login failed")
		return c.notify(ctx, conv, "Your message could not be delivered to the support agent. Please try again.")
	}
	formatted := session.UserTag(conv.Session.UserID) + session.HumanSessionTag() + "\n" + text
	if _, err := platform.PostMessage(ctx, "@"+agent, formatted); err != nil {
		log.Error().Err(err).Str("session_id", conv.Session.ID).Str("agent", agent).Msg("agent forward failed")
		return c.notify(ctx, conv, "Your message could not be delivered to the support agent. Please try again.")
	}
	return c.notify(ctx, conv, fmt.Sprintf("Sent to support agent %s.", agent))
}

// askAssistant streams one answer from the AI backend into the transcript:
// token deltas first, then the references element, then finalization.
func (c *Controller) askAssistant(ctx context.Context, conv *Conversation, question string) error {
	aiSession, err := conv.ensureAISession(ctx, c.assistant)
	if err != nil {
		log.Error().Err(err).Str("session_id", conv.Session.ID).Msg("failed to create backend session")
		return c.notify(ctx, conv, "The AI backend is unavailable right now. Please try again later.")
	}

	elementID, err := conv.transcript.BeginMessage(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transcript message")
	}

	sink := ragflow.TokenSinkFunc(func(ctx context.Context, delta string) error {
		return conv.transcript.StreamToken(ctx, elementID, delta)
	})
	answer, err := c.assistant.StreamCompletion(ctx, question, aiSession, conv.Session.UserID, sink)
	if err != nil {
		log.Error().Err(err).Str("session_id", conv.Session.ID).Msg("completion stream failed")
		_ = conv.transcript.FinalizeMessage(ctx, elementID)
		return c.notify(ctx, conv, "The AI backend failed to answer. Please try again.")
	}

	if len(answer.Citations) > 0 {
		refs := make([]Reference, 0, len(answer.Citations))
		for _, cit := range answer.Citations {
			refs = append(refs, Reference{Name: cit.Name, URL: c.assistant.DocumentURL(cit)})
		}
		if err := conv.transcript.AppendReferences(ctx, refs); err != nil {
			log.Warn().Err(err).Str("session_id", conv.Session.ID).Msg("failed to append references")
		}
	}

	if err := conv.transcript.FinalizeMessage(ctx, elementID); err != nil {
		return errors.Wrap(err, "finalize transcript message")
	}
	conv.remember(RoleAssistant, answer.Text)
	return nil
}

func (c *Controller) notify(ctx context.Context, conv *Conversation, text string) error {
	return conv.transcript.AppendMessage(ctx, RoleSystem, text)
}

func (conv *Conversation) remember(role, text string) {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	conv.history = append(conv.history, historyEntry{role: role, text: text})
}

// snapshot renders the conversation so far for the support agent.
func (conv *Conversation) snapshot() string {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	parts := make([]string, 0, len(conv.history))
	for _, e := range conv.history {
		parts = append(parts, fmt.Sprintf("**%s: **%s", capitalize(e.role), e.text))
	}
	return strings.Join(parts, "\n\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// binding snapshots the session's delivery target for the relay task. The
// handoff writes these fields from another goroutine.
func (conv *Conversation) binding() (agent, room string, human bool) {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.Session.Agent, conv.Session.RoomID, conv.Session.HumanServed()
}

// ensureAISession creates the backend chat session on first use and reuses
// it for the rest of the conversation.
func (conv *Conversation) ensureAISession(ctx context.Context, assistant Assistant) (string, error) {
	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.aiSessionID != "" {
		return conv.aiSessionID, nil
	}
	id, err := assistant.CreateSession(ctx, conv.Session.UserID)
	if err != nil {
		return "", err
	}
	conv.aiSessionID = id
	return id, nil
}
