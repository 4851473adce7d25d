package chat

import "context"

// Roles attached to transcript messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleAgent     = "agent"
	RoleSystem    = "system"
)

// ActionHandoff is the single action offered on the references element; the
// UI host reports it back through Controller.OnAction.
const ActionHandoff = "handoff"

// Reference is a cited document offered for download.
type Reference struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Transcript is the conversation surface owned by the UI host. The
// controller only ever talks to this interface; rendering, persistence and
// session lifecycle of the host stay out of scope.
type Transcript interface {
	// BeginMessage opens a streaming assistant message and returns its
	// element id.
	BeginMessage(ctx context.Context) (string, error)
	// StreamToken appends a delta to a streaming message.
	StreamToken(ctx context.Context, elementID, delta string) error
	// FinalizeMessage marks a streaming message complete. Called exactly
	// once per BeginMessage, after any references element.
	FinalizeMessage(ctx context.Context, elementID string) error
	// AppendMessage adds a complete message in one piece.
	AppendMessage(ctx context.Context, role, text string) error
	// AppendReferences adds the cited-documents element. The element
	// carries the handoff affordance.
	AppendReferences(ctx context.Context, refs []Reference) error
}
