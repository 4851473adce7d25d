package webui

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/concierge/pkg/chat"
)

// pubTranscript implements chat.Transcript by publishing frames to the
// conversation's topic. The host's reader goroutine fans them out to every
// connected socket, so the controller never touches a websocket directly.
type pubTranscript struct {
	convID string
	pub    message.Publisher
}

var _ chat.Transcript = (*pubTranscript)(nil)

func newPubTranscript(convID string, pub message.Publisher) *pubTranscript {
	return &pubTranscript{convID: convID, pub: pub}
}

func (t *pubTranscript) publish(f Frame) error {
	payload, err := f.marshal()
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return t.pub.Publish(topicFor(t.convID), msg)
}

func (t *pubTranscript) BeginMessage(context.Context) (string, error) {
	elementID := uuid.NewString()
	if err := t.publish(Frame{Type: FrameBegin, ElementID: elementID, Role: chat.RoleAssistant}); err != nil {
		return "", err
	}
	return elementID, nil
}

func (t *pubTranscript) StreamToken(_ context.Context, elementID, delta string) error {
	return t.publish(Frame{Type: FrameToken, ElementID: elementID, Delta: delta})
}

func (t *pubTranscript) FinalizeMessage(_ context.Context, elementID string) error {
	return t.publish(Frame{Type: FrameFinal, ElementID: elementID})
}

func (t *pubTranscript) AppendMessage(_ context.Context, role, text string) error {
	return t.publish(Frame{Type: FrameMessage, Role: role, Text: text})
}

func (t *pubTranscript) AppendReferences(_ context.Context, refs []chat.Reference) error {
	return t.publish(Frame{Type: FrameReferences, Refs: refs, Action: chat.ActionHandoff})
}
