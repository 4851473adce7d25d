package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/concierge/pkg/queue"
	"github.com/go-go-golems/concierge/pkg/session"
)

func waitForAgentMessage(t *testing.T, ts *fakeTranscript, want string) bool {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		for _, text := range ts.byRole(RoleAgent) {
			if text == want {
				return true
			}
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRelay_ForwardsAgentRepliesAfterHandoff(t *testing.T) {
	platform := &fakePlatform{roomID: "R7"}
	ctrl, store := newTestController(t, &fakeAssistant{}, platform)
	ts := &fakeTranscript{}

	conv, err := ctrl.OnConversationStart(context.Background(), "carol", ts)
	require.NoError(t, err)
	defer endConversation(t, ctrl, conv)

	require.NoError(t, ctrl.RequestHandoff(context.Background(), conv))

	// The relay tails the stream from its current end, so an entry only
	// lands once a blocking peek is in flight. Keep writing until one is
	// picked up instead of guessing at the loop's timing.
	name := queue.AgentStreamQueue("test", "alice", "R7")
	q := store.Stream(name, 100)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(25 * time.Millisecond):
				q.Enqueue(context.Background(), "**Support agent alice:\nOn my way.")
			}
		}
	}()

	assert.True(t, waitForAgentMessage(t, ts, "**Support agent alice:\nOn my way."),
		"agent reply never reached the transcript")
}

func TestRelay_IdlesWhileAIServed(t *testing.T) {
	ctrl, store := newTestController(t, &fakeAssistant{}, &fakePlatform{})
	ts := &fakeTranscript{}

	conv, err := ctrl.OnConversationStart(context.Background(), "carol", ts)
	require.NoError(t, err)
	defer endConversation(t, ctrl, conv)

	// Entries written while no handoff happened are never relayed.
	name := queue.AgentStreamQueue("test", "alice", "R7")
	store.Stream(name, 100).Enqueue(context.Background(), "ignored")
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, ts.byRole(RoleAgent))
	assert.Equal(t, session.ModeAI, conv.Session.Mode)
}

func TestRelay_CancellationIsAwaitedBeforeCleanup(t *testing.T) {
	platform := &fakePlatform{roomID: "R7"}
	ctrl, _ := newTestController(t, &fakeAssistant{}, platform)
	ts := &fakeTranscript{}

	conv, err := ctrl.OnConversationStart(context.Background(), "carol", ts)
	require.NoError(t, err)
	require.NoError(t, ctrl.RequestHandoff(context.Background(), conv))

	// End while the relay is mid blocking peek; OnConversationEnd must not
	// return before the task has observed cancellation.
	require.NoError(t, ctrl.OnConversationEnd(context.Background(), conv))

	select {
	case <-conv.relayDone:
	default:
		t.Fatal("conversation end returned before the relay task exited")
	}
}

func TestRelay_TeardownDoesNotWaitOutPeekTimeout(t *testing.T) {
	platform := &fakePlatform{roomID: "R7"}
	ctrl, _ := newTestController(t, &fakeAssistant{}, platform)
	ctrl.opts.PeekTimeout = 5 * time.Second
	ts := &fakeTranscript{}

	conv, err := ctrl.OnConversationStart(context.Background(), "carol", ts)
	require.NoError(t, err)
	require.NoError(t, ctrl.RequestHandoff(context.Background(), conv))

	// Give the relay time to enter a blocking peek.
	time.Sleep(150 * time.Millisecond)

	start := time.Now()
	require.NoError(t, ctrl.OnConversationEnd(context.Background(), conv))
	assert.Less(t, time.Since(start), 2*time.Second,
		"teardown must observe cancellation without waiting out the peek timeout")
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
}
