package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/concierge/pkg/queue"
)

// runRelay is the conversation's single relay task: it forwards agent
// replies from the session's stream queue into the transcript. Started at
// conversation start, cancelled at conversation end; at most one per
// session.
//
// While no handoff has happened it polls the in-memory binding at a low
// idle frequency. Once bound it blocks on the stream queue's tail. The
// tail-f read means a reply written while the loop is between peeks (for
// example during the idle interval right around the handoff) is lost to
// this conversation; that window is inherited behavior, kept rather than
// silently strengthened.
//
// Errors are fatal for this task only: the loop logs and exits, it is not
// restarted. Callers wanting stronger availability restart it explicitly.
func (c *Controller) runRelay(ctx context.Context, conv *Conversation) {
	defer close(conv.relayDone)
	log.Debug().Str("session_id", conv.Session.ID).Msg("relay task started")

	for {
		if ctx.Err() != nil {
			log.Debug().Str("session_id", conv.Session.ID).Msg("relay task cancelled")
			return
		}

		agent, room, human := conv.binding()
		if !human {
			if !sleepCtx(ctx, c.opts.IdleInterval) {
				log.Debug().Str("session_id", conv.Session.ID).Msg("relay task cancelled")
				return
			}
			continue
		}

		name := queue.AgentStreamQueue(c.opts.Environment, agent, room)
		entry, err := c.peekBound(ctx, c.queues.Stream(name, c.opts.StreamMaxLen))
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Str("session_id", conv.Session.ID).Msg("relay task cancelled")
				return
			}
			log.Error().Err(err).Str("session_id", conv.Session.ID).Str("queue", name).Msg("relay read failed; stopping relay for this conversation")
			return
		}
		if entry == nil {
			// Timeout: nothing to do yet, go straight back to peeking.
			continue
		}

		if err := conv.transcript.AppendMessage(ctx, RoleAgent, entry.Payload); err != nil {
			log.Warn().Err(err).Str("session_id", conv.Session.ID).Msg("failed to append agent message to transcript")
			continue
		}
		log.Debug().
			Str("session_id", conv.Session.ID).
			Str("queue", name).
			Str("entry_id", entry.ID).
			Msg("relayed agent message")
		// Loop immediately: a burst of agent messages should not wait out
		// an idle interval.
	}
}

// peekSlice bounds one blocking read. The server driver does not interrupt
// a blocking stream read when the context is cancelled, so a single
// PeekTimeout-long block would make teardown wait out the whole timeout.
const peekSlice = time.Second

// peekBound blocks up to PeekTimeout for the next entry, reading in
// peekSlice-long pieces and checking for cancellation between them. A full
// timeout with no entry is a miss (nil, nil); cancellation surfaces as
// ctx.Err().
func (c *Controller) peekBound(ctx context.Context, q *queue.StreamQueue) (*queue.StreamEntry, error) {
	deadline := time.Now().Add(c.opts.PeekTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		slice := peekSlice
		if remaining < slice {
			slice = remaining
		}
		entry, err := q.PeekLatest(ctx, true, slice)
		if err != nil || entry != nil {
			return entry, err
		}
	}
}

// sleepCtx sleeps for d or until ctx is done; it reports false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
