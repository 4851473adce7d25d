package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// dataField is the single stream entry field carrying the opaque payload.
const dataField = "data"

// StreamQueue is an append-only log backed by a Redis stream, trimmed
// approximately to maxLen entries on every write. Reads are non-destructive
// and follow "tail -f" semantics: a peek only ever sees entries written
// after the moment it was issued. Entries written while nobody is blocked
// in PeekLatest are lost to that consumer; the relay exists for live
// hand-off, not guaranteed delivery.
type StreamQueue struct {
	store  *Store
	name   string
	maxLen int64
}

// StreamEntry is one delivered stream record.
type StreamEntry struct {
	ID      string
	Payload string
}

// Name returns the queue's key.
func (q *StreamQueue) Name() string { return q.name }

// Enqueue appends a payload and trims the stream. A write failure is logged
// and reported as an empty entry id; callers must check for the sentinel.
func (q *StreamQueue) Enqueue(ctx context.Context, payload string) string {
	id, err := q.store.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.name,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]interface{}{dataField: payload},
	}).Result()
	if err != nil {
		log.Error().Err(err).Str("queue", q.name).Msg("failed to enqueue to stream")
		return ""
	}
	return id
}

// PeekLatest reads the next entry written after the call is issued, without
// removing it. In blocking mode it suspends up to timeout. A timeout or an
// empty stream is a miss (nil entry), not an error.
func (q *StreamQueue) PeekLatest(ctx context.Context, block bool, timeout time.Duration) (*StreamEntry, error) {
	blockFor := timeout
	if !block {
		// Negative block omits the BLOCK argument entirely.
		blockFor = -1
	}
	res, err := q.store.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{q.name, "$"},
		Count:   1,
		Block:   blockFor,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	msg := res[0].Messages[0]
	payload, _ := msg.Values[dataField].(string)
	return &StreamEntry{ID: msg.ID, Payload: payload}, nil
}

// Size returns the number of retained entries.
func (q *StreamQueue) Size(ctx context.Context) int64 {
	return q.store.Size(ctx, q.name)
}
