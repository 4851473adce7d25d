package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ListQueue is a destructively consumed point-to-point FIFO backed by a
// Redis list. The handle is chosen at creation time so callers never probe
// the key type at runtime.
type ListQueue struct {
	store *Store
	name  string
}

// Name returns the queue's key.
func (q *ListQueue) Name() string { return q.name }

// Enqueue appends a payload to the end of the queue and returns the
// resulting queue length.
func (q *ListQueue) Enqueue(ctx context.Context, payload string) (int64, error) {
	n, err := q.store.rdb.RPush(ctx, q.name, payload).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "enqueue to %s", q.name)
	}
	return n, nil
}

// Dequeue pops the front of the queue. In blocking mode it suspends the
// caller up to timeout for an item to arrive. An empty queue or an expired
// timeout is a miss, not an error.
func (q *ListQueue) Dequeue(ctx context.Context, block bool, timeout time.Duration) (string, bool, error) {
	if block {
		res, err := q.store.rdb.BLPop(ctx, timeout, q.name).Result()
		if err == redis.Nil {
			log.Debug().Str("queue", q.name).Dur("timeout", timeout).Msg("blocking dequeue timed out")
			return "", false, nil
		}
		if err != nil {
			return "", false, errors.Wrapf(err, "blocking dequeue from %s", q.name)
		}
		// BLPOP returns [key, value].
		return res[1], true, nil
	}

	val, err := q.store.rdb.LPop(ctx, q.name).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "dequeue from %s", q.name)
	}
	return val, true, nil
}

// Size returns the current queue length.
func (q *ListQueue) Size(ctx context.Context) int64 {
	return q.store.Size(ctx, q.name)
}
