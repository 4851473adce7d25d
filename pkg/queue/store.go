package queue

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Store wraps a shared Redis client and hands out typed queue handles.
// Individual operations are serialized by Redis itself; no in-process
// locking is needed, but compound operations (existence check then write)
// are not transactional and callers must tolerate the benign race where
// two writers both see a queue as new.
type Store struct {
	rdb *redis.Client
}

// Options configures the Redis connection shared by all queues.
type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewStore connects to Redis and verifies the connection with a ping.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "connect to redis")
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreFromClient wraps an existing client. Used by tests and by callers
// that share one connection between queue and session storage.
func NewStoreFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Client exposes the underlying connection for metadata storage that lives
// alongside the queues in the same database.
func (s *Store) Client() *redis.Client { return s.rdb }

// List returns a handle for a destructively consumed FIFO queue.
func (s *Store) List(name string) *ListQueue {
	return &ListQueue{store: s, name: name}
}

// Stream returns a handle for an append-only, trimmed stream queue.
func (s *Store) Stream(name string, maxLen int64) *StreamQueue {
	return &StreamQueue{store: s, name: name, maxLen: maxLen}
}

// Ping reports whether the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Size returns the number of entries in a queue, dispatching on the key
// type. Missing keys and unsupported types count as zero; only the latter
// is worth a warning.
func (s *Store) Size(ctx context.Context, name string) int64 {
	keyType, err := s.rdb.Type(ctx, name).Result()
	if err != nil {
		log.Error().Err(err).Str("queue", name).Msg("failed to get queue type")
		return 0
	}
	switch keyType {
	case "list":
		n, err := s.rdb.LLen(ctx, name).Result()
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("failed to get list length")
			return 0
		}
		return n
	case "stream":
		n, err := s.rdb.XLen(ctx, name).Result()
		if err != nil {
			log.Error().Err(err).Str("queue", name).Msg("failed to get stream length")
			return 0
		}
		return n
	case "none":
		return 0
	default:
		log.Warn().Str("queue", name).Str("type", keyType).Msg("unsupported queue type")
		return 0
	}
}

// Clear deletes a queue. Deleting an absent queue is a no-op and returns 0.
func (s *Store) Clear(ctx context.Context, name string) (int64, error) {
	n, err := s.rdb.Del(ctx, name).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "clear queue %s", name)
	}
	return n, nil
}

// Exists reports whether a queue key is present. From the read side absence
// and emptiness are otherwise indistinguishable.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	n, err := s.rdb.Exists(ctx, name).Result()
	if err != nil {
		return false, errors.Wrapf(err, "check queue %s", name)
	}
	return n > 0, nil
}

// ListQueues enumerates list-typed keys under a prefix. Diagnostics only;
// uses SCAN so it is safe against large keyspaces.
func (s *Store) ListQueues(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		keyType, err := s.rdb.Type(ctx, key).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "type of key %s", key)
		}
		if keyType == "list" {
			names = append(names, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan keys with prefix %s", prefix)
	}
	return names, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
