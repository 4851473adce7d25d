package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/concierge/pkg/queue"
)

// MetadataStore persists session metadata records as Redis hashes so the
// chat process and diagnostics can see the same picture. Records expire
// after a TTL set at creation; the TTL must exceed the longest realistic
// conversation or the human-handoff binding silently disappears with it.
type MetadataStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMetadataStore wraps a shared Redis client.
func NewMetadataStore(rdb *redis.Client, ttl time.Duration) *MetadataStore {
	return &MetadataStore{rdb: rdb, ttl: ttl}
}

// Create writes the initial metadata record for a new session and arms the
// expiry.
func (m *MetadataStore) Create(ctx context.Context, s *Session) error {
	key := queue.SessionMetadataKey(s.UserID, s.ID)
	err := m.rdb.HSet(ctx, key, map[string]interface{}{
		"session_id": s.ID,
		"user_id":    s.UserID,
		"status":     s.Status,
		"created_at": s.CreatedAt.Format(time.RFC3339),
	}).Err()
	if err != nil {
		return errors.Wrapf(err, "create session metadata %s", key)
	}
	if err := m.rdb.Expire(ctx, key, m.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set ttl on session metadata %s", key)
	}
	return nil
}

// BindHandoff records the human-handoff binding on an existing record.
// Called only after the agent platform accepted the transcript post.
func (m *MetadataStore) BindHandoff(ctx context.Context, s *Session, handoffAt time.Time) error {
	key := queue.SessionMetadataKey(s.UserID, s.ID)
	err := m.rdb.HSet(ctx, key, map[string]interface{}{
		"room_id":       s.RoomID,
		"status":        string(ModeHuman),
		"support_agent": s.Agent,
		"handoff_time":  handoffAt.Format(time.RFC3339),
	}).Err()
	if err != nil {
		return errors.Wrapf(err, "bind handoff on session metadata %s", key)
	}
	return nil
}

// Get reads a session's metadata record. A missing record returns nil.
func (m *MetadataStore) Get(ctx context.Context, userID, sessionID string) (map[string]string, error) {
	key := queue.SessionMetadataKey(userID, sessionID)
	fields, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read session metadata %s", key)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// Delete removes the metadata record at conversation end.
func (m *MetadataStore) Delete(ctx context.Context, userID, sessionID string) error {
	key := queue.SessionMetadataKey(userID, sessionID)
	if err := m.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "delete session metadata %s", key)
	}
	log.Debug().Str("key", key).Msg("session metadata cleared")
	return nil
}
