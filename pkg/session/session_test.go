package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentOnDuty_WeekdayRotation(t *testing.T) {
	agents := []string{"bob", "david", "alice", "tom", "john", "jerry", "jerry"}

	// 2025-01-07 is a Tuesday.
	tuesday := time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)
	require.Equal(t, time.Tuesday, tuesday.Weekday())
	assert.Equal(t, "alice", AgentOnDuty(agents, tuesday))

	sunday := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "bob", AgentOnDuty(agents, sunday))

	// Same day, different hour: same agent.
	assert.Equal(t, AgentOnDuty(agents, tuesday), AgentOnDuty(agents, tuesday.Add(8*time.Hour)))
}

func TestAgentOnDuty_ShortRotationWraps(t *testing.T) {
	agents := []string{"a", "b", "c"}
	saturday := time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Saturday, saturday.Weekday())
	assert.Equal(t, "a", AgentOnDuty(agents, saturday)) // 6 % 3 == 0

	assert.Empty(t, AgentOnDuty(nil, saturday))
}

func TestSession_BindHuman(t *testing.T) {
	s := New("s1", "u1", time.Now())
	assert.Equal(t, ModeAI, s.Mode)
	assert.False(t, s.HumanServed())

	require.NoError(t, s.BindHuman("alice", "ROOM42"))
	assert.True(t, s.HumanServed())
	assert.Equal(t, "alice", s.Agent)
	assert.Equal(t, "ROOM42", s.RoomID)

	// The transition is one-way and refuses partial bindings.
	assert.Error(t, s.BindHuman("bob", "ROOM43"))

	s2 := New("s2", "u1", time.Now())
	assert.Error(t, s2.BindHuman("", "ROOM44"))
	assert.Equal(t, ModeAI, s2.Mode, "failed binding must not change state")
}

func TestUserTagAndMarkers(t *testing.T) {
	assert.Equal(t, "[CHAT_USER_ID:carol]", UserTag("carol"))
	assert.Contains(t, EchoMarkers(), "[HUMAN_SESSION]")
	assert.Contains(t, EchoMarkers(), "[CHAT_USER_ID:")
}

func TestMetadataStore_Lifecycle(t *testing.T) {
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewMetadataStore(rdb, 24*time.Hour)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := New("sess-1", "carol", created)
	require.NoError(t, store.Create(ctx, s))

	fields, err := store.Get(ctx, "carol", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "carol", fields["user_id"])
	assert.Equal(t, "active", fields["status"])

	// TTL armed at creation.
	ttl := m.TTL("session:carol:sess-1:metadata")
	assert.Equal(t, 24*time.Hour, ttl)

	require.NoError(t, s.BindHuman("alice", "ROOM42"))
	require.NoError(t, store.BindHandoff(ctx, s, created.Add(10*time.Minute)))

	fields, err = store.Get(ctx, "carol", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "ROOM42", fields["room_id"])
	assert.Equal(t, "human", fields["status"])
	assert.Equal(t, "alice", fields["support_agent"])
	assert.NotEmpty(t, fields["handoff_time"])

	require.NoError(t, store.Delete(ctx, "carol", "sess-1"))
	fields, err = store.Get(ctx, "carol", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, fields)
}
