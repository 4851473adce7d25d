package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStoreFromClient(rdb), m
}

func TestListQueue_EnqueueDequeue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := store.List("q:list")

	n, err := q.Enqueue(ctx, "first")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = q.Enqueue(ctx, "second")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	val, ok, err := q.Dequeue(ctx, false, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", val)

	val, ok, err = q.Dequeue(ctx, false, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", val)

	_, ok, err = q.Dequeue(ctx, false, 0)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue must be a miss, not an error")
}

func TestListQueue_BlockingDequeueTimeout(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := store.List("q:empty")

	start := time.Now()
	_, ok, err := q.Dequeue(ctx, true, time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "must not return before the timeout")
	assert.Less(t, elapsed, 3*time.Second, "must not hang past the timeout")
}

func TestListQueue_BlockingDequeueDelivers(t *testing.T) {
	store, m := newTestStore(t)
	ctx := context.Background()
	q := store.List("q:deliver")

	go func() {
		time.Sleep(100 * time.Millisecond)
		m.Lpush("q:deliver", "hello")
	}()

	val, ok, err := q.Dequeue(ctx, true, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", val)
}

func TestStreamQueue_PeekDoesNotReplayHistory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := store.Stream("q:stream", 1000)

	require.NotEmpty(t, q.Enqueue(ctx, "old-1"))
	require.NotEmpty(t, q.Enqueue(ctx, "old-2"))

	// A non-blocking peek reads from "$" and must see nothing that was
	// already in the log.
	entry, err := q.PeekLatest(ctx, false, 0)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestStreamQueue_PeekSeesNewEntries(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := store.Stream("q:live", 1000)

	q.Enqueue(ctx, "before")

	go func() {
		time.Sleep(100 * time.Millisecond)
		q.Enqueue(ctx, "after")
	}()

	entry, err := q.PeekLatest(ctx, true, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "after", entry.Payload)
	assert.NotEmpty(t, entry.ID)
}

func TestStreamQueue_EnqueueTrims(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	q := store.Stream("q:trim", 5)

	for i := 0; i < 50; i++ {
		require.NotEmpty(t, q.Enqueue(ctx, "payload"))
	}
	// Approximate trimming may overshoot, but not unboundedly.
	assert.LessOrEqual(t, q.Size(ctx), int64(50))
	assert.GreaterOrEqual(t, q.Size(ctx), int64(1))
}

func TestStreamQueue_EnqueueFailureReturnsSentinel(t *testing.T) {
	m := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	store := NewStoreFromClient(rdb)
	q := store.Stream("q:down", 1000)
	m.Close()

	id := q.Enqueue(context.Background(), "lost")
	assert.Empty(t, id, "write failures surface as the empty-id sentinel")
}

func TestStore_SizeDispatchesOnType(t *testing.T) {
	store, m := newTestStore(t)
	ctx := context.Background()

	_, err := store.List("q:l").Enqueue(ctx, "a")
	require.NoError(t, err)
	store.Stream("q:s", 1000).Enqueue(ctx, "b")
	store.Stream("q:s", 1000).Enqueue(ctx, "c")
	m.Set("q:string", "not a queue")

	assert.EqualValues(t, 1, store.Size(ctx, "q:l"))
	assert.EqualValues(t, 2, store.Size(ctx, "q:s"))
	assert.EqualValues(t, 0, store.Size(ctx, "q:string"), "unsupported types report zero")
	assert.EqualValues(t, 0, store.Size(ctx, "q:absent"))
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.List("q:gone").Enqueue(ctx, "x")
	require.NoError(t, err)

	n, err := store.Clear(ctx, "q:gone")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.Clear(ctx, "q:gone")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "clearing an absent queue is a no-op")
}

func TestStore_ExistsDistinguishesAbsence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "q:never")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.List("q:never").Enqueue(ctx, "x")
	require.NoError(t, err)
	ok, err = store.Exists(ctx, "q:never")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ListQueuesFiltersLists(t *testing.T) {
	store, m := newTestStore(t)
	ctx := context.Background()

	_, err := store.List("session:a").Enqueue(ctx, "x")
	require.NoError(t, err)
	_, err = store.List("session:b").Enqueue(ctx, "y")
	require.NoError(t, err)
	store.Stream("session:stream", 1000).Enqueue(ctx, "z")
	m.Set("session:string", "v")
	_, err = store.List("other:c").Enqueue(ctx, "w")
	require.NoError(t, err)

	names, err := store.ListQueues(ctx, "session:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session:a", "session:b"}, names)
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t,
		"dev:agent_session:alice:ROOM42:messages_queue",
		AgentStreamQueue("dev", "alice", "ROOM42"))
	assert.Equal(t,
		"session:u1:s1:metadata",
		SessionMetadataKey("u1", "s1"))
}
