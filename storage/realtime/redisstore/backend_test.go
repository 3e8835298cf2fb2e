package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/storage/realtime"
)

func newTestStore(t *testing.T, srv *miniredis.Miniredis) *realtime.Store {
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store, err := NewStore(context.Background(), client, "test", core.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
		_ = client.Close()
	})
	return store
}

func TestRedisStoreReadWrite(t *testing.T) {
	srv := miniredis.RunT(t)
	store := newTestStore(t, srv)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, map[string]interface{}{
		"schools/s1/info/name": "Alpha",
		"admins/bob":           map[string]interface{}{"schoolId": "s1", "role": "admin"},
	}))
	assert.True(t, srv.Exists("test:doc:schools/s1"))
	members, err := srv.SMembers("test:idx:admins")
	require.NoError(t, err)
	assert.Equal(t, []string{"admins/bob"}, members)

	snap, err := store.Get(ctx, "admins")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.Child("bob").Child("schoolId").Value)

	require.NoError(t, store.Remove(ctx, "admins/bob"))
	assert.False(t, srv.Exists("test:doc:admins/bob"))
	members, _ = srv.SMembers("test:idx:admins")
	assert.Empty(t, members)

	// replacing a whole root drops the documents not listed
	require.NoError(t, store.Set(ctx, "schools", map[string]interface{}{
		"s2": map[string]interface{}{"info": map[string]interface{}{"name": "Beta"}},
	}))
	snap, err = store.Get(ctx, "schools")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, snap.Keys())
}

func TestRedisStoreSharesChanges(t *testing.T) {
	srv := miniredis.RunT(t)
	writer := newTestStore(t, srv)
	reader := newTestStore(t, srv)
	ctx := context.Background()

	ch := make(chan core.Snapshot, 8)
	_, err := reader.Subscribe(ctx, "schools/s1/notices", func(s core.Snapshot) { ch <- s })
	require.NoError(t, err)
	<-ch

	key, err := writer.Push(ctx, "schools/s1/notices", map[string]interface{}{"text": "Holiday"})
	require.NoError(t, err)

	select {
	case snap := <-ch:
		assert.Equal(t, "Holiday", snap.Child(key).Child("text").Value)
	case <-time.After(2 * time.Second):
		t.Fatal("change from the other process never arrived")
	}
}

func TestRedisStoreResyncsAfterReconnect(t *testing.T) {
	srv := miniredis.RunT(t)
	store := newTestStore(t, srv)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "schools/s1/info/name", "Alpha"))

	ch := make(chan core.Snapshot, 8)
	_, err := store.Subscribe(ctx, "schools/s1/info/name", func(s core.Snapshot) { ch <- s })
	require.NoError(t, err)
	assert.Equal(t, "Alpha", (<-ch).Value)

	// written while the subscriber is cut off: no change message is ever published
	srv.Close()
	require.NoError(t, srv.Set("test:doc:schools/s1", `{"info":{"name":"Beta"}}`))
	require.NoError(t, srv.Restart())

	select {
	case snap := <-ch:
		assert.Equal(t, "Beta", snap.Value)
	case <-time.After(10 * time.Second):
		t.Fatal("subscription never resynced after the reconnection")
	}
}
