package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

// setupTestRedis creates a Redis client for testing.
// Tests are skipped if REDIS_ADDR is unset or Redis is not reachable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available for testing at %s: %v", addr, err)
	}

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestDispatchIgnoresOwnEvents(t *testing.T) {
	s := &Store{id: "me", channel: DefaultChannel, subs: map[int]func(storage.Event){}}

	var got []storage.Event

	s.Subscribe(func(e storage.Event) { got = append(got, e) })

	s.dispatch(`{"source":"me","key":"auth_user","new":"dg=="}`)
	s.dispatch(`not json`)
	s.dispatch(`{"source":"other","key":"auth_user","old":"dg==","removed":true}`)
	s.dispatch(`{"source":"other","key":"csrf_token","new":"dA=="}`)

	require.Len(t, got, 2)
	assert.True(t, got[0].Removed())
	assert.Equal(t, []byte("v"), got[0].OldValue)
	assert.Equal(t, "csrf_token", got[1].Key)
	assert.Equal(t, []byte("t"), got[1].NewValue)
}

func TestStoreCrossHandleEvents(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	channel := "authsession:test:" + time.Now().Format(time.RFC3339Nano)
	key := channel + ":auth_user"

	a, err := New(ctx, client, channel)
	require.NoError(t, err)

	defer a.Close()

	b, err := New(ctx, client, channel)
	require.NoError(t, err)

	defer b.Close()

	events := make(chan storage.Event, 4)
	b.Subscribe(func(e storage.Event) { events <- e })

	own := make(chan storage.Event, 4)
	a.Subscribe(func(e storage.Event) { own <- e })

	require.NoError(t, a.Set(ctx, key, []byte("blob")))

	select {
	case e := <-events:
		assert.Equal(t, key, e.Key)
		assert.Equal(t, []byte("blob"), e.NewValue)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	v, err := b.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), v)

	require.NoError(t, b.Delete(ctx, key))

	_, err = a.Get(ctx, key)
	require.ErrorIs(t, err, storage.ErrNotFound)

	select {
	case e := <-own:
		assert.True(t, e.Removed())
	case <-time.After(2 * time.Second):
		t.Fatal("no removal event received")
	}
}
