package middleware

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStorage(t *testing.T) *RedisStorage {
	t.Helper()
	srv := miniredis.RunT(t)
	storage := &RedisStorage{
		client: redis.NewClient(&redis.Options{Addr: srv.Addr()}),
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func TestRedisStorageMissIsNotAnError(t *testing.T) {
	storage := newTestRedisStorage(t)

	// The limiter treats a missing key as "no hits yet"; surfacing the
	// client's sentinel error here would fail the first request per key.
	val, err := storage.Get("rl:1:1:/api/v1/sequences/trigger")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisStorageRoundTrip(t *testing.T) {
	storage := newTestRedisStorage(t)

	require.NoError(t, storage.Set("rl:2:1:/api/v1/emails/bulk", []byte{0x01}, time.Minute))

	val, err := storage.Get("rl:2:1:/api/v1/emails/bulk")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, val)

	require.NoError(t, storage.Delete("rl:2:1:/api/v1/emails/bulk"))
	val, err = storage.Get("rl:2:1:/api/v1/emails/bulk")
	require.NoError(t, err)
	assert.Nil(t, val)
}
