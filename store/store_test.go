package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisStorePut(t *testing.T) {
	t.Run("writes JSON with TTL", func(t *testing.T) {
		st, mr := newTestStore(t)

		value := map[string]any{"magnitude": 5.2, "place": "offshore"}
		err := st.Put(context.Background(), "kaos:seismic:all_hour", value, 30*time.Minute)
		require.NoError(t, err)

		raw, err := mr.Get("kaos:seismic:all_hour")
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
		assert.Equal(t, 5.2, decoded["magnitude"])
		assert.Equal(t, 30*time.Minute, mr.TTL("kaos:seismic:all_hour"))
	})

	t.Run("overwrite replaces value and TTL", func(t *testing.T) {
		st, mr := newTestStore(t)
		ctx := context.Background()

		require.NoError(t, st.Put(ctx, "kaos:fogos:incidents", []int{1}, time.Minute))
		require.NoError(t, st.Put(ctx, "kaos:fogos:incidents", []int{1, 2}, 5*time.Minute))

		raw, err := mr.Get("kaos:fogos:incidents")
		require.NoError(t, err)
		assert.JSONEq(t, "[1,2]", raw)
		assert.Equal(t, 5*time.Minute, mr.TTL("kaos:fogos:incidents"))
	})

	t.Run("unmarshalable value fails without writing", func(t *testing.T) {
		st, mr := newTestStore(t)

		err := st.Put(context.Background(), "kaos:bad:value", make(chan int), time.Minute)
		assert.Error(t, err)
		assert.False(t, mr.Exists("kaos:bad:value"))
	})
}

func TestRedisStoreGet(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		st, _ := newTestStore(t)
		ctx := context.Background()

		require.NoError(t, st.Put(ctx, "kaos:aurora:forecast", "snapshot", time.Hour))

		data, found, err := st.Get(ctx, "kaos:aurora:forecast")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `"snapshot"`, string(data))
	})

	t.Run("missing key reports not found", func(t *testing.T) {
		st, _ := newTestStore(t)

		_, found, err := st.Get(context.Background(), "kaos:never:written")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("expired key reports not found", func(t *testing.T) {
		st, mr := newTestStore(t)
		ctx := context.Background()

		require.NoError(t, st.Put(ctx, "kaos:lightning:global", "[]", 2*time.Minute))
		mr.FastForward(3 * time.Minute)

		_, found, err := st.Get(ctx, "kaos:lightning:global")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestRedisStoreMeta(t *testing.T) {
	t.Run("writes the triple without TTL", func(t *testing.T) {
		st, mr := newTestStore(t)

		before := time.Now().UnixMilli()
		require.NoError(t, st.SetMeta(context.Background(), "seismic", StatusOK, 0))
		after := time.Now().UnixMilli()

		status, err := mr.Get("kaos:meta:seismic:status")
		require.NoError(t, err)
		assert.Equal(t, StatusOK, status)

		meta, err := st.GetMeta(context.Background(), "seismic")
		require.NoError(t, err)
		assert.Equal(t, StatusOK, meta.Status)
		assert.Equal(t, 0, meta.ErrorCount)
		assert.GreaterOrEqual(t, meta.LastRun, before)
		assert.LessOrEqual(t, meta.LastRun, after)

		assert.Equal(t, time.Duration(0), mr.TTL("kaos:meta:seismic:status"))
	})

	t.Run("error status carries the count", func(t *testing.T) {
		st, _ := newTestStore(t)

		require.NoError(t, st.SetMeta(context.Background(), "gdacs", StatusError, 5))

		meta, err := st.GetMeta(context.Background(), "gdacs")
		require.NoError(t, err)
		assert.Equal(t, StatusError, meta.Status)
		assert.Equal(t, 5, meta.ErrorCount)
	})

	t.Run("never-run collector is unknown", func(t *testing.T) {
		st, _ := newTestStore(t)

		meta, err := st.GetMeta(context.Background(), "ipma")
		require.NoError(t, err)
		assert.Equal(t, StatusUnknown, meta.Status)
		assert.Zero(t, meta.LastRun)
		assert.Zero(t, meta.ErrorCount)
	})
}

func TestRedisStoreKeys(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "kaos:seismic:all_hour", 1, time.Minute))
	require.NoError(t, st.Put(ctx, "kaos:seismic:all_day", 2, time.Minute))
	require.NoError(t, st.Put(ctx, "kaos:fogos:incidents", 3, time.Minute))

	keys, err := st.Keys(ctx, "kaos:seismic:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"kaos:seismic:all_hour", "kaos:seismic:all_day"}, keys)
}

func TestRedisStorePing(t *testing.T) {
	st, mr := newTestStore(t)

	assert.True(t, st.Ping(context.Background()))
	mr.Close()
	assert.False(t, st.Ping(context.Background()))
}
