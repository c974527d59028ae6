package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaos.obsgrid.org/store"
)

func TestLightningHandleFrame(t *testing.T) {
	l := NewLightning(nil)

	t.Run("millisecond timestamp kept as is", func(t *testing.T) {
		l.handleFrame([]byte(`{"lat":48.1,"lon":11.5,"time":1700000000000}`))
		require.Len(t, l.strikes, 1)
		assert.Equal(t, int64(1700000000000), l.strikes[0].Time)
	})

	t.Run("nanosecond timestamp scaled to milliseconds", func(t *testing.T) {
		l.handleFrame([]byte(`{"lat":48.1,"lon":11.5,"time":1700000000000123456}`))
		require.Len(t, l.strikes, 2)
		assert.Equal(t, int64(1700000000000), l.strikes[1].Time)
	})

	t.Run("garbage and empty frames are dropped", func(t *testing.T) {
		l.handleFrame([]byte(`not json`))
		l.handleFrame([]byte(`{}`))
		assert.Len(t, l.strikes, 2)
	})
}

func TestLightningEvict(t *testing.T) {
	l := NewLightning(nil)
	now := time.Now()

	l.strikes = []Strike{
		{Lat: 1, Lon: 1, Time: now.Add(-40 * time.Minute).UnixMilli()},
		{Lat: 2, Lon: 2, Time: now.Add(-29 * time.Minute).UnixMilli()},
		{Lat: 3, Lon: 3, Time: now.Add(-time.Minute).UnixMilli()},
	}

	l.evict(now)

	require.Len(t, l.strikes, 2)
	assert.Equal(t, 2.0, l.strikes[0].Lat)
	assert.Equal(t, 3.0, l.strikes[1].Lat)
}

// captureStore records the last Put for snapshot assertions.
type captureStore struct {
	lastKey   string
	lastValue any
	lastTTL   time.Duration
	meta      map[string]string
}

func newCaptureStore() *captureStore {
	return &captureStore{meta: make(map[string]string)}
}

func (c *captureStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.lastKey, c.lastValue, c.lastTTL = key, value, ttl
	return nil
}

func (c *captureStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (c *captureStore) SetMeta(ctx context.Context, name, status string, errorCount int) error {
	c.meta[name] = status
	return nil
}

func (c *captureStore) GetMeta(ctx context.Context, name string) (store.Meta, error) {
	return store.Meta{Status: store.StatusUnknown}, nil
}

func (c *captureStore) Ping(ctx context.Context) bool { return true }

func (c *captureStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (c *captureStore) Close() error { return nil }

func TestLightningPersist(t *testing.T) {
	cs := newCaptureStore()
	l := NewLightning(cs)

	// Unsorted input, one over the cap boundary ordering.
	for i := 0; i < 10; i++ {
		payload := fmt.Sprintf(`{"lat":%d,"lon":0,"time":%d}`, i+1, 1700000000000+int64(i))
		l.handleFrame([]byte(payload))
	}

	l.persist(context.Background())

	assert.Equal(t, "kaos:lightning:global", cs.lastKey)
	assert.Equal(t, 2*time.Minute, cs.lastTTL)

	strikes, ok := cs.lastValue.([]Strike)
	require.True(t, ok)
	require.Len(t, strikes, 10)
	// Newest first.
	assert.Equal(t, int64(1700000000009), strikes[0].Time)
	assert.Equal(t, int64(1700000000000), strikes[9].Time)

	assert.Equal(t, store.StatusOK, cs.meta["lightning"])
}

func TestLightningPersistCap(t *testing.T) {
	cs := newCaptureStore()
	l := NewLightning(cs)

	l.strikes = make([]Strike, lightningMaxStrikes+500)
	for i := range l.strikes {
		l.strikes[i] = Strike{Time: int64(i)}
	}

	l.persist(context.Background())

	strikes, ok := cs.lastValue.([]Strike)
	require.True(t, ok)
	assert.Len(t, strikes, lightningMaxStrikes)
	// The oldest 500 fall off the end.
	assert.Equal(t, int64(lightningMaxStrikes+499), strikes[0].Time)
	assert.Equal(t, int64(500), strikes[len(strikes)-1].Time)
}

func TestLightningPersistRoundTrip(t *testing.T) {
	// The snapshot the readers see must decode back into strikes.
	strikes := []Strike{{Lat: 48.1, Lon: 11.5, Time: 1700000000000}}
	data, err := json.Marshal(strikes)
	require.NoError(t, err)

	var decoded []Strike
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, strikes, decoded)
}

func TestLightningStreamWatcherExitsWithSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	l := NewLightning(newCaptureStore())
	l.url = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		_ = l.stream(ctx)
	}

	// Each session's socket watcher must be gone once stream returns.
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+1
	}, 2*time.Second, 20*time.Millisecond, "watcher goroutines parked past their session")
}
