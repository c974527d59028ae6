package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaos.obsgrid.org/scheduler"
	"kaos.obsgrid.org/store"
)

// pingStore answers Ping from a settable flag.
type pingStore struct {
	ok bool
}

func (p *pingStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}
func (p *pingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}
func (p *pingStore) SetMeta(ctx context.Context, name, status string, errorCount int) error {
	return nil
}
func (p *pingStore) GetMeta(ctx context.Context, name string) (store.Meta, error) {
	return store.Meta{Status: store.StatusUnknown}, nil
}
func (p *pingStore) Ping(ctx context.Context) bool                          { return p.ok }
func (p *pingStore) Keys(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (p *pingStore) Close() error                                           { return nil }

func probe(t *testing.T, s *Server) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthEndpoint(t *testing.T) {
	st := &pingStore{ok: true}
	s := NewServer(st, scheduler.New())

	code, resp := probe(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.RedisOK)
	assert.NotEmpty(t, resp.Uptime)
	assert.False(t, resp.Scheduler.Running)
}

func TestHealthDegradesAfterPingStreak(t *testing.T) {
	st := &pingStore{ok: false}
	s := NewServer(st, scheduler.New())

	// Two misses are tolerated as transient.
	code, resp := probe(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.RedisOK)

	code, _ = probe(t, s)
	assert.Equal(t, http.StatusOK, code)

	// The third consecutive miss flips the endpoint.
	code, resp = probe(t, s)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", resp.Status)
}

func TestHealthRecoversOnSuccessfulPing(t *testing.T) {
	st := &pingStore{ok: false}
	s := NewServer(st, scheduler.New())

	for i := 0; i < 4; i++ {
		probe(t, s)
	}
	code, _ := probe(t, s)
	require.Equal(t, http.StatusServiceUnavailable, code)

	// One good ping resets the streak.
	st.ok = true
	code, resp := probe(t, s)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.RedisOK)
}
