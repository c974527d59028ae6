package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFogosCollect(t *testing.T) {
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour).Unix()
	stale := now.Add(-30 * time.Hour).Unix()

	active := `{"success": true, "data": [
		{"id": "f1", "lat": 40.1, "lng": -8.2, "status": "Em Curso", "man": 50, "updated": {"sec": ` + itoa(fresh) + `}}
	]}`
	search := `{"success": true, "data": [
		{"id": "f1", "lat": 40.1, "lng": -8.2, "status": "Conclusão", "man": 10, "updated": {"sec": ` + itoa(fresh) + `}},
		{"id": "f2", "lat": 41.0, "lng": -7.5, "status": "Resolvida", "man": 5, "updated": {"sec": ` + itoa(fresh-60) + `}},
		{"id": "f3", "lat": 39.0, "lng": -9.0, "status": "Resolvida", "man": 2, "updated": {"sec": ` + itoa(stale) + `}}
	]}`

	mux := http.NewServeMux()
	mux.HandleFunc("/active", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(active)) })
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(search)) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := &Fogos{
		activeURL: srv.URL + "/active",
		searchURL: srv.URL + "/search",
		ttl:       30 * time.Minute,
		now:       func() time.Time { return now },
	}

	pubs, err := f.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "kaos:fogos:incidents", pubs[0].Key)

	incidents, ok := pubs[0].Value.([]Incident)
	require.True(t, ok)
	require.Len(t, incidents, 2, "stale incident beyond 24h is dropped")

	// Sorted newest first; f1 merged with the active record winning.
	assert.Equal(t, "f1", incidents[0].ID)
	assert.Equal(t, "Em Curso", incidents[0].Status)
	assert.Equal(t, 50, incidents[0].Man)
	assert.True(t, incidents[0].Active)

	assert.Equal(t, "f2", incidents[1].ID)
	assert.False(t, incidents[1].Active)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
