package collectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStates(t *testing.T) {
	payload := `{
		"time": 1700000000,
		"states": [
			["4b1800", "SWR123  ", "Switzerland", null, null, 8.56, 47.45, 11582.4, false, 245.2, 90.5, -3.2],
			["abcdef", null, "Unknown", null, null, null, null, null, true, null, null, null],
			["short"]
		]
	}`
	var states openskyStates
	require.NoError(t, json.Unmarshal([]byte(payload), &states))

	aircraft := decodeStates(&states)
	require.Len(t, aircraft, 1, "vectors without a position are dropped")

	a := aircraft[0]
	assert.Equal(t, "4b1800", a.ICAO24)
	assert.Equal(t, "SWR123", a.Callsign, "trailing padding trimmed")
	assert.Equal(t, "Switzerland", a.Country)
	assert.Equal(t, 47.45, a.Lat)
	assert.Equal(t, 8.56, a.Lon)
	assert.Equal(t, 11582.4, a.Altitude)
	assert.Equal(t, 245.2, a.Velocity)
	assert.Equal(t, 90.5, a.Track)
	assert.Equal(t, -3.2, a.VerticalRate)
	assert.False(t, a.OnGround)
	assert.Equal(t, int64(1700000000000), a.Time, "seconds scaled to milliseconds")
}

func TestOpenSkyCollect(t *testing.T) {
	var tokenRequests atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "my-client", r.PostForm.Get("client_id"))
		_, _ = w.Write([]byte(`{"access_token": "tok-123", "expires_in": 1800}`))
	})
	mux.HandleFunc("/states", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"time": 1700000000, "states": [
			["4b1800", "SWR123  ", "Switzerland", null, null, 8.56, 47.45, 11582.4, false, 245.2, 90.5, -3.2]
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewOpenSky("my-client", "my-secret")
	c.tokenURL = srv.URL + "/token"
	c.statesURL = srv.URL + "/states"

	pubs, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "kaos:aircraft:states", pubs[0].Key)
	assert.Equal(t, 10*time.Minute, pubs[0].TTL)

	// Second collect reuses the cached token.
	_, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), tokenRequests.Load())
}

func TestOpenSkyTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenSky("bad", "creds")
	c.tokenURL = srv.URL
	c.statesURL = srv.URL

	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}
