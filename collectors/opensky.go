package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"kaos.obsgrid.org/collector"
	"kaos.obsgrid.org/fetch"
)

const (
	openskyTokenURL  = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
	openskyStatesURL = "https://opensky-network.org/api/states/all"
)

// Aircraft is one ADS-B state vector.
type Aircraft struct {
	Point
	ICAO24       string  `json:"icao24"`
	Callsign     string  `json:"callsign,omitempty"`
	Country      string  `json:"country,omitempty"`
	Altitude     float64 `json:"altitude"` // meters, barometric
	Velocity     float64 `json:"velocity"` // m/s
	Track        float64 `json:"track"`    // degrees clockwise from north
	VerticalRate float64 `json:"verticalRate"`
	OnGround     bool    `json:"onGround"`
}

type openskyStates struct {
	Time   int64             `json:"time"`
	States [][]json.RawMessage `json:"states"`
}

// OpenSky collects live aircraft state vectors. Authentication uses the
// OAuth2 client-credentials flow; the token is cached until shortly before
// expiry.
type OpenSky struct {
	tokenURL  string
	statesURL string
	clientID  string
	secret    string
	ttl       time.Duration

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewOpenSky builds the OpenSky collector.
func NewOpenSky(clientID, secret string) *OpenSky {
	return &OpenSky{
		tokenURL:  openskyTokenURL,
		statesURL: openskyStatesURL,
		clientID:  clientID,
		secret:    secret,
		ttl:       10 * time.Minute,
	}
}

func (c *OpenSky) Name() string { return "aircraft" }

func (c *OpenSky) Collect(ctx context.Context) ([]collector.Publication, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := fetch.Fetch(ctx, c.statesURL, fetch.Options{
		AcceptGzip: true,
		Headers:    map[string]string{"Authorization": "Bearer " + token},
	}, fetch.DefaultPolicy())
	if err != nil {
		return nil, err
	}

	var states openskyStates
	if err := json.Unmarshal(resp.Body, &states); err != nil {
		return nil, fmt.Errorf("malformed states payload: %w", err)
	}

	aircraft := decodeStates(&states)
	return []collector.Publication{
		{Key: "kaos:aircraft:states", Value: aircraft, TTL: c.ttl},
	}, nil
}

// accessToken returns the cached token or obtains a fresh one.
func (c *OpenSky) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.secret},
	}
	resp, err := fetch.Fetch(ctx, c.tokenURL, fetch.Options{
		Method:  "POST",
		Body:    form.Encode(),
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
	}, fetch.Policy{Timeout: 15 * time.Second, Retries: 1})
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body, &token); err != nil || token.AccessToken == "" {
		return "", fmt.Errorf("malformed token response")
	}

	c.token = token.AccessToken
	// Refresh one minute early.
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	return c.token, nil
}

// decodeStates converts the positional state arrays. Vectors without a
// position are dropped.
func decodeStates(states *openskyStates) []Aircraft {
	aircraft := make([]Aircraft, 0, len(states.States))
	for _, s := range states.States {
		if len(s) < 12 {
			continue
		}
		lon, okLon := rawFloat(s[5])
		lat, okLat := rawFloat(s[6])
		if !okLon || !okLat {
			continue
		}
		a := Aircraft{
			Point: Point{Lat: lat, Lon: normalizeLon(lon), Time: states.Time * 1000},
		}
		a.ICAO24, _ = rawString(s[0])
		if cs, ok := rawString(s[1]); ok {
			a.Callsign = trimCallsign(cs)
		}
		a.Country, _ = rawString(s[2])
		a.Altitude, _ = rawFloat(s[7])
		a.OnGround, _ = rawBool(s[8])
		a.Velocity, _ = rawFloat(s[9])
		a.Track, _ = rawFloat(s[10])
		a.VerticalRate, _ = rawFloat(s[11])
		aircraft = append(aircraft, a)
	}
	return aircraft
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	var f *float64
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return 0, false
	}
	return *f, true
}

func rawString(raw json.RawMessage) (string, bool) {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

func rawBool(raw json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func trimCallsign(cs string) string {
	for len(cs) > 0 && cs[len(cs)-1] == ' ' {
		cs = cs[:len(cs)-1]
	}
	return cs
}
