package collectors

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"kaos.obsgrid.org/collector"
)

const (
	fogosActiveURL = "https://api.fogos.pt/new/fires"
	fogosSearchURL = "https://api.fogos.pt/fires/search?last24=1"
)

// Incident is one civil protection occurrence.
type Incident struct {
	Point
	ID       string `json:"id"`
	Status   string `json:"status"`
	Nature   string `json:"nature,omitempty"`
	Location string `json:"location,omitempty"`
	Man      int    `json:"man"`
	Terrain  int    `json:"terrain"`
	Aerial   int    `json:"aerial"`
	Active   bool   `json:"active"`
}

type fogosResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		ID       string  `json:"id"`
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		Status   string  `json:"status"`
		Natureza string  `json:"natureza"`
		Location string  `json:"location"`
		Man      int     `json:"man"`
		Terrain  int     `json:"terrain"`
		Aerial   int     `json:"aerial"`
		Updated  struct {
			Sec int64 `json:"sec"`
		} `json:"updated"`
	} `json:"data"`
}

// Fogos collects Portuguese civil protection incidents. Active incidents
// and the last-24h search are fetched in parallel and merged by id with
// the active record winning.
type Fogos struct {
	activeURL string
	searchURL string
	ttl       time.Duration
	now       func() time.Time
}

// NewFogos builds the Fogos.pt collector.
func NewFogos() *Fogos {
	return &Fogos{
		activeURL: fogosActiveURL,
		searchURL: fogosSearchURL,
		ttl:       30 * time.Minute,
		now:       time.Now,
	}
}

func (f *Fogos) Name() string { return "fogos" }

func (f *Fogos) Collect(ctx context.Context) ([]collector.Publication, error) {
	var active, recent fogosResponse

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return getJSON(ctx, f.activeURL, &active) })
	g.Go(func() error { return getJSON(ctx, f.searchURL, &recent) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cutoff := f.now().Add(-24 * time.Hour).UnixMilli()
	merged := make(map[string]Incident)

	// Search results first so active records overwrite them on collision.
	for _, resp := range []*fogosResponse{&recent, &active} {
		isActive := resp == &active
		for _, d := range resp.Data {
			when := d.Updated.Sec * 1000
			if when < cutoff {
				continue
			}
			merged[d.ID] = Incident{
				Point:    Point{Lat: d.Lat, Lon: normalizeLon(d.Lng), Time: when},
				ID:       d.ID,
				Status:   d.Status,
				Nature:   d.Natureza,
				Location: d.Location,
				Man:      d.Man,
				Terrain:  d.Terrain,
				Aerial:   d.Aerial,
				Active:   isActive,
			}
		}
	}

	incidents := make([]Incident, 0, len(merged))
	for _, inc := range merged {
		incidents = append(incidents, inc)
	}
	sort.Slice(incidents, func(i, j int) bool { return incidents[i].Time > incidents[j].Time })

	return []collector.Publication{
		{Key: "kaos:fogos:incidents", Value: incidents, TTL: f.ttl},
	}, nil
}
