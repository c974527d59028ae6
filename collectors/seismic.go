package collectors

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kaos.obsgrid.org/collector"
)

// seismicFeeds maps snapshot keys to their USGS feed URLs. Each feed is one
// magnitude/time window and becomes its own key.
var seismicFeeds = map[string]string{
	"kaos:seismic:all_hour": "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson",
	"kaos:seismic:all_day":  "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson",
	"kaos:seismic:m45_day":  "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/4.5_day.geojson",
}

// Earthquake is one normalized seismic event.
type Earthquake struct {
	Point
	ID    string  `json:"id"`
	Mag   float64 `json:"mag"`
	Place string  `json:"place"`
	Depth float64 `json:"depth"`
	URL   string  `json:"url,omitempty"`
}

type usgsFeed struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Mag   *float64 `json:"mag"`
			Place string   `json:"place"`
			Time  int64    `json:"time"`
			URL   string   `json:"url"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Seismic collects USGS earthquake feeds.
type Seismic struct {
	feeds map[string]string
	ttl   time.Duration
}

// NewSeismic builds the USGS collector with the standard feed set.
func NewSeismic() *Seismic {
	return &Seismic{feeds: seismicFeeds, ttl: 30 * time.Minute}
}

func (s *Seismic) Name() string { return "seismic" }

// Collect fetches all feeds in parallel, one publication per feed.
// Features lacking a usable coordinate pair are dropped.
func (s *Seismic) Collect(ctx context.Context) ([]collector.Publication, error) {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var pubs []collector.Publication

	for key, url := range s.feeds {
		key, url := key, url
		g.Go(func() error {
			var feed usgsFeed
			if err := getJSON(ctx, url, &feed); err != nil {
				return err
			}
			quakes := decodeQuakes(&feed)
			mu.Lock()
			pubs = append(pubs, collector.Publication{Key: key, Value: quakes, TTL: s.ttl})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pubs, nil
}

func decodeQuakes(feed *usgsFeed) []Earthquake {
	quakes := make([]Earthquake, 0, len(feed.Features))
	for _, f := range feed.Features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		q := Earthquake{
			Point: Point{
				Lat:  f.Geometry.Coordinates[1],
				Lon:  normalizeLon(f.Geometry.Coordinates[0]),
				Time: f.Properties.Time,
			},
			ID:    f.ID,
			Place: f.Properties.Place,
			URL:   f.Properties.URL,
		}
		if f.Properties.Mag != nil {
			q.Mag = *f.Properties.Mag
		}
		if len(f.Geometry.Coordinates) > 2 {
			q.Depth = f.Geometry.Coordinates[2]
		}
		quakes = append(quakes, q)
	}
	return quakes
}
