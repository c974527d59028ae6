package collectors

import (
	"context"
	"time"

	"kaos.obsgrid.org/collector"
)

const tecURL = "https://services.swpc.noaa.gov/experimental/products/ctipe/tec.json"

type tecResponse struct {
	Coordinates [][]float64 `json:"coordinates"`
}

// Ionosphere collects the global total electron content grid in TECU.
type Ionosphere struct {
	url string
	ttl time.Duration
}

// NewIonosphere builds the TEC collector.
func NewIonosphere() *Ionosphere {
	return &Ionosphere{url: tecURL, ttl: time.Hour}
}

func (c *Ionosphere) Name() string { return "ionosphere" }

func (c *Ionosphere) Collect(ctx context.Context) ([]collector.Publication, error) {
	var resp tecResponse
	if err := getJSON(ctx, c.url, &resp); err != nil {
		return nil, err
	}

	g := coordsToGrid(resp.Coordinates, "Total Electron Content", "TECU")
	if err := g.Validate(); err != nil {
		return nil, err
	}

	return []collector.Publication{
		{Key: "kaos:ionosphere:tec", Value: g, TTL: c.ttl},
	}, nil
}
