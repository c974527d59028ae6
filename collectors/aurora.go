package collectors

import (
	"context"
	"time"

	"kaos.obsgrid.org/collector"
)

const auroraURL = "https://services.swpc.noaa.gov/json/ovation_aurora_latest.json"

type ovationResponse struct {
	Coordinates [][]float64 `json:"coordinates"`
}

// Aurora collects the OVATION auroral forecast grid.
type Aurora struct {
	url string
	ttl time.Duration
}

// NewAurora builds the aurora forecast collector.
func NewAurora() *Aurora {
	return &Aurora{url: auroraURL, ttl: time.Hour}
}

func (c *Aurora) Name() string { return "aurora" }

func (c *Aurora) Collect(ctx context.Context) ([]collector.Publication, error) {
	var resp ovationResponse
	if err := getJSON(ctx, c.url, &resp); err != nil {
		return nil, err
	}

	g := coordsToGrid(resp.Coordinates, "Aurora Probability", "%")
	if err := g.Validate(); err != nil {
		return nil, err
	}

	return []collector.Publication{
		{Key: "kaos:aurora:forecast", Value: g, TTL: c.ttl},
	}, nil
}
