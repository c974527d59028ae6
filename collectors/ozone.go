package collectors

import (
	"context"
	"time"

	"kaos.obsgrid.org/collector"
)

const ozoneURL = "https://www.temis.nl/protocols/o3field/data/forecast.json"

type ozoneResponse struct {
	Coordinates [][]float64 `json:"coordinates"`
}

// Ozone collects the TEMIS total column ozone forecast in Dobson units.
// The snapshot doubles as the clear-sky UV derivation input.
type Ozone struct {
	url string
	ttl time.Duration
}

// NewOzone builds the column ozone collector.
func NewOzone() *Ozone {
	return &Ozone{url: ozoneURL, ttl: 24 * time.Hour}
}

func (c *Ozone) Name() string { return "ozone" }

func (c *Ozone) Collect(ctx context.Context) ([]collector.Publication, error) {
	var resp ozoneResponse
	if err := getJSON(ctx, c.url, &resp); err != nil {
		return nil, err
	}

	g := coordsToGrid(resp.Coordinates, "Total Column Ozone", "DU")
	if err := g.Validate(); err != nil {
		return nil, err
	}

	return []collector.Publication{
		{Key: "kaos:ozone:column", Value: g, TTL: c.ttl},
	}, nil
}
