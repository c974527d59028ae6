// Package collectors implements the periodic collector fleet: one Source
// per upstream provider, each turning a provider-specific payload into the
// canonical point-collection or gridded-field shape.
//
// Collectors only fetch and decode; persistence, retry and metadata are
// handled by the collector.Runner that wraps them. Records that fail a
// feed's own validity rules (missing geometry, out-of-range coordinates,
// expired entries) are dropped silently; a run only fails when the whole
// payload is unusable.
package collectors

import (
	"context"
	"encoding/json"
	"fmt"

	"kaos.obsgrid.org/fetch"
)

// Point is the minimal record of every point collection. Feed-specific
// fields ride alongside in the concrete record types.
type Point struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Time int64   `json:"time"` // ms since epoch
}

// normalizeLon maps a longitude to [-180, 180).
func normalizeLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// getJSON fetches a URL with the default policy and decodes the JSON body
// into target.
func getJSON(ctx context.Context, url string, target any) error {
	resp, err := fetch.Fetch(ctx, url, fetch.Options{AcceptGzip: true}, fetch.DefaultPolicy())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return fmt.Errorf("malformed JSON from %s: %w", url, err)
	}
	return nil
}
