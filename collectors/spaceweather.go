package collectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kaos.obsgrid.org/collector"
	"kaos.obsgrid.org/common"
)

const (
	swpcKpURL   = "https://services.swpc.noaa.gov/json/planetary_k_index_1m.json"
	swpcF107URL = "https://services.swpc.noaa.gov/json/f10.7cm-flux-30-day.json"
	swpcXrayURL = "https://services.swpc.noaa.gov/json/goes/primary/xrays-1-day.json"
)

// SpaceWeather is the combined solar activity snapshot. Components from
// endpoints that failed this round are absent (nil).
type SpaceWeatherRecord struct {
	Kp       *float64 `json:"kp,omitempty"`
	F107     *float64 `json:"f107,omitempty"`
	XrayFlux *float64 `json:"xrayFlux,omitempty"`
	Time     int64    `json:"time"`
}

type kpEntry struct {
	TimeTag string      `json:"time_tag"`
	KpIndex interface{} `json:"kp_index"`
	Kp      float64     `json:"estimated_kp"`
}

type fluxEntry struct {
	TimeTag string  `json:"time_tag"`
	Flux    float64 `json:"flux"`
}

// SpaceWeather fans out to the three SWPC endpoints with allSettled
// semantics: a record is produced whenever at least one succeeds.
type SpaceWeather struct {
	kpURL, f107URL, xrayURL string
	ttl                     time.Duration
}

// NewSpaceWeather builds the SWPC collector.
func NewSpaceWeather() *SpaceWeather {
	return &SpaceWeather{
		kpURL:   swpcKpURL,
		f107URL: swpcF107URL,
		xrayURL: swpcXrayURL,
		ttl:     time.Hour,
	}
}

func (c *SpaceWeather) Name() string { return "spaceweather" }

func (c *SpaceWeather) Collect(ctx context.Context) ([]collector.Publication, error) {
	record := SpaceWeatherRecord{Time: time.Now().UnixMilli()}
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0

	settle := func(name string, fn func() (*float64, error)) {
		defer wg.Done()
		value, err := fn()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
			common.Logger.WithField("collector", c.Name()).WithError(err).
				Warnf("%s component unavailable", name)
			return
		}
		switch name {
		case "kp":
			record.Kp = value
		case "f107":
			record.F107 = value
		case "xray":
			record.XrayFlux = value
		}
	}

	wg.Add(3)
	go settle("kp", func() (*float64, error) { return c.latestKp(ctx) })
	go settle("f107", func() (*float64, error) { return c.latestFlux(ctx, c.f107URL) })
	go settle("xray", func() (*float64, error) { return c.latestFlux(ctx, c.xrayURL) })
	wg.Wait()

	if failures == 3 {
		return nil, fmt.Errorf("all space weather endpoints failed")
	}

	return []collector.Publication{
		{Key: "kaos:space:weather", Value: record, TTL: c.ttl},
	}, nil
}

// latestKp returns the most recent planetary K index. The feed encodes the
// index either as a string or a number depending on the product.
func (c *SpaceWeather) latestKp(ctx context.Context) (*float64, error) {
	var entries []kpEntry
	if err := getJSON(ctx, c.kpURL, &entries); err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if kp, ok := numeric(entries[i].KpIndex); ok {
			return &kp, nil
		}
		if entries[i].Kp != 0 {
			kp := entries[i].Kp
			return &kp, nil
		}
	}
	return nil, fmt.Errorf("no usable kp entry")
}

func (c *SpaceWeather) latestFlux(ctx context.Context, url string) (*float64, error) {
	var entries []fluxEntry
	if err := getJSON(ctx, url, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty flux feed")
	}
	flux := entries[len(entries)-1].Flux
	return &flux, nil
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
