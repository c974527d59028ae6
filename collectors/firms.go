package collectors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kaos.obsgrid.org/collector"
)

// Hotspot is one thermal anomaly detection.
type Hotspot struct {
	Point
	Brightness float64 `json:"brightness"`
	FRP        float64 `json:"frp"` // fire radiative power, MW
	Confidence string  `json:"confidence,omitempty"`
	Satellite  string  `json:"satellite,omitempty"`
	DayNight   string  `json:"dayNight,omitempty"`
}

type firmsRecord struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	BrightTI4  float64 `json:"bright_ti4"`
	FRP        float64 `json:"frp"`
	Confidence string  `json:"confidence"`
	Satellite  string  `json:"satellite"`
	DayNight   string  `json:"daynight"`
	AcqDate    string  `json:"acq_date"`
	AcqTime    string  `json:"acq_time"`
}

// FIRMS collects NASA FIRMS active fire detections (VIIRS, last 24h).
type FIRMS struct {
	baseURL string
	apiKey  string
	ttl     time.Duration
}

// NewFIRMS builds the FIRMS collector. The key is the FIRMS MAP_KEY.
func NewFIRMS(apiKey string) *FIRMS {
	return &FIRMS{
		baseURL: "https://firms.modaps.eosdis.nasa.gov/api/area/json",
		apiKey:  apiKey,
		ttl:     2 * time.Hour,
	}
}

func (c *FIRMS) Name() string { return "firms" }

func (c *FIRMS) Collect(ctx context.Context) ([]collector.Publication, error) {
	url := fmt.Sprintf("%s/%s/VIIRS_SNPP_NRT/world/1", c.baseURL, c.apiKey)

	var records []firmsRecord
	if err := getJSON(ctx, url, &records); err != nil {
		return nil, err
	}

	hotspots := make([]Hotspot, 0, len(records))
	for _, r := range records {
		hotspots = append(hotspots, Hotspot{
			Point: Point{
				Lat:  r.Latitude,
				Lon:  normalizeLon(r.Longitude),
				Time: acquisitionTime(r.AcqDate, r.AcqTime),
			},
			Brightness: r.BrightTI4,
			FRP:        r.FRP,
			Confidence: r.Confidence,
			Satellite:  r.Satellite,
			DayNight:   r.DayNight,
		})
	}

	return []collector.Publication{
		{Key: "kaos:fires:hotspots", Value: hotspots, TTL: c.ttl},
	}, nil
}

// acquisitionTime combines the feed's date and HHMM time fields.
func acquisitionTime(date, hhmm string) int64 {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	if n, err := strconv.Atoi(hhmm); err == nil {
		day = day.Add(time.Duration(n/100)*time.Hour + time.Duration(n%100)*time.Minute)
	}
	return day.UnixMilli()
}
