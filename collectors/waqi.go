package collectors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"kaos.obsgrid.org/collector"
)

// AirStation is one air quality monitoring station.
type AirStation struct {
	Point
	UID  int    `json:"uid"`
	AQI  int    `json:"aqi"`
	Name string `json:"name,omitempty"`
}

type waqiResponse struct {
	Status string `json:"status"`
	Data   []struct {
		UID     int     `json:"uid"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		AQI     string  `json:"aqi"`
		Station struct {
			Name string `json:"name"`
			Time string `json:"time"`
		} `json:"station"`
	} `json:"data"`
}

// WAQI collects World Air Quality Index stations for the whole globe.
type WAQI struct {
	baseURL string
	token   string
	ttl     time.Duration
}

// NewWAQI builds the WAQI collector.
func NewWAQI(token string) *WAQI {
	return &WAQI{
		baseURL: "https://api.waqi.info/map/bounds/",
		token:   token,
		ttl:     2 * time.Hour,
	}
}

func (c *WAQI) Name() string { return "waqi" }

func (c *WAQI) Collect(ctx context.Context) ([]collector.Publication, error) {
	url := fmt.Sprintf("%s?latlng=-90,-180,90,180&token=%s", c.baseURL, c.token)

	var resp waqiResponse
	if err := getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("waqi returned status %q", resp.Status)
	}

	now := time.Now().UnixMilli()
	stations := make([]AirStation, 0, len(resp.Data))
	for _, d := range resp.Data {
		// Stations without a current reading report "-".
		aqi, err := strconv.Atoi(d.AQI)
		if err != nil {
			continue
		}
		when := now
		if t, err := time.Parse("2006-01-02T15:04:05Z07:00", d.Station.Time); err == nil {
			when = t.UnixMilli()
		}
		stations = append(stations, AirStation{
			Point: Point{Lat: d.Lat, Lon: normalizeLon(d.Lon), Time: when},
			UID:   d.UID,
			AQI:   aqi,
			Name:  d.Station.Name,
		})
	}

	return []collector.Publication{
		{Key: "kaos:air:quality", Value: stations, TTL: c.ttl},
	}, nil
}
