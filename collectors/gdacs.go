package collectors

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"time"

	"kaos.obsgrid.org/collector"
)

const gdacsURL = "https://www.gdacs.org/gdacsapi/api/events/geteventlist/MAP"

// Event is one normalized GDACS disaster event.
type Event struct {
	Point
	EventType  string       `json:"eventType"`
	EventID    json.Number  `json:"eventId"`
	EpisodeID  json.Number  `json:"episodeId"`
	Name       string       `json:"name,omitempty"`
	AlertLevel string       `json:"alertLevel,omitempty"`
	Severity   string       `json:"severity,omitempty"`
	Country    string       `json:"country,omitempty"`
	Cyclone    *CycloneData `json:"cycloneData,omitempty"`
}

// CycloneData carries the reconstructed track of a tropical cyclone.
type CycloneData struct {
	TrackPoints  []TrackPoint    `json:"trackPoints"`
	ForecastCone json.RawMessage `json:"forecastCone,omitempty"`
}

// TrackPoint is one observed or forecast cyclone position.
type TrackPoint struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Time       int64   `json:"time"`
	IsForecast bool    `json:"isForecast"`
}

type gdacsFeature struct {
	Properties struct {
		EventType   string      `json:"eventtype"`
		EventID     json.Number `json:"eventid"`
		EpisodeID   json.Number `json:"episodeid"`
		EventName   string      `json:"eventname"`
		Name        string      `json:"name"`
		AlertLevel  string      `json:"alertlevel"`
		Severity    string      `json:"severitytext"`
		Country     string      `json:"country"`
		IsCurrent   string      `json:"iscurrent"`
		FromDate    string      `json:"fromdate"`
		TrackDate   string      `json:"trackdate"`
		Class       string      `json:"Class"`
		PolygonName string      `json:"polygonlabel"`
	} `json:"properties"`
	Geometry struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	} `json:"geometry"`
}

type gdacsFeed struct {
	Features []gdacsFeature `json:"features"`
}

var trackPointClass = regexp.MustCompile(`^Point_Polygon_Point_(\d+)$`)

// GDACS collects the Global Disaster Alert and Coordination System feed.
type GDACS struct {
	url string
	ttl time.Duration
	now func() time.Time
}

// NewGDACS builds the GDACS collector.
func NewGDACS() *GDACS {
	return &GDACS{url: gdacsURL, ttl: time.Hour, now: time.Now}
}

func (g *GDACS) Name() string { return "gdacs" }

func (g *GDACS) Collect(ctx context.Context) ([]collector.Publication, error) {
	var feed gdacsFeed
	if err := getJSON(ctx, g.url, &feed); err != nil {
		return nil, err
	}

	events := g.decode(&feed)
	return []collector.Publication{
		{Key: "kaos:gdacs:events", Value: events, TTL: g.ttl},
	}, nil
}

// decode extracts current events, deduplicating by (eventtype, eventid,
// episodeid, geometry class) and reconstructing tropical cyclone tracks.
func (g *GDACS) decode(feed *gdacsFeed) []Event {
	type eventKey struct {
		Type    string
		EventID string
	}
	type trackEntry struct {
		seq   int
		point TrackPoint
	}

	seen := make(map[[4]string]bool)
	centroids := make(map[eventKey]*Event)
	tracks := make(map[eventKey][]trackEntry)
	cones := make(map[eventKey]json.RawMessage)
	var order []eventKey

	now := g.now()

	for i := range feed.Features {
		f := &feed.Features[i]
		if f.Properties.IsCurrent != "true" {
			continue
		}

		class := f.Properties.Class
		dedupe := [4]string{
			f.Properties.EventType,
			f.Properties.EventID.String(),
			f.Properties.EpisodeID.String(),
			class,
		}
		if seen[dedupe] {
			continue
		}
		seen[dedupe] = true

		key := eventKey{Type: f.Properties.EventType, EventID: f.Properties.EventID.String()}

		switch {
		case trackPointClass.MatchString(class):
			m := trackPointClass.FindStringSubmatch(class)
			seq, _ := strconv.Atoi(m[1])
			lon, lat, ok := pointCoords(f.Geometry.Coordinates)
			if !ok {
				continue
			}
			when := parseGDACSTime(f.Properties.TrackDate, f.Properties.FromDate)
			tracks[key] = append(tracks[key], trackEntry{
				seq: seq,
				point: TrackPoint{
					Lat:        lat,
					Lon:        normalizeLon(lon),
					Time:       when.UnixMilli(),
					IsForecast: when.After(now),
				},
			})

		case class == "Poly_Cones":
			cones[key] = f.Geometry.Coordinates

		default:
			if f.Geometry.Type != "Point" {
				continue
			}
			lon, lat, ok := pointCoords(f.Geometry.Coordinates)
			if !ok {
				continue
			}
			if _, exists := centroids[key]; exists {
				continue
			}
			name := f.Properties.EventName
			if name == "" {
				name = f.Properties.Name
			}
			when := parseGDACSTime(f.Properties.FromDate, "")
			centroids[key] = &Event{
				Point:      Point{Lat: lat, Lon: normalizeLon(lon), Time: when.UnixMilli()},
				EventType:  f.Properties.EventType,
				EventID:    f.Properties.EventID,
				EpisodeID:  f.Properties.EpisodeID,
				Name:       name,
				AlertLevel: f.Properties.AlertLevel,
				Severity:   f.Properties.Severity,
				Country:    f.Properties.Country,
			}
			order = append(order, key)
		}
	}

	events := make([]Event, 0, len(order))
	for _, key := range order {
		ev := centroids[key]
		if entries, ok := tracks[key]; ok && ev.EventType == "TC" {
			sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
			points := make([]TrackPoint, len(entries))
			for i, e := range entries {
				points[i] = e.point
			}
			ev.Cyclone = &CycloneData{TrackPoints: points, ForecastCone: cones[key]}
		}
		events = append(events, *ev)
	}
	return events
}

// pointCoords decodes a GeoJSON Point coordinate pair.
func pointCoords(raw json.RawMessage) (lon, lat float64, ok bool) {
	var coords []float64
	if err := json.Unmarshal(raw, &coords); err != nil || len(coords) < 2 {
		return 0, 0, false
	}
	return coords[0], coords[1], true
}

// parseGDACSTime parses the feed's timestamp formats, trying the preferred
// value first.
func parseGDACSTime(preferred, fallback string) time.Time {
	for _, s := range []string{preferred, fallback} {
		if s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
