package collectors

import (
	"context"
	"sort"
	"time"

	"kaos.obsgrid.org/collector"
)

const ipmaURL = "https://api.ipma.pt/open-data/forecast/warnings/warnings_www.json"

// severityRank orders IPMA awareness levels, red highest.
var severityRank = map[string]int{
	"red":    3,
	"orange": 2,
	"yellow": 1,
	"green":  0,
}

// Warning is one weather warning inside an area group.
type Warning struct {
	Type      string `json:"type"`
	Level     string `json:"level"`
	Text      string `json:"text,omitempty"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// AreaWarnings groups the active warnings of one area code. Level is the
// area's overall severity: the highest-ranked, earliest-starting entry.
type AreaWarnings struct {
	Area     string    `json:"area"`
	Level    string    `json:"level"`
	Warnings []Warning `json:"warnings"`
}

type ipmaEntry struct {
	Text          string `json:"text"`
	AwarenessType string `json:"awarenessTypeName"`
	Area          string `json:"idAreaAviso"`
	Level         string `json:"awarenessLevelID"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
}

// IPMA collects Portuguese weather warnings.
type IPMA struct {
	url string
	ttl time.Duration
	now func() time.Time
}

// NewIPMA builds the IPMA warnings collector.
func NewIPMA() *IPMA {
	return &IPMA{url: ipmaURL, ttl: time.Hour, now: time.Now}
}

func (c *IPMA) Name() string { return "ipma" }

func (c *IPMA) Collect(ctx context.Context) ([]collector.Publication, error) {
	var entries []ipmaEntry
	if err := getJSON(ctx, c.url, &entries); err != nil {
		return nil, err
	}

	areas := groupWarnings(entries, c.now())
	return []collector.Publication{
		{Key: "kaos:ipma:warnings", Value: areas, TTL: c.ttl},
	}, nil
}

// groupWarnings drops green and expired entries, groups the rest by area
// code and sorts each group by severity then start time.
func groupWarnings(entries []ipmaEntry, now time.Time) []AreaWarnings {
	byArea := make(map[string][]Warning)

	for _, e := range entries {
		if e.Level == "green" {
			continue
		}
		start := parseIPMATime(e.StartTime)
		end := parseIPMATime(e.EndTime)
		if !end.IsZero() && end.Before(now) {
			continue
		}
		byArea[e.Area] = append(byArea[e.Area], Warning{
			Type:      e.AwarenessType,
			Level:     e.Level,
			Text:      e.Text,
			StartTime: start.UnixMilli(),
			EndTime:   end.UnixMilli(),
		})
	}

	areaCodes := make([]string, 0, len(byArea))
	for area := range byArea {
		areaCodes = append(areaCodes, area)
	}
	sort.Strings(areaCodes)

	areas := make([]AreaWarnings, 0, len(areaCodes))
	for _, area := range areaCodes {
		warnings := byArea[area]
		sort.SliceStable(warnings, func(i, j int) bool {
			ri, rj := severityRank[warnings[i].Level], severityRank[warnings[j].Level]
			if ri != rj {
				return ri > rj
			}
			return warnings[i].StartTime < warnings[j].StartTime
		})
		areas = append(areas, AreaWarnings{
			Area:     area,
			Level:    warnings[0].Level,
			Warnings: warnings,
		})
	}
	return areas
}

func parseIPMATime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
