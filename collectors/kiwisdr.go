package collectors

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"kaos.obsgrid.org/collector"
	"kaos.obsgrid.org/fetch"
)

const kiwisdrURL = "http://kiwisdr.com/public/"

// maxStationName caps scraped station names.
const maxStationName = 200

// KiwiStation is one public KiwiSDR receiver.
type KiwiStation struct {
	Point
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Users    int    `json:"users"`
	UsersMax int    `json:"usersMax"`
	Antenna  string `json:"antenna,omitempty"`
	Location string `json:"location,omitempty"`
	SNR      int    `json:"snr"`
	Offline  bool   `json:"offline"`
}

// KiwiSDR scrapes the public receiver directory. Station attributes are
// encoded as HTML comments of the form <!-- key=value --> inside each
// div.cl-entry element.
type KiwiSDR struct {
	url string
	ttl time.Duration
}

// NewKiwiSDR builds the KiwiSDR directory collector.
func NewKiwiSDR() *KiwiSDR {
	return &KiwiSDR{url: kiwisdrURL, ttl: 2 * time.Hour}
}

func (c *KiwiSDR) Name() string { return "kiwisdr" }

func (c *KiwiSDR) Collect(ctx context.Context) ([]collector.Publication, error) {
	resp, err := fetch.Fetch(ctx, c.url, fetch.Options{AcceptGzip: true}, fetch.DefaultPolicy())
	if err != nil {
		return nil, err
	}

	stations, err := parseKiwiDirectory(resp.Body)
	if err != nil {
		return nil, err
	}

	return []collector.Publication{
		{Key: "kaos:kiwisdr:stations", Value: stations, TTL: c.ttl},
	}, nil
}

// parseKiwiDirectory walks the document for cl-entry divs and decodes the
// comment-embedded attributes of each.
func parseKiwiDirectory(page []byte) ([]KiwiStation, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("malformed directory page: %w", err)
	}

	now := time.Now().UnixMilli()
	var stations []KiwiStation

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "cl-entry") {
			if st, ok := decodeKiwiEntry(n, now); ok {
				stations = append(stations, st)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return stations, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// decodeKiwiEntry reads every comment node under the entry and assembles a
// station. Entries without a parseable GPS tuple are dropped.
func decodeKiwiEntry(entry *html.Node, now int64) (KiwiStation, bool) {
	attrs := make(map[string]string)

	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.CommentNode {
			if key, value, ok := strings.Cut(strings.TrimSpace(n.Data), "="); ok {
				attrs[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(entry)

	lat, lon, ok := parseGPS(attrs["gps"])
	if !ok {
		return KiwiStation{}, false
	}

	name := attrs["name"]
	if len(name) > maxStationName {
		name = name[:maxStationName]
	}

	st := KiwiStation{
		Point:    Point{Lat: lat, Lon: normalizeLon(lon), Time: now},
		Name:     name,
		URL:      attrs["url"],
		Antenna:  attrs["ant"],
		Location: attrs["loc"],
		Offline:  attrs["offline"] == "yes",
	}
	st.Users, _ = strconv.Atoi(attrs["users"])
	st.UsersMax, _ = strconv.Atoi(attrs["users_max"])

	// snr is "overall,hf"; keep the first component.
	if snr, _, found := strings.Cut(attrs["snr"], ","); found || snr != "" {
		st.SNR, _ = strconv.Atoi(strings.TrimSpace(snr))
	}

	return st, true
}

// parseGPS decodes the "(lat, lon)" tuple.
func parseGPS(raw string) (lat, lon float64, ok bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "(")
	raw = strings.TrimSuffix(raw, ")")
	latStr, lonStr, found := strings.Cut(raw, ",")
	if !found {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
