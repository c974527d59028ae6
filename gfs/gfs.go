// Package gfs implements the GFS multi-key collector: one model-cycle fetch
// from NOAA NOMADS fanned out into seven keyed snapshots (temperature,
// humidity, precipitation, cloud cover, CAPE, 10 m wind vector and a
// derived UV index).
package gfs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"kaos.obsgrid.org/collector"
	"kaos.obsgrid.org/common"
	"kaos.obsgrid.org/fetch"
	"kaos.obsgrid.org/grib2"
	"kaos.obsgrid.org/grid"
	"kaos.obsgrid.org/store"
)

const nomadsFilterURL = "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25.pl"

// publicationLag is how far behind real time the newest complete GFS cycle
// is assumed to be on NOMADS.
const publicationLag = 5 * time.Hour

// paramID identifies a field inside a decoded GRIB stream.
type paramID struct {
	Category  int
	Parameter int
}

// GFS numerical codes for the fields this collector consumes.
var (
	paramTemperature = paramID{0, 0}  // TMP
	paramHumidity    = paramID{1, 1}  // RH
	paramPrecipRate  = paramID{1, 7}  // PRATE
	paramWindU       = paramID{2, 2}  // UGRD
	paramWindV       = paramID{2, 3}  // VGRD
	paramCloudCover  = paramID{6, 1}  // TCDC
	paramCAPE        = paramID{7, 6}  // CAPE
	paramOzone       = paramID{14, 0} // TOZNE
)

// analysisVars selects the analysis-file variables and levels. PRATE is
// absent from the analysis file and comes from forecast hour f001 instead.
var analysisVars = url.Values{
	"var_TMP":               {"on"},
	"var_RH":                {"on"},
	"var_UGRD":              {"on"},
	"var_VGRD":              {"on"},
	"var_TCDC":              {"on"},
	"var_CAPE":              {"on"},
	"var_TOZNE":             {"on"},
	"lev_2_m_above_ground":  {"on"},
	"lev_10_m_above_ground": {"on"},
	"lev_surface":           {"on"},
	"lev_entire_atmosphere": {"on"},
}

var forecastVars = url.Values{
	"var_PRATE":   {"on"},
	"lev_surface": {"on"},
}

// Collector fetches and decodes the latest GFS cycle. The store is read
// for the column ozone snapshot when the cycle carries no TOZNE field.
type Collector struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	store   store.Store
}

// New builds the GFS collector.
func New(st store.Store) *Collector {
	return &Collector{baseURL: nomadsFilterURL, ttl: 3 * time.Hour, now: time.Now, store: st}
}

func (c *Collector) Name() string { return "gfs" }

// cycle returns the date and run hour of the newest complete model cycle:
// current UTC minus the publication lag, floored to a multiple of 6.
func (c *Collector) cycle() (date string, hour int) {
	t := c.now().UTC().Add(-publicationLag)
	return t.Format("20060102"), (t.Hour() / 6) * 6
}

// filterURL assembles the NOMADS filter URL for one file of the cycle.
func (c *Collector) filterURL(date string, hour int, file string, vars url.Values) string {
	q := url.Values{}
	q.Set("dir", fmt.Sprintf("/gfs.%s/%02d/atmos", date, hour))
	q.Set("file", fmt.Sprintf("gfs.t%02dz.pgrb2.0p25.%s", hour, file))
	for k, v := range vars {
		q[k] = v
	}
	return c.baseURL + "?" + q.Encode()
}

// Collect fetches the analysis and f001 files, decodes them and emits one
// publication per sub-collection. A failing sub-collection is logged and
// skipped; the run fails only when nothing could be produced.
func (c *Collector) Collect(ctx context.Context) ([]collector.Publication, error) {
	date, hour := c.cycle()
	log := common.Logger.WithField("collector", c.Name()).
		WithField("cycle", fmt.Sprintf("%s/%02dz", date, hour))

	analysis, err := c.fetchFields(ctx, c.filterURL(date, hour, "anl", analysisVars))
	if err != nil {
		return nil, fmt.Errorf("analysis fetch failed: %w", err)
	}

	var pubs []collector.Publication
	emit := func(variant string, value any, err error) {
		if err != nil {
			log.WithError(err).Errorf("%s sub-collection failed", variant)
			return
		}
		pubs = append(pubs, collector.Publication{
			Key:   "kaos:gfs:" + variant,
			Value: value,
			TTL:   c.ttl,
		})
	}
	emitScalar := func(variant string, id paramID, name, unit string, transform func(float64) float64) {
		g, err := scalarGrid(analysis, id, name, unit, transform)
		emit(variant, g, err)
	}

	emitScalar("temperature", paramTemperature, "Temperature", "°C",
		func(v float64) float64 { return v - 273.15 })
	emitScalar("humidity", paramHumidity, "Relative Humidity", "%", nil)
	emitScalar("clouds", paramCloudCover, "Total Cloud Cover", "%", nil)
	emitScalar("cape", paramCAPE, "CAPE", "J/kg", nil)

	wind, err := windVector(analysis)
	emit("wind", wind, err)

	ozone, oerr := scalarGrid(analysis, paramOzone, "Total Column Ozone", "DU", nil)
	if oerr != nil {
		log.WithError(oerr).Warn("ozone field missing, falling back to stored snapshot")
		ozone, oerr = c.storedOzone(ctx)
	}
	if oerr != nil {
		emit("uvindex", nil, oerr)
	} else {
		emit("uvindex", UVIndex(ozone, c.now().UTC()), nil)
	}

	// Precipitation rate lives in the forecast file only.
	if forecast, err := c.fetchFields(ctx, c.filterURL(date, hour, "f001", forecastVars)); err != nil {
		emit("precipitation", nil, err)
	} else {
		precip, perr := precipGrid(forecast)
		emit("precipitation", precip, perr)
	}

	if len(pubs) == 0 {
		return nil, fmt.Errorf("every GFS sub-collection failed")
	}
	return pubs, nil
}

// storedOzone reads the most recent column ozone snapshot for the UV
// derivation.
func (c *Collector) storedOzone(ctx context.Context) (grid.Grid, error) {
	if c.store == nil {
		return grid.Grid{}, fmt.Errorf("no ozone snapshot source")
	}
	raw, ok, err := c.store.Get(ctx, "kaos:ozone:column")
	if err != nil {
		return grid.Grid{}, fmt.Errorf("ozone snapshot read failed: %w", err)
	}
	if !ok {
		return grid.Grid{}, fmt.Errorf("ozone snapshot missing")
	}
	var g grid.Grid
	if err := json.Unmarshal(raw, &g); err != nil {
		return grid.Grid{}, fmt.Errorf("ozone snapshot decode failed: %w", err)
	}
	return g, nil
}

func (c *Collector) fetchFields(ctx context.Context, u string) ([]grib2.Field, error) {
	resp, err := fetch.Fetch(ctx, u, fetch.Options{AcceptGzip: true},
		fetch.Policy{Timeout: 60 * time.Second, Retries: 2})
	if err != nil {
		return nil, err
	}
	return grib2.Decode(resp.Body)
}

// findField selects the field matching the parameter pair. When several
// match (stacked levels slipped through the filter), the first with real
// data wins.
func findField(fields []grib2.Field, id paramID) (*grib2.Field, error) {
	var fallback *grib2.Field
	for i := range fields {
		f := &fields[i]
		if f.Category != id.Category || f.Parameter != id.Parameter {
			continue
		}
		if f.HasData() {
			return f, nil
		}
		if fallback == nil {
			fallback = f
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no field for category %d parameter %d", id.Category, id.Parameter)
}

// scalarGrid converts one field into the canonical grid record, applying an
// optional per-value transform.
func scalarGrid(fields []grib2.Field, id paramID, name, unit string, transform func(float64) float64) (grid.Grid, error) {
	f, err := findField(fields, id)
	if err != nil {
		return grid.Grid{}, err
	}
	return fieldToGrid(f, name, unit, transform), nil
}

func fieldToGrid(f *grib2.Field, name, unit string, transform func(float64) float64) grid.Grid {
	data := make(grid.Values, len(f.Data))
	copy(data, f.Data)
	if transform != nil {
		for i, v := range data {
			data[i] = transform(v)
		}
	}
	return grid.Grid{
		Header: grid.Header{Nx: f.Nx, Ny: f.Ny, Lo1: f.Lo1, La1: f.La1, Dx: f.Dx, Dy: f.Dy},
		Data:   data,
		Unit:   unit,
		Name:   name,
	}
}

// windVector builds the [U, V] pair from the 10 m wind components.
func windVector(fields []grib2.Field) (any, error) {
	u, err := findField(fields, paramWindU)
	if err != nil {
		return nil, err
	}
	v, err := findField(fields, paramWindV)
	if err != nil {
		return nil, err
	}
	vector := grid.Vector{
		fieldToGrid(u, "Eastward Wind", "m/s", nil),
		fieldToGrid(v, "Northward Wind", "m/s", nil),
	}
	if err := vector.Validate(); err != nil {
		return nil, err
	}
	return vector, nil
}

// precipGrid selects the PRATE message that actually carries data and
// rescales kg·m⁻²·s⁻¹ to mm/h.
func precipGrid(fields []grib2.Field) (any, error) {
	g, err := scalarGrid(fields, paramPrecipRate, "Precipitation Rate", "mm/h",
		func(v float64) float64 { return v * 3600 })
	if err != nil {
		return nil, err
	}
	return g, nil
}
