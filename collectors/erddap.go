package collectors

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"kaos.obsgrid.org/collector"
	"kaos.obsgrid.org/grid"
)

// erddapTable is the tabular JSON format ERDDAP emits for griddap queries.
type erddapTable struct {
	Table struct {
		ColumnNames []string    `json:"columnNames"`
		Rows        [][]float64 `json:"rows"`
	} `json:"table"`
}

// column returns the index of a named column.
func (t *erddapTable) column(name string) (int, error) {
	for i, col := range t.Table.ColumnNames {
		if col == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("erddap table has no column %q", name)
}

// tableToGrid densifies one value column of an ERDDAP table into the
// canonical grid layout. Geometry is derived from the distinct coordinate
// values present in the table; cells without a row stay NaN.
func tableToGrid(t *erddapTable, valueCol, name, unit string) (grid.Grid, error) {
	latIdx, err := t.column("latitude")
	if err != nil {
		return grid.Grid{}, err
	}
	lonIdx, err := t.column("longitude")
	if err != nil {
		return grid.Grid{}, err
	}
	valIdx, err := t.column(valueCol)
	if err != nil {
		return grid.Grid{}, err
	}

	latSet := make(map[float64]bool)
	lonSet := make(map[float64]bool)
	for _, row := range t.Table.Rows {
		if len(row) <= valIdx || len(row) <= latIdx || len(row) <= lonIdx {
			continue
		}
		latSet[row[latIdx]] = true
		lonSet[row[lonIdx]] = true
	}
	if len(latSet) == 0 || len(lonSet) == 0 {
		return grid.Grid{}, fmt.Errorf("erddap table for %q is empty", name)
	}

	lats := sortedKeys(latSet)
	lons := sortedKeys(lonSet)
	// Latitude decreasing: north first.
	sort.Sort(sort.Reverse(sort.Float64Slice(lats)))
	sort.Float64s(lons)

	latRow := make(map[float64]int, len(lats))
	for i, v := range lats {
		latRow[v] = i
	}
	lonCol := make(map[float64]int, len(lons))
	for i, v := range lons {
		lonCol[v] = i
	}

	nx, ny := len(lons), len(lats)
	data := make(grid.Values, nx*ny)
	for i := range data {
		data[i] = math.NaN()
	}
	for _, row := range t.Table.Rows {
		if len(row) <= valIdx || len(row) <= latIdx || len(row) <= lonIdx {
			continue
		}
		data[latRow[row[latIdx]]*nx+lonCol[row[lonIdx]]] = row[valIdx]
	}

	header := grid.Header{Nx: nx, Ny: ny, Lo1: lons[0], La1: lats[0]}
	if nx > 1 {
		header.Dx = (lons[nx-1] - lons[0]) / float64(nx-1)
	}
	if ny > 1 {
		header.Dy = (lats[0] - lats[ny-1]) / float64(ny-1)
	}

	return grid.Grid{Header: header, Data: data, Unit: unit, Name: name}, nil
}

func sortedKeys(set map[float64]bool) []float64 {
	out := make([]float64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// Currents collects surface ocean current vectors from a Coastwatch ERDDAP
// dataset, publishing the canonical [U, V] vector pair.
type Currents struct {
	url string
	ttl time.Duration
}

// NewCurrents builds the ocean currents collector.
func NewCurrents() *Currents {
	return &Currents{
		url: "https://coastwatch.pfeg.noaa.gov/erddap/griddap/miamicurrents.json" +
			"?u_current[(last)][(-89.75):(89.75)][(0.25):(359.75)],v_current[(last)][(-89.75):(89.75)][(0.25):(359.75)]",
		ttl: 12 * time.Hour,
	}
}

func (c *Currents) Name() string { return "currents" }

func (c *Currents) Collect(ctx context.Context) ([]collector.Publication, error) {
	var table erddapTable
	if err := getJSON(ctx, c.url, &table); err != nil {
		return nil, err
	}

	u, err := tableToGrid(&table, "u_current", "Eastward Surface Current", "m/s")
	if err != nil {
		return nil, err
	}
	v, err := tableToGrid(&table, "v_current", "Northward Surface Current", "m/s")
	if err != nil {
		return nil, err
	}

	vector := grid.Vector{u, v}
	if err := vector.Validate(); err != nil {
		return nil, err
	}

	return []collector.Publication{
		{Key: "kaos:ocean:currents", Value: vector, TTL: c.ttl},
	}, nil
}

// SST collects the Coastwatch sea surface temperature analysis grid.
type SST struct {
	url string
	ttl time.Duration
}

// NewSST builds the sea surface temperature collector.
func NewSST() *SST {
	return &SST{
		url: "https://coastwatch.pfeg.noaa.gov/erddap/griddap/jplMURSST41.json" +
			"?analysed_sst[(last)][(-89.5):1:(89.5)][(-179.5):1:(179.5)]",
		ttl: 12 * time.Hour,
	}
}

func (c *SST) Name() string { return "sst" }

func (c *SST) Collect(ctx context.Context) ([]collector.Publication, error) {
	var table erddapTable
	if err := getJSON(ctx, c.url, &table); err != nil {
		return nil, err
	}

	g, err := tableToGrid(&table, "analysed_sst", "Sea Surface Temperature", "°C")
	if err != nil {
		return nil, err
	}

	return []collector.Publication{
		{Key: "kaos:ocean:sst", Value: g, TTL: c.ttl},
	}, nil
}
