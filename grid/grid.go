// Package grid defines the regular gridded field records shared by the GFS,
// SST, TEC, ozone and aurora collectors.
//
// Grids are row-major with latitude decreasing (north to south) and
// longitude increasing; Lo1/La1 is the north-west corner. The longitude
// convention of the upstream product is preserved in Lo1 and never
// normalized. Missing cells are NaN in memory and encode as JSON null on
// the wire, which readers must tolerate alongside plain numbers.
package grid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Header describes the geometry of a regular lat/lon grid.
type Header struct {
	Nx  int     `json:"nx"`
	Ny  int     `json:"ny"`
	Lo1 float64 `json:"lo1"` // north-west corner longitude, provider convention
	La1 float64 `json:"la1"` // north-west corner latitude
	Dx  float64 `json:"dx"`
	Dy  float64 `json:"dy"`
}

// Values is a flat sequence of cell values. NaN and infinities marshal as
// null; null unmarshals back to NaN.
type Values []float64

// MarshalJSON writes numbers with null standing in for non-finite cells.
func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(v)*8 + 2)
	buf.WriteByte('[')
	for i, val := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts numbers and nulls, mapping null to NaN.
func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Values, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *p
		}
	}
	*v = out
	return nil
}

// Grid is one scalar field snapshot.
type Grid struct {
	Header Header `json:"header"`
	Data   Values `json:"data"`
	Unit   string `json:"unit"`
	Name   string `json:"name"`
}

// Validate checks the conservation invariant len(data) == nx*ny.
func (g *Grid) Validate() error {
	want := g.Header.Nx * g.Header.Ny
	if len(g.Data) != want {
		return fmt.Errorf("grid %q has %d values, header wants %d (%dx%d)",
			g.Name, len(g.Data), want, g.Header.Nx, g.Header.Ny)
	}
	return nil
}

// Vector is a two-component field: U east-positive, V north-positive.
type Vector [2]Grid

// Validate checks both components and that their geometries agree.
func (v *Vector) Validate() error {
	for i := range v {
		if err := v[i].Validate(); err != nil {
			return err
		}
	}
	if v[0].Header != v[1].Header {
		return fmt.Errorf("vector components have mismatched headers")
	}
	return nil
}
