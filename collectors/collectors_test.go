package collectors

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLon(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{179.5, 179.5},
		{180, -180},
		{270, -90},
		{360, 0},
		{-180, -180},
		{-190, 170},
		{540, -180},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeLon(tt.in), "normalizeLon(%v)", tt.in)
	}
}

func TestCoordsToGrid(t *testing.T) {
	coords := [][]float64{
		{0, 90, 1.5},    // north-west corner
		{359, 90, 2.5},  // north-east corner
		{0, -90, 3.5},   // south-west corner
		{120, 45, 4.5},  // mid-grid
		{400, 0, 9.9},   // out of range, dropped
		{10, 91, 9.9},   // out of range, dropped
		{50, 50},        // short triple, dropped
	}

	g := coordsToGrid(coords, "TEC", "TECU")
	require.NoError(t, g.Validate())
	assert.Equal(t, 360, g.Header.Nx)
	assert.Equal(t, 181, g.Header.Ny)
	assert.Equal(t, 90.0, g.Header.La1)
	assert.Equal(t, 0.0, g.Header.Lo1)

	cell := func(lon, lat float64) float64 {
		row := int(math.Round(90 - lat))
		col := int(math.Round(lon))
		return g.Data[row*360+col]
	}
	assert.Equal(t, 1.5, cell(0, 90))
	assert.Equal(t, 2.5, cell(359, 90))
	assert.Equal(t, 3.5, cell(0, -90))
	assert.Equal(t, 4.5, cell(120, 45))
	assert.True(t, math.IsNaN(cell(50, 50)), "short triple must not land")

	// Untouched cells stay NaN.
	assert.True(t, math.IsNaN(cell(200, 10)))
}
