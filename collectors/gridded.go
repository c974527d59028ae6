package collectors

import (
	"math"

	"kaos.obsgrid.org/grid"
)

// coordsToGrid reshapes a sparse [lon, lat, value] triple list into a dense
// 1-degree global grid in the canonical layout: north-west corner first,
// latitude decreasing, longitude increasing, missing cells NaN. The source
// longitude convention (0..360) is preserved in the header.
func coordsToGrid(coords [][]float64, name, unit string) grid.Grid {
	const (
		nx = 360
		ny = 181
	)

	data := make(grid.Values, nx*ny)
	for i := range data {
		data[i] = math.NaN()
	}

	for _, c := range coords {
		if len(c) < 3 {
			continue
		}
		lon, lat, value := c[0], c[1], c[2]
		col := int(math.Round(lon))
		row := int(math.Round(90 - lat)) // la1 = 90, latitude decreasing
		if col < 0 || col >= nx || row < 0 || row >= ny {
			continue
		}
		data[row*nx+col] = value
	}

	return grid.Grid{
		Header: grid.Header{Nx: nx, Ny: ny, Lo1: 0, La1: 90, Dx: 1, Dy: 1},
		Data:   data,
		Unit:   unit,
		Name:   name,
	}
}
