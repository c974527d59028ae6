package collectors

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaos.obsgrid.org/grid"
)

func makeTable(columns []string, rows [][]float64) *erddapTable {
	var t erddapTable
	t.Table.ColumnNames = columns
	t.Table.Rows = rows
	return &t
}

func TestTableToGrid(t *testing.T) {
	t.Run("derives geometry from distinct coordinates", func(t *testing.T) {
		table := makeTable(
			[]string{"time", "latitude", "longitude", "analysed_sst"},
			[][]float64{
				{0, 10, 100, 20.5},
				{0, 10, 101, 21.0},
				{0, 9, 100, 19.5},
				{0, 9, 101, 19.0},
			},
		)

		g, err := tableToGrid(table, "analysed_sst", "SST", "°C")
		require.NoError(t, err)
		require.NoError(t, g.Validate())

		assert.Equal(t, 2, g.Header.Nx)
		assert.Equal(t, 2, g.Header.Ny)
		assert.Equal(t, 10.0, g.Header.La1, "north first")
		assert.Equal(t, 100.0, g.Header.Lo1)
		assert.Equal(t, 1.0, g.Header.Dx)
		assert.Equal(t, 1.0, g.Header.Dy)

		// Row-major, latitude decreasing.
		assert.Equal(t, grid.Values{20.5, 21.0, 19.5, 19.0}, g.Data)
	})

	t.Run("missing cells stay NaN", func(t *testing.T) {
		table := makeTable(
			[]string{"latitude", "longitude", "u_current"},
			[][]float64{
				{10, 100, 0.5},
				{9, 101, -0.3},
			},
		)

		g, err := tableToGrid(table, "u_current", "U", "m/s")
		require.NoError(t, err)
		require.Len(t, g.Data, 4)
		assert.Equal(t, 0.5, g.Data[0])
		assert.True(t, math.IsNaN(g.Data[1]))
		assert.True(t, math.IsNaN(g.Data[2]))
		assert.Equal(t, -0.3, g.Data[3])
	})

	t.Run("missing column is an error", func(t *testing.T) {
		table := makeTable([]string{"latitude", "longitude"}, nil)
		_, err := tableToGrid(table, "analysed_sst", "SST", "°C")
		assert.Error(t, err)
	})

	t.Run("empty table is an error", func(t *testing.T) {
		table := makeTable([]string{"latitude", "longitude", "analysed_sst"}, nil)
		_, err := tableToGrid(table, "analysed_sst", "SST", "°C")
		assert.Error(t, err)
	})
}

func TestCurrentsCollect(t *testing.T) {
	payload := `{"table": {
		"columnNames": ["time", "latitude", "longitude", "u_current", "v_current"],
		"rows": [
			[0, 10, 100, 0.5, -0.1],
			[0, 10, 101, 0.4, -0.2],
			[0, 9, 100, 0.3, 0.0],
			[0, 9, 101, 0.2, 0.1]
		]
	}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := &Currents{url: srv.URL, ttl: 12 * time.Hour}
	pubs, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "kaos:ocean:currents", pubs[0].Key)

	vector, ok := pubs[0].Value.(grid.Vector)
	require.True(t, ok)
	require.NoError(t, vector.Validate())
	assert.Equal(t, grid.Values{0.5, 0.4, 0.3, 0.2}, vector[0].Data)
	assert.Equal(t, grid.Values{-0.1, -0.2, 0.0, 0.1}, vector[1].Data)
}

func TestSSTCollect(t *testing.T) {
	payload := `{"table": {
		"columnNames": ["time", "latitude", "longitude", "analysed_sst"],
		"rows": [[0, 10, 100, 18.5], [0, 9, 100, 17.0]]
	}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	c := &SST{url: srv.URL, ttl: 12 * time.Hour}
	pubs, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "kaos:ocean:sst", pubs[0].Key)

	g, ok := pubs[0].Value.(grid.Grid)
	require.True(t, ok)
	assert.Equal(t, grid.Values{18.5, 17.0}, g.Data)
}
