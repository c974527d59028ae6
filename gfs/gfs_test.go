package gfs

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaos.obsgrid.org/grib2"
	"kaos.obsgrid.org/grid"
	"kaos.obsgrid.org/store"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCycle(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		wantDate string
		wantHour int
	}{
		{
			name:     "mid-afternoon lands on the 06z run",
			now:      time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC),
			wantDate: "20250310",
			wantHour: 6,
		},
		{
			name:     "early morning rolls back to the previous day",
			now:      time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC),
			wantDate: "20250309",
			wantHour: 18,
		},
		{
			name:     "lag boundary floors to the run start",
			now:      time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC),
			wantDate: "20250310",
			wantHour: 6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			c.now = fixedNow(tt.now)
			date, hour := c.cycle()
			assert.Equal(t, tt.wantDate, date)
			assert.Equal(t, tt.wantHour, hour)
		})
	}
}

func TestFilterURL(t *testing.T) {
	c := New(nil)
	u := c.filterURL("20250310", 6, "anl", analysisVars)

	assert.Contains(t, u, "dir=%2Fgfs.20250310%2F06%2Fatmos")
	assert.Contains(t, u, "file=gfs.t06z.pgrb2.0p25.anl")
	assert.Contains(t, u, "var_TMP=on")
	assert.Contains(t, u, "var_TOZNE=on")
	assert.NotContains(t, u, "var_PRATE")

	u = c.filterURL("20250310", 6, "f001", forecastVars)
	assert.Contains(t, u, "file=gfs.t06z.pgrb2.0p25.f001")
	assert.Contains(t, u, "var_PRATE=on")
}

func makeField(id paramID, data []float64) grib2.Field {
	return grib2.Field{
		Category:  id.Category,
		Parameter: id.Parameter,
		Nx:        len(data),
		Ny:        1,
		La1:       90,
		Lo1:       0,
		Dx:        1,
		Dy:        1,
		Data:      data,
	}
}

func TestFindField(t *testing.T) {
	t.Run("matches by category and parameter", func(t *testing.T) {
		fields := []grib2.Field{
			makeField(paramHumidity, []float64{50}),
			makeField(paramTemperature, []float64{288}),
		}
		f, err := findField(fields, paramTemperature)
		require.NoError(t, err)
		assert.Equal(t, []float64{288}, f.Data)
	})

	t.Run("prefers the message that carries data", func(t *testing.T) {
		empty := makeField(paramTemperature, []float64{math.NaN()})
		full := makeField(paramTemperature, []float64{288})
		f, err := findField([]grib2.Field{empty, full}, paramTemperature)
		require.NoError(t, err)
		assert.Equal(t, []float64{288}, f.Data)
	})

	t.Run("missing parameter is an error", func(t *testing.T) {
		_, err := findField([]grib2.Field{makeField(paramHumidity, []float64{50})}, paramCAPE)
		assert.Error(t, err)
	})
}

func TestScalarGridTransform(t *testing.T) {
	fields := []grib2.Field{makeField(paramTemperature, []float64{273.15, 300.15})}

	g, err := scalarGrid(fields, paramTemperature, "Temperature", "°C",
		func(v float64) float64 { return v - 273.15 })
	require.NoError(t, err)

	assert.Equal(t, "°C", g.Unit)
	assert.InDelta(t, 0.0, g.Data[0], 1e-9)
	assert.InDelta(t, 27.0, g.Data[1], 1e-9)
	require.NoError(t, g.Validate())
}

func TestWindVector(t *testing.T) {
	t.Run("pairs U and V", func(t *testing.T) {
		fields := []grib2.Field{
			makeField(paramWindU, []float64{3, -2}),
			makeField(paramWindV, []float64{1, 4}),
		}
		v, err := windVector(fields)
		require.NoError(t, err)

		vector, ok := v.(grid.Vector)
		require.True(t, ok)
		assert.Equal(t, grid.Values{3, -2}, vector[0].Data)
		assert.Equal(t, grid.Values{1, 4}, vector[1].Data)
	})

	t.Run("missing component fails", func(t *testing.T) {
		fields := []grib2.Field{makeField(paramWindU, []float64{3})}
		_, err := windVector(fields)
		assert.Error(t, err)
	})

	t.Run("mismatched geometry fails", func(t *testing.T) {
		u := makeField(paramWindU, []float64{3, -2})
		v := makeField(paramWindV, []float64{1})
		_, err := windVector([]grib2.Field{u, v})
		assert.Error(t, err)
	})
}

func TestPrecipGrid(t *testing.T) {
	// 0.001 kg/m²/s is 3.6 mm/h.
	fields := []grib2.Field{makeField(paramPrecipRate, []float64{0.001})}
	v, err := precipGrid(fields)
	require.NoError(t, err)

	g, ok := v.(grid.Grid)
	require.True(t, ok)
	assert.InDelta(t, 3.6, g.Data[0], 1e-9)
	assert.Equal(t, "mm/h", g.Unit)
}

// snapshotStore serves canned values for fallback reads.
type snapshotStore struct {
	data map[string][]byte
}

func (s *snapshotStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	return nil
}

func (s *snapshotStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := s.data[key]
	return b, ok, nil
}

func (s *snapshotStore) SetMeta(ctx context.Context, name, status string, errorCount int) error {
	return nil
}

func (s *snapshotStore) GetMeta(ctx context.Context, name string) (store.Meta, error) {
	return store.Meta{Status: store.StatusUnknown}, nil
}

func (s *snapshotStore) Ping(ctx context.Context) bool { return true }

func (s *snapshotStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (s *snapshotStore) Close() error { return nil }

func TestStoredOzone(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot round trips", func(t *testing.T) {
		want := grid.Grid{
			Header: grid.Header{Nx: 2, Ny: 1, La1: 90, Lo1: 0, Dx: 1, Dy: 1},
			Data:   grid.Values{300, 280},
			Unit:   "DU",
			Name:   "Total Column Ozone",
		}
		raw, err := json.Marshal(want)
		require.NoError(t, err)

		c := New(&snapshotStore{data: map[string][]byte{"kaos:ozone:column": raw}})
		got, err := c.storedOzone(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Data, got.Data)
		assert.Equal(t, want.Header, got.Header)
	})

	t.Run("missing snapshot fails", func(t *testing.T) {
		c := New(&snapshotStore{data: map[string][]byte{}})
		_, err := c.storedOzone(ctx)
		assert.Error(t, err)
	})

	t.Run("undecodable snapshot fails", func(t *testing.T) {
		c := New(&snapshotStore{data: map[string][]byte{"kaos:ozone:column": []byte("junk")}})
		_, err := c.storedOzone(ctx)
		assert.Error(t, err)
	})

	t.Run("nil store fails", func(t *testing.T) {
		_, err := New(nil).storedOzone(ctx)
		assert.Error(t, err)
	})
}
