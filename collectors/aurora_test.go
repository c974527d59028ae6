package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaos.obsgrid.org/grid"
)

func TestAuroraCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coordinates": [[0, 90, 5], [180, 65, 42], [359, -90, 0]]}`))
	}))
	defer srv.Close()

	c := &Aurora{url: srv.URL, ttl: time.Hour}
	pubs, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "kaos:aurora:forecast", pubs[0].Key)

	g, ok := pubs[0].Value.(grid.Grid)
	require.True(t, ok)
	require.NoError(t, g.Validate())
	assert.Equal(t, 42.0, g.Data[(90-65)*360+180])
}
