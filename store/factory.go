package store

import (
	"context"
	"fmt"

	"kaos.obsgrid.org/config"
)

// New selects and constructs the store backend from configuration. The rest
// of the system only ever sees the Store capability.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Mode {
	case "remote":
		return NewRESTStore(ctx, cfg.URL, cfg.Token)
	case "direct":
		return NewRedisStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store mode: %q", cfg.Mode)
	}
}
