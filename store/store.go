// Package store provides the snapshot store shared by all collectors.
//
// Two backends implement the same capability: a direct TCP connection to a
// Redis-compatible server for local development, and a remote HTTP-fronted
// store for managed deployments. Selection happens once at startup via
// configuration; callers never branch on which backend is active.
//
// Snapshots are written atomically with their TTL in a single SET ... EX
// command, so a concurrent reader observes either the previous value or the
// new one, never a partial write. Collector metadata (status, last-run,
// error-count) is written without TTL and is best-effort: metadata failures
// are logged but never propagated into a collector's run result.
package store

import (
	"context"
	"time"
)

// Key prefixes forming the external contract with the reader API.
const (
	KeyPrefix  = "kaos:"
	MetaPrefix = "kaos:meta:"
)

// Collector status values recorded in metadata.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusError    = "error"
	StatusUnknown  = "unknown"
)

// Meta is the per-collector metadata triple. A zero LastRun means the
// collector has never completed a run.
type Meta struct {
	Status     string `json:"status"`
	LastRun    int64  `json:"last_run"` // ms since epoch
	ErrorCount int    `json:"error_count"`
}

// Store is the uniform snapshot store capability.
type Store interface {
	// Put serializes value as JSON and writes it under key with the given
	// TTL in one atomic operation.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get returns the raw stored bytes, or found=false after expiry.
	Get(ctx context.Context, key string) (data []byte, found bool, err error)

	// SetMeta records status, error count and the current time as last-run
	// for the named collector. Errors are returned for logging but callers
	// must treat them as non-fatal.
	SetMeta(ctx context.Context, name, status string, errorCount int) error

	// GetMeta reads the metadata triple for the named collector. A missing
	// triple yields status "unknown" with zero values.
	GetMeta(ctx context.Context, name string) (Meta, error)

	// Ping reports store reachability for the health endpoint.
	Ping(ctx context.Context) bool

	// Keys lists keys under a prefix. Introspection only; collectors never
	// call this.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}

func metaKey(name, field string) string {
	return MetaPrefix + name + ":" + field
}
