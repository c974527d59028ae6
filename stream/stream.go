// Package stream implements the long-lived streaming collectors: the
// lightning WebSocket client and the APRS-IS TCP client.
//
// Both follow the working-set pattern: a receive loop owns an in-memory
// set of records, a flush timer persists a point-in-time view of it to the
// store, and an eviction timer drops records past the feed's age horizon.
// Persistence keeps flushing whatever is in memory while the upstream
// connection is down; reconnects happen on a fixed delay.
package stream

import "context"

// Streamer is the capability the scheduler uses to manage streaming
// collectors. Start must return promptly, leaving the connection and timer
// loops running in the background until Stop or context cancellation.
type Streamer interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// reconnectDelaySeconds is shared by both streaming clients.
const reconnectDelaySeconds = 10
