package stream

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kaos.obsgrid.org/common"
	"kaos.obsgrid.org/store"
)

const (
	lightningKey = "kaos:lightning:global"
	lightningTTL = 2 * time.Minute

	lightningPersistInterval = 10 * time.Second
	lightningEvictInterval   = time.Minute
	lightningEvictHorizon    = 30 * time.Minute
	lightningMaxStrikes      = 5000

	defaultLightningURL = "wss://ws1.blitzortung.org/"
)

// Strike is one lightning detection.
type Strike struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Time int64   `json:"time"` // ms since epoch
}

// strikeFrame is the upstream message shape. The detection network sends
// timestamps in nanoseconds; older products use milliseconds, so both are
// tolerated.
type strikeFrame struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Time int64   `json:"time"`
}

// subscribeFrame is sent once after connecting to start the strike feed.
var subscribeFrame = []byte(`{"a":111}`)

// Lightning is the lightning-network WebSocket collector.
type Lightning struct {
	url   string
	store store.Store

	mu      sync.Mutex
	strikes []Strike

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLightning builds the lightning collector.
func NewLightning(st store.Store) *Lightning {
	return &Lightning{url: defaultLightningURL, store: st}
}

func (l *Lightning) Name() string { return "lightning" }

// Start launches the connection loop and the flush/evict timers. The
// flush timer runs independently of the connection so persistence
// continues while disconnected.
func (l *Lightning) Start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go l.connectionLoop(ctx)
	go l.timerLoop(ctx)
	return nil
}

// Stop cancels all loops, closes the socket and waits for the in-flight
// write to drain.
func (l *Lightning) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
}

func (l *Lightning) connectionLoop(ctx context.Context) {
	defer close(l.done)
	log := common.Logger.WithField("collector", l.Name())

	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.stream(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("connection lost")
			l.reportStatus(ctx, store.StatusDegraded)
		}

		select {
		case <-time.After(reconnectDelaySeconds * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// stream runs one WebSocket session.
func (l *Lightning) stream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read loop on cancellation. The watcher exits with this
	// session, not at Stop.
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	if err := conn.WriteMessage(websocket.TextMessage, subscribeFrame); err != nil {
		return err
	}

	common.Logger.WithField("collector", l.Name()).Info("connected to lightning network")
	l.reportStatus(ctx, store.StatusOK)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		l.handleFrame(payload)
	}
}

func (l *Lightning) handleFrame(payload []byte) {
	var frame strikeFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return
	}
	if frame.Time == 0 && frame.Lat == 0 && frame.Lon == 0 {
		return
	}

	when := frame.Time
	// Nanosecond timestamps are far beyond any millisecond epoch value.
	if when > 1e14 {
		when /= 1e6
	}

	l.mu.Lock()
	l.strikes = append(l.strikes, Strike{Lat: frame.Lat, Lon: frame.Lon, Time: when})
	l.mu.Unlock()
}

func (l *Lightning) timerLoop(ctx context.Context) {
	persist := time.NewTicker(lightningPersistInterval)
	evict := time.NewTicker(lightningEvictInterval)
	defer persist.Stop()
	defer evict.Stop()

	for {
		select {
		case <-persist.C:
			l.persist(ctx)
		case <-evict.C:
			l.evict(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// persist writes the capped working set ordered by time descending.
func (l *Lightning) persist(ctx context.Context) {
	l.mu.Lock()
	strikes := make([]Strike, len(l.strikes))
	copy(strikes, l.strikes)
	l.mu.Unlock()

	sort.Slice(strikes, func(i, j int) bool { return strikes[i].Time > strikes[j].Time })
	if len(strikes) > lightningMaxStrikes {
		strikes = strikes[:lightningMaxStrikes]
	}

	if err := l.store.Put(ctx, lightningKey, strikes, lightningTTL); err != nil {
		if ctx.Err() == nil {
			common.Logger.WithField("collector", l.Name()).WithError(err).Error("persist failed")
		}
		return
	}
	l.reportStatus(ctx, store.StatusOK)
}

// evict drops strikes older than the horizon.
func (l *Lightning) evict(now time.Time) {
	cutoff := now.Add(-lightningEvictHorizon).UnixMilli()

	l.mu.Lock()
	kept := l.strikes[:0]
	for _, s := range l.strikes {
		if s.Time >= cutoff {
			kept = append(kept, s)
		}
	}
	l.strikes = kept
	l.mu.Unlock()
}

func (l *Lightning) reportStatus(ctx context.Context, status string) {
	if err := l.store.SetMeta(ctx, l.Name(), status, 0); err != nil && ctx.Err() == nil {
		common.Logger.WithField("collector", l.Name()).WithError(err).Warn("metadata write failed")
	}
}
