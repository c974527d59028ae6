package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"kaos.obsgrid.org/common"
	"kaos.obsgrid.org/store"
)

const (
	aprsKey = "kaos:aprs:stations"
	aprsTTL = 5 * time.Minute

	// Server-side range filter: 10000 km around 30°N 0°E.
	aprsFilter = "r/30/0/10000"

	aprsPersistInterval = 30 * time.Second
	aprsEvictInterval   = 5 * time.Minute
	aprsEvictHorizon    = time.Hour
	aprsIdleTimeout     = 5 * time.Minute
	aprsMaxStations     = 5000
)

// aprsServers is the rotating connection pool.
var aprsServers = []string{
	"rotate.aprs2.net:14580",
	"euro.aprs2.net:14580",
	"noam.aprs2.net:14580",
}

// Station is one APRS station as published in the snapshot.
type Station struct {
	Callsign    string  `json:"callsign"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Time        int64   `json:"time"`
	SymbolTable string  `json:"symbolTable,omitempty"`
	Symbol      string  `json:"symbol,omitempty"`
	Comment     string  `json:"comment,omitempty"`
	Course      float64 `json:"course,omitempty"`
	Speed       float64 `json:"speed,omitempty"`   // km/h
	Altitude    float64 `json:"altitude,omitempty"` // m
	LastHeard   int64   `json:"lastHeard"`
}

// APRS is the APRS-IS streaming collector.
type APRS struct {
	callsign string
	servers  []string
	store    store.Store

	mu       sync.Mutex
	stations map[string]Station

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAPRS builds the APRS-IS client.
func NewAPRS(callsign string, st store.Store) *APRS {
	return &APRS{
		callsign: callsign,
		servers:  aprsServers,
		store:    st,
		stations: make(map[string]Station),
	}
}

func (a *APRS) Name() string { return "aprs" }

// Start launches the connection loop and the persist/evict timers.
func (a *APRS) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go a.connectionLoop(ctx)
	go a.timerLoop(ctx)
	return nil
}

// Stop cancels all loops and waits for the connection to close.
func (a *APRS) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		<-a.done
	}
}

// connectionLoop connects, streams, and reconnects on a fixed delay until
// cancelled. Servers are tried round-robin.
func (a *APRS) connectionLoop(ctx context.Context) {
	defer close(a.done)
	log := common.Logger.WithField("collector", a.Name())

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		server := a.servers[attempt%len(a.servers)]
		if err := a.stream(ctx, server); err != nil && ctx.Err() == nil {
			log.WithField("server", server).WithError(err).Warn("connection lost")
			a.reportStatus(ctx, store.StatusDegraded)
		}

		select {
		case <-time.After(reconnectDelaySeconds * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

// stream runs one connection: login, then line-framed packets until error
// or idle timeout.
func (a *APRS) stream(ctx context.Context, server string) error {
	log := common.Logger.WithField("collector", a.Name()).WithField("server", server)

	dialer := net.Dialer{Timeout: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", server)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Close the socket when the context dies so the blocked read returns.
	// The watcher exits with this connection, not at Stop.
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	login := fmt.Sprintf("user %s pass -1 vers kaos-collector 1.0 filter %s\r\n",
		a.callsign, aprsFilter)
	if _, err := conn.Write([]byte(login)); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	log.Info("connected to APRS-IS")
	a.reportStatus(ctx, store.StatusOK)

	reader := bufio.NewReader(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(aprsIdleTimeout)); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("idle for %s", aprsIdleTimeout)
			}
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a.handlePacket(line)
	}
}

// handlePacket decodes one line and upserts the station. Unsupported and
// malformed packets are dropped silently.
func (a *APRS) handlePacket(line string) {
	pkt, err := ParsePacket(line)
	if err != nil {
		return
	}

	now := time.Now().UnixMilli()
	st := Station{
		Callsign:    pkt.Source,
		Lat:         pkt.Lat,
		Lon:         pkt.Lon,
		Time:        now,
		SymbolTable: string(pkt.SymbolTable),
		Symbol:      string(pkt.Symbol),
		Comment:     pkt.Comment,
		Course:      pkt.Course,
		Speed:       pkt.Speed,
		Altitude:    pkt.Altitude,
		LastHeard:   now,
	}

	a.mu.Lock()
	a.stations[pkt.Source] = st
	a.mu.Unlock()
}

// timerLoop drives persistence and eviction.
func (a *APRS) timerLoop(ctx context.Context) {
	persist := time.NewTicker(aprsPersistInterval)
	evict := time.NewTicker(aprsEvictInterval)
	defer persist.Stop()
	defer evict.Stop()

	for {
		select {
		case <-persist.C:
			a.persist(ctx)
		case <-evict.C:
			a.evict()
		case <-ctx.Done():
			return
		}
	}
}

// persist writes a point-in-time view: snapshot, sort by recency, truncate,
// publish.
func (a *APRS) persist(ctx context.Context) {
	a.mu.Lock()
	stations := make([]Station, 0, len(a.stations))
	for _, st := range a.stations {
		stations = append(stations, st)
	}
	a.mu.Unlock()

	sort.Slice(stations, func(i, j int) bool { return stations[i].LastHeard > stations[j].LastHeard })
	if len(stations) > aprsMaxStations {
		stations = stations[:aprsMaxStations]
	}

	if err := a.store.Put(ctx, aprsKey, stations, aprsTTL); err != nil {
		if ctx.Err() == nil {
			common.Logger.WithField("collector", a.Name()).WithError(err).Error("persist failed")
		}
		return
	}
	a.reportStatus(ctx, store.StatusOK)
}

// evict drops stations silent for longer than the horizon.
func (a *APRS) evict() {
	cutoff := time.Now().Add(-aprsEvictHorizon).UnixMilli()
	a.mu.Lock()
	for callsign, st := range a.stations {
		if st.LastHeard < cutoff {
			delete(a.stations, callsign)
		}
	}
	a.mu.Unlock()
}

func (a *APRS) reportStatus(ctx context.Context, status string) {
	if err := a.store.SetMeta(ctx, a.Name(), status, 0); err != nil && ctx.Err() == nil {
		common.Logger.WithField("collector", a.Name()).WithError(err).Warn("metadata write failed")
	}
}
