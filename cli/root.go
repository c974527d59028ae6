// Package cli implements the collector supervisor command.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kaos.obsgrid.org/collector"
	"kaos.obsgrid.org/collectors"
	"kaos.obsgrid.org/common"
	"kaos.obsgrid.org/config"
	"kaos.obsgrid.org/gfs"
	"kaos.obsgrid.org/health"
	"kaos.obsgrid.org/scheduler"
	"kaos.obsgrid.org/store"
	"kaos.obsgrid.org/stream"
)

// drainTimeout is the hard deadline for the shutdown sequence.
const drainTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "kaos-collector",
	Short: "KAOS environmental data collector fleet",
	Long: `kaos-collector supervises a fleet of feed collectors that pull
geospatial and environmental data (seismic events, disaster alerts,
weather model output, lightning, APRS traffic and more) and publish
TTL-bounded JSON snapshots to a shared key-value store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

// Execute is the process entry point used by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		common.Logger.WithError(err).Error("supervisor failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	common.SetLevel(cfg.LogLevel)

	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return err
	}

	sched := scheduler.New()
	registerFleet(sched, st, cfg)

	srv := health.NewServer(st, sched)
	srv.Start(cfg.HealthPort)

	runCtx, cancel := context.WithCancel(ctx)
	sched.Start(runCtx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	common.Logger.WithField("signal", received.String()).Info("shutting down")

	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-drainCtx.Done():
		common.Logger.Warn("drain deadline exceeded, exiting with jobs in flight")
	}

	if err := srv.Shutdown(drainCtx); err != nil {
		common.Logger.WithError(err).Warn("health endpoint shutdown failed")
	}
	if err := st.Close(); err != nil {
		common.Logger.WithError(err).Warn("store close failed")
	}
	common.Logger.Info("shutdown complete")
	return nil
}

// registerFleet wires every collector into the scheduler. A collector is
// skipped when disabled via DISABLE_<NAME> or when a credential it needs
// is absent.
func registerFleet(sched *scheduler.Scheduler, st store.Store, cfg *config.Config) {
	type entry struct {
		source collector.Source
		spec   collector.Spec
	}

	periodic := []entry{
		{collectors.NewSeismic(), collector.Spec{Interval: 5 * time.Minute, RetryAttempts: 2}},
		{collectors.NewFogos(), collector.Spec{Interval: 5 * time.Minute, RetryAttempts: 2}},
		{collectors.NewGDACS(), collector.Spec{Interval: 10 * time.Minute, RetryAttempts: 2}},
		{collectors.NewIPMA(), collector.Spec{Interval: 15 * time.Minute, RetryAttempts: 2}},
		{collectors.NewKiwiSDR(), collector.Spec{Interval: 30 * time.Minute, RetryAttempts: 1}},
		{collectors.NewSpaceWeather(), collector.Spec{Interval: 10 * time.Minute, RetryAttempts: 2}},
		{collectors.NewIonosphere(), collector.Spec{Interval: 15 * time.Minute, RetryAttempts: 2}},
		{collectors.NewAurora(), collector.Spec{Interval: 15 * time.Minute, RetryAttempts: 2}},
		{collectors.NewCurrents(), collector.Spec{Interval: 6 * time.Hour, RetryAttempts: 2}},
		{collectors.NewSST(), collector.Spec{Interval: 6 * time.Hour, RetryAttempts: 2}},
		{collectors.NewOzone(), collector.Spec{Interval: 12 * time.Hour, RetryAttempts: 2}},
		{gfs.New(st), collector.Spec{Interval: time.Hour, RetryAttempts: 1}},
	}

	if cfg.Providers.OpenSkyClientID != "" && cfg.Providers.OpenSkyClientSecret != "" {
		periodic = append(periodic, entry{
			collectors.NewOpenSky(cfg.Providers.OpenSkyClientID, cfg.Providers.OpenSkyClientSecret),
			collector.Spec{Interval: 2 * time.Minute, RetryAttempts: 1},
		})
	} else {
		common.Logger.Info("aircraft collector skipped: OpenSky credentials not set")
	}
	if cfg.Providers.NASAFirmsKey != "" {
		periodic = append(periodic, entry{
			collectors.NewFIRMS(cfg.Providers.NASAFirmsKey),
			collector.Spec{Interval: 30 * time.Minute, RetryAttempts: 2},
		})
	} else {
		common.Logger.Info("firms collector skipped: NASA_FIRMS_API_KEY not set")
	}
	if cfg.Providers.WAQIKey != "" {
		periodic = append(periodic, entry{
			collectors.NewWAQI(cfg.Providers.WAQIKey),
			collector.Spec{Interval: 30 * time.Minute, RetryAttempts: 2},
		})
	} else {
		common.Logger.Info("waqi collector skipped: WAQI_API_KEY not set")
	}

	registered := 0
	for _, e := range periodic {
		if config.Disabled(e.source.Name()) {
			common.Logger.WithField("collector", e.source.Name()).Info("disabled via environment")
			continue
		}
		sched.Register(collector.NewRunner(e.source, e.spec, st))
		registered++
	}

	for _, s := range []stream.Streamer{
		stream.NewLightning(st),
		stream.NewAPRS(cfg.Providers.APRSCallsign, st),
	} {
		if config.Disabled(s.Name()) {
			common.Logger.WithField("collector", s.Name()).Info("disabled via environment")
			continue
		}
		sched.RegisterStreaming(s)
		registered++
	}

	common.Logger.WithField("collectors", registered).Info("fleet registered")
}
