// Command antiparkd keeps a rotating disk's heads from parking too
// aggressively while still allowing genuine idle spindown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	antipark "github.com/behrlich/antiparkd"
	"github.com/behrlich/antiparkd/disk"
	"github.com/behrlich/antiparkd/internal/logging"
	"github.com/behrlich/antiparkd/probe"
)

func main() {
	cmd, _ := newRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// options mirrors the original CLI surface: durations are taken in
// whole seconds.
type options struct {
	device             string
	touchFile          string
	interval           int
	antiParkTimeout    int
	antiParkTimeoutMax int
	parkedTimeout      int
	syncBeforeIdle     bool
	verbose            bool
	logFormat          string
	metricsListen      string
}

func defaultOptions() *options {
	def := antipark.DefaultConfig()
	return &options{
		device:             def.Device,
		touchFile:          def.TouchPath,
		interval:           int(def.TickInterval / time.Second),
		antiParkTimeout:    int(def.AntiParkTimeout / time.Second),
		antiParkTimeoutMax: int(def.AntiParkTimeoutMax / time.Second),
		parkedTimeout:      int(def.ParkedTimeout / time.Second),
		logFormat:          "text",
	}
}

// config maps the parsed flags onto an engine configuration.
func (o *options) config() *antipark.Config {
	return &antipark.Config{
		Device:             o.device,
		TouchPath:          o.touchFile,
		TickInterval:       time.Duration(o.interval) * time.Second,
		AntiParkTimeout:    time.Duration(o.antiParkTimeout) * time.Second,
		AntiParkTimeoutMax: time.Duration(o.antiParkTimeoutMax) * time.Second,
		ParkedTimeout:      time.Duration(o.parkedTimeout) * time.Second,
		SyncBeforeIdle:     o.syncBeforeIdle,
	}
}

func newRootCommand() (*cobra.Command, *options) {
	opts := defaultOptions()
	cmd := &cobra.Command{
		Use:   "antiparkd",
		Short: "Anti head-parking daemon for rotating disks",
		Long: `antiparkd monitors a block device's activity counters and touches a
file on it at a fixed cadence so aggressive drive firmware never sees
enough idle time to park the heads. Once reads go quiet it stops
touching and lets the heads park, then lets the disk spin down, while
adaptively backing off when parking keeps getting interrupted.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.device, "disk", "d", opts.device,
		"block device to monitor, as named under /sys/block")
	f.StringVarP(&opts.touchFile, "touch-file", "t", opts.touchFile,
		"writable file on the monitored disk used for touch writes")
	f.IntVarP(&opts.interval, "interval", "i", opts.interval,
		"seconds between generated disk touches")
	f.IntVarP(&opts.antiParkTimeout, "antipark-timeout", "a", opts.antiParkTimeout,
		"seconds of read quiet before parking is allowed")
	f.IntVarP(&opts.antiParkTimeoutMax, "antipark-timeout-max", "A", opts.antiParkTimeoutMax,
		"ceiling for the adaptive anti-park timeout")
	f.IntVarP(&opts.parkedTimeout, "parked-timeout", "p", opts.parkedTimeout,
		"seconds in PARKED before the disk is considered idle")
	f.BoolVarP(&opts.syncBeforeIdle, "sync-before-idle", "z", false,
		"sync disks before entering IDLE")
	f.BoolVarP(&opts.verbose, "verbose", "v", false,
		"enable debug logging")
	f.StringVar(&opts.logFormat, "log-format", opts.logFormat,
		"log output format: text or json")
	f.StringVar(&opts.metricsListen, "metrics-listen", "",
		"address to serve Prometheus metrics on (e.g. :9477); disabled when empty")

	return cmd, opts
}

func run(ctx context.Context, opts *options) error {
	cfg := opts.config()

	logCfg := logging.DefaultConfig()
	logCfg.Format = opts.logFormat
	if opts.verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logCfg).WithDevice(cfg.Device)
	logging.SetDefault(logger)

	registry := prometheus.NewRegistry()
	metrics := antipark.NewMetrics(registry)

	engine, err := antipark.New(cfg, probe.New(cfg.Device), disk.New(cfg.TouchPath), &antipark.Options{
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.metricsListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", "addr", opts.metricsListen, "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", opts.metricsListen)
	}

	if err := engine.Run(ctx); err != nil {
		logger.Error("control loop failed", "error", err)
		return err
	}
	logger.Info("antiparkd stopped")
	return nil
}
