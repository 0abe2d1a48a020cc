// mlagd -- Multi-Chassis Link Aggregation control-plane daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/mlagd/internal/config"
	"github.com/dantte-lp/mlagd/internal/hal"
	"github.com/dantte-lp/mlagd/internal/mlag"
	mlagmetrics "github.com/dantte-lp/mlagd/internal/metrics"
	appversion "github.com/dantte-lp/mlagd/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics HTTP server
// to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// metricsSyncInterval is how often the Prometheus collector's counters
// are resynced against the live Counters snapshot.
const metricsSyncInterval = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("mlagd starting",
		slog.String("version", appversion.Version),
		slog.Int("local_peer", cfg.Mlag.LocalPeer),
		slog.String("general_control_addr", cfg.Mlag.GeneralControlAddr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	h, err := newHal(context.Background(), cfg.Hal, logger)
	if err != nil {
		logger.Error("failed to initialize hal backend", slog.String("error", err.Error()))
		return 1
	}

	reg := prometheus.NewRegistry()
	collector := mlagmetrics.NewCollector(reg)

	counters := &mlag.Counters{}
	orch := mlag.NewOrchestrator(orchestratorConfig(cfg), h, counters, logger)

	if err := runDaemon(cfg, orch, counters, reg, collector, logger); err != nil {
		logger.Error("mlagd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("mlagd stopped")
	return 0
}

// orchestratorConfig translates loaded config into mlag.OrchestratorConfig.
func orchestratorConfig(cfg *config.Config) mlag.OrchestratorConfig {
	return mlag.OrchestratorConfig{
		LocalPeer:          cfg.Mlag.LocalPeer,
		Peers:              cfg.Mlag.Peers,
		GeneralControlAddr: cfg.Mlag.GeneralControlAddr,
		MacSyncAddr:        cfg.Mlag.MacSyncAddr,
		TunnelAddr:         cfg.Mlag.TunnelAddr,
		ReconnectInterval:  cfg.Mlag.ReconnectInterval,
		Coordinator: mlag.CoordinatorConfig{
			PortVidPoolSize: cfg.Mlag.FlushPortVidPoolSize,
			GlobalPoolSize:  cfg.Mlag.FlushGlobalPoolSize,
			AckTimeout:      cfg.Mlag.FlushAckTimeout,
		},
		FdbMaxSize:       cfg.Mlag.FdbMaxSize,
		RouterMacMaxSize: cfg.Mlag.RouterMacMaxSize,
	}
}

// newHal builds the configured Hal backend.
func newHal(ctx context.Context, cfg config.HalConfig, logger *slog.Logger) (hal.Hal, error) {
	switch cfg.Backend {
	case "ovs":
		return hal.NewOVS(ctx, hal.OVSConfig{
			Endpoint: cfg.OVSEndpoint,
			Bridge:   cfg.OVSBridge,
			IPLPort:  cfg.OVSIplPort,
		}, logger)
	default:
		return hal.NewStub(logger), nil
	}
}

// runDaemon wires the Orchestrator, metrics HTTP server and port
// allocation under an errgroup with signal-aware shutdown.
func runDaemon(
	cfg *config.Config,
	orch *mlag.Orchestrator,
	counters *mlag.Counters,
	reg *prometheus.Registry,
	collector *mlagmetrics.Collector,
	logger *slog.Logger,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	if err := allocatePorts(gCtx, orch, cfg.Ports); err != nil {
		return fmt.Errorf("allocate configured ports: %w", err)
	}

	if err := orch.Start(gCtx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	controlLn, err := listenControlSocket(cfg.ControlSocket)
	if err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	g.Go(func() error {
		logger.Info("control socket listening", slog.String("path", cfg.ControlSocket))
		return serveControlSocket(controlLn, orch, logger)
	})
	g.Go(func() error {
		<-gCtx.Done()
		return controlLn.Close()
	})

	g.Go(func() error {
		runMetricsSync(gCtx, orch, counters, collector)
		return nil
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, orch, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// allocatePorts pre-populates PortDb with every port declared in config,
// marking this node's own peer bit configured on each (§3).
func allocatePorts(ctx context.Context, orch *mlag.Orchestrator, ports []config.PortConfig) error {
	for _, pc := range ports {
		mode := mlag.ModeStatic
		if pc.Mode == "lacp" {
			mode = mlag.ModeLacp
		}
		if orch.ConfigurePort(ctx, pc.ID, mode) == nil {
			return fmt.Errorf("allocate port %d", pc.ID)
		}
	}
	return nil
}

// runMetricsSync periodically copies Counters and per-port FSM state into
// the Prometheus collector until ctx is cancelled.
func runMetricsSync(ctx context.Context, orch *mlag.Orchestrator, counters *mlag.Counters, collector *mlagmetrics.Collector) {
	ticker := time.NewTicker(metricsSyncInterval)
	defer ticker.Stop()

	var prev mlagmetrics.CounterSnapshot
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.SetRole(uint8(orch.Role()))
			snap := snapshotCounters(counters)
			// PortDb keeps its own Counters for Allocate/Delete.
			snap.PortsAdded = orch.Ports().Counters.PortsAdded.Load()
			snap.PortsDeleted = orch.Ports().Counters.PortsDeleted.Load()
			collector.SyncCounters(snap, &prev)
			orch.Ports().ForEach(func(p *mlag.Port) {
				collector.SetPortStates(p.ID, uint8(p.LocalState()), uint8(p.RemoteState()), uint8(p.MasterState()))
			})
		}
	}
}

func snapshotCounters(c *mlag.Counters) mlagmetrics.CounterSnapshot {
	return mlagmetrics.CounterSnapshot{
		PortsAdded:             c.PortsAdded.Load(),
		PortsDeleted:           c.PortsDeleted.Load(),
		GlobalStateEmitted:     c.GlobalStateEmitted.Load(),
		LocalLearnMigrate:      c.LocalLearnMigrate.Load(),
		LocalLearnAccepted:     c.LocalLearnAccepted.Load(),
		LocalLearnDenied:       c.LocalLearnDenied.Load(),
		GlobalLearnSent:        c.GlobalLearnSent.Load(),
		GlobalAgeSent:          c.GlobalAgeSent.Load(),
		FdbCapacityDenied:      c.FdbCapacityDenied.Load(),
		FdbProgramRetryExhaust: c.FdbProgramRetryExhaust.Load(),
		FlushStarted:           c.FlushStarted.Load(),
		FlushCompleted:         c.FlushCompleted.Load(),
		FlushTimedOut:          c.FlushTimedOut.Load(),
		FlushPoolExhausted:     c.FlushPoolExhausted.Load(),
		RouterMacSynced:        c.RouterMacSynced.Load(),
		WireDecodeErrors:       c.WireDecodeErrors.Load(),
		WireEncodeErrors:       c.WireEncodeErrors.Load(),
		OpcodesDispatched:      c.OpcodesDispatched.Load(),
		PeerCommDown:           c.PeerCommDown.Load(),
	}
}

// -------------------------------------------------------------------------
// Systemd Integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval. Returns immediately if no watchdog is configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval), slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, orch *mlag.Orchestrator, logger *slog.Logger, metricsSrv *http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	stopCtx := context.WithoutCancel(ctx)
	if err := orch.Stop(stopCtx); err != nil {
		logger.Warn("orchestrator stop returned error", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(stopCtx, shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
