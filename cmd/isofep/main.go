// isofep is the dual-channel ISO 8583 front-end processor client
// daemon: it connects to an acquirer/switch, signs on, and exposes a
// transaction API over the events it reports.
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

	"github.com/dantte-lp/isofep/internal/config"
	"github.com/dantte-lp/isofep/internal/fisc"
	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
	fepmetrics "github.com/dantte-lp/isofep/internal/metrics"
	appversion "github.com/dantte-lp/isofep/internal/version"
)

const shutdownTimeout = 10 * time.Second

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

	logger.Info("isofep starting",
		slog.String("version", appversion.Version),
		slog.String("mode", cfg.Client.Mode),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := fepmetrics.NewCollector(reg)

	fiscCfg, err := toFiscConfig(cfg)
	if err != nil {
		logger.Error("invalid client configuration", slog.String("error", err.Error()))
		return 1
	}

	client, err := fisc.NewClient(fiscCfg, fisc.WithLogger(logger), fisc.WithMetrics(collector))
	if err != nil {
		logger.Error("failed to construct client", slog.String("error", err.Error()))
		return 1
	}
	defer client.Close()

	if err := runDaemon(cfg, client, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("isofep exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("isofep stopped")
	return 0
}

// runDaemon connects and signs on, then runs the metrics HTTP server,
// event logger, watchdog, and SIGHUP reload goroutines under an
// errgroup with a signal-aware context, mirroring the daemon's
// BFD counterpart.
func runDaemon(
	cfg *config.Config,
	client *fisc.Client,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	connectCtx, connectCancel := context.WithTimeout(gCtx, cfg.Client.ConnectTimeout)
	err := client.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	signOnCtx, signOnCancel := context.WithTimeout(gCtx, cfg.Client.SignOnTimeout)
	err = client.SignOn(signOnCtx)
	signOnCancel()
	if err != nil {
		return fmt.Errorf("sign on: %w", err)
	}
	logger.Info("signed on")

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		logEvents(gCtx, client, logger)
		return nil
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(client, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// logEvents drains the client's event channel and logs each one,
// giving operators visibility into state transitions and reconnects
// without requiring a separate subscriber.
func logEvents(ctx context.Context, client *fisc.Client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			if ev.Err != nil {
				logger.Warn("fisc event", slog.String("kind", ev.Kind.String()), slog.String("error", ev.Err.Error()))
				continue
			}
			logger.Info("fisc event", slog.String("kind", ev.Kind.String()), slog.String("state", ev.NewState.String()))
		}
	}
}

func gracefulShutdown(client *fisc.Client, logger *slog.Logger, metricsSrv *http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	signOffCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Send(signOffCtx, signOffMessage()); err != nil {
		logger.Warn("failed to send sign-off", slog.String("error", err.Error()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

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

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		return nil
	}

	tick := interval / 2
	ticker := time.NewTicker(tick)
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

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
				continue
			}
			old := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)
			logger.Info("configuration reloaded",
				slog.String("old_log_level", old.String()),
				slog.String("new_log_level", newLevel.String()),
			)
		}
	}
}

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

// toFiscConfig translates the koanf-friendly string fields of
// config.ClientConfig/FramerConfig into the typed fisc.Config the
// client constructor expects.
func toFiscConfig(cfg *config.Config) (fisc.Config, error) {
	mode, err := parseClientMode(cfg.Client.Mode)
	if err != nil {
		return fisc.Config{}, err
	}
	strategy, err := parseFailureStrategy(cfg.Client.FailureStrategy)
	if err != nil {
		return fisc.Config{}, err
	}
	frCfg, err := parseFramerConfig(cfg.Framer)
	if err != nil {
		return fisc.Config{}, err
	}

	return fisc.Config{
		Mode:                 mode,
		FailureStrategy:      strategy,
		SendAddr:             cfg.Client.SendAddr,
		SendBackupAddr:       cfg.Client.SendBackupAddr,
		ReceiveAddr:          cfg.Client.ReceiveAddr,
		ReceiveBackupAddr:    cfg.Client.ReceiveBackupAddr,
		UnifiedAddr:          cfg.Client.UnifiedAddr,
		UnifiedBackupAddr:    cfg.Client.UnifiedBackupAddr,
		Framer:               frCfg,
		ConnectTimeout:       cfg.Client.ConnectTimeout,
		ReadTimeout:          cfg.Client.ReadTimeout,
		SignOnTimeout:        cfg.Client.SignOnTimeout,
		HeartbeatInterval:    cfg.Client.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Client.HeartbeatTimeout,
		ReconnectDelay:       cfg.Client.ReconnectDelay,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		StrictClient:         cfg.Client.StrictClient,
	}, nil
}

func parseClientMode(mode string) (fisc.Mode, error) {
	switch mode {
	case "unified":
		return fisc.ModeUnified, nil
	case "dual":
		return fisc.ModeDual, nil
	default:
		return 0, fmt.Errorf("client.mode %q: %w", mode, config.ErrInvalidClientMode)
	}
}

func parseFailureStrategy(s string) (fisc.FailureStrategy, error) {
	switch s {
	case "fail_when_any_down":
		return fisc.FailWhenAnyDown, nil
	case "fail_when_both_down":
		return fisc.FailWhenBothDown, nil
	default:
		return 0, fmt.Errorf("client.failure_strategy %q: %w", s, config.ErrUnsupportedFailureStrategy)
	}
}

func parseFramerConfig(cfg config.FramerConfig) (framer.Config, error) {
	var enc framer.Encoding
	switch cfg.Encoding {
	case "ascii":
		enc = framer.ASCII
	case "bcd":
		enc = framer.BCD
	case "binary":
		enc = framer.Binary
	default:
		return framer.Config{}, fmt.Errorf("framer.encoding %q: %w", cfg.Encoding, config.ErrInvalidFramerEncoding)
	}
	return framer.Config{
		Width:     cfg.LengthWidth,
		Encoding:  enc,
		Inclusive: cfg.LengthIncludesSelf,
		MaxLength: cfg.MaxFrameSize,
		MinLength: framer.DefaultMinLength,
	}, nil
}

// signOffMessage builds the 0800/002 network management sign-off
// message sent as a best-effort notice during shutdown. The STAN is
// fixed since the reply, if any, is not correlated.
func signOffMessage() *iso8583.Message {
	return iso8583.NewSignOff("999999")
}
