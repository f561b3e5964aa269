// isofep-sim is a dual-port (or unified) ISO 8583 acquirer/switch
// simulator: it accepts client connections, answers network
// management requests, approves financial requests, and responds
// "12" to anything it has no handler for. It exists to exercise
// internal/server and internal/fisc against each other without a
// real core banking system.
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
	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
	fepmetrics "github.com/dantte-lp/isofep/internal/metrics"
	"github.com/dantte-lp/isofep/internal/server"
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

	logger.Info("isofep-sim starting",
		slog.String("version", appversion.Version),
		slog.String("mode", cfg.Server.Mode),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := fepmetrics.NewCollector(reg)

	srvCfg, err := toServerConfig(cfg)
	if err != nil {
		logger.Error("invalid server configuration", slog.String("error", err.Error()))
		return 1
	}

	srv, err := server.New(srvCfg, server.WithLogger(logger), server.WithMetrics(collector))
	if err != nil {
		logger.Error("failed to construct server", slog.String("error", err.Error()))
		return 1
	}
	registerHandlers(srv)

	if err := runDaemon(cfg, srv, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("isofep-sim exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("isofep-sim stopped")
	return 0
}

// registerHandlers installs the simulator's MTI table: network
// management requests are acknowledged, financial requests are
// approved unconditionally. Anything else falls through to the
// server's built-in "12" default.
func registerHandlers(srv *server.Server) {
	srv.RegisterHandler("0800", func(req *iso8583.Message) (*iso8583.Message, error) {
		resp, err := iso8583.CreateResponse(req)
		if err != nil {
			return nil, err
		}
		resp.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
		if code, ok := req.Get(iso8583.FieldNetworkMgmtCode); ok {
			resp.Set(iso8583.FieldNetworkMgmtCode, code)
		}
		return resp, nil
	})

	srv.RegisterHandler("0200", func(req *iso8583.Message) (*iso8583.Message, error) {
		resp, err := iso8583.CreateResponse(req)
		if err != nil {
			return nil, err
		}
		resp.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
		return resp, nil
	})

	srv.RegisterHandler("0400", func(req *iso8583.Message) (*iso8583.Message, error) {
		resp, err := iso8583.CreateResponse(req)
		if err != nil {
			return nil, err
		}
		resp.Set(iso8583.FieldResponseCode, iso8583.ResponseCodeApproved)
		return resp, nil
	})
}

func runDaemon(
	cfg *config.Config,
	srv *server.Server,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		if err := srv.Run(gCtx); err != nil {
			return fmt.Errorf("run server: %w", err)
		}
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
		return gracefulShutdown(logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

func gracefulShutdown(logger *slog.Logger, metricsSrv *http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
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

func toServerConfig(cfg *config.Config) (server.Config, error) {
	mode, err := parseServerMode(cfg.Server.Mode)
	if err != nil {
		return server.Config{}, err
	}
	frCfg, err := parseFramerConfig(cfg.Framer)
	if err != nil {
		return server.Config{}, err
	}
	policy, err := parseDropPolicy(cfg.Server.ResponseQueuePolicy)
	if err != nil {
		return server.Config{}, err
	}

	return server.Config{
		Mode:                  mode,
		ReceiveAddr:           cfg.Server.ReceiveAddr,
		SendAddr:              cfg.Server.SendAddr,
		UnifiedAddr:           cfg.Server.UnifiedAddr,
		Framer:                frCfg,
		ValidationErrorCode:   cfg.Server.ValidationErrorCode,
		ResponseDelay:         cfg.Server.ResponseDelay,
		ResponseQueueCapacity: cfg.Server.ResponseQueueCapacity,
		ResponseQueuePolicy:   policy,
	}, nil
}

func parseServerMode(mode string) (server.Mode, error) {
	switch mode {
	case "unified":
		return server.ModeUnified, nil
	case "dual":
		return server.ModeDual, nil
	default:
		return 0, fmt.Errorf("server.mode %q: %w", mode, config.ErrInvalidServerMode)
	}
}

func parseDropPolicy(policy string) (server.DropPolicy, error) {
	switch policy {
	case "drop_oldest":
		return server.DropOldest, nil
	case "drop_newest":
		return server.DropNewest, nil
	case "block":
		return server.Block, nil
	default:
		return 0, fmt.Errorf("server.response_queue_policy %q: %w", policy, config.ErrInvalidResponseQueuePolicy)
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
