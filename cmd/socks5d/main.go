// Command socks5d is a concurrent SOCKS5 proxy daemon with an out-of-band
// binary admin/monitoring protocol.
package main

import (
	"context"
	"errors"
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
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haldirsson/socks5d/internal/config"
	socks5metrics "github.com/haldirsson/socks5d/internal/metrics"
	"github.com/haldirsson/socks5d/internal/reactor"
	"github.com/haldirsson/socks5d/internal/runtimestate"
	appversion "github.com/haldirsson/socks5d/internal/version"
)

// selectTimeoutMillis is the reactor's per-tick select(2) timeout.
const selectTimeoutMillis = 10_000

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.DefaultConfig()
	var (
		userFlags    []string
		rootTokenHex string
		metricsAddr  string
		showVersion  bool
	)

	rootCmd := &cobra.Command{
		Use:           "socks5d",
		Short:         "Concurrent SOCKS5 proxy daemon with an admin monitoring protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Println(appversion.Full("socks5d"))
				return nil
			}
			return runDaemon(cfg, userFlags, rootTokenHex, metricsAddr)
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&showVersion, "version", "v", false, "print version information and exit")
	flags.StringVarP(&cfg.ProxyAddr, "listen", "l", cfg.ProxyAddr, "SOCKS5 bind address")
	flags.StringVarP(&cfg.MonitorAddr, "monitor-listen", "L", cfg.MonitorAddr, "admin monitor bind address")
	flags.Uint16VarP(&cfg.ProxyPort, "port", "p", cfg.ProxyPort, "SOCKS5 bind port")
	flags.Uint16VarP(&cfg.MonitorPort, "monitor-port", "P", cfg.MonitorPort, "admin monitor bind port")
	flags.BoolVarP(&cfg.DisableDisectors, "no-disectors", "N", false, "disable the POP3 credential disector at startup")
	flags.StringArrayVarP(&userFlags, "user", "u", nil, "USER:PASS proxy credential (repeatable, up to 10)")
	flags.StringVar(&rootTokenHex, "root-token", os.Getenv("SOCKS5D_ROOT_TOKEN"), "hex-encoded 16-byte admin bootstrap token (env SOCKS5D_ROOT_TOKEN)")
	flags.StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json, text")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return 1
	}
	return 0
}

// exitCodeError carries a process exit code (1: argument or bind error,
// 2: reactor I/O error) through cobra's error path.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func runDaemon(cfg *config.Config, userFlags []string, rootTokenHex, metricsAddr string) error {
	for _, raw := range userFlags {
		u, err := config.ParseUserFlag(raw)
		if err != nil {
			return &exitCodeError{1, err}
		}
		cfg.Users = append(cfg.Users, u)
	}
	if rootTokenHex == "" {
		return &exitCodeError{1, config.ErrMissingRootToken}
	}
	token, err := config.ParseRootToken(rootTokenHex)
	if err != nil {
		return &exitCodeError{1, err}
	}
	cfg.RootToken = token

	if err := config.Validate(cfg); err != nil {
		return &exitCodeError{1, err}
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.LogLevel))
	logger := newLogger(cfg.LogFormat, logLevel)

	logger.Info("socks5d starting",
		slog.String("version", appversion.Version),
		slog.String("proxy_addr", fmt.Sprintf("%s:%d", cfg.ProxyAddr, cfg.ProxyPort)),
		slog.String("monitor_addr", fmt.Sprintf("%s:%d", cfg.MonitorAddr, cfg.MonitorPort)),
	)

	reg := prometheus.NewRegistry()
	collector := socks5metrics.NewCollector(reg)

	rt := runtimestate.New(cfg.RootToken)
	rt.SetDisectorEnabled(!cfg.DisableDisectors)
	for _, u := range cfg.Users {
		if err := rt.AddUser(u.Username, u.Password); err != nil {
			return &exitCodeError{1, fmt.Errorf("load -u %s: %w", u.Username, err)}
		}
	}

	if err := runServers(rt, collector, reg, logger, cfg, metricsAddr); err != nil {
		var code int
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			code = exitErr.code
		} else {
			code = 2
		}
		return &exitCodeError{code, fmt.Errorf("socks5d exited with error: %w", err)}
	}

	logger.Info("socks5d stopped")
	return nil
}

// runServers wires the proxy reactor, the monitor listener, the metrics
// HTTP server, and the systemd watchdog together behind an errgroup driven
// by a signal-aware context.
func runServers(rt *runtimestate.Runtime, collector *socks5metrics.Collector, reg *prometheus.Registry, logger *slog.Logger, cfg *config.Config, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	proxyReactor, err := reactor.New(logger.With(slog.String("component", "proxy-reactor")))
	if err != nil {
		return &exitCodeError{2, fmt.Errorf("create proxy reactor: %w", err)}
	}
	defer proxyReactor.Close()

	if err := newProxyListener(proxyReactor, rt, collector, logger, cfg.ProxyAddr, cfg.ProxyPort); err != nil {
		return &exitCodeError{1, fmt.Errorf("bind proxy listener: %w", err)}
	}

	g.Go(func() error {
		if err := proxyReactor.Run(gCtx, selectTimeoutMillis); err != nil {
			return &exitCodeError{2, fmt.Errorf("proxy reactor: %w", err)}
		}
		return nil
	})

	g.Go(func() error {
		return runMonitorListener(gCtx, rt, collector, logger, cfg.MonitorAddr, cfg.MonitorPort)
	})

	metricsSrv := newMetricsServer(metricsAddr, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", metricsAddr))
		return listenAndServe(gCtx, metricsSrv, metricsAddr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return &exitCodeError{1, fmt.Errorf("listen on %s: %w", addr, err)}
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
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

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval, as recommended by the systemd documentation. If the
// watchdog is not configured it exits immediately.
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

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send systemd watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}

const shutdownTimeout = 5 * time.Second

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}
