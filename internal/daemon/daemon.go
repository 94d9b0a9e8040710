// Package daemon wires config, logging, metrics, the bus-address
// resolver, state, the bead-tracker client, the dispatch engine, and
// the Unix-socket connection server into one running process: New
// builds the graph, Run detects a stale prior install, binds the socket,
// writes the PID file, and serves until SIGINT/SIGTERM or an explicit
// Shutdown. Shutdown stops the listeners; it does not stop the timers of
// poll_task calls still blocked in the dispatch engine.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coven/busd/internal/beads"
	"github.com/coven/busd/internal/busaddr"
	"github.com/coven/busd/internal/config"
	"github.com/coven/busd/internal/connserver"
	"github.com/coven/busd/internal/dispatch"
	"github.com/coven/busd/internal/logging"
	"github.com/coven/busd/internal/metrics"
	"github.com/coven/busd/internal/state"
)

// drainTimeout bounds how long Stop waits for in-flight connections
// before force-closing them.
const drainTimeout = 100 * time.Millisecond

// Daemon owns one project's coordination daemon for its whole process
// lifetime: exactly one instance binds a given project's socket.
type Daemon struct {
	projectRoot string
	socketPath  string
	pidPath     string
	version     string

	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Metrics
	state   *state.State
	engine  *dispatch.Engine
	server  *connserver.Server

	shutdownCh chan struct{}
	metricsSrv *metricsServer
}

// New builds a Daemon rooted at projectRoot. It does not bind the
// socket or write the PID file yet — call Run for that.
func New(projectRoot, version string) (*Daemon, error) {
	busDir := filepath.Join(projectRoot, ".busd")
	if err := os.MkdirAll(busDir, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create state dir: %w", err)
	}

	cfg, err := config.Load(filepath.Join(busDir, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("daemon: invalid config: %w", err)
	}

	logger, err := logging.New(filepath.Join(busDir, "busd.log"))
	if err != nil {
		return nil, fmt.Errorf("daemon: create logger: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = busaddr.SocketPath(projectRoot)
	}

	st := state.New()
	btClient := beads.NewClient(projectRoot)
	btClient.SetTimeout(cfg.BTCallTimeout())
	m := metrics.New()
	engine := dispatch.New(st, btClient, logger.Slog(), cfg.PollTimeout())
	engine.SetMetrics(m)

	d := &Daemon{
		projectRoot: projectRoot,
		socketPath:  socketPath,
		pidPath:     busaddr.PIDPath(socketPath),
		version:     version,
		cfg:         cfg,
		log:         logger,
		metrics:     m,
		state:       st,
		engine:      engine,
		shutdownCh:  make(chan struct{}),
	}
	d.server = connserver.New(socketPath, d.route, logger)
	return d, nil
}

// Run binds the socket, serves until a shutdown signal arrives, and
// tears everything down before returning. The stale-socket check below
// only removes a socket file IsStale has determined is dead; a live
// one is left in place so a concurrent winner's bind is never deleted
// out from under it. The os.Stat branch is a fast-path rejection for
// the common case — it narrows the race window but does not close it,
// so d.server.Start() below is still allowed to fail with a genuine
// EADDRINUSE if a competing process wins the bind in between, and that
// error propagates with %w so callers can unwrap it.
func (d *Daemon) Run(ctx context.Context) error {
	if busaddr.IsStale(d.socketPath) {
		if err := busaddr.Cleanup(d.socketPath); err != nil {
			return fmt.Errorf("daemon: clean stale install: %w", err)
		}
	} else if _, err := os.Stat(d.socketPath); err == nil {
		return fmt.Errorf("daemon: another instance is already serving %s", d.socketPath)
	}

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("daemon: start connection server: %w", err)
	}

	if err := busaddr.WritePID(d.pidPath); err != nil {
		_ = d.server.Stop(context.Background(), drainTimeout)
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer busaddr.RemovePID(d.pidPath)

	if d.cfg.MetricsEnabled {
		d.metricsSrv = newMetricsServer(d.cfg.MetricsAddr, d.metrics, d.log)
		if err := d.metricsSrv.Start(); err != nil {
			d.log.Warn("daemon: metrics listener failed to start", "err", err)
			d.metricsSrv = nil
		}
	}

	d.log.Info("daemon started", "project", d.projectRoot, "socket", d.socketPath, "version", d.version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		d.log.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		d.log.Info("received signal, shutting down", "signal", sig.String())
	case <-d.shutdownCh:
		d.log.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.metricsSrv != nil {
		_ = d.metricsSrv.Stop(shutdownCtx)
	}
	if err := d.server.Stop(shutdownCtx, drainTimeout); err != nil {
		d.log.Error("daemon: connection server stop failed", "err", err)
		return err
	}

	d.log.Info("daemon stopped")
	return d.log.Close()
}

// Shutdown requests a graceful stop; safe to call from any goroutine,
// at most once.
func (d *Daemon) Shutdown() {
	close(d.shutdownCh)
}

// SocketPath returns the Unix socket this daemon binds (or will bind).
func (d *Daemon) SocketPath() string { return d.socketPath }
