// Package app wires all poise subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the recording manager,
// health checks and HTTP routes, Run serves them, and Shutdown drains and
// tears everything down in order.
//
// For testing, inject detector doubles through [Providers] and a listener or
// metrics instance via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/poise/internal/config"
	"github.com/MrWong99/poise/internal/health"
	"github.com/MrWong99/poise/internal/ingest"
	"github.com/MrWong99/poise/internal/observe"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes of the poise server.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	logLevel       *slog.LevelVar
	listener       net.Listener
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	recordings *RecordingManager
	health     *health.Handler
	handler    http.Handler

	mu     sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics injects the metric instruments instead of the global ones.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level variable of the default logger so config
// reloads can change verbosity without a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithMetricsHandler replaces the Prometheus scrape handler mounted at
// /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via [BuildProviders]). At least one detector
// must be set.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || (providers.Face == nil && providers.Pose == nil) {
		return nil, errors.New("app: at least one of the face or pose detectors is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Observability ─────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 2. Recording manager ─────────────────────────────────────────────
	if err := cfg.Analysis.WithDefaults().Validate(); err != nil {
		return nil, fmt.Errorf("app: analysis config: %w", err)
	}
	a.recordings = NewRecordingManager(RecordingManagerConfig{
		Analysis:      cfg.Analysis,
		MaxConcurrent: cfg.Recordings.MaxConcurrent,
		Face:          providers.Face,
		Pose:          providers.Pose,
		Metrics:       a.metrics,
	})

	// ── 3. Health checks ─────────────────────────────────────────────────
	var checkers []health.Checker
	if providers.Face != nil {
		checkers = append(checkers, health.DetectorChecker("face", providers.Face))
	}
	if providers.Pose != nil {
		checkers = append(checkers, health.DetectorChecker("pose", providers.Pose))
	}
	a.health = health.New(checkers...)

	// ── 4. HTTP routes ───────────────────────────────────────────────────
	mux := http.NewServeMux()
	ingest.New(a.recordings, ingest.WithMaxFrameBytes(cfg.Server.MaxFrameBytes)).Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.metricsHandler)
	a.handler = observe.Middleware(a.metrics)(mux)

	// ── 5. Closers ───────────────────────────────────────────────────────
	for _, d := range []any{providers.Face, providers.Pose} {
		if c, ok := d.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	observe.Logger(ctx).Info("app: initialised",
		"face", providers.Face != nil,
		"pose", providers.Pose != nil,
		"max_concurrent", cfg.Recordings.MaxConcurrent,
	)
	return a, nil
}

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Recordings returns the recording manager.
func (a *App) Recordings() *RecordingManager {
	return a.recordings
}

// Health returns the health handler.
func (a *App) Health() *health.Handler {
	return a.health
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails. Call
// [App.Shutdown] afterwards to drain open recordings.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	tls := a.cfg.Server.TLS
	errCh := make(chan error, 1)
	go func() {
		if tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	slog.Info("app: listening", "addr", ln.Addr().String(), "tls", tls != nil)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a new config. Open
// recordings keep the analysis thresholds they were started with.
func (a *App) ApplyConfig(newCfg *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", diff.NewLogLevel)
	}
	if diff.AnalysisChanged {
		if err := a.recordings.SetAnalysis(newCfg.Analysis); err != nil {
			slog.Warn("app: analysis config rejected", "err", err)
		} else {
			slog.Info("app: analysis config updated", "open_recordings", a.recordings.Len())
		}
	}
	if diff.MaxConcurrentChanged {
		a.recordings.SetMaxConcurrent(diff.NewMaxConcurrent)
		slog.Info("app: recording limit changed", "max_concurrent", diff.NewMaxConcurrent)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown marks the server as draining, stops accepting requests, stops every
// open recording and runs the closers. It respects the context deadline.
// Safe to call multiple times; only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "recordings", a.recordings.Len(), "closers", len(a.closers))
		a.health.SetDraining(true)

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}

		if err := a.recordings.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return errors.Join(errs...)
}
