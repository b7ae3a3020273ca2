// Package app wires all Orato subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and watches the config file, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithFeedbackClient,
// WithSegmentStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/orato/internal/config"
	"github.com/MrWong99/orato/internal/dispatch"
	"github.com/MrWong99/orato/internal/events"
	"github.com/MrWong99/orato/internal/feedback"
	"github.com/MrWong99/orato/internal/health"
	"github.com/MrWong99/orato/internal/observe"
	"github.com/MrWong99/orato/internal/server"
	"github.com/MrWong99/orato/internal/session"
	"github.com/MrWong99/orato/pkg/memory"
	"github.com/MrWong99/orato/pkg/memory/jsonl"
	"github.com/MrWong99/orato/pkg/memory/postgres"
	"github.com/MrWong99/orato/pkg/provider/llm"
	"github.com/MrWong99/orato/pkg/provider/stt"
)

const (
	// streamSampleRate is what browsers are asked to downsample to before
	// streaming raw audio.
	streamSampleRate = 16000

	httpShutdownTimeout = 5 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	providers  *Providers
	configPath string

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	client         feedback.Client
	store          memory.SegmentStore
	publisher      *events.Publisher
	sessions       *session.Manager
	watcher        *config.Watcher
	httpServer     *http.Server
	listener       net.Listener
	checkers       []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFeedbackClient injects a feedback client instead of building one from
// the feedback section.
func WithFeedbackClient(c feedback.Client) Option {
	return func(a *App) { a.client = c }
}

// WithSegmentStore injects a segment store instead of opening one from the
// storage section.
func WithSegmentStore(s memory.SegmentStore) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher injects an event publisher.
func WithPublisher(p *events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics sets the metric instruments. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch enables hot reload of the config file at path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithListener makes Run serve on ln instead of listening on
// cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates a new App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initFeedback(); err != nil {
		return nil, fmt.Errorf("app: init feedback: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	a.initEvents()
	a.initSessions()
	if err := a.initWatcher(); err != nil {
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}
	a.initHTTP()

	return a, nil
}

// ─── Initialisation helpers ──────────────────────────────────────────────────

func (a *App) initFeedback() error {
	if a.client != nil {
		return nil
	}
	fb := a.cfg.Feedback
	breaker := feedback.NewTunedBreaker("feedback", fb.Breaker.MaxFailures, fb.Breaker.ResetTimeout)

	var client feedback.Client
	switch fb.Backend {
	case config.BackendLLM:
		if a.providers.LLM == nil {
			return errors.New("feedback backend llm needs an LLM provider")
		}
		c, err := feedback.NewLLMClient(a.providers.LLM,
			feedback.WithProviderName(a.cfg.Providers.LLM.Name),
			feedback.WithTemperature(fb.Temperature),
			feedback.WithMaxTokens(fb.MaxTokens),
			feedback.WithTimeout(fb.Timeout),
			feedback.WithLLMBreaker(breaker),
			feedback.WithLLMMetrics(a.metrics),
		)
		if err != nil {
			return err
		}
		client = c
	default:
		opts := []feedback.HTTPOption{
			feedback.WithHTTPClient(&http.Client{Timeout: fb.Timeout}),
			feedback.WithBreaker(breaker),
			feedback.WithMetrics(a.metrics),
		}
		if fb.APIKey != "" {
			opts = append(opts, feedback.WithAPIKey(fb.APIKey))
		}
		c, err := feedback.NewHTTPClient(fb.Endpoint, opts...)
		if err != nil {
			return err
		}
		client = c
	}

	if cc := fb.Cache; cc.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cc.RedisAddr,
			Password: cc.RedisPassword,
			DB:       cc.RedisDB,
		})
		client = feedback.NewCachedClient(client, rdb, cc.TTL)
		a.closers = append(a.closers, rdb.Close)
		a.checkers = append(a.checkers, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		slog.Info("feedback cache enabled", "redis_addr", cc.RedisAddr, "ttl", cc.TTL)
	}

	a.client = client
	slog.Info("feedback client ready", "backend", fb.Backend)
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	st := a.cfg.Storage
	switch {
	case st.PostgresDSN != "":
		pg, err := postgres.NewStore(ctx, st.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		a.checkers = append(a.checkers, health.Checker{Name: "postgres", Check: pg.Ping})
		slog.Info("segment store ready", "kind", "postgres")
	case st.JSONLPath != "":
		a.store = jsonl.NewFileStore(st.JSONLPath)
		slog.Info("segment store ready", "kind", "jsonl", "path", st.JSONLPath)
	}
	return nil
}

func (a *App) initEvents() {
	if a.publisher == nil {
		k := a.cfg.Events.Kafka
		a.publisher = events.New(events.Config{
			Enabled: k.Enabled,
			Brokers: k.Brokers,
			Topic:   k.Topic,
		}, events.WithMetrics(a.metrics))
	}
	a.closers = append(a.closers, a.publisher.Close)
	if a.publisher.Enabled() {
		a.checkers = append(a.checkers, health.Checker{Name: "kafka", Check: a.publisher.Ping})
	}
}

func (a *App) initSessions() {
	a.sessions = session.NewManager(session.Config{
		Dispatch:  DispatchConfig(a.cfg.Coach),
		Client:    a.client,
		Store:     a.store,
		Publisher: a.publisher,
		STT:       a.providers.STT,
		STTConfig: stt.StreamConfig{
			SampleRate:  streamSampleRate,
			Channels:    1,
			KeepFillers: true,
		},
		PermissionTimeout: a.cfg.Coach.PermissionTimeout,
		MaxSessions:       a.cfg.Server.MaxSessions,
		Metrics:           a.metrics,
	})
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	server.New(a.sessions, server.WithOriginPatterns(a.cfg.Server.AllowedOrigins...)).Register(mux)
	health.New(a.checkers...).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// DispatchConfig converts the coach section into controller settings. The
// config has already been validated, so parse errors cannot occur.
func DispatchConfig(c config.CoachConfig) dispatch.Config {
	mode, _ := feedback.ParseMode(c.DefaultMode)
	style, _ := feedback.ParseStyle(c.DefaultStyle)
	return dispatch.Config{
		Mode:            mode,
		Style:           style,
		Language:        c.DefaultLanguage,
		SilenceTimeout:  c.SilenceTimeout,
		DisplayDuration: c.DisplayDuration,
		MinSegmentChars: c.MinSegmentChars,
		MinWords:        c.MinWords,
		HistorySize:     c.HistorySize,
	}
}

// applyConfig is the watcher callback.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CoachChanged {
		a.sessions.SetDispatch(DispatchConfig(d.NewCoach))
		slog.Info("coach settings reloaded; open sessions keep their settings")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Runtime ─────────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.httpServer.Handler }

// Run serves HTTP and watches the config file until ctx is cancelled or the
// server fails. It returns ctx.Err() after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(sctx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown closes every session and then the subsystems in order. It is safe
// to call more than once; only the first call does anything.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		a.sessions.CloseAll(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
