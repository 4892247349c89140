// Package app builds the process-wide collaborators from config. Everything
// is created once and shared by every request.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certify/internal/config"
	"certify/internal/handler"
	"certify/internal/httpmiddleware"
	"certify/internal/issuance"
	"certify/internal/metrics"
	"certify/internal/queue"
	"certify/internal/render"
	"certify/internal/roster"
	"certify/internal/stats"
	"certify/internal/store"
	"certify/internal/templates"
	"certify/internal/tracing"
)

// App holds the wired components.
type App struct {
	Cfg       config.App
	Logger    *slog.Logger
	DB        *store.DB
	Store     issuance.Backend
	Redis     *store.Redis
	Queue     queue.Queue
	Templates *templates.Store
	Renderer  *render.Renderer
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Tracing   *tracing.Provider
	Stats     stats.Recorder
	Service   *issuance.Service

	closers []func() error
}

// New wires every component described by cfg. An unreachable database is
// logged and left for /healthz and the workflow to report.
func New(ctx context.Context, cfg config.App, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Cfg: cfg, Logger: logger}

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.Tracing = tp
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if needsRedis(cfg) {
		a.Redis = store.NewRedis(cfg.RedisAddr)
		a.closers = append(a.closers, a.Redis.Close)
	}

	if err := a.openQueue(); err != nil {
		_ = a.Close()
		return nil, err
	}

	if a.Redis != nil {
		a.Stats = stats.NewRedisRecorder(a.Redis.Client, "")
	} else {
		a.Stats = stats.NewMemoryRecorder()
	}

	a.Templates = templates.NewStore(cfg.TemplateDir, map[issuance.Track]string{
		issuance.TrackFrontend: cfg.TemplateFrontend,
		issuance.TrackBackend:  cfg.TemplateBackend,
	}, logger)
	a.Renderer = render.New(render.DefaultLayout(), render.WithFooter(cfg.CertFooter))

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	opts := []issuance.Option{issuance.WithLogger(logger), issuance.WithMetrics(a.Metrics)}
	if a.Queue != nil {
		opts = append(opts, issuance.WithNotifier(issuance.NewQueueNotifier(a.Queue)))
	}
	a.Service = issuance.NewService(a.Store, a.Templates, a.Renderer, opts...)
	return a, nil
}

// needsRedis reports whether the process shares state through Redis. Remote
// queues always do, because the worker keeps the counters there.
func needsRedis(cfg config.App) bool {
	if cfg.RedisAddr == "" {
		return false
	}
	switch {
	case cfg.QueueBackend == "redis", cfg.QueueBackend == "nats":
		return true
	case cfg.RateLimitBackend == "redis":
		return true
	}
	return false
}

func (a *App) openStore(ctx context.Context) error {
	if a.Cfg.StoreBackend == "memory" {
		mem := issuance.NewMemoryStore()
		if _, err := mem.InsertAttendees(ctx, roster.Sample()); err != nil {
			return err
		}
		a.Store = mem
		log.Println("using in-memory store seeded with the sample roster")
		return nil
	}

	driver, dsn, err := a.Cfg.SQLDSN()
	if err != nil {
		return err
	}
	if a.Cfg.MigrateOnStart {
		if version, err := store.Migrate(driver, dsn); err != nil {
			log.Printf("warning: migrations not applied: %v", err)
		} else {
			log.Printf("schema at version %d", version)
		}
	}
	db, err := store.Open(driver, dsn)
	if db == nil {
		return fmt.Errorf("open %s: %w", driver, err)
	}
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Store = issuance.NewRepository(db.Client, db.Driver)
	return nil
}

func (a *App) openQueue() error {
	switch a.Cfg.QueueBackend {
	case "redis":
		if a.Redis == nil {
			return errors.New("QUEUE_BACKEND=redis needs REDIS_ADDR")
		}
		a.Queue = queue.NewRedisQueue(a.Redis.Client, a.Cfg.QueueKey)
	case "nats":
		conn, err := queue.DialNATS(a.Cfg.NATSURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { return conn.Drain() })
		a.Queue = queue.NewNATSQueue(conn, "")
	case "memory":
		a.Queue = queue.NewInMemory(256)
	case "none", "":
	default:
		return fmt.Errorf("unsupported queue backend %q", a.Cfg.QueueBackend)
	}
	return nil
}

// ConsumeStats feeds issuance events from the queue into the stats recorder
// until ctx ends.
func (a *App) ConsumeStats(ctx context.Context) (int, error) {
	if a.Queue == nil {
		return 0, errors.New("no queue configured")
	}
	return stats.Consume(ctx, a.Queue, a.Stats, a.Logger)
}

// Limiter returns the configured request limiter.
func (a *App) Limiter() httpmiddleware.Limiter {
	if a.Cfg.RateLimitBackend == "redis" && a.Redis != nil {
		return httpmiddleware.NewRedisFixedWindow(a.Redis.Client, a.Cfg.RateLimitPerMin)
	}
	return httpmiddleware.NewSimpleTokenBucket(a.Cfg.RateLimitPerMin, a.Cfg.RateLimitPerMin)
}

// Router builds the HTTP handler.
func (a *App) Router() *gin.Engine {
	d := handler.Deps{
		Issuer:        a.Service,
		Issuances:     a.Store,
		Stats:         a.Stats,
		Store:         a.Store,
		Templates:     a.Templates,
		Metrics:       promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		Limiter:       a.Limiter(),
		JWTSigningKey: a.Cfg.JWTSigningKey,
		JWTIssuer:     a.Cfg.JWTIssuer,
	}
	if a.Redis != nil {
		d.Redis = a.Redis
	}
	return handler.NewRouter(d)
}

// Close releases everything in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
