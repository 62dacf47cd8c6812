package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/db"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	httpapi "github.com/grahamearley/HappyTeacherCloudFunctions/internal/http"
	httpH "github.com/grahamearley/HappyTeacherCloudFunctions/internal/http/handlers"
	httpMW "github.com/grahamearley/HappyTeacherCloudFunctions/internal/http/middleware"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/observability"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/gcp"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/realtime/bus"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/temporalx"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/temporalx/temporalworker"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/temporalx/triggerrun"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/apply"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/recompute"
	triggerworker "github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers/worker"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Store    *docstore.GormStore
	Bucket   gcp.Bucket
	Bus      bus.Bus
	Registry *triggers.Registry
	Metrics  *observability.Metrics
	// Executor is what the worker pool hands events to: the inline executor,
	// or the Temporal dispatcher in temporal mode.
	Executor triggerworker.Executor
	Worker   *triggerworker.Worker
	Server   *httpapi.Server

	docDB        *db.Service
	temporal     temporalsdkclient.Client
	runner       *temporalworker.Runner
	shutdownOtel func(context.Context) error
}

// New loads configuration from the environment and wires the process.
func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := NewWithConfig(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

func NewWithConfig(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	a := &App{Log: log, Cfg: cfg}
	a.shutdownOtel = observability.InitOTel(ctx, log, cfg.Otel)
	if cfg.MetricsEnabled {
		a.Metrics = observability.NewMetrics()
	}

	log.Info("Wiring document store...", "driver", cfg.DocstoreDriver)
	docDB, err := db.Open(log, db.Config{Driver: cfg.DocstoreDriver, DSN: cfg.DocstoreDSN})
	if err != nil {
		return nil, err
	}
	a.docDB = docDB
	a.Store = docstore.NewGormStore(docDB.DB(), log)

	bucket, err := gcp.NewBucket(log, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init uploads bucket: %w", err)
	}
	a.Bucket = bucket
	objects := apply.BucketObjects(bucket)

	log.Info("Wiring trigger bus...", "bus", cfg.Bus)
	switch cfg.Bus {
	case BusRedis:
		rb, err := bus.NewRedisBus(log, cfg.busConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		a.Bus = rb
	default:
		a.Bus = bus.NewMemoryBus(log, cfg.MaxDeliveries)
	}
	a.Store.SetNotifier(bus.DocumentNotifier(a.Bus))

	a.Registry = triggers.NewRegistry()
	if err := a.Registry.RegisterAll(recompute.Handlers()...); err != nil {
		a.Close()
		return nil, fmt.Errorf("register trigger handlers: %w", err)
	}
	log.Info("Trigger handlers registered", "handlers", a.Registry.Names())

	inline := triggerworker.NewInlineExecutor(a.Registry, a.Store, objects, log,
		triggerworker.WithPolicy(cfg.Policy),
		triggerworker.WithHandlerTimeout(cfg.HandlerTimeout),
		triggerworker.WithMetrics(a.Metrics),
	)
	a.Executor = inline

	if cfg.Executor == ExecutorTemporal {
		tc, err := temporalx.NewClient(log, cfg.Temporal)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init temporal client: %w", err)
		}
		a.temporal = tc
		runner, err := temporalworker.NewRunner(log, tc, cfg.Temporal, inline, cfg.WorkerConcurrency)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.runner = runner
		a.Executor = triggerrun.NewDispatcher(tc, cfg.Temporal.TaskQueue, cfg.Temporal.MaxAttempts)
	}
	a.Worker = triggerworker.NewWorker(a.Bus, a.Executor, log, a.Metrics, cfg.WorkerConcurrency)

	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	a.Server = httpapi.NewServer(httpapi.RouterConfig{
		Log:           log,
		ServiceName:   serviceName,
		Metrics:       a.Metrics,
		WebhookAuth:   httpMW.NewWebhookAuth(log, cfg.WebhookAuth),
		HealthHandler: httpH.NewHealthHandler(map[string]httpH.Pinger{"docstore": a.pingDocstore}),
		EventHandler:  httpH.NewEventHandler(log, a.Bus, cfg.Storage.Bucket),
	})
	return a, nil
}

// Run serves HTTP and consumes trigger events until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.runner != nil {
		if err := a.runner.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	a.startCollectors(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		return a.Server.Run(gctx, a.Cfg.HTTPAddr)
	})
	g.Go(func() error {
		return a.Worker.Run(gctx)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startCollectors(ctx context.Context) {
	if a.Metrics == nil {
		return
	}
	if mb, ok := a.Bus.(*bus.MemoryBus); ok {
		a.Metrics.StartQueueDepthCollector(ctx, 15*time.Second, mb.Len)
	}
	if a.Cfg.Bus == BusRedis {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Cfg.Redis.Addr, 30*time.Second)
	}
}

func (a *App) pingDocstore(ctx context.Context) error {
	sqlDB, err := a.docDB.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			a.Log.Warn("close trigger bus", "error", err)
		}
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.docDB != nil {
		if err := a.docDB.Close(); err != nil {
			a.Log.Warn("close document database", "error", err)
		}
	}
	if a.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownOtel(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
