package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpHandler "github.com/anthanhphan/go-file-ingest/internal/ingest/adapter/inbound/http"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/adapter/outbound/objectstore"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/adapter/outbound/recordstore"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/adapter/outbound/staging"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/config"
	"github.com/anthanhphan/go-file-ingest/internal/ingest/service"
	"github.com/anthanhphan/go-file-ingest/pkg/idgen"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

const startupPingTimeout = 5 * time.Second

type App struct {
	cfg         *config.Config
	server      *httpHandler.Server
	service     *service.IngestService
	recordStore recordstore.Store
	redisClient *redis.Client
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	return build(cfg)
}

// build wires adapters, service and HTTP server from a loaded config.
func build(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	// 3. Staging directory
	stagingStore := staging.New(cfg.Staging.Dir)
	if err := stagingStore.EnsureDir(); err != nil {
		return nil, err
	}

	deps := service.Dependencies{Staging: stagingStore}

	// 4. Durable backends
	if cfg.ObjectStore.Enabled() {
		objects, err := a.openObjectStore()
		if err != nil {
			return nil, err
		}
		deps.ObjectStore = objects
	} else {
		logger.Infow("Object store disabled")
	}

	if cfg.RecordStore.Enabled() {
		records, err := a.openRecordStore()
		if err != nil {
			return nil, err
		}
		a.recordStore = records
		deps.RecordStore = records
	} else {
		logger.Infow("Record store disabled")
	}

	// Retained files live under a subdirectory the sweep skips. In local-only
	// mode leftovers at the top level may still be the only copy.
	if cfg.Staging.SweepOnStart && (deps.ObjectStore != nil || deps.RecordStore != nil) {
		maxAge := time.Duration(cfg.Staging.SweepMaxAgeSec) * time.Second
		if _, err := stagingStore.Sweep(maxAge); err != nil {
			logger.Warnw("Staging sweep failed", "error", err.Error())
		}
	}

	// 5. Initialize Redis and Snowflake IDGen
	var clockSource redis.Cmdable
	if cfg.Redis.Addr != "" {
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		clockSource = a.redisClient
	}

	idGen, err := idgen.New(cfg.IDGen.NodeID, idgen.NewClock(clockSource))
	if err != nil {
		a.closeBackends(context.Background())
		return nil, fmt.Errorf("failed to init snowflake: %w", err)
	}
	deps.IDGen = idGen

	// 6. Service & HTTP Server
	a.service = service.NewIngestService(cfg, deps)
	a.server = httpHandler.NewServer(cfg, a.service, stagingStore)

	if a.service.LocalOnly() {
		logger.Warnw("No durable backend configured, uploads stay in the staging directory", "dir", stagingStore.Dir())
	}

	return a, nil
}

func (a *App) openObjectStore() (*objectstore.MinioAdapter, error) {
	objects, err := objectstore.NewMinioAdapter(a.cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("failed to init object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupPingTimeout)
	defer cancel()

	if err := objects.Ping(ctx); err != nil {
		if a.cfg.Startup.FailFast {
			return nil, fmt.Errorf("object store unreachable: %w", err)
		}
		logger.Warnw("Object store unreachable at startup, uploads will fail until it recovers",
			"endpoint", a.cfg.ObjectStore.Endpoint,
			"bucket", a.cfg.ObjectStore.Bucket,
			"error", err.Error(),
		)
		return objects, nil
	}

	logger.Infow("Connected to object store", "endpoint", a.cfg.ObjectStore.Endpoint, "bucket", a.cfg.ObjectStore.Bucket)
	return objects, nil
}

func (a *App) openRecordStore() (recordstore.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupPingTimeout)
	defer cancel()

	records, err := recordstore.Open(ctx, a.cfg.RecordStore)
	if err == nil {
		return records, nil
	}
	if records == nil {
		return nil, fmt.Errorf("failed to init record store: %w", err)
	}

	if a.cfg.Startup.FailFast {
		_ = records.Close(context.Background())
		return nil, fmt.Errorf("record store unreachable: %w", err)
	}

	logger.Warnw("Record store unreachable at startup, uploads will fail until it recovers",
		"driver", a.cfg.RecordStore.Driver,
		"error", err.Error(),
	)
	return records, nil
}

func (a *App) Run() error {
	// Start HTTP
	logger.Infow("Ingest server starting", "port", a.cfg.Server.Port)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		runErr = fmt.Errorf("http server failed: %w", err)
		logger.Errorw("Ingest server exited unexpectedly", "error", err.Error())
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown stops the HTTP server, drains in-flight uploads and closes backends.
func (a *App) Shutdown() error {
	logger.Info("Shutting down ingest services")

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		logger.Errorw("HTTP shutdown error", "error", err.Error())
		errs = append(errs, err)
	}

	a.service.Close()
	errs = append(errs, a.closeBackends(ctx))
	return errors.Join(errs...)
}

func (a *App) closeBackends(ctx context.Context) error {
	var errs []error
	if a.recordStore != nil {
		if err := a.recordStore.Close(ctx); err != nil {
			logger.Errorw("Record store close error", "error", err.Error())
			errs = append(errs, err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logger.Errorw("Redis close error", "error", err.Error())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(a.cfg.Server.ShutdownTimeoutMS) * time.Millisecond
}
