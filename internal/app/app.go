// Package app wires configuration, storage, the derivation registry and the
// HTTP API into the deltaschema server lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httpapi "github.com/arkilian/deltaschema/internal/api/http"
	"github.com/arkilian/deltaschema/internal/arrowconv"
	"github.com/arkilian/deltaschema/internal/catalog"
	"github.com/arkilian/deltaschema/internal/config"
	"github.com/arkilian/deltaschema/internal/observability"
	"github.com/arkilian/deltaschema/internal/server"
	"github.com/arkilian/deltaschema/internal/service"
	"github.com/arkilian/deltaschema/internal/storage"
	"github.com/arkilian/deltaschema/pkg/logschema"
)

// statsPruneInterval is how often stale derivation stats are dropped.
const statsPruneInterval = 5 * time.Minute

// App manages the deltaschema server lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	storage  storage.ObjectStorage
	registry *catalog.SQLiteRegistry
	deriver  *service.Deriver
	metrics  *observability.Metrics
	promReg  *prometheus.Registry
	shutdown *server.ShutdownManager

	httpServer *server.GracefulHTTPServer
	listener   net.Listener

	grpcServer   *server.GracefulGRPCServer
	grpcListener net.Listener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	serveCh chan error
}

// New creates a new App with the given configuration. A nil logger
// discards output.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Start initializes shared resources and starts serving the API.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start http server: %w", err)
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start grpc server: %w", err)
		}
	}

	a.wg.Add(1)
	go a.pruneStats(ctx)

	a.logger.Info("deltaschema started",
		zap.String("addr", a.Addr()),
		zap.String("grpc_addr", a.GRPCAddr()),
		zap.String("storage", a.cfg.StorageLocation()),
		zap.Bool("registry", a.registry != nil))
	return nil
}

// initSharedResources initializes storage, the registry, metrics and the
// deriver.
func (a *App) initSharedResources(ctx context.Context) error {
	loc, err := storage.ParseLocation(a.cfg.StorageLocation())
	if err != nil {
		return err
	}
	s3Cfg := storage.DefaultS3Config()
	if a.cfg.Storage.S3.Region != "" {
		s3Cfg.Region = a.cfg.Storage.S3.Region
	}
	s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
	s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle

	store, prefix, err := storage.Open(ctx, loc, s3Cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.storage = storage.WithPrefix(store, prefix)
	a.logger.Info("storage initialized",
		zap.String("type", a.cfg.Storage.Type), zap.String("location", a.cfg.StorageLocation()))

	if a.cfg.RegistryEnabled() {
		a.registry, err = catalog.Open(a.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open registry: %w", err)
		}
		a.logger.Info("registry opened", zap.String("path", a.cfg.Catalog.Path))
	}

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.promReg)

	a.deriver = service.NewDeriver(a.deriverOptions()...)

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		Logger:          a.logger,
	})
	if a.registry != nil {
		a.shutdown.RegisterCloser(a.registry)
	}
	return nil
}

func (a *App) deriverOptions() []service.Option {
	var factoryOpts []logschema.Option
	if a.cfg.Factory.MapFields {
		factoryOpts = append(factoryOpts, logschema.WithMapFields())
	}

	opts := []service.Option{
		service.WithFactory(logschema.NewFactory(factoryOpts...)),
		service.WithArrow(arrowconv.Options{SupportMaps: a.cfg.Arrow.SupportMaps}),
		service.WithStorage(a.storage, a.cfg.Reader.Concurrency, a.cfg.Reader.CacheDir),
		service.WithMetrics(a.metrics),
		service.WithLogger(a.logger),
	}
	if a.registry != nil {
		opts = append(opts, service.WithRegistry(a.registry))
	}
	return opts
}

// startHTTP binds the listener and serves the API in the background.
func (a *App) startHTTP() error {
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Deriver:  a.deriver,
		Metrics:  a.metrics,
		Gatherer: a.promReg,
		Logger:   a.logger,
	})

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	a.listener = ln

	a.httpServer = server.NewGracefulHTTPServer(&http.Server{
		Handler:      server.ShutdownMiddleware(a.shutdown)(router),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}, a.shutdown)

	a.serveCh = make(chan error, 1)
	go func() {
		a.serveCh <- a.httpServer.Serve(ln)
	}()
	return nil
}

// grpcServiceName is the health service name reported by the gRPC server.
const grpcServiceName = "deltaschema"

// startGRPC binds the gRPC listener and serves health and reflection in the
// background.
func (a *App) startGRPC() error {
	ln, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}
	a.grpcListener = ln
	a.grpcServer = server.NewGracefulGRPCServer(a.shutdown, grpcServiceName)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.grpcServer.Serve(ln); err != nil {
			a.logger.Error("grpc server error", zap.Error(err))
		}
	}()
	return nil
}

// pruneStats drops stale derivation statistics until ctx is done.
func (a *App) pruneStats(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(statsPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.deriver.Stats().Prune()
		}
	}
}

// Addr returns the address the API listens on, once started.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// GRPCAddr returns the address the gRPC server listens on, or "" when gRPC
// is disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Deriver returns the service deriver, once started.
func (a *App) Deriver() *service.Deriver {
	return a.deriver
}

// Wait blocks until a shutdown signal arrives, ctx is done, or the server
// fails, and then stops the app.
func (a *App) Wait(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.shutdown.ListenForSignals(ctx) }()

	select {
	case err := <-a.serveCh:
		if err != nil {
			a.logger.Error("http server failed", zap.Error(err))
			a.Stop(context.Background())
			return err
		}
		return a.Stop(context.Background())
	case err := <-errCh:
		if stopErr := a.Stop(context.Background()); err == nil {
			err = stopErr
		}
		return err
	}
}

// Stop shuts the server down gracefully and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	var err error
	if a.shutdown != nil {
		err = a.shutdown.Shutdown(ctx, "stop")
	}
	a.wg.Wait()
	a.logger.Info("deltaschema stopped")
	return err
}

// cleanup releases resources after a failed start.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.listener != nil {
		a.listener.Close()
	}
	if a.grpcListener != nil {
		a.grpcListener.Close()
	}
	if a.registry != nil {
		a.registry.Close()
	}
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}
