// Package app is the lifecycle every saga service shares: logger, telemetry,
// store, bus, consumers, HTTP server, optional gRPC health server and the
// shutdown order between them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Nobert1/event-driven-systems/platform/backend"
	"github.com/Nobert1/event-driven-systems/platform/bus"
	"github.com/Nobert1/event-driven-systems/platform/config"
	"github.com/Nobert1/event-driven-systems/platform/consumer"
	platformgrpchealth "github.com/Nobert1/event-driven-systems/platform/health/grpc"
	platformhealth "github.com/Nobert1/event-driven-systems/platform/health/http"
	"github.com/Nobert1/event-driven-systems/platform/kv"
	platformlogging "github.com/Nobert1/event-driven-systems/platform/logging"
	"github.com/Nobert1/event-driven-systems/platform/observability"
	platformshutdown "github.com/Nobert1/event-driven-systems/platform/shutdown"
)

// Options replace parts of the configured infrastructure, mostly in tests
// where several services share one in-process bus. Injected handles are
// owned by the caller and not closed on shutdown.
type Options struct {
	Logger *zap.Logger
	Store  kv.Store
	Bus    bus.Bus
}

// Base is embedded by each service App.
type Base struct {
	Logger    *zap.Logger
	Store     kv.Store
	Bus       bus.Bus
	Publisher bus.Publisher
	DLQ       *bus.DLQPublisher
	Metrics   *observability.Metrics

	name        string
	cfg         config.Common
	shutdownMgr *platformshutdown.Manager
	consumers   []*consumer.Runner
	workers     []worker
	httpServer  *http.Server
	httpLn      net.Listener
	grpcServer  *grpc.Server
	grpcHealth  *platformgrpchealth.Health

	consumeCtx    context.Context
	cancelConsume context.CancelFunc
	wg            sync.WaitGroup
}

// worker is a background loop that runs until its context is cancelled.
type worker struct {
	name string
	run  func(ctx context.Context) error
}

// NewBase opens everything except the listeners, which Start opens.
func NewBase(name string, cfg config.Common, opts Options) (*Base, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = platformlogging.New(platformlogging.Config{
			ServiceName: name,
			Env:         string(cfg.App.Env),
			Level:       cfg.App.LogLevel,
			Format:      cfg.App.LogFormat,
		})
		if err != nil {
			return nil, err
		}
	}
	logger.Info("building service", zap.String("http_addr", cfg.App.HTTPAddr))
	cfg.Log(logger)

	otelCfg := cfg.Observability
	otelCfg.ServiceName = name
	otelCfg.DeploymentEnvironment = string(cfg.App.Env)
	otelShutdown, err := observability.Init(context.Background(), otelCfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observability.NewMetrics(name)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	mgr := platformshutdown.New(cfg.App.ShutdownTimeout, logger)
	mgr.Add("otel", otelShutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := opts.Store
	if store == nil {
		if store, err = backend.OpenStore(ctx, cfg.Store, logger, mgr); err != nil {
			mgr.Shutdown()
			return nil, err
		}
	}
	b := opts.Bus
	if b == nil {
		if b, err = backend.OpenBus(ctx, cfg.Bus, logger, mgr); err != nil {
			mgr.Shutdown()
			return nil, err
		}
	}

	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	base := &Base{
		Logger:        logger,
		Store:         store,
		Bus:           b,
		Publisher:     backend.Publisher(b, cfg.Bus, name, logger),
		Metrics:       metrics,
		name:          name,
		cfg:           cfg,
		shutdownMgr:   mgr,
		consumeCtx:    consumeCtx,
		cancelConsume: cancelConsume,
	}
	// The DLQ bypasses the breaker so a tripped breaker does not hide poison messages.
	base.DLQ = bus.NewDLQPublisher(logger, b, cfg.Bus.DLQTopic)

	mgr.Add("consumers", func(ctx context.Context) error {
		base.cancelConsume()
		done := make(chan struct{})
		go func() {
			base.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return errors.New("consumers did not stop in time")
		}
	})

	if cfg.App.GRPCHealthAddr != "" {
		base.grpcServer = grpc.NewServer(
			grpc.UnaryInterceptor(observability.GRPCUnaryServerInterceptor(name)),
		)
		base.grpcHealth = platformgrpchealth.New(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		base.grpcHealth.Register(base.grpcServer)
		mgr.Add("grpc_server", platformshutdown.ShutdownGRPCServer(base.grpcServer))
	}

	return base, nil
}

// Consume registers a consumer for topic. Call before Start.
func (b *Base) Consume(topic string, h consumer.Handler) {
	b.consumers = append(b.consumers, consumer.New(
		b.Logger.With(zap.String("component", "consumer")),
		b.Bus, topic, h, b.DLQ, b.Metrics, b.cfg.Consumer,
	))
}

// Background registers a loop started with the consumers and stopped with
// them. run must return once ctx is cancelled. Call before Start.
func (b *Base) Background(name string, run func(ctx context.Context) error) {
	b.workers = append(b.workers, worker{name: name, run: run})
}

// HealthChecks are the readiness checks for GET /health.
func (b *Base) HealthChecks() map[string]platformhealth.Check {
	return map[string]platformhealth.Check{
		"store": b.Store.Ping,
		"bus":   b.Bus.Ping,
	}
}

// Serve sets the HTTP handler. Call before Start.
func (b *Base) Serve(handler http.Handler) {
	b.httpServer = &http.Server{
		Addr:         b.cfg.App.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	b.shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(b.httpServer))
	if b.grpcHealth != nil {
		b.shutdownMgr.Add("health_readiness", platformshutdown.SetHealthNotServing(b.grpcHealth))
	}
}

// Start opens the listeners and launches consumers and servers in the background.
func (b *Base) Start() error {
	if b.httpServer != nil {
		ln, err := net.Listen("tcp", b.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("listen http: %w", err)
		}
		b.httpLn = ln
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.Logger.Error("HTTP server error", zap.Error(err))
			}
		}()
		b.Logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
	}

	if b.grpcServer != nil {
		ln, err := net.Listen("tcp", b.cfg.App.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.grpcServer.Serve(ln); err != nil {
				b.Logger.Error("gRPC server error", zap.Error(err))
			}
		}()
		b.grpcHealth.SetServing("")
		b.Logger.Info("gRPC health server listening", zap.String("addr", ln.Addr().String()))
	}

	for _, c := range b.consumers {
		b.wg.Add(1)
		go func(c *consumer.Runner) {
			defer b.wg.Done()
			if err := c.Start(b.consumeCtx); err != nil {
				b.Logger.Error("consumer stopped with error", zap.Error(err))
			}
		}(c)
	}

	for _, w := range b.workers {
		b.wg.Add(1)
		go func(w worker) {
			defer b.wg.Done()
			if err := w.run(b.consumeCtx); err != nil {
				b.Logger.Error("background worker stopped with error", zap.String("worker", w.name), zap.Error(err))
			}
		}(w)
	}

	b.Logger.Info("service started",
		zap.String("service", b.name),
		zap.Int("consumers", len(b.consumers)),
		zap.Int("workers", len(b.workers)),
	)
	return nil
}

// HTTPAddr is the bound HTTP address after Start.
func (b *Base) HTTPAddr() string {
	if b.httpLn == nil {
		return ""
	}
	return b.httpLn.Addr().String()
}

// Run starts the service and blocks until SIGINT/SIGTERM or Stop.
func (b *Base) Run() error {
	defer platformlogging.Sync(b.Logger)

	if err := b.Start(); err != nil {
		b.shutdownMgr.Shutdown()
		return err
	}
	b.shutdownMgr.Wait()
	b.wg.Wait()
	b.Logger.Info("service stopped", zap.String("service", b.name))
	return nil
}

// Stop runs the shutdown sequence and waits for background goroutines.
func (b *Base) Stop() {
	b.shutdownMgr.Trigger()
	b.shutdownMgr.Shutdown()
	b.wg.Wait()
}
