package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"interruptd/internal/collector"
	"interruptd/internal/config"
	"interruptd/internal/dispatch"
	"interruptd/internal/fswatch"
	"interruptd/internal/interrupt"
	"interruptd/internal/logger"
	"interruptd/internal/pipeline"
	"interruptd/internal/rules"
	"interruptd/internal/runner"
	"interruptd/internal/settings"
	"interruptd/internal/validation"
	"interruptd/pkg/metrics"
	"interruptd/pkg/middleware"
	"interruptd/pkg/ratelimit"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    logger.Logger
	settings  *settings.Store
	rules     *rules.Store
	watcher   *fswatch.Watcher
	service   *interrupt.Service
	registrar *collector.Registrar
	engines   []*pipeline.Engine
	server    *http.Server
	router    *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config: cfg,
		logger: log,
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initStores(); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := a.initService(); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := a.initWatcher(); err != nil {
		return fmt.Errorf("failed to initialize file watcher: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.initServer()

	return nil
}

func (a *App) initStores() error {
	a.settings = settings.NewStore(filepath.Join(a.config.DataDir, "settings.json"), a.logger)
	if err := a.settings.Load(); err != nil {
		return err
	}

	a.rules = rules.NewStore(filepath.Join(a.config.DataDir, "interrupt-rules.json"), a.logger)
	if err := a.rules.Load(); err != nil {
		return err
	}

	return nil
}

func (a *App) initService() error {
	run := runner.Exec{}

	registrar := collector.NewRegistrar(a.settings, a.rules, a.logger)
	gate := validation.NewGate(a.settings, run, a.logger)

	a.service = interrupt.NewService(a.rules, a.settings, gate, registrar, a.logger)

	dlog := dispatch.NewLog(
		filepath.Join(a.config.DataDir, "dispatch.log"),
		func() int { return a.settings.Current().LogLimit },
		a.logger,
	)

	messageDispatcher := dispatch.NewMessageDispatcher(
		run, a.config.Runtime.Binary, a.config.Runtime.MessageTimeout, dlog, a.logger)
	subagentDispatcher := dispatch.NewSubagentDispatcher(
		run, a.config.Runtime.Binary, a.config.Runtime.SubagentTimeout,
		func() string { return a.settings.Current().DefaultChannel }, dlog, a.logger)

	messageEngine := pipeline.NewEngine("message",
		func() settings.PipelineSettings { return a.settings.Current().Message },
		messageDispatcher, a.service, a.logger)
	subagentEngine := pipeline.NewEngine("subagent",
		func() settings.PipelineSettings { return a.settings.Current().Subagent },
		subagentDispatcher, a.service, a.logger)

	a.service.SetEngines(messageEngine, subagentEngine)
	a.engines = []*pipeline.Engine{messageEngine, subagentEngine}
	a.registrar = registrar
	return nil
}

func (a *App) initWatcher() error {
	watcher, err := fswatch.New(
		func() time.Duration { return time.Duration(a.settings.Current().FilePollMS) * time.Millisecond },
		a.logger,
	)
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Join(a.config.DataDir, "interrupt-rules.json"), a.rules.Reload); err != nil {
		return err
	}
	if err := watcher.Add(filepath.Join(a.config.DataDir, "settings.json"), a.settings.Reload); err != nil {
		return err
	}

	a.watcher = watcher
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.DefaultConfig()
		rateLimitConfig.RPS = a.config.RateLimit.RPS
		rateLimitConfig.Burst = a.config.RateLimit.Burst
		router.Use(ratelimit.Middleware(rateLimitConfig))
		a.logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler := interrupt.NewHandler(a.service, a.settings, a.registrar, a.logger)
	handler.RegisterRoutes(router)

	metrics.Register()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.config.Server.Host, a.settings.Current().Port),
		Handler: a.router,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.watcher.Start(gctx)
	})

	g.Go(func() error {
		a.logger.Infow("Server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Infow("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	for _, e := range a.engines {
		e.Stop()
		e.WaitIdle()
	}

	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.Infow("Shutdown complete")
	return nil
}
