// Package server assembles the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterforge/internal/api"
	"github.com/JakeFAU/chapterforge/internal/artifact"
	"github.com/JakeFAU/chapterforge/internal/book"
	"github.com/JakeFAU/chapterforge/internal/config"
	"github.com/JakeFAU/chapterforge/internal/dispatcher"
	"github.com/JakeFAU/chapterforge/internal/fetcher"
	collyfetcher "github.com/JakeFAU/chapterforge/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/chapterforge/internal/fetcher/headless"
	"github.com/JakeFAU/chapterforge/internal/hash/sha256"
	"github.com/JakeFAU/chapterforge/internal/headless/detector"
	"github.com/JakeFAU/chapterforge/internal/id/uuid"
	"github.com/JakeFAU/chapterforge/internal/orchestrator"
	"github.com/JakeFAU/chapterforge/internal/policy/ratelimit"
	"github.com/JakeFAU/chapterforge/internal/progress"
	progresssinks "github.com/JakeFAU/chapterforge/internal/progress/sinks"
	"github.com/JakeFAU/chapterforge/internal/provider"
	"github.com/JakeFAU/chapterforge/internal/proxy"
	memorypublisher "github.com/JakeFAU/chapterforge/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/chapterforge/internal/publisher/pubsub"
	"github.com/JakeFAU/chapterforge/internal/queue"
	queuememory "github.com/JakeFAU/chapterforge/internal/queue/memory"
	"github.com/JakeFAU/chapterforge/internal/storage"
	"github.com/JakeFAU/chapterforge/internal/storage/memory"
	"github.com/JakeFAU/chapterforge/internal/sweeper"
	"github.com/JakeFAU/chapterforge/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	reg    prometheus.Registerer

	proxy      *proxy.Switch
	registry   *provider.Registry
	headless   *headlessfetcher.Getter
	jobs       book.JobStore
	artifacts  book.ArtifactStore
	runs       book.RunRecorder
	publisher  book.Publisher
	hub        *progress.Hub
	queue      *queuememory.Queue
	dispatch   *dispatcher.Dispatcher
	orch       *orchestrator.Orchestrator
	sweep      *sweeper.Sweeper
	apiServer  *api.Server
	closers    []namedCloser
	background sync.WaitGroup
	stopBg     context.CancelFunc
	started    atomic.Bool
}

type namedCloser struct {
	name string
	fn   func() error
}

// Option customizes Build.
type Option func(*App)

// WithRegisterer registers progress collectors against reg instead of the
// default Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.reg = reg }
}

// Build creates the application's dependencies. Nothing runs until Start
// or Run is called.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger, reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(app)
	}
	logger.Info("Building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("artifacts", cfg.Artifacts.Backend),
		zap.String("history", cfg.History.Backend),
		zap.String("proxy_mode", cfg.ProxyMode()),
	)

	if err := app.build(ctx); err != nil {
		if closeErr := app.closeInfrastructure(); closeErr != nil {
			logger.Warn("Cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := a.setupTransport(); err != nil {
		return err
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	if err := a.setupProgress(); err != nil {
		return err
	}
	return a.setupJobs()
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, fn: fn})
}

func (a *App) setupTransport() error {
	cfg := a.cfg
	sw, err := proxy.New(cfg.Proxy.URL, cfg.Proxy.FallbackURL)
	if err != nil {
		return fmt.Errorf("proxy init failed: %w", err)
	}
	a.proxy = sw

	opts := []collyfetcher.Option{
		collyfetcher.WithLogger(a.logger.Named("getter")),
		collyfetcher.WithLimiter(ratelimit.New(ratelimit.Config{
			RPS:   cfg.Fetch.RequestsPerSecond,
			Burst: cfg.Fetch.Burst,
		})),
	}
	if cfg.Headless.Enabled {
		a.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.Headless.NavigationTimeout,
			Proxy:             sw,
		})
		if err != nil {
			a.logger.Warn("Headless getter init failed, continuing without it", zap.Error(err))
		} else {
			a.addCloser("headless", func() error { a.headless.Close(); return nil })
			opts = append(opts, collyfetcher.WithHeadless(a.headless, detector.NewHeuristic(cfg.Headless.BodyThreshold)))
			a.logger.Info("Headless promotion enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}
	getter := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
		Proxy:     sw.ProxyFunc,
	}, opts...)

	sites, err := LoadSites(cfg.Sites)
	if err != nil {
		return err
	}
	a.registry, err = provider.NewRegistry(sites, getter, a.logger.Named("provider"))
	if err != nil {
		return fmt.Errorf("provider registry init failed: %w", err)
	}
	a.logger.Info("Sites registered", zap.Int("sites", len(sites)))
	return nil
}

// LoadSites returns the configured site table, or the bundled one when no file is set.
func LoadSites(cfg config.SitesConfig) ([]provider.Site, error) {
	if cfg.File == "" {
		sites, err := provider.BundledSites()
		if err != nil {
			return nil, fmt.Errorf("load bundled sites: %w", err)
		}
		return sites, nil
	}
	sites, err := provider.LoadSites(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("load sites from %s: %w", cfg.File, err)
	}
	return sites, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	a.jobs = memory.NewJobStore()

	artifacts, closeArtifacts, err := storage.NewArtifactStore(ctx, a.cfg.Artifacts, a.logger.Named("artifacts"))
	if err != nil {
		return fmt.Errorf("artifact store init failed: %w", err)
	}
	a.artifacts = artifacts
	a.addCloser("artifacts", closeArtifacts)

	runs, closeRuns, err := storage.NewRunRecorder(ctx, a.cfg.History)
	if err != nil {
		return fmt.Errorf("run history init failed: %w", err)
	}
	a.runs = runs
	a.addCloser("history", closeRuns)
	if runs == nil {
		a.logger.Info("Run history disabled")
	} else {
		a.logger.Info("Run history enabled", zap.String("backend", a.cfg.History.Backend))
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic, a.logger.Named("pubsub"))
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.addCloser("pubsub", pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupProgress() error {
	prom, err := progresssinks.NewPrometheusSink(a.reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{prom}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.runs != nil {
		sinkList = append(sinkList, progresssinks.NewHistorySink(a.runs, a.logger.Named("progress_history")))
	}
	hubCfg := progress.Config{
		BufferSize:    a.cfg.Progress.BufferSize,
		BatchSize:     a.cfg.Progress.BatchSize,
		FlushInterval: a.cfg.Progress.FlushInterval,
		Logger:        a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("Progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("batch_size", hubCfg.BatchSize),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
	)
	return nil
}

func (a *App) setupJobs() error {
	cfg := a.cfg
	builder, err := artifact.ForFormat(cfg.Artifacts.Format, a.logger.Named("artifact"))
	if err != nil {
		return fmt.Errorf("artifact builder init failed: %w", err)
	}

	a.queue = queuememory.NewQueue(cfg.Jobs.QueueDepth)
	workerCfg := worker.Config{
		Concurrency: cfg.Fetch.Concurrency,
		Policy: fetcher.Policy{
			MaxAttempts:    cfg.Fetch.MaxRetries,
			BaseDelay:      cfg.Fetch.BaseDelay,
			RateLimitDelay: cfg.Fetch.RateLimitDelay,
			MaxJitter:      cfg.Fetch.MaxJitter,
			MaxDelay:       cfg.Fetch.MaxDelay,
		},
		CoverMaxDimension: cfg.Artifacts.CoverMaxDimension,
		Topic:             cfg.PubSub.Topic,
		ProxyMode:         a.proxy.Mode(),
	}
	deps := worker.Deps{
		Providers: a.registry,
		Jobs:      a.jobs,
		Artifacts: a.artifacts,
		Builder:   builder,
		Router:    a.proxy,
		Publisher: a.publisher,
		Events:    a.hub,
		Hasher:    sha256.New(),
		Names:     uuid.NewArtifactNameGenerator(),
	}
	runners := make([]dispatcher.Runner, 0, cfg.Jobs.Workers)
	for i := range cfg.Jobs.Workers {
		runners = append(runners, worker.New(a.queue, deps, workerCfg, a.logger.Named("worker").With(zap.Int("worker", i))))
	}
	a.logger.Info("Worker pool configured",
		zap.Int("workers", cfg.Jobs.Workers),
		zap.Int("unit_concurrency", workerCfg.Concurrency),
		zap.Int("max_attempts", workerCfg.Policy.MaxAttempts),
		zap.String("format", builder.Extension()),
	)

	a.dispatch = dispatcher.New(a.queue, runners,
		dispatcher.WithLogger(a.logger.Named("dispatcher")),
		dispatcher.WithDropHandler(func(item queue.Item, err error) { a.orch.Abandon(item, err) }),
	)
	a.orch = orchestrator.New(orchestrator.Deps{
		Jobs:       a.jobs,
		Artifacts:  a.artifacts,
		Providers:  a.registry,
		Dispatcher: a.dispatch,
		IDs:        uuid.NewJobIDGenerator(),
	}, orchestrator.Config{
		MaxUnits:     cfg.Jobs.MaxUnits,
		PollInterval: cfg.Jobs.PollInterval,
	}, a.logger.Named("orchestrator"))

	a.sweep = sweeper.New(a.jobs, a.artifacts, cfg.Artifacts.TTL, cfg.Artifacts.SweepInterval,
		sweeper.WithLogger(a.logger.Named("sweeper")))

	a.apiServer = api.NewServer(api.Deps{
		Books: a.orch,
		Sites: a.registry,
		Runs:  a.runs,
		Ready: []api.ReadinessCheck{a.ready},
	}, cfg, a.logger.Named("api"))
	return nil
}

func (a *App) ready(context.Context) error {
	if !a.started.Load() {
		return errors.New("workers not started")
	}
	return nil
}

// Orchestrator exposes the job surface for in-process callers.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Registry exposes the site registry.
func (a *App) Registry() *provider.Registry { return a.registry }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Start launches the worker pool and sweeper in the background. It returns
// immediately; Close stops them.
func (a *App) Start(ctx context.Context) {
	if !a.started.CompareAndSwap(false, true) {
		return
	}
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopBg = cancel
	a.background.Add(2)
	go func() {
		defer a.background.Done()
		a.dispatch.Run(bgCtx)
	}()
	go func() {
		defer a.background.Done()
		a.sweep.Run(bgCtx)
	}()
	a.logger.Info("Application started")
}

// Run starts the application and serves HTTP until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close stops background work and releases infrastructure.
func (a *App) Close(ctx context.Context) error {
	if a.stopBg != nil {
		a.stopBg()
	}
	done := make(chan struct{})
	go func() {
		a.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Background workers did not stop before deadline")
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("Progress hub close failed", zap.Error(err))
		}
	}
	err := a.closeInfrastructure()
	a.logger.Info("Shutdown complete")
	return err
}

func (a *App) closeInfrastructure() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("Close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
