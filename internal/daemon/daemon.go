// Package daemon assembles the insight components from configuration and
// manages their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/insight/internal/config"
	"github.com/harun/insight/internal/logger"
	"github.com/harun/insight/internal/observability"
	"github.com/harun/insight/internal/tracing"
	"github.com/harun/insight/pkg/agent"
	"github.com/harun/insight/pkg/commandqueue"
	"github.com/harun/insight/pkg/coretools"
	"github.com/harun/insight/pkg/gateway"
	"github.com/harun/insight/pkg/insight"
	"github.com/harun/insight/pkg/retrieval"
	"github.com/harun/insight/pkg/sandbox"
	"github.com/harun/insight/pkg/store"
	"github.com/harun/insight/pkg/toolexecutor"
)

const (
	serviceName     = "insight"
	schemaRows      = 3
	shutdownTimeout = 10 * time.Second
	reloadTimeout   = 2 * time.Minute
)

// Daemon holds every wired component of one insight process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	opts   options

	// Core modules
	queue        *commandqueue.CommandQueue
	audit        *observability.AuditLog
	store        *store.Store
	indexDB      *retrieval.DB
	indices      map[string]*retrieval.Index
	embedder     retrieval.EmbeddingProvider
	sandbox      sandbox.Sandbox
	toolExecutor *toolexecutor.Executor
	agentRunner  *agent.Runner

	// Services
	gatewayServer *gateway.Server
	generator     *insight.Generator
	scheduler     *insight.Scheduler
	lifecycle     *LifecycleManager
	corpusWatcher *retrieval.CorpusWatcher

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes a daemon.
type Status struct {
	Running    bool
	Uptime     time.Duration
	StartTime  time.Time
	ActiveRuns int
	Tools      []string
}

type options struct {
	completer agent.Completer
	embedder  retrieval.EmbeddingProvider
	sandbox   sandbox.Sandbox
}

// Option overrides a capability normally built from configuration.
type Option func(*options)

// WithCompleter replaces the configured model providers.
func WithCompleter(c agent.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithEmbedder replaces the OpenAI embedder.
func WithEmbedder(e retrieval.EmbeddingProvider) Option {
	return func(o *options) { o.embedder = e }
}

// WithSandbox replaces the configured code sandbox.
func WithSandbox(sb sandbox.Sandbox) Option {
	return func(o *options) { o.sandbox = sb }
}

// New builds all components. Semantic indices are built before New
// returns, so ctx bounds the embedding calls.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || log == nil {
		return nil, errors.New("config and logger are required")
	}

	d := &Daemon{
		config:  cfg,
		logger:  log,
		indices: make(map[string]*retrieval.Index),
	}
	for _, opt := range opts {
		opt(&d.opts)
	}

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry(serviceName); err != nil {
		zl := log.Zerolog()
		zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(ctx); err != nil {
		d.close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return d, nil
}

// initializeCoreModules opens the stores, builds the indices and wires the
// tool executor into the agent runner.
func (d *Daemon) initializeCoreModules(ctx context.Context) error {
	log := d.logger.Zerolog()

	if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	d.queue = commandqueue.New()
	log.Info().Msg("Command queue initialized")

	auditPath := filepath.Join(d.config.DataDir, "audit.log")
	audit, err := observability.OpenAuditLog(auditPath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to open audit log, writes will not be audited")
	} else {
		d.audit = audit
		log.Info().Str("path", auditPath).Msg("Audit log initialized")
	}

	d.store, err = store.Open(ctx, store.Config{
		Path:    d.resolve(d.config.Store.Path),
		Seed:    d.config.Store.Seed,
		MaxRows: d.config.Tools.MaxRows,
		Logger:  log,
		Audit:   d.audit,
	})
	if err != nil {
		return err
	}

	if err := d.initializeRetrieval(ctx); err != nil {
		return err
	}

	d.sandbox = d.opts.sandbox
	if d.sandbox == nil {
		d.sandbox, err = sandbox.New(d.sandboxConfig())
		if err != nil {
			return fmt.Errorf("failed to create sandbox: %w", err)
		}
	}
	if err := d.sandbox.Start(ctx); err != nil {
		// the tool still registers; each call reports the missing runtime
		log.Warn().Err(err).Str("runtime", d.config.Sandbox.Runtime).Msg("Code sandbox unavailable")
	}

	registry := toolexecutor.NewRegistry()
	if err := coretools.RegisterDefaults(registry, coretools.Options{
		Store:         d.store,
		ProductFAQ:    d.searcher(retrieval.CorpusProductFAQ),
		Conversations: d.searcher(retrieval.CorpusConversations),
		Sandbox:       d.sandbox,
		K:             d.config.Retrieval.K,
		MaxRows:       d.config.Tools.MaxRows,
		SampleRows:    schemaRows,
	}); err != nil {
		return err
	}
	d.toolExecutor = toolexecutor.NewExecutor(registry, toolexecutor.Options{
		Timeouts: map[toolexecutor.Kind]time.Duration{
			toolexecutor.KindQuery:    d.config.Tools.Timeouts.Query,
			toolexecutor.KindRetrieve: d.config.Tools.Timeouts.Retrieve,
			toolexecutor.KindExecute:  d.config.Tools.Timeouts.Execute,
		},
		MaxOutputBytes: d.config.Tools.MaxObservationBytes,
		Logger:         &log,
	})
	log.Info().Strs("tools", registry.Names()).Msg("Tool registry initialized")

	d.agentRunner, err = agent.NewRunner(agent.Config{
		Executor:     d.toolExecutor,
		CommandQueue: d.queue,
		Agent: agent.AgentConfig{
			Model:         d.config.Agent.Model,
			Temperature:   d.config.Agent.Temperature,
			MaxTokens:     d.config.Agent.MaxTokens,
			MaxRetries:    d.config.Agent.MaxRetries,
			MaxIterations: d.config.Agent.MaxIterations,
			RunTimeout:    d.config.Agent.RunTimeout,
		},
		Logger:       log,
		Completer:    d.opts.completer,
		AuthProfiles: convertAuthProfiles(d.config.AI.Profiles),
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}
	log.Info().
		Int("profiles", len(d.config.AI.Profiles)).
		Int("max_iterations", d.agentRunner.Config().MaxIterations).
		Msg("Agent runner initialized")
	return nil
}

// initializeRetrieval builds one index per corpus. A corpus that fails to
// build stays registered and reports the embedding service as unavailable.
func (d *Daemon) initializeRetrieval(ctx context.Context) error {
	log := d.logger.Zerolog()

	corpora, err := retrieval.LoadCorpora(d.config.Retrieval.CorpusFiles)
	if err != nil {
		return err
	}

	embedder := d.opts.embedder
	if embedder == nil {
		if key := d.config.EmbeddingAPIKey(); key != "" {
			embedder = retrieval.NewOpenAIEmbedder(key, d.config.Retrieval.EmbeddingModel)
		} else {
			log.Warn().Msg("No embedding API key configured, retrieval tools will be unavailable")
			embedder = unavailableEmbedder{}
		}
	}

	d.embedder = embedder

	d.indexDB, err = retrieval.OpenDB(d.resolve(d.config.Retrieval.DBPath))
	if err != nil {
		return err
	}
	splitter := retrieval.NewSplitter(d.config.Retrieval.ChunkSize, d.config.Retrieval.ChunkOverlap)

	for _, corpus := range corpora {
		idx, err := retrieval.NewIndex(retrieval.IndexConfig{
			Corpus:   corpus.Name,
			DB:       d.indexDB,
			Embedder: embedder,
			Splitter: splitter,
			Logger:   log,
		})
		if err != nil {
			return err
		}
		d.indices[corpus.Name] = idx

		if _, ok := embedder.(unavailableEmbedder); ok {
			continue
		}
		if err := idx.Build(ctx, corpus.Documents); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("corpus", corpus.Name).Msg("Failed to build index")
		}
	}
	return nil
}

// reloadCorpora rebuilds every index from the corpus files on disk.
// Corpora added since startup are ignored until restart because their
// tools are not registered.
func (d *Daemon) reloadCorpora() {
	log := d.logger.Zerolog()
	if _, ok := d.embedder.(unavailableEmbedder); ok {
		return
	}

	corpora, err := retrieval.LoadCorpora(d.config.Retrieval.CorpusFiles)
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload corpora, keeping current indices")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	for _, corpus := range corpora {
		idx, ok := d.indices[corpus.Name]
		if !ok {
			log.Warn().Str("corpus", corpus.Name).Msg("New corpus ignored until restart")
			continue
		}
		if err := idx.Build(ctx, corpus.Documents); err != nil {
			log.Error().Err(err).Str("corpus", corpus.Name).Msg("Failed to rebuild index")
		}
	}
}

// initializeServices creates the gateway and the daily insight services.
func (d *Daemon) initializeServices() error {
	log := d.logger.Zerolog()

	var err error
	d.gatewayServer, err = gateway.NewServer(gateway.Config{
		Host:          d.config.Gateway.Host,
		Port:          d.config.Gateway.Port,
		SharedSecret:  d.config.Gateway.SharedSecret,
		Runner:        d.agentRunner,
		RateLimit:     d.config.Gateway.RateLimit,
		RateBurst:     d.config.Gateway.RateBurst,
		MaxConcurrent: d.config.Gateway.RateBurst,
		Lanes:         d.queue.Stats,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	d.generator = insight.NewGenerator(d.agentRunner, d.config.Insight.ReportsDir, log)
	if d.config.Insight.Enabled {
		d.scheduler, err = insight.NewScheduler(d.generator, d.config.Insight.Schedule, time.Local, d.config.Agent.RunTimeout, log)
		if err != nil {
			return err
		}
	}

	d.lifecycle = NewLifecycleManager(d.config.DataDir, log)
	return nil
}

// Start serves the gateway and starts the insight scheduler.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Starting insight daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	log.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if d.scheduler != nil {
		d.scheduler.Start()
	}

	if files := d.config.Retrieval.CorpusFiles; len(files) > 0 {
		watcher, err := retrieval.NewCorpusWatcher(files, log, d.reloadCorpora)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to watch corpus files, edits need a restart")
		} else {
			d.corpusWatcher = watcher
		}
	}

	log.Info().Msg("Daemon started")
	return nil
}

// Stop shuts the services down and releases every component.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	log.Info().Msg("Stopping insight daemon")

	if d.corpusWatcher != nil {
		if err := d.corpusWatcher.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop corpus watcher")
		}
		d.corpusWatcher = nil
	}

	if d.scheduler != nil {
		d.scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.gatewayServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop gateway server")
	}
	// session runs still hold the store and sandbox
	if !d.queue.WaitForActive(shutdownTimeout) {
		log.Warn().Msg("Closing with session runs still active")
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.close()
	log.Info().Msg("Daemon stopped")
	return nil
}

// Close releases the core modules of a daemon that was never started.
func (d *Daemon) Close() error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		return d.Stop()
	}
	d.close()
	return nil
}

func (d *Daemon) close() {
	log := d.logger.Zerolog()

	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close command queue")
		}
		d.queue = nil
	}
	if d.sandbox != nil {
		if err := d.sandbox.Stop(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to stop sandbox")
		}
		d.sandbox = nil
	}
	if d.indexDB != nil {
		if err := d.indexDB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close index database")
		}
		d.indexDB = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
		d.store = nil
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close audit log")
		}
		d.audit = nil
	}
	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	if d.agentRunner != nil {
		status.ActiveRuns = d.agentRunner.ActiveRuns()
	}
	if d.toolExecutor != nil {
		status.Tools = d.toolExecutor.Registry().Names()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	zl := d.logger.Zerolog()
	zl.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		zl.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetAgentRunner returns the agent runner
func (d *Daemon) GetAgentRunner() *agent.Runner {
	return d.agentRunner
}

// GetToolExecutor returns the tool executor
func (d *Daemon) GetToolExecutor() *toolexecutor.Executor {
	return d.toolExecutor
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetGenerator returns the daily insight generator
func (d *Daemon) GetGenerator() *insight.Generator {
	return d.generator
}

// GetScheduler returns the insight scheduler, nil when disabled.
func (d *Daemon) GetScheduler() *insight.Scheduler {
	return d.scheduler
}

// GetLifecycle returns the lifecycle manager
func (d *Daemon) GetLifecycle() *LifecycleManager {
	return d.lifecycle
}

func (d *Daemon) searcher(corpus string) coretools.Searcher {
	if idx, ok := d.indices[corpus]; ok {
		return idx
	}
	return nil
}

// resolve places relative data paths under the data directory.
func (d *Daemon) resolve(path string) string {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(d.config.DataDir, path)
}

func (d *Daemon) sandboxConfig() sandbox.Config {
	cfg := sandbox.DefaultConfig()
	cfg.Runtime = sandbox.Runtime(d.config.Sandbox.Runtime)
	if d.config.Sandbox.Python != "" {
		cfg.Python = d.config.Sandbox.Python
	}
	if d.config.Sandbox.DockerImage != "" {
		cfg.Image = d.config.Sandbox.DockerImage
	}
	if d.config.Sandbox.MaxMemoryMB > 0 {
		cfg.Limits.MaxMemoryMB = d.config.Sandbox.MaxMemoryMB
	}
	if d.config.Sandbox.MaxCPU > 0 {
		cfg.Limits.MaxCPU = float64(d.config.Sandbox.MaxCPU)
	}
	cfg.Limits.Timeout = d.config.Tools.Timeouts.Execute
	return cfg
}

// convertAuthProfiles converts config auth profiles to agent auth profiles
func convertAuthProfiles(profiles []config.AIProfile) []agent.AuthProfile {
	result := make([]agent.AuthProfile, len(profiles))
	for i, p := range profiles {
		result[i] = agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    p.Model,
			Priority: p.Priority,
		}
	}
	return result
}

// unavailableEmbedder stands in when no embedding credentials exist.
type unavailableEmbedder struct{}

func (unavailableEmbedder) Dimension() int { return 1536 }

func (unavailableEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, retrieval.ErrEmbeddingUnavailable
}

var _ zerolog.LogObjectMarshaler = Status{}

// MarshalZerologObject logs the status fields.
func (s Status) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("running", s.Running).
		Dur("uptime", s.Uptime).
		Int("active_runs", s.ActiveRuns).
		Strs("tools", s.Tools)
}
