package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/robfig/cron/v3"

	"recall/backend/features/document"
	"recall/backend/features/job"
	"recall/backend/features/search"
	"recall/backend/features/source"
	"recall/backend/features/stats"
	"recall/backend/internal/adapter/gemini"
	"recall/backend/internal/adapter/ollama"
	"recall/backend/internal/adapter/openai"
	"recall/backend/internal/config"
	"recall/backend/internal/embed"
	"recall/backend/internal/middleware"
	"recall/backend/internal/retrieval"
	"recall/backend/internal/settings"
	"recall/backend/internal/worker"
)

// VectorStore is the embedding store as the indexer, the scorer and the stats
// endpoint see it.
type VectorStore interface {
	worker.VectorWriter
	retrieval.VectorIndex
	stats.VectorStore
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	Embedder embed.Provider
	Trigger  job.StepTrigger
}

type App struct {
	Handler      http.Handler
	Jobs         *job.Service
	Retrieval    *retrieval.Service
	StepConsumer *worker.StepConsumer

	cfg     *config.Config
	closers []func() error
}

func New(cfg *config.Config, db *sql.DB, vecStore VectorStore, taskPub worker.TaskPublisher, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	a := &App{cfg: cfg}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo).WithDefaults(settings.SearchDefaults{
		Limit:            cfg.SearchLimit,
		MinSemanticScore: cfg.MinSemanticScore,
	})
	seedSettings(settingsService, cfg)
	settingsHandler := settings.NewHandler(settingsService)

	// Embeddings
	provider := opts.Embedder
	if provider == nil {
		p, closer, err := NewProvider(cfg, settingsService)
		if err != nil {
			return nil, err
		}
		provider = p
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
	}
	batcher, err := embed.NewBatcher(provider, embed.Options{
		BatchSize:   cfg.EmbeddingBatchSize,
		MaxTokens:   cfg.EmbeddingMaxTokens,
		Concurrency: cfg.EmbeddingConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding batcher: %w", err)
	}
	a.closers = append(a.closers, func() error { batcher.Release(); return nil })

	// Feature: Document + Source
	docRepo := document.NewPostgresRepo(db)
	sourceRepo := source.NewPostgresRepo(db)
	sourceHandler := source.NewHandler(sourceRepo)

	// Worker
	limits := worker.Limits{
		EmailPageSize:      cfg.EmailPageSize,
		CalendarPageSize:   cfg.CalendarPageSize,
		CalendarFlushEvery: cfg.CalendarFlushEvery,
		ChunkMaxChars:      cfg.ChunkMaxChars,
		ChunkOverlapChars:  cfg.ChunkOverlapChars,
	}
	pipeline := worker.NewPipeline(docRepo, vecStore, batcher)

	// Feature: Job
	trigger := opts.Trigger
	if trigger == nil && taskPub != nil {
		trigger = worker.NewNSQTrigger(taskPub)
	}
	jobOpts := []job.Option{
		job.WithAccounts(&accountLister{repo: sourceRepo}),
		job.WithLimits(job.Limits{
			StaleAfter:  cfg.StaleAfter(),
			MaxAttempts: cfg.MaxTaskAttempts,
			FanoutWidth: cfg.FanoutWidth,
			TaskTimeout: cfg.TaskTimeout(),
		}),
	}
	for t, e := range worker.Executors(pipeline, sourceRepo, limits) {
		jobOpts = append(jobOpts, job.WithExecutor(t, e))
	}
	jobRepo := job.NewPostgresRepo(db)
	a.Jobs = job.NewService(jobRepo, trigger, jobOpts...)
	jobHandler := job.NewHandler(a.Jobs)
	a.StepConsumer = worker.NewStepConsumer(a.Jobs)

	// Feature: Retrieval
	retrievalOpts := []retrieval.Option{
		retrieval.WithFusion(retrieval.FusionParams{K: cfg.RRFK, DecayRate: cfg.DecayRate}),
		retrieval.WithTimeout(cfg.QueryTimeout()),
	}
	if cfg.QueryLogPath != "" {
		queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			slog.Warn("failed to create query logger, falling back to stdout", "error", err)
			queryLogger = retrieval.NewQueryLogger(os.Stdout)
		} else {
			a.closers = append(a.closers, queryLogger.Close)
		}
		retrievalOpts = append(retrievalOpts, retrieval.WithQueryLogger(queryLogger))
	}
	a.Retrieval = retrieval.NewService(batcher, vecStore, docRepo, settingsService, retrievalOpts...)
	searchHandler := search.NewHandler(a.Retrieval)

	// Feature: Stats
	statsHandler := stats.NewHandler(jobRepo, docRepo, vecStore)

	// Routes
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middleware.Recover(middleware.CorrelationID(middleware.CORS(h))))
	}

	route("POST /jobs", jobHandler.Create)
	route("GET /jobs/{id}", jobHandler.Get)
	route("GET /jobs/{id}/tasks", jobHandler.ListTasks)
	route("POST /jobs/{id}/step", jobHandler.Step)
	route("POST /step", jobHandler.Step)
	route("POST /jobs/{id}/tasks/{taskId}/retry", jobHandler.RetryTask)

	route("POST /search", searchHandler.Search)
	route("POST /match", searchHandler.Match)

	route("GET /users/{userId}/sources", sourceHandler.Overview)

	route("GET /settings", settingsHandler.GetSettings)
	route("PUT /settings", settingsHandler.UpdateSettings)

	route("GET /stats", statsHandler.GetStats)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// NewProvider builds the configured embedding provider. The returned closer
// may be nil.
func NewProvider(cfg *config.Config, settingsService *settings.Service) (embed.Provider, func() error, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		return openai.NewEmbedder(cfg.OpenAIAPIKey, openai.WithModel(cfg.EmbeddingModel)), nil, nil
	case config.ProviderOllama:
		e, err := ollama.NewEmbedder(cfg.OllamaHost, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return e, nil, nil
	case config.ProviderGemini, "":
		e := gemini.NewDynamicEmbedder(settingsService, cfg.EmbeddingModel).WithFallbackKey(cfg.GeminiAPIKey)
		return e, e.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: EMBEDDING_PROVIDER=%q", config.ErrInvalidValue, cfg.EmbeddingProvider)
}

// seedSettings copies the Gemini key from the environment into an empty
// settings row.
func seedSettings(svc *settings.Service, cfg *config.Config) {
	if cfg.GeminiAPIKey == "" {
		return
	}
	ctx := context.Background()
	set, err := svc.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}
	if set.GeminiAPIKey != "" {
		return
	}
	set.GeminiAPIKey = cfg.GeminiAPIKey
	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
		return
	}
	slog.Info("seeded gemini api key from environment")
}

// Run serves HTTP, consumes step messages and runs the sweeper until ctx is
// canceled.
func (a *App) Run(ctx context.Context) error {
	port := a.cfg.ServerPort
	if port == 0 {
		port = 8081
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.cfg.EnableStepWorker {
		consumer, err := a.startConsumer()
		if err != nil {
			return err
		}
		defer consumer.Stop()
	}

	sweeper, err := NewSweeper(a.Jobs, a.cfg.SweepSchedule)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer func() { <-sweeper.Stop().Done() }()

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	// A step may run for the whole task timeout before it answers.
	nsqCfg.MsgTimeout = a.cfg.TaskTimeout() + 30*time.Second
	nsqCfg.MaxInFlight = max(a.cfg.FanoutWidth, 1)

	consumer, err := nsq.NewConsumer(config.TopicIndexStep, config.ChannelIndexWorker, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddConcurrentHandlers(a.StepConsumer, nsqCfg.MaxInFlight)

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("nsq connect error: %w", err)
	}
	slog.Info("NSQ step consumer connected", "topic", config.TopicIndexStep, "channel", config.ChannelIndexWorker)
	return consumer, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}

// NewSweeper schedules Service.Sweep, the backstop that resumes jobs whose
// step chain broke.
func NewSweeper(jobs *job.Service, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		schedule = "@every 1m"
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx := middleware.WithCorrelationID(context.Background(), "sweep-"+time.Now().UTC().Format("20060102T150405"))
		if _, err := jobs.Sweep(ctx); err != nil {
			slog.ErrorContext(ctx, "sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return c, nil
}

// accountLister resolves linked accounts for a paginated task type.
type accountLister struct {
	repo *source.PostgresRepo
}

func (l *accountLister) ListAccountIDs(ctx context.Context, userID string, t job.TaskType) ([]string, error) {
	switch t {
	case job.TaskEmails:
		return l.repo.ListAccountIDs(ctx, userID, source.CapabilityEmail)
	case job.TaskCalendar:
		return l.repo.ListAccountIDs(ctx, userID, source.CapabilityCalendar)
	}
	return nil, nil
}
