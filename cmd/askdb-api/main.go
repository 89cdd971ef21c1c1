package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/duckmesh/askdb/internal/answer"
	"github.com/duckmesh/askdb/internal/api"
	"github.com/duckmesh/askdb/internal/catalog"
	catalogpostgres "github.com/duckmesh/askdb/internal/catalog/postgres"
	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/export"
	"github.com/duckmesh/askdb/internal/intent"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/observability"
	"github.com/duckmesh/askdb/internal/pipeline"
	"github.com/duckmesh/askdb/internal/query/sqlite"
	"github.com/duckmesh/askdb/internal/schema/refiner"
	"github.com/duckmesh/askdb/internal/session"
	"github.com/duckmesh/askdb/internal/storage"
	s3store "github.com/duckmesh/askdb/internal/storage/s3"
	"github.com/duckmesh/askdb/internal/upload"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var history catalog.Repository
	readiness := []api.ReadinessCheck{}
	if cfg.HistoryEnabled() {
		historyDB, err := catalogpostgres.Open(ctx, cfg.Catalog)
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = historyDB.Close() }()
		history = catalogpostgres.NewRepository(historyDB)
		readiness = append(readiness, api.CheckHistory(history))
	}

	var objectStore storage.ObjectStore
	if cfg.ObjectStoreEnabled() {
		store, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objectStore = store
		readiness = append(readiness, api.CheckObjectStore(store))
	}

	model, err := newModel(ctx, cfg.AI)
	if err != nil {
		logger.Error("failed to initialize language model", slog.Any("error", err))
		os.Exit(1)
	}
	model = nl2sql.NewRateLimitedModel(model, cfg.AI.RequestsPerSecond, cfg.AI.Burst)

	engine := sqlite.NewEngine(cfg.Query.Timeout)
	stager := upload.NewStager(afero.NewOsFs(), cfg.Upload.Dir, cfg.Upload.MaxBytes, engine)
	sessions := session.NewStore(
		session.WithMaxTurns(cfg.Session.MaxTurns),
		session.WithLogger(logger),
		session.WithExpireHook(api.SessionCleanup(stager, objectStore, history, logger, 10*time.Second)),
	)
	answerer := answer.New(model, logger)

	opts := []pipeline.Option{
		pipeline.WithClassifier(intent.NewClassifier(model, logger)),
		pipeline.WithRefinerOptions(refinerOptions(cfg.Refiner)),
		pipeline.WithMaxRows(cfg.Query.MaxRows),
		pipeline.WithLogger(logger),
	}
	if history != nil {
		opts = append(opts, pipeline.WithHistory(history))
	}
	if objectStore != nil {
		opts = append(opts, pipeline.WithExporter(export.NewExporter(objectStore)))
	}
	generator := nl2sql.NewGenerator(model,
		nl2sql.WithTemperature(cfg.AI.Temperature),
		nl2sql.WithLogger(logger),
	)
	pipe := pipeline.New(sessions, generator, engine, answerer, opts...)

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Sessions:          sessions,
		Pipeline:          pipe,
		Stager:            stager,
		Schemas:           engine,
		Suggester:         answerer,
		History:           history,
		ObjectStore:       objectStore,
	}
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("provider", string(cfg.AI.Provider)),
			slog.String("model", cfg.AI.Model),
			slog.Bool("history", history != nil),
			slog.Bool("object_store", objectStore != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return sessions.RunJanitor(groupCtx, cfg.Session.JanitorInterval, cfg.Session.TTL)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down api server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("api server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newModel(ctx context.Context, cfg config.AIConfig) (nl2sql.Model, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return nl2sql.NewGeminiModel(ctx, nl2sql.GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	default:
		base := cfg.BaseURL
		if base == "" {
			base = defaultOpenAIBaseURL
		}
		return nl2sql.NewOpenAIModel(nl2sql.OpenAIConfig{
			BaseURL: base,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	}
}

// refinerOptions maps the configured hop count onto refiner.Options, where
// zero would otherwise select the default.
func refinerOptions(cfg config.RefinerConfig) refiner.Options {
	hops := cfg.FKHops
	if hops <= 0 {
		hops = refiner.NoExpansion
	}
	return refiner.Options{TopK: cfg.TopK, FKHops: hops}
}
