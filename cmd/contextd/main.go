package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pathlight/contextd/internal/api"
	"github.com/pathlight/contextd/internal/cache"
	"github.com/pathlight/contextd/internal/config"
	"github.com/pathlight/contextd/internal/embedding"
	"github.com/pathlight/contextd/internal/engine"
	"github.com/pathlight/contextd/internal/journey"
	"github.com/pathlight/contextd/internal/knowledge"
	"github.com/pathlight/contextd/internal/milestone"
	"github.com/pathlight/contextd/internal/session"
	pgstore "github.com/pathlight/contextd/internal/store"
	"github.com/pathlight/contextd/internal/token"
	"github.com/pathlight/contextd/internal/vectorstore"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting contextd...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/contextd.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	budget, err := cfg.Budget()
	if err != nil {
		logger.Fatal("invalid budget", zap.Error(err))
	}

	// Milestone graph: unknown references or cycles abort startup.
	graph, err := milestone.NewGraph(cfg.Milestones.Catalog, cfg.Milestones.Dependencies)
	if err != nil {
		logger.Fatal("invalid milestone map", zap.Error(err))
	}

	counter := token.NewCounter(logger)
	count := counter.ForModel(cfg.Engine.Model)

	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("invalid embedding config", zap.Error(err))
	}

	// Durable journey store. Unavailability degrades the journey layer at
	// request time instead of blocking startup.
	var factStore journey.FactStore
	var ingestor *journey.Ingestor
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, journey layer will degrade", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), cfg.MigrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			defer ps.Close()
			factStore = ps
			ingestor = journey.NewIngestor(ps, embedder)
		}
	}

	// Session store: Redis when configured, in-process otherwise.
	sessionOpts := session.Options{
		MaxTurns:  cfg.Session.MaxTurns,
		MaxTokens: budget.LayerBudget(engine.LayerSession),
		TTL:       cfg.SessionTTL(),
		Count:     count,
	}
	var sessions session.Store
	if cfg.Database.Redis.URL != "" {
		rs, rErr := session.NewRedisStore(cfg.Database.Redis.URL, sessionOpts, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, using in-memory session store", zap.Error(rErr))
		} else {
			defer rs.Close()
			sessions = rs
		}
	}
	if sessions == nil {
		sessions = session.NewMemoryStore(sessionOpts)
	}

	// Knowledge corpus.
	var searcher knowledge.Searcher
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		}, cfg.Knowledge.Collection)
		if qErr != nil {
			logger.Warn("Qdrant unavailable, knowledge layer will degrade", zap.Error(qErr))
		} else {
			if eErr := qc.EnsureCollection(context.Background(), uint64(embedder.Dimension())); eErr != nil {
				logger.Warn("ensure collection failed", zap.Error(eErr))
			}
			defer qc.Close()
			searcher = qc
		}
	}

	// Aggregate cache: shared Redis when configured, in-process otherwise.
	var aggCache engine.Cache
	if cfg.Database.Redis.CacheURL != "" {
		rc, cErr := cache.NewRedis(cfg.Database.Redis.CacheURL, logger)
		if cErr != nil {
			logger.Warn("Redis cache unavailable, using in-process cache", zap.Error(cErr))
		} else {
			defer rc.Close()
			aggCache = rc
		}
	}
	if aggCache == nil {
		aggCache = cache.NewMemory(cfg.CacheTTL())
	}

	sessionRetriever := session.NewRetriever(sessions, count)
	journeyRetriever := journey.NewRetriever(factStore, graph, embedder, count, logger)
	knowledgeRetriever := knowledge.NewRetriever(searcher, embedder, count, knowledge.Options{
		Limit:     cfg.Knowledge.Limit,
		Threshold: cfg.Knowledge.Threshold,
	})

	agg, err := engine.NewAggregator(sessionRetriever, journeyRetriever, knowledgeRetriever, aggCache, engine.Options{
		Budget:         budget,
		FanoutDeadline: cfg.FanoutDeadline(),
		CacheTTL:       cfg.CacheTTL(),
	}, logger)
	if err != nil {
		logger.Fatal("invalid engine config", zap.Error(err))
	}

	resolver := milestone.NewResolver(graph, agg, logger)
	handler := api.NewHandler(agg, sessions, resolver, graph, knowledgeRetriever, ingestor, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("contextd listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down contextd...")
	srv.Shutdown(context.Background())
}
