package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"eloquent/internal/api"
	"eloquent/internal/auth"
	"eloquent/internal/completion"
	"eloquent/internal/config"
	"eloquent/internal/guardrails"
	"eloquent/internal/history"
	"eloquent/internal/logging"
	"eloquent/internal/pipeline"
	"eloquent/internal/redis"
	"eloquent/internal/retrieval"
	"eloquent/internal/storage"
	"eloquent/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("ELOQUENT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(os.Getenv("ELOQUENT_ENV") == "development")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	dbType := os.Getenv("ELOQUENT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		logger.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	st := store.New(db)
	authService := auth.NewService(db, st, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)

	retriever, err := retrieval.New(cfg, rdb, logger)
	if err != nil {
		logger.Fatal("init retriever", zap.Error(err))
	}

	provider := cfg.BasicConfig.Provider
	completer, err := completion.NewService(context.Background(), provider, cfg.Providers[provider])
	if err != nil {
		logger.Fatal("init completer", zap.String("provider", provider), zap.Error(err))
	}

	turnPipeline := pipeline.New(pipeline.Deps{
		Store:      st,
		Guardrails: guardrails.NewEngine(),
		Retriever:  retriever,
		Completer:  completer,
		Assembler:  &history.Assembler{ExposeBlockedTurns: cfg.Guardrails.ExposeBlockedTurns},
		Lock:       pipeline.NewTurnLock(rdb, 0),
		TopK:       cfg.Retrieval.TopK,
		Logger:     logger,
	})

	handlers := api.NewHandler(turnPipeline, st, authService, !cfg.BasicConfig.DisableStreaming, logger)

	router := gin.Default()
	router.Use(logging.Middleware(logger))
	handlers.RegisterRoutes(router)

	logger.Info("server starting",
		zap.String("addr", cfg.BasicConfig.ServerAddress),
		zap.String("provider", provider),
		zap.String("retrieval_mode", cfg.Retrieval.Mode),
	)
	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
