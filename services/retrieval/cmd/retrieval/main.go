package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"docchat/internal/servicetoken"
	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/storage"
	"docchat/services/retrieval/internal/app"
	"docchat/services/retrieval/internal/config"
	"docchat/services/retrieval/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	objects, err := buildObjectStore(cfg)
	if err != nil {
		util.Fatal("failed to init object store", "err", err)
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		util.Fatal("failed to init embedding provider", "err", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:            cfg.DatabaseURL,
		Objects:                objects,
		Provider:               provider,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		QueueName:              cfg.QueueName,
		QueueGroup:             cfg.QueueGroup,
		QueueConcurrency:       cfg.QueueConcurrency,
		QueueMaxRetries:        cfg.QueueMaxRetries,
		QueueRetryDelaySeconds: cfg.QueueRetryDelaySeconds,
		EmbeddingDim:           cfg.EmbeddingDim,
		EmbeddingConcurrency:   cfg.EmbeddingConcurrency,
		ChunkSize:              cfg.ChunkSize,
		ChunkOverlap:           cfg.ChunkOverlap,
		PrimaryThreshold:       cfg.PrimaryThreshold,
		SecondaryThreshold:     cfg.SecondaryThreshold,
		MatchCount:             cfg.MatchCount,
		HistoryPageSize:        cfg.HistoryPageSize,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	verifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		Secret:         cfg.ServiceTokenSecret,
		Audience:       "retrieval",
		AllowedIssuers: cfg.Issuers(),
	})
	if err != nil {
		util.Fatal("failed to init service token verifier", "err", err)
	}

	httpServer, err := server.New(server.Config{App: appCore, Verifier: verifier})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("retrieval server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
	}
}

func buildObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.StorageBackend == "file" {
		return storage.NewFileStore(cfg.StorageDir)
	}
	return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
}

func buildProvider(cfg config.FileConfig) (*ai.Provider, error) {
	providerCfg := ai.ProviderConfig{
		Dimension:   cfg.EmbeddingDim,
		MaxRetries:  cfg.EmbeddingMaxRetries,
		BaseDelay:   time.Duration(cfg.EmbeddingRetryMillis) * time.Millisecond,
		MaxInFlight: cfg.EmbeddingConcurrency,
	}
	switch cfg.EmbeddingProvider {
	case "ollama":
		client := ai.NewOllamaClient(cfg.EmbeddingBaseURL)
		providerCfg.Remote = ai.NewOllamaEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim)
	case "openai":
		providerCfg.Remote = ai.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	case "fallback":
		providerCfg.FallbackOnly = true
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.EmbeddingProvider)
	}
	return ai.NewProvider(providerCfg)
}
