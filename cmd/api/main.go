package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lexroute/api/internal/app"
	"lexroute/api/internal/config"
	"lexroute/api/internal/docstore"
	"lexroute/api/internal/fusion"
	"lexroute/api/internal/gateway"
	"lexroute/api/internal/inference"
	"lexroute/api/internal/objstore"
	"lexroute/api/internal/routing"
	"lexroute/api/internal/trace"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := docstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := docstore.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	retryPolicy := gateway.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryDelay,
	}

	store := docstore.New(db, retryPolicy)

	minioClient, err := minio.New(cfg.ObjStoreEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.ObjStoreAccessKey, cfg.ObjStoreSecretKey, ""),
		Secure: cfg.ObjStoreUseSSL,
	})
	if err != nil {
		log.Fatalf("object store client failed: %v", err)
	}

	var cache objstore.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for regulation caching")
		redisCache, err := objstore.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		log.Printf("Using in-process regulation cache")
		cache = objstore.NewMemoryCache(cfg.CacheTTL)
	}

	objects := objstore.New(minioClient, cfg.ObjStoreBucket, retryPolicy, cache, nil)

	generator := inference.New(inference.Config{
		BaseURL:     cfg.InferenceURL,
		APIKey:      cfg.InferenceAPIKey,
		ModelID:     cfg.ModelID,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		UnitCostUSD: cfg.TokenUnitCostUSD,
	}, retryPolicy)

	engine := fusion.NewEngine(store, objects, generator, nil)

	service := app.NewService(app.Deps{
		Analyzer:    engine,
		Router:      routing.NewRouter(generator),
		Synthesizer: trace.NewSynthesizer(),
		Precedents:  store,
		Objects:     objects,
		Meter:       generator,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("LexRoute API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
