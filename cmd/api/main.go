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

	"github.com/joho/godotenv"

	"contractflow/api/internal/app"
	"contractflow/api/internal/blob"
	"contractflow/api/internal/cache"
	"contractflow/api/internal/config"
	"contractflow/api/internal/email"
	"contractflow/api/internal/export"
	"contractflow/api/internal/gitrepo"
	"contractflow/api/internal/logging"
	"contractflow/api/internal/search"
	"contractflow/api/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: .env not loaded: %v", err)
	}
	cfg := config.Load()
	ctx := context.Background()
	logger := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		log.Fatalf("failed to create revisions dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	opts := []app.Option{
		app.WithLogger(logger.With("component", "app")),
		app.WithRevisions(gitrepo.New(cfg.RevisionsDir)),
		app.WithExporter(export.NewService()),
		app.WithMailer(email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})),
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.With("component", "search"))
	}
	searchService := search.NewService(meiliClient, pgfts, logger.With("component", "search"))
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}
	opts = append(opts, app.WithSearch(searchService))

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for record and override caching")
		redisCache, err := cache.New(cfg.RedisURL, cfg.RecordCacheTTL, logger.With("component", "cache"))
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		opts = append(opts, app.WithRecordCache(redisCache), app.WithOverrideCache(redisCache))
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		archive, err := blob.New(ctx, blob.Options{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		}, logger)
		if err != nil {
			log.Printf("WARNING: export archive disabled: %v", err)
		} else {
			opts = append(opts, app.WithArchive(archive))
		}
	}

	service := app.New(cfg, dataStore, opts...)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("ContractFlow API listening on %s", cfg.Addr)
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
