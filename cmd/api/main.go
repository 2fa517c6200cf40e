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

	"formloom/api/internal/access"
	"formloom/api/internal/app"
	"formloom/api/internal/assets"
	"formloom/api/internal/collab"
	"formloom/api/internal/config"
	"formloom/api/internal/history"
	"formloom/api/internal/schema"
	"formloom/api/internal/search"
	"formloom/api/internal/session"
	"formloom/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.SnapshotsDir, 0o755); err != nil {
		log.Fatalf("failed to create snapshots dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.SnapshotsDir)

	pgForms := search.NewPgForms(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgForms)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	var assetService *assets.Service
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		assetService, err = assets.New(ctx, assets.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	} else {
		log.Printf("S3 endpoint not configured, background uploads disabled")
	}

	state := collab.NewPGStateStore(dataStore, nil)
	registry := collab.NewRegistry(state)
	gate := collab.NewGate(sessions, access.NewChecker(dataStore))

	// The observer reports into the service, which is constructed after the
	// engine; the func adapter closes over the later assignment.
	var service *app.Service
	observer := collab.NewObserver(cfg.FlushDebounce, collab.MetadataFunc(func(ctx context.Context, formID string, stats schema.Stats) error {
		return service.UpdateMetadata(ctx, formID, stats)
	}), state)
	engine := collab.NewEngine(gate, registry, observer, state)

	service = app.NewService(app.Deps{
		Store:       dataStore,
		Sessions:    sessions,
		Engine:      engine,
		History:     historyService,
		Search:      searchService,
		Assets:      assetService,
		TokenSecret: cfg.TokenSecret,
		SessionTTL:  cfg.SessionTTL,
	})

	searchService.ReindexAllFromPG(ctx)

	hub := collab.NewHub(engine)
	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Formloom API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
