package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"clearpath/api/internal/app"
	"clearpath/api/internal/authpw"
	"clearpath/api/internal/config"
	"clearpath/api/internal/content"
	"clearpath/api/internal/email"
	"clearpath/api/internal/history"
	"clearpath/api/internal/importer"
	"clearpath/api/internal/media"
	"clearpath/api/internal/offline"
	"clearpath/api/internal/search"
	"clearpath/api/internal/session"
	"clearpath/api/internal/store"
)

// dbPinger adapts *sql.DB to the readiness probe.
type dbPinger struct{ db *sql.DB }

func (p dbPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

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
	dataStore := store.NewPostgresStore(db)

	// Content blobs live in Redis when available so several replicas share
	// one store; otherwise on the local filesystem.
	var blob content.BlobStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisBlob, err := content.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis content store failed: %v", err)
		}
		defer redisBlob.Close()
		blob = redisBlob
	} else {
		fileBlob, err := content.NewFileStore(cfg.ContentDir)
		if err != nil {
			log.Fatalf("content dir failed: %v", err)
		}
		blob = fileBlob
	}
	engine := content.NewEngine(blob, content.Options{})
	unified := content.NewUnifiedStore(blob, engine.Bus(), nil)

	var sessions interface {
		SaveRefreshSession(ctx context.Context, tokenHash string, sess session.Session, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (session.Session, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisSessions.Close()
		sessions = redisSessions
	} else {
		log.Printf("Using in-memory refresh token storage; sessions reset on restart")
		sessions = session.NewMemoryStore()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewLocal())

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatalf("failed to create history dir: %v", err)
	}
	historyService := history.New(cfg.HistoryDir)

	var mediaLibrary app.MediaLibrary
	if strings.TrimSpace(cfg.MinioEndpoint) != "" && strings.TrimSpace(cfg.MinioAccessKey) != "" {
		mediaService, err := media.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: media storage unavailable: %v", err)
		} else {
			mediaLibrary = mediaService
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(app.Deps{
		Config:    cfg,
		Store:     dataStore,
		Sessions:  sessions,
		DB:        dbPinger{db: db},
		Engine:    engine,
		Unified:   unified,
		Passwords: authpw.NewService(dataStore),
		Renderer:  importer.NewLiveRenderer(),
		Search:    searchService,
		History:   historyService,
		Mailer:    mailer,
		Media:     mediaLibrary,
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	// The offline controller fronts everything that is not the API: it
	// proxies the public site with per-class cache strategies so the site
	// stays readable through network drops.
	front := offline.New(offline.Config{
		VersionTag:     cfg.CacheVersion,
		Host:           cfg.SiteHost,
		StaticManifest: cfg.PrecacheStatic,
		ImageManifest:  cfg.PrecacheImages,
	})
	if err := front.Install(ctx); err != nil {
		log.Printf("WARNING: offline precache failed: %v", err)
	}
	front.Activate()

	mux := http.NewServeMux()
	mux.Handle("/api/", httpServer.Handler())
	mux.Handle("/", front)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Clearpath API listening on %s", cfg.Addr)
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
