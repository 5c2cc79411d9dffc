package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akash/amount-extractor/backend/internal/auth"
	"github.com/akash/amount-extractor/backend/internal/config"
	"github.com/akash/amount-extractor/backend/internal/middleware"
	"github.com/akash/amount-extractor/backend/internal/ocr"
	"github.com/akash/amount-extractor/backend/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	// ── PostgreSQL ────────────────────────────────────────────
	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres connect: %v", err)
	}
	defer pgPool.Close()
	pgStore := store.NewPostgresStore(pgPool)
	if err := pgStore.Migrate(ctx); err != nil {
		log.Fatalf("postgres migrate: %v", err)
	}

	// ── MongoDB (optional response archive) ──────────────────
	var archive ocr.Archiver
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("mongo connect: %v", err)
		}
		defer mongoClient.Disconnect(ctx)
		archive = store.NewArchiveStore(mongoClient.Database(cfg.MongoDB))
	}

	// ── Redis (optional results cache) ───────────────────────
	var cache ocr.Cache
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		defer rdb.Close()
		cache = store.NewResultsCache(rdb)
	}

	// ── MinIO (optional upload retention) ────────────────────
	var files ocr.FileStore
	if cfg.MinioEndpoint != "" {
		uploads, err := store.NewUploadStore(
			ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
			cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL,
		)
		if err != nil {
			log.Fatalf("minio connect: %v", err)
		}
		files = uploads
	}

	// ── Tokens ───────────────────────────────────────────────
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// ── OCR client ───────────────────────────────────────────
	ocrClient := ocr.NewClient(cfg.OCRServiceURL)

	// ── Handlers ─────────────────────────────────────────────
	authHandler := auth.NewHandler(pgStore, tokens)
	ocrHandler := ocr.NewHandler(pgStore, ocrClient, archive, files, cache)

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth routes (public)
	r.Post("/signup", authHandler.Signup)
	r.Post("/login", authHandler.Login)

	// Proxy routes (protected)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens))
		r.Post("/process_image_stepwise", ocrHandler.Process)
		r.Get("/results", ocrHandler.Results)
	})

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Gateway listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
}
