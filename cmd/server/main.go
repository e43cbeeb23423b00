package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/sharedo/sharedo/internal/config"
	"github.com/sharedo/sharedo/internal/database"
	"github.com/sharedo/sharedo/internal/httpapi"
	"github.com/sharedo/sharedo/internal/store"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize the store backend
	var st store.Store
	switch cfg.StoreBackend {
	case config.BackendRedisPostgres:
		postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create postgres pool: %v", err)
		}
		defer postgresPool.Close()

		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to create redis client: %v", err)
		}
		defer redisClient.Close()

		rp := store.NewRedisPostgres(postgresPool, redisClient, cfg.CacheTTL)
		if err := rp.Init(ctx); err != nil {
			log.Fatalf("Failed to initialize store: %v", err)
		}
		st = rp
	default:
		st = store.NewMemory()
	}
	defer st.Close()

	// Initialize HTTP Server
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	api, err := httpapi.NewServer(st)
	if err != nil {
		log.Fatalf("Failed to create API server: %v", err)
	}
	api.Register(router)

	// Start Server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("Starting server on port %s (store backend %s)", cfg.ServerPort, cfg.StoreBackend)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}
