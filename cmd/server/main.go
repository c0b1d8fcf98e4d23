package main

import (
	"log"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"pod-optimizer/internal/config"
	"pod-optimizer/internal/db"
	"pod-optimizer/internal/feed"
	"pod-optimizer/internal/handlers"
	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/kv"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/middleware"
	"pod-optimizer/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db.InitDB()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	store := kv.NewRedisStore(redisClient)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asynqClient.Close()

	audioDir := filepath.Join(cfg.DataDir, "audio")
	artifacts, err := storage.NewFileStore(audioDir, cfg.BaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize artifact storage: %v", err)
	}

	ledger := jobs.NewLedger(store, cfg.JobRetention)
	lockManager := locks.NewManager(store)
	cache := feed.NewCache(store, cfg.FeedCacheTTL)
	fetcher := feed.NewFetcher(nil)

	reconciler := &feed.Reconciler{
		Enqueuer: asynqClient,
		Ledger:   ledger,
		Locks:    lockManager,
		Cache:    cache,
		BaseURL:  cfg.BaseURL,
	}

	h := handlers.New(asynqClient, ledger, lockManager, reconciler, fetcher, artifacts, cache, audioDir)
	limiter := middleware.NewRateLimiterMiddleware(rate.Limit(5), 10)

	router := newRouter(h, limiter)

	log.Printf("Starting server on :%s\n", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal(err)
	}
}

func newRouter(h *handlers.Handlers, limiter *middleware.RateLimiterMiddleware) *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(limiter.Middleware)
	api.HandleFunc("/health", h.GetHealth).Methods("GET")
	api.HandleFunc("/process", h.PostProcess).Methods("POST")
	api.HandleFunc("/jobs", h.GetJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.DeleteJob).Methods("DELETE")
	api.HandleFunc("/episodes", h.GetEpisodes).Methods("GET")
	api.HandleFunc("/episodes", h.DeleteEpisode).Methods("DELETE")
	api.HandleFunc("/subscriptions", h.GetSubscriptions).Methods("GET")
	api.HandleFunc("/subscriptions", h.PostSubscription).Methods("POST")
	api.HandleFunc("/subscriptions", h.DeleteSubscription).Methods("DELETE")

	router.HandleFunc("/feed", h.GetReconciledFeed).Methods("GET")
	router.HandleFunc("/rss/processed", h.GetProcessedRSS).Methods("GET")
	router.HandleFunc("/audio/{path:.*}", h.ServeAudioFile).Methods("GET")

	return router
}
