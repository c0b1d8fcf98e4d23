package main

import (
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"pod-optimizer/internal/audio"
	"pod-optimizer/internal/config"
	"pod-optimizer/internal/db"
	"pod-optimizer/internal/detect"
	"pod-optimizer/internal/feed"
	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/kv"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/pipeline"
	"pod-optimizer/internal/storage"
	"pod-optimizer/internal/transcribe"
	"pod-optimizer/internal/worker"
	"pod-optimizer/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

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

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer client.Close()

	audioDir := filepath.Join(cfg.DataDir, "audio")
	artifacts, err := storage.NewFileStore(audioDir, cfg.BaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize artifact storage: %v", err)
	}

	ledger := jobs.NewLedger(store, cfg.JobRetention)
	lockManager := locks.NewManager(store)
	cache := feed.NewCache(store, cfg.FeedCacheTTL)
	fetcher := feed.NewFetcher(nil)

	processor := &pipeline.Processor{
		Episodes:    fetcher,
		Artifacts:   artifacts,
		Transcriber: transcribe.NewClient(cfg.TranscriptionAPIURL, cfg.OpenAIAPIKey, cfg.TranscriptionModel),
		Detector:    detect.NewClient(cfg.LLMAPIURL, cfg.OpenAIAPIKey, cfg.LLMModel),
		Editor:      audio.NewEditor(),
		Ledger:      ledger,
		Locks:       lockManager,
		Cache:       cache,
		HTTPClient:  &http.Client{Timeout: 10 * time.Minute},
		WorkDir:     filepath.Join(cfg.DataDir, "work"),
		LockTTL:     cfg.LockTTL,
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"high":    2,
				"default": 1,
			},
			// Custom retry delay function for exponential backoff
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := 5 * time.Minute
				maxDelay := 24 * time.Hour

				// Exponential backoff: 5min, 10min, 20min, 40min, 80min, etc.
				for i := 0; i < n; i++ {
					delay *= 2
					if delay > maxDelay {
						delay = maxDelay
						break
					}
				}

				log.Printf("Task %s failed %d times, retrying in %v", task.Type(), n+1, delay)
				return delay
			},
		},
	)

	mux := asynq.NewServeMux()
	taskHandler := worker.NewTaskHandler(client, processor, fetcher, ledger, lockManager)

	mux.HandleFunc(tasks.TypeProcessEpisode, taskHandler.HandleProcessEpisodeTask)
	mux.HandleFunc(tasks.TypeCheckFeed, taskHandler.HandleCheckFeedTask)
	mux.HandleFunc(tasks.TypeCheckAllSubscriptions, taskHandler.HandleCheckAllSubscriptionsTask)

	log.Printf("Worker starting (commit: %s)", CommitSHA)
	if err := srv.Run(mux); err != nil {
		log.Fatalf("could not run server: %v", err)
	}
}
