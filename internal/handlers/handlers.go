package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"pod-optimizer/internal/feed"
	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/pipeline"
	"pod-optimizer/internal/storage"
	"pod-optimizer/pkg/tasks"
)

type Handlers struct {
	asynqClient      tasks.TaskEnqueuer
	ledger           *jobs.Ledger
	locks            *locks.Manager
	reconciler       *feed.Reconciler
	episodes         pipeline.EpisodeSource
	artifacts        storage.Store
	cache            *feed.Cache
	audioStoragePath string
}

func New(asynqClient tasks.TaskEnqueuer, ledger *jobs.Ledger, lockManager *locks.Manager, reconciler *feed.Reconciler, episodes pipeline.EpisodeSource, artifacts storage.Store, cache *feed.Cache, audioStoragePath string) *Handlers {
	return &Handlers{
		asynqClient:      asynqClient,
		ledger:           ledger,
		locks:            lockManager,
		reconciler:       reconciler,
		episodes:         episodes,
		artifacts:        artifacts,
		cache:            cache,
		audioStoragePath: audioStoragePath,
	}
}

func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
