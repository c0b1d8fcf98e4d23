package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"

	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/models"
	"pod-optimizer/pkg/tasks"
)

type processRequest struct {
	FeedURL      string `json:"rss_url"`
	EpisodeTitle string `json:"episode_title"`
	EpisodeIndex *int   `json:"episode_index"`
}

type jobResponse struct {
	models.Job
	Logs []models.JobLogEntry `json:"logs,omitempty"`
}

// PostProcess accepts a processing request and returns the job id right away;
// the pipeline runs in the worker.
func (h *Handlers) PostProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FeedURL == "" {
		writeError(w, http.StatusBadRequest, "rss_url is required")
		return
	}
	index := -1
	if req.EpisodeIndex != nil {
		index = *req.EpisodeIndex
	}
	if req.EpisodeTitle == "" && index < 0 {
		writeError(w, http.StatusBadRequest, "episode_title or episode_index is required")
		return
	}

	if req.EpisodeTitle != "" {
		holder, err := h.locks.Holder(r.Context(), locks.Key(req.FeedURL, req.EpisodeTitle))
		if err != nil {
			log.Printf("Error checking lock for %q: %v", req.EpisodeTitle, err)
		} else if holder != "" {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":  "episode is already being processed",
				"job_id": holder,
			})
			return
		}
	}

	jobID := uuid.New().String()
	if err := h.ledger.Create(r.Context(), jobID, req.FeedURL, req.EpisodeTitle); err != nil {
		log.Printf("Error creating job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	task, err := tasks.NewProcessEpisodeTask(req.FeedURL, req.EpisodeTitle, index, jobID)
	if err != nil {
		log.Printf("Error creating task: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	if _, err := h.asynqClient.Enqueue(task, asynq.Timeout(2*time.Hour)); err != nil {
		log.Printf("Error enqueuing task: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue task")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.ledger.Get(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("Error getting job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	logEntries, err := h.ledger.Logs(r.Context(), jobID)
	if err != nil {
		log.Printf("Error getting logs for job %s: %v", jobID, err)
	}

	writeJSON(w, http.StatusOK, jobResponse{Job: job, Logs: logEntries})
}

func (h *Handlers) GetJobs(w http.ResponseWriter, r *http.Request) {
	active, err := h.ledger.ListActive(r.Context())
	if err != nil {
		log.Printf("Error listing jobs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if active == nil {
		active = []models.Job{}
	}
	writeJSON(w, http.StatusOK, active)
}

func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if _, err := h.ledger.Get(r.Context(), jobID); errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := h.ledger.Delete(r.Context(), jobID); err != nil {
		log.Printf("Error deleting job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
