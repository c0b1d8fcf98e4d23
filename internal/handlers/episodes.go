package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"pod-optimizer/internal/db"
	"pod-optimizer/internal/models"
)

type deleteEpisodeRequest struct {
	FeedURL      string `json:"rss_url"`
	EpisodeTitle string `json:"episode_title"`
}

// GetEpisodes lists episode records, either for one feed or every completed
// episode across feeds.
func (h *Handlers) GetEpisodes(w http.ResponseWriter, r *http.Request) {
	feedURL := r.URL.Query().Get("rss_url")

	var records []models.EpisodeRecord
	var err error
	if feedURL != "" {
		records, err = db.GetRecordsByFeed(feedURL)
	} else {
		records, err = db.GetCompletedRecords()
	}
	if err != nil {
		log.Printf("Error listing episode records: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list episodes")
		return
	}
	if records == nil {
		records = []models.EpisodeRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// DeleteEpisode removes the processed audio and tombstones the record. The
// episode stays suppressed in the reconciled feed and is never reprocessed.
func (h *Handlers) DeleteEpisode(w http.ResponseWriter, r *http.Request) {
	var req deleteEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FeedURL == "" || req.EpisodeTitle == "" {
		writeError(w, http.StatusBadRequest, "rss_url and episode_title are required")
		return
	}

	record, err := db.GetRecord(req.FeedURL, req.EpisodeTitle)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "episode not found")
		return
	}
	if err != nil {
		log.Printf("Error getting episode record: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get episode")
		return
	}

	for _, ref := range []*string{record.OutputRef, record.InputRef, record.TranscriptRef, record.UnwantedContentRef} {
		if ref == nil {
			continue
		}
		if err := h.artifacts.Remove(*ref); err != nil {
			log.Printf("Error removing artifact %s: %v", *ref, err)
		}
	}

	if err := db.MarkRecordDeleted(record.ID); err != nil {
		log.Printf("Error marking record %d deleted: %v", record.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete episode")
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), req.FeedURL)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
