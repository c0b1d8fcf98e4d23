package handlers

import (
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"pod-optimizer/internal/db"
	"pod-optimizer/internal/feed"
)

// GetReconciledFeed renders the optimized version of a source feed. The
// original is fetched live on every uncached request.
func (h *Handlers) GetReconciledFeed(w http.ResponseWriter, r *http.Request) {
	feedURL := r.URL.Query().Get("url")
	if feedURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	content, err := h.reconciler.BuildFeed(r.Context(), feedURL)
	if err != nil {
		log.Printf("Error reconciling feed %s: %v", feedURL, err)
		writeError(w, http.StatusBadGateway, "failed to build feed")
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write(content)
}

// GetProcessedRSS serves a summary feed of every completed episode.
func (h *Handlers) GetProcessedRSS(w http.ResponseWriter, r *http.Request) {
	records, err := db.GetCompletedRecords()
	if err != nil {
		log.Printf("Error getting completed records: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build feed")
		return
	}

	rss, err := feed.GenerateProcessedRSS(records, r)
	if err != nil {
		log.Printf("Error generating RSS: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to build feed")
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	w.Write([]byte(rss))
}

func (h *Handlers) ServeAudioFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["path"]

	filePath := filepath.Join(h.audioStoragePath, filepath.FromSlash(name))
	if !strings.HasPrefix(filepath.Clean(filePath), filepath.Clean(h.audioStoragePath)) {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	http.ServeFile(w, r, filePath)
}
