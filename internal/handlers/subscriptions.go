package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"pod-optimizer/internal/db"
	"pod-optimizer/internal/models"
	"pod-optimizer/pkg/tasks"
)

type subscriptionRequest struct {
	FeedURL string `json:"rss_url"`
	Title   string `json:"title"`
}

func (h *Handlers) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	subscriptions, err := db.GetAllSubscriptions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	if subscriptions == nil {
		subscriptions = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, subscriptions)
}

// PostSubscription enables automatic processing for a feed. Only episodes
// published from now on are picked up.
func (h *Handlers) PostSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FeedURL == "" {
		writeError(w, http.StatusBadRequest, "rss_url is required")
		return
	}

	title := req.Title
	episodes, err := h.episodes.Episodes(r.Context(), req.FeedURL)
	if err != nil {
		log.Printf("Error validating feed %s: %v", req.FeedURL, err)
		writeError(w, http.StatusBadRequest, "feed could not be fetched")
		return
	}
	if title == "" && len(episodes) > 0 {
		title = episodes[0].PodcastTitle
	}
	if title == "" {
		title = req.FeedURL
	}

	sub, err := db.AddSubscription(req.FeedURL, title)
	if err != nil {
		if strings.Contains(err.Error(), "subscriptions_feed_url_key") {
			writeError(w, http.StatusConflict, "feed is already subscribed")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to add subscription")
		return
	}

	// First check runs immediately rather than waiting for the scheduler.
	task, err := tasks.NewCheckFeedTask(sub.ID)
	if err != nil {
		log.Printf("Error creating task: %v", err)
	} else if _, err := h.asynqClient.Enqueue(task); err != nil {
		log.Printf("Error enqueuing task: %v", err)
	}

	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	feedURL := r.URL.Query().Get("rss_url")
	if feedURL == "" {
		writeError(w, http.StatusBadRequest, "rss_url is required")
		return
	}

	if err := db.DeleteSubscription(feedURL); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
