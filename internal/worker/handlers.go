package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"pod-optimizer/internal/db"
	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/models"
	"pod-optimizer/internal/pipeline"
	"pod-optimizer/pkg/tasks"
)

// EpisodeRunner runs the processing pipeline for one episode. Implemented by
// pipeline.Processor and mocked in tests.
type EpisodeRunner interface {
	Run(ctx context.Context, feedURL, episodeTitle string, episodeIndex int, jobID string) error
}

type TaskHandler struct {
	asynqClient tasks.TaskEnqueuer
	runner      EpisodeRunner
	episodes    pipeline.EpisodeSource
	ledger      *jobs.Ledger
	locks       *locks.Manager
}

func NewTaskHandler(client tasks.TaskEnqueuer, runner EpisodeRunner, episodes pipeline.EpisodeSource, ledger *jobs.Ledger, lockManager *locks.Manager) *TaskHandler {
	return &TaskHandler{
		asynqClient: client,
		runner:      runner,
		episodes:    episodes,
		ledger:      ledger,
		locks:       lockManager,
	}
}

func (h *TaskHandler) HandleProcessEpisodeTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.ProcessEpisodeTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("Processing episode %q of %s (job %s)", p.EpisodeTitle, p.FeedURL, p.JobID)

	err := h.runner.Run(ctx, p.FeedURL, p.EpisodeTitle, p.EpisodeIndex, p.JobID)
	var inProgress *pipeline.AlreadyInProgressError
	if errors.As(err, &inProgress) {
		// Another job owns this episode; retrying would only collide again.
		log.Printf("Episode %q already in progress (job %s), dropping task", p.EpisodeTitle, inProgress.JobID)
		if lerr := h.ledger.Update(ctx, p.JobID, models.JobStatusFailed, "", 0, err.Error()); lerr != nil {
			log.Printf("Error marking job %s failed: %v", p.JobID, lerr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to process episode %q: %w", p.EpisodeTitle, err)
	}

	log.Printf("Successfully processed episode %q (job %s)", p.EpisodeTitle, p.JobID)
	return nil
}

func (h *TaskHandler) HandleCheckFeedTask(ctx context.Context, t *asynq.Task) error {
	var p tasks.CheckFeedTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	log.Printf("Checking feed for subscription: %d", p.SubscriptionID)

	subscription, err := db.GetSubscriptionByID(p.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to get subscription by id: %w", err)
	}

	episodes, err := h.episodes.Episodes(ctx, subscription.FeedURL)
	if err != nil {
		return fmt.Errorf("failed to fetch feed %s: %w", subscription.FeedURL, err)
	}

	for _, episode := range episodes {
		if episode.PubDate == nil || !episode.PubDate.After(subscription.EnabledAt) {
			continue
		}

		if _, err := db.GetRecord(subscription.FeedURL, episode.Title); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("Error checking record for %q: %v", episode.Title, err)
			continue
		}

		if held, err := h.locks.IsHeld(ctx, locks.Key(subscription.FeedURL, episode.Title)); err != nil {
			log.Printf("Error checking lock for %q: %v", episode.Title, err)
			continue
		} else if held {
			continue
		}

		jobID := uuid.New().String()
		if err := h.ledger.Create(ctx, jobID, subscription.FeedURL, episode.Title); err != nil {
			log.Printf("Error creating job for %q: %v", episode.Title, err)
			continue
		}

		task, err := tasks.NewProcessEpisodeTask(subscription.FeedURL, episode.Title, -1, jobID)
		if err != nil {
			log.Printf("failed to create process episode task for %q: %v", episode.Title, err)
			continue
		}
		_, err = h.asynqClient.Enqueue(task,
			asynq.TaskID("process:"+subscription.FeedURL+":"+episode.Title),
			asynq.Timeout(2*time.Hour))
		if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
			log.Printf("failed to enqueue process episode task for %q: %v", episode.Title, err)
			continue
		}
		log.Printf("Enqueued new episode %q of %s (job %s)", episode.Title, subscription.FeedURL, jobID)
	}

	if err := db.TouchSubscriptionChecked(subscription.ID); err != nil {
		log.Printf("Error updating last_checked_at for subscription %d: %v", subscription.ID, err)
	}
	return nil
}

func (h *TaskHandler) HandleCheckAllSubscriptionsTask(ctx context.Context, t *asynq.Task) error {
	log.Println("Checking all subscriptions...")

	subscriptions, err := db.GetAllSubscriptions()
	if err != nil {
		return fmt.Errorf("failed to get all subscriptions: %w", err)
	}

	for _, sub := range subscriptions {
		task, err := tasks.NewCheckFeedTask(sub.ID)
		if err != nil {
			log.Printf("failed to create check feed task for subscription %d: %v", sub.ID, err)
			continue
		}

		_, err = h.asynqClient.Enqueue(task)
		if err != nil {
			log.Printf("failed to enqueue check feed task for subscription %d: %v", sub.ID, err)
			continue
		}
	}

	log.Println("Finished checking all subscriptions.")
	return nil
}
