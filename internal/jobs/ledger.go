package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pod-optimizer/internal/kv"
	"pod-optimizer/internal/models"
)

// ErrJobNotFound is returned when a job id is unknown or expired.
var ErrJobNotFound = errors.New("job not found")

const (
	statusKeyPrefix = "job_status:"
	logKeyPrefix    = "job_log:"
)

// Ledger records job status, progress and an append-only log per job id in a
// key-value store. Entries expire after the retention window; the episode
// record store remains the source of truth.
type Ledger struct {
	store     kv.Store
	retention time.Duration
}

func NewLedger(store kv.Store, retention time.Duration) *Ledger {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Ledger{store: store, retention: retention}
}

// Create registers a queued job with its episode back-reference.
func (l *Ledger) Create(ctx context.Context, jobID, feedURL, episodeTitle string) error {
	job := models.Job{
		ID:           jobID,
		Status:       models.JobStatusQueued,
		Progress:     0,
		Message:      "Queued",
		FeedURL:      feedURL,
		EpisodeTitle: episodeTitle,
		StartTime:    time.Now().UTC(),
	}
	return l.put(ctx, job)
}

// Update advances a job's status, stage, progress and message. Fields set at
// creation (start time, episode back-reference) are preserved.
func (l *Ledger) Update(ctx context.Context, jobID, status, stage string, progress int, message string) error {
	job, err := l.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			return err
		}
		job = models.Job{ID: jobID, StartTime: time.Now().UTC()}
	}

	job.Status = status
	job.CurrentStage = stage
	job.Progress = progress
	job.Message = message
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		now := time.Now().UTC()
		job.EndTime = &now
	}
	return l.put(ctx, job)
}

func (l *Ledger) put(ctx context.Context, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return l.store.Set(ctx, statusKeyPrefix+job.ID, data, l.retention)
}

// Get returns the current job status.
func (l *Ledger) Get(ctx context.Context, jobID string) (models.Job, error) {
	data, err := l.store.Get(ctx, statusKeyPrefix+jobID)
	if errors.Is(err, kv.ErrNotFound) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return models.Job{}, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return job, nil
}

// AppendLog adds one entry to the job's log and refreshes its expiry.
func (l *Ledger) AppendLog(ctx context.Context, jobID, stage, message string) error {
	entry := models.JobLogEntry{Stage: stage, Message: message, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry for job %s: %w", jobID, err)
	}
	key := logKeyPrefix + jobID
	if err := l.store.RPush(ctx, key, data); err != nil {
		return err
	}
	return l.store.Expire(ctx, key, l.retention)
}

// Logs returns the job's log entries in append order.
func (l *Ledger) Logs(ctx context.Context, jobID string) ([]models.JobLogEntry, error) {
	values, err := l.store.LRange(ctx, logKeyPrefix+jobID)
	if err != nil {
		return nil, err
	}
	entries := make([]models.JobLogEntry, 0, len(values))
	for _, v := range values {
		var entry models.JobLogEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListActive returns all jobs currently queued or in progress.
func (l *Ledger) ListActive(ctx context.Context) ([]models.Job, error) {
	keys, err := l.store.Keys(ctx, statusKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var active []models.Job
	for _, key := range keys {
		jobID := strings.TrimPrefix(key, statusKeyPrefix)
		job, err := l.Get(ctx, jobID)
		if err != nil {
			continue
		}
		if job.Status == models.JobStatusQueued || job.Status == models.JobStatusInProgress {
			active = append(active, job)
		}
	}
	return active, nil
}

// Delete removes a job's status and log entries.
func (l *Ledger) Delete(ctx context.Context, jobID string) error {
	return l.store.Delete(ctx, statusKeyPrefix+jobID, logKeyPrefix+jobID)
}
