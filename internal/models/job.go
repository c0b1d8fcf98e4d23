package models

import "time"

const (
	JobStatusQueued     = "queued"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is one invocation of the pipeline for one episode. It lives in the job
// ledger for the duration of its retention window; the EpisodeRecord is the
// source of truth.
type Job struct {
	ID           string     `json:"job_id"`
	Status       string     `json:"status"`
	CurrentStage string     `json:"current_stage"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message"`
	FeedURL      string     `json:"rss_url"`
	EpisodeTitle string     `json:"episode_title"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// JobLogEntry is one line of a job's append-only log.
type JobLogEntry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
