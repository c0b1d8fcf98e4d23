package models

import "time"

// EpisodeRecord is the durable pipeline state for one (feed, episode) pair.
// The artifact references double as resumability checkpoints: a stage whose
// reference is already set is skipped on the next run.
type EpisodeRecord struct {
	ID                 int       `db:"id" json:"id"`
	FeedURL            string    `db:"feed_url" json:"rss_url"`
	EpisodeTitle       string    `db:"episode_title" json:"episode_title"`
	GUID               *string   `db:"guid" json:"guid,omitempty"`
	PodcastTitle       *string   `db:"podcast_title" json:"podcast_title,omitempty"`
	Status             string    `db:"status" json:"status"`
	Message            *string   `db:"message" json:"message,omitempty"`
	JobID              *string   `db:"job_id" json:"job_id,omitempty"`
	InputRef           *string   `db:"input_ref" json:"input_ref,omitempty"`
	TranscriptRef      *string   `db:"transcript_ref" json:"transcript_ref,omitempty"`
	UnwantedContentRef *string   `db:"unwanted_content_ref" json:"unwanted_content_ref,omitempty"`
	OutputRef          *string   `db:"output_ref" json:"output_ref,omitempty"`
	DurationSeconds    *float64  `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
