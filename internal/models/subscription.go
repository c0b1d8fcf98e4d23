package models

import "time"

// Subscription enables automatic processing for a feed. Only episodes
// published after EnabledAt are picked up, so enabling never reprocesses a
// back catalog.
type Subscription struct {
	ID            int        `db:"id" json:"id"`
	FeedURL       string     `db:"feed_url" json:"rss_url"`
	Title         string     `db:"title" json:"title"`
	EnabledAt     time.Time  `db:"enabled_at" json:"enabled_at"`
	LastCheckedAt *time.Time `db:"last_checked_at" json:"last_checked_at,omitempty"`
}
