package models

import "time"

// Episode is one entry of a source feed, re-derived on every fetch. It is
// identified by feed URL plus GUID when the feed provides one, falling back
// to the title.
type Episode struct {
	PodcastTitle string
	Title        string
	GUID         string
	AudioURL     string
	PubDate      *time.Time
	Duration     float64
	Index        int
}
