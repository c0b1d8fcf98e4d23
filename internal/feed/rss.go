package feed

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/eduncan911/podcast"

	"pod-optimizer/internal/models"
	"pod-optimizer/internal/timeutil"
)

func getBaseURL(r *http.Request) string {
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		return baseURL
	}

	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "https"
		if r.Header.Get("X-Forwarded-Proto") != "" {
			scheme = r.Header.Get("X-Forwarded-Proto")
		}
	}

	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// GenerateProcessedRSS builds a summary feed of every completed episode across
// all source feeds, pointing at the edited audio.
func GenerateProcessedRSS(records []models.EpisodeRecord, r *http.Request) (string, error) {
	baseURL := getBaseURL(r)
	now := time.Now()

	p := podcast.New(
		"Optimized Episodes",
		baseURL+"/rss/processed",
		"Episodes that have been processed to remove unwanted content.",
		&now, &now,
	)

	for _, record := range records {
		if record.OutputRef == nil {
			continue
		}
		title := record.EpisodeTitle
		if record.PodcastTitle != nil {
			title = fmt.Sprintf("%s: %s", *record.PodcastTitle, record.EpisodeTitle)
		}
		description := "Optimized version of " + record.EpisodeTitle
		if record.DurationSeconds != nil {
			description += fmt.Sprintf(" (%s)", timeutil.FormatDuration(*record.DurationSeconds))
		}
		pubDate := record.UpdatedAt
		item := podcast.Item{
			Title:       title,
			Description: description,
			PubDate:     &pubDate,
		}
		item.AddEnclosure(*record.OutputRef, podcast.MP3, 0)
		if _, err := p.AddItem(item); err != nil {
			return "", err
		}
	}

	return p.String(), nil
}
