package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"pod-optimizer/internal/models"
	"pod-optimizer/internal/timeutil"
)

// ErrEpisodeNotFound is returned when the requested episode is absent from
// the current feed fetch.
var ErrEpisodeNotFound = errors.New("episode not found in feed")

// Fetcher resolves the episode list of a feed. Episodes are re-derived on
// every call; nothing is cached.
type Fetcher struct {
	parser *gofeed.Parser
}

func NewFetcher(client *http.Client) *Fetcher {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &Fetcher{parser: parser}
}

func (f *Fetcher) Episodes(ctx context.Context, feedURL string) ([]models.Episode, error) {
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", feedURL, err)
	}

	episodes := make([]models.Episode, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		episode := models.Episode{
			PodcastTitle: parsed.Title,
			Title:        item.Title,
			GUID:         item.GUID,
			PubDate:      item.PublishedParsed,
			Index:        i,
		}
		if len(item.Enclosures) > 0 {
			episode.AudioURL = item.Enclosures[0].URL
		}
		if item.ITunesExt != nil && item.ITunesExt.Duration != "" {
			if seconds, err := timeutil.ParseDuration(item.ITunesExt.Duration); err == nil {
				episode.Duration = seconds
			}
		}
		episodes = append(episodes, episode)
	}
	return episodes, nil
}

// FindEpisode selects an episode by title when one is given, otherwise by
// index.
func FindEpisode(episodes []models.Episode, title string, index int) (models.Episode, error) {
	if title != "" {
		for _, episode := range episodes {
			if strings.EqualFold(strings.TrimSpace(episode.Title), strings.TrimSpace(title)) {
				return episode, nil
			}
		}
		return models.Episode{}, fmt.Errorf("%w: title %q", ErrEpisodeNotFound, title)
	}
	if index < 0 || index >= len(episodes) {
		return models.Episode{}, fmt.Errorf("%w: index %d out of range", ErrEpisodeNotFound, index)
	}
	return episodes[index], nil
}

// parsePubDate handles the date formats seen in podcast feeds.
func parsePubDate(value string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		time.RFC3339,
	}
	value = strings.TrimSpace(value)
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pubDate %q", value)
}
