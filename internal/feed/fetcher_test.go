package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pod-optimizer/internal/models"
)

const fetcherFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Fetch Show</title>
    <description>Episodes for fetching.</description>
    <item>
      <title>First Episode</title>
      <guid>guid-first</guid>
      <pubDate>Mon, 02 Jan 2023 15:04:05 +0000</pubDate>
      <enclosure url="http://media.example/first.mp3" type="audio/mpeg" length="100"/>
      <itunes:duration>01:02:03</itunes:duration>
    </item>
    <item>
      <title>Second Episode</title>
      <guid>guid-second</guid>
      <pubDate>Tue, 03 Jan 2023 15:04:05 +0000</pubDate>
      <enclosure url="http://media.example/second.mp3" type="audio/mpeg" length="100"/>
      <itunes:duration>135</itunes:duration>
    </item>
  </channel>
</rss>`

func TestFetcherEpisodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(fetcherFeedXML))
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client())
	episodes, err := fetcher.Episodes(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, episodes, 2)

	first := episodes[0]
	assert.Equal(t, "Fetch Show", first.PodcastTitle)
	assert.Equal(t, "First Episode", first.Title)
	assert.Equal(t, "guid-first", first.GUID)
	assert.Equal(t, "http://media.example/first.mp3", first.AudioURL)
	assert.InDelta(t, 3723, first.Duration, 0.001)
	assert.Equal(t, 0, first.Index)
	require.NotNil(t, first.PubDate)

	assert.InDelta(t, 135, episodes[1].Duration, 0.001)
	assert.Equal(t, 1, episodes[1].Index)
}

func TestFetcherEpisodesFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := NewFetcher(srv.Client())
	_, err := fetcher.Episodes(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestFindEpisode(t *testing.T) {
	episodes := []models.Episode{
		{Title: "Alpha", Index: 0},
		{Title: "Beta", Index: 1},
	}

	found, err := FindEpisode(episodes, "beta", -1)
	require.NoError(t, err)
	assert.Equal(t, "Beta", found.Title)

	found, err = FindEpisode(episodes, "  Alpha  ", -1)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", found.Title)

	found, err = FindEpisode(episodes, "", 1)
	require.NoError(t, err)
	assert.Equal(t, "Beta", found.Title)

	_, err = FindEpisode(episodes, "Gamma", -1)
	assert.ErrorIs(t, err, ErrEpisodeNotFound)

	_, err = FindEpisode(episodes, "", 5)
	assert.ErrorIs(t, err, ErrEpisodeNotFound)

	_, err = FindEpisode(episodes, "", -1)
	assert.ErrorIs(t, err, ErrEpisodeNotFound)
}

func TestParsePubDate(t *testing.T) {
	parsed, err := parsePubDate("Mon, 02 Jan 2023 15:04:05 +0000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 2, 15, 4, 5, 0, time.UTC), parsed.UTC())

	parsed, err = parsePubDate("Mon, 2 Jan 2023 15:04:05 GMT")
	require.NoError(t, err)
	assert.Equal(t, 2023, parsed.Year())

	_, err = parsePubDate("not a date")
	require.Error(t, err)
}

func TestGenerateProcessedRSS(t *testing.T) {
	outputRef := "http://pods.example/audio/Show/Episode/edited.mp3"
	podcastTitle := "Show"
	duration := 1800.0
	records := []models.EpisodeRecord{
		{
			EpisodeTitle:    "Episode",
			PodcastTitle:    &podcastTitle,
			OutputRef:       &outputRef,
			DurationSeconds: &duration,
			UpdatedAt:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{EpisodeTitle: "No Output Yet"},
	}

	req := httptest.NewRequest("GET", "http://pods.example/rss/processed", nil)
	out, err := GenerateProcessedRSS(records, req)
	require.NoError(t, err)

	assert.Contains(t, out, "Show: Episode")
	assert.Contains(t, out, outputRef)
	assert.Contains(t, out, "00:30:00")
	assert.NotContains(t, out, "No Output Yet")
}
