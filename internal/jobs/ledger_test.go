package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pod-optimizer/internal/kv"
	"pod-optimizer/internal/models"
)

func TestLedgerCreateAndGet(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), time.Hour)

	err := ledger.Create(ctx, "job-1", "https://example.com/feed.xml", "Episode 1")
	assert.NoError(t, err)

	job, err := ledger.Get(ctx, "job-1")
	assert.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "https://example.com/feed.xml", job.FeedURL)
	assert.Equal(t, "Episode 1", job.EpisodeTitle)
	assert.False(t, job.StartTime.IsZero())
}

func TestLedgerGetUnknown(t *testing.T) {
	ledger := NewLedger(kv.NewMemoryStore(), time.Hour)
	_, err := ledger.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestLedgerUpdatePreservesBackReference(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), time.Hour)

	assert.NoError(t, ledger.Create(ctx, "job-1", "https://example.com/feed.xml", "Episode 1"))
	assert.NoError(t, ledger.Update(ctx, "job-1", models.JobStatusInProgress, "DOWNLOAD", 30, "Downloading episode"))

	job, err := ledger.Get(ctx, "job-1")
	assert.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, job.Status)
	assert.Equal(t, "DOWNLOAD", job.CurrentStage)
	assert.Equal(t, 30, job.Progress)
	assert.Equal(t, "https://example.com/feed.xml", job.FeedURL)
	assert.Nil(t, job.EndTime)
}

func TestLedgerTerminalStatusSetsEndTime(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), time.Hour)

	assert.NoError(t, ledger.Create(ctx, "job-1", "feed", "ep"))
	assert.NoError(t, ledger.Update(ctx, "job-1", models.JobStatusCompleted, "COMPLETION", 100, "Done"))

	job, err := ledger.Get(ctx, "job-1")
	assert.NoError(t, err)
	assert.NotNil(t, job.EndTime)
}

func TestLedgerLogs(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), time.Hour)

	assert.NoError(t, ledger.AppendLog(ctx, "job-1", "DOWNLOAD", "Downloading episode"))
	assert.NoError(t, ledger.AppendLog(ctx, "job-1", "TRANSCRIPTION", "Transcription completed"))

	logs, err := ledger.Logs(ctx, "job-1")
	assert.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, "DOWNLOAD", logs[0].Stage)
	assert.Equal(t, "TRANSCRIPTION", logs[1].Stage)
	assert.False(t, logs[0].Timestamp.After(logs[1].Timestamp))
}

func TestLedgerListActive(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), time.Hour)

	assert.NoError(t, ledger.Create(ctx, "queued", "feed", "ep1"))
	assert.NoError(t, ledger.Create(ctx, "running", "feed", "ep2"))
	assert.NoError(t, ledger.Update(ctx, "running", models.JobStatusInProgress, "DOWNLOAD", 30, ""))
	assert.NoError(t, ledger.Create(ctx, "done", "feed", "ep3"))
	assert.NoError(t, ledger.Update(ctx, "done", models.JobStatusCompleted, "COMPLETION", 100, ""))

	active, err := ledger.ListActive(ctx)
	assert.NoError(t, err)

	ids := make([]string, 0, len(active))
	for _, job := range active {
		ids = append(ids, job.ID)
	}
	assert.ElementsMatch(t, []string{"queued", "running"}, ids)
}

func TestLedgerDelete(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), time.Hour)

	assert.NoError(t, ledger.Create(ctx, "job-1", "feed", "ep"))
	assert.NoError(t, ledger.AppendLog(ctx, "job-1", "DOWNLOAD", "x"))
	assert.NoError(t, ledger.Delete(ctx, "job-1"))

	_, err := ledger.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	logs, err := ledger.Logs(ctx, "job-1")
	assert.NoError(t, err)
	assert.Empty(t, logs)
}

func TestLedgerRetentionExpiry(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(kv.NewMemoryStore(), 20*time.Millisecond)

	assert.NoError(t, ledger.Create(ctx, "job-1", "feed", "ep"))
	time.Sleep(30 * time.Millisecond)

	_, err := ledger.Get(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
