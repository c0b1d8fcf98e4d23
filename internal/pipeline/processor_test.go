package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/kv"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/models"
	"pod-optimizer/internal/test"
	"pod-optimizer/internal/transcribe"
)

var recordColumns = []string{
	"id", "feed_url", "episode_title", "guid", "podcast_title", "status", "job_id",
	"input_ref", "transcript_ref", "unwanted_content_ref", "output_ref",
	"duration_seconds", "created_at", "updated_at",
}

type fakeEpisodes struct {
	episodes []models.Episode
	err      error
}

func (f *fakeEpisodes) Episodes(ctx context.Context, feedURL string) ([]models.Episode, error) {
	return f.episodes, f.err
}

// fakeArtifacts is an in-memory storage.Store.
type fakeArtifacts struct {
	objects map[string][]byte
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: make(map[string][]byte)}
}

func (f *fakeArtifacts) Put(localPath, key string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	ref := "mem://" + key
	f.objects[ref] = data
	return ref, nil
}

func (f *fakeArtifacts) Exists(ref string) bool {
	_, ok := f.objects[ref]
	return ok
}

func (f *fakeArtifacts) Fetch(ref, localPath string) error {
	data, ok := f.objects[ref]
	if !ok {
		return errors.New("not stored: " + ref)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

func (f *fakeArtifacts) Remove(ref string) error {
	delete(f.objects, ref)
	return nil
}

type fakeTranscriber struct {
	lines  []transcribe.Line
	err    error
	called int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) ([]transcribe.Line, error) {
	f.called++
	return f.lines, f.err
}

type fakeDetector struct {
	segments []models.Segment
	err      error
	called   int
}

func (f *fakeDetector) FindUnwantedContent(ctx context.Context, transcript string) ([]models.Segment, error) {
	f.called++
	return f.segments, f.err
}

type fakeEditor struct {
	err    error
	called int
}

func (f *fakeEditor) RemoveSegments(ctx context.Context, input, output string, segments []models.Segment) error {
	f.called++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(output, []byte("edited audio"), 0644)
}

type fixture struct {
	processor *Processor
	store     *kv.MemoryStore
	ledger    *jobs.Ledger
	locks     *locks.Manager
	artifacts *fakeArtifacts
	transc    *fakeTranscriber
	detector  *fakeDetector
	editor    *fakeEditor
	mock      sqlmock.Sqlmock
	episode   models.Episode
}

func newFixture(t *testing.T, audioURL string) *fixture {
	t.Helper()
	_, mock := test.NewMockDB(t)

	store := kv.NewMemoryStore()
	f := &fixture{
		store:     store,
		ledger:    jobs.NewLedger(store, time.Hour),
		locks:     locks.NewManager(store),
		artifacts: newFakeArtifacts(),
		transc:    &fakeTranscriber{lines: []transcribe.Line{{Start: 0, End: 5, Text: "hello"}}},
		detector:  &fakeDetector{},
		editor:    &fakeEditor{},
		mock:      mock,
		episode: models.Episode{
			PodcastTitle: "Test Show",
			Title:        "Episode One",
			GUID:         "guid-1",
			AudioURL:     audioURL,
			Duration:     100,
		},
	}
	f.processor = &Processor{
		Episodes:    &fakeEpisodes{episodes: []models.Episode{f.episode}},
		Artifacts:   f.artifacts,
		Transcriber: f.transc,
		Detector:    f.detector,
		Editor:      f.editor,
		Ledger:      f.ledger,
		Locks:       f.locks,
		WorkDir:     t.TempDir(),
		LockTTL:     time.Minute,
	}
	return f
}

func audioServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("original audio"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func expectRecordRow(f *fixture, status string, inputRef, transcriptRef *string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(recordColumns).AddRow(
		1, "http://feed.example/rss", f.episode.Title, f.episode.GUID, f.episode.PodcastTitle,
		status, "job-1", inputRef, transcriptRef, nil, nil, nil, now, now)
}

func TestRunFullPipeline(t *testing.T) {
	srv := audioServer(t)
	f := newFixture(t, srv.URL+"/ep1.mp3")
	f.detector.segments = []models.Segment{{StartTime: 10, EndTime: 20, Description: "sponsor read"}}

	f.mock.ExpectQuery(`SELECT \* FROM episode_records`).
		WillReturnError(sql.ErrNoRows)
	f.mock.ExpectQuery(`INSERT INTO episode_records`).
		WillReturnRows(expectRecordRow(f, "processing", nil, nil))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'downloaded'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'transcribed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'content_detected'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'edited'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'completed'`).
		WithArgs("mem://Test_Show/Episode_One/edited_Episode_One.mp3", 90.0, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.processor.Run(context.Background(), "http://feed.example/rss", "Episode One", -1, "job-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.transc.called)
	assert.Equal(t, 1, f.detector.called)
	assert.Equal(t, 1, f.editor.called)
	assert.True(t, f.artifacts.Exists("mem://Test_Show/Episode_One/edited_Episode_One.mp3"))

	job, err := f.ledger.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.EndTime)

	held, err := f.locks.IsHeld(context.Background(), locks.Key("http://feed.example/rss", "Episode One"))
	require.NoError(t, err)
	assert.False(t, held, "lock must be released after the run")

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunCompletedEpisodeIsNoOp(t *testing.T) {
	f := newFixture(t, "http://media.example/ep1.mp3")

	f.mock.ExpectQuery(`SELECT \* FROM episode_records`).
		WillReturnRows(expectRecordRow(f, "completed", nil, nil))

	err := f.processor.Run(context.Background(), "http://feed.example/rss", "Episode One", -1, "job-2")
	require.NoError(t, err)

	assert.Zero(t, f.transc.called)
	assert.Zero(t, f.detector.called)
	assert.Zero(t, f.editor.called)

	job, err := f.ledger.Get(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunAlreadyLockedReturnsInProgress(t *testing.T) {
	f := newFixture(t, "http://media.example/ep1.mp3")

	key := locks.Key("http://feed.example/rss", "Episode One")
	acquired, err := f.locks.TryAcquire(context.Background(), key, "other-job", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	err = f.processor.Run(context.Background(), "http://feed.example/rss", "Episode One", -1, "job-3")
	var inProgress *AlreadyInProgressError
	require.ErrorAs(t, err, &inProgress)
	assert.Equal(t, "other-job", inProgress.JobID)

	// The holder keeps its lock.
	holder, err := f.locks.Holder(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "other-job", holder)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunResumesFromCheckpoints(t *testing.T) {
	f := newFixture(t, "http://media.example/unreachable.mp3")

	inputRef := "mem://Test_Show/Episode_One/original_Episode_One.mp3"
	transcriptRef := "mem://Test_Show/Episode_One/transcript.txt"
	f.artifacts.objects[inputRef] = []byte("original audio")
	f.artifacts.objects[transcriptRef] = []byte("0.00 - 5.00: hello\n")

	f.mock.ExpectQuery(`SELECT \* FROM episode_records`).
		WillReturnRows(expectRecordRow(f, "transcribed", &inputRef, &transcriptRef))
	f.mock.ExpectQuery(`INSERT INTO episode_records`).
		WillReturnRows(expectRecordRow(f, "transcribed", &inputRef, &transcriptRef))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'content_detected'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'edited'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.processor.Run(context.Background(), "http://feed.example/rss", "Episode One", -1, "job-4")
	require.NoError(t, err)

	// The unreachable media URL proves the download was skipped, and the
	// transcriber was never consulted again.
	assert.Zero(t, f.transc.called)
	assert.Equal(t, 1, f.detector.called)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunTranscriptionFailureFailsJob(t *testing.T) {
	srv := audioServer(t)
	f := newFixture(t, srv.URL+"/ep1.mp3")
	f.transc.err = errors.New("whisper unavailable")

	f.mock.ExpectQuery(`SELECT \* FROM episode_records`).
		WillReturnError(sql.ErrNoRows)
	f.mock.ExpectQuery(`INSERT INTO episode_records`).
		WillReturnRows(expectRecordRow(f, "processing", nil, nil))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'downloaded'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The failure cause is persisted on the record, not just the ledger.
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'failed', message = NULLIF`).
		WithArgs("whisper unavailable", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.processor.Run(context.Background(), "http://feed.example/rss", "Episode One", -1, "job-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper unavailable")

	assert.Zero(t, f.detector.called)
	assert.Zero(t, f.editor.called)

	job, err := f.ledger.Get(context.Background(), "job-5")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.EndTime)

	held, err := f.locks.IsHeld(context.Background(), locks.Key("http://feed.example/rss", "Episode One"))
	require.NoError(t, err)
	assert.False(t, held)

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRunEditingFailureDegradesToOriginal(t *testing.T) {
	srv := audioServer(t)
	f := newFixture(t, srv.URL+"/ep1.mp3")
	f.detector.segments = []models.Segment{{StartTime: 10, EndTime: 20}}
	f.editor.err = errors.New("ffmpeg exited with status 1")

	inputRef := "mem://Test_Show/Episode_One/original_Episode_One.mp3"

	f.mock.ExpectQuery(`SELECT \* FROM episode_records`).
		WillReturnError(sql.ErrNoRows)
	f.mock.ExpectQuery(`INSERT INTO episode_records`).
		WillReturnRows(expectRecordRow(f, "processing", nil, nil))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'downloaded'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'transcribed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'content_detected'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'edited'`).
		WithArgs(inputRef, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Degraded output keeps the original audio's duration, not the
	// would-have-been-edited one.
	f.mock.ExpectExec(`UPDATE episode_records\s+SET status = 'completed'`).
		WithArgs(inputRef, 100.0, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.processor.Run(context.Background(), "http://feed.example/rss", "Episode One", -1, "job-6")
	require.NoError(t, err)

	assert.Equal(t, 1, f.editor.called)
	job, err := f.ledger.Get(context.Background(), "job-6")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	logs, err := f.ledger.Logs(context.Background(), "job-6")
	require.NoError(t, err)
	var degraded bool
	for _, entry := range logs {
		if entry.Stage == StageAudioEditing && strings.Contains(entry.Message, "using original audio") {
			degraded = true
		}
	}
	assert.True(t, degraded, "editing failure should be logged")

	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEditedDuration(t *testing.T) {
	segments := []models.Segment{{StartTime: 10, EndTime: 30}, {StartTime: 50, EndTime: 60}}
	assert.InDelta(t, 70, editedDuration(100, segments), 0.001)
	assert.Zero(t, editedDuration(0, segments))
	assert.InDelta(t, 100, editedDuration(100, nil), 0.001)
	// Segments beyond the source duration are clamped.
	assert.InDelta(t, 90, editedDuration(100, []models.Segment{{StartTime: 90, EndTime: 500}}), 0.001)
}
