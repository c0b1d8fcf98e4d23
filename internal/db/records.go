package db

import (
	"pod-optimizer/internal/models"
)

const (
	StatusProcessing      = "processing"
	StatusDownloaded      = "downloaded"
	StatusTranscribed     = "transcribed"
	StatusContentDetected = "content_detected"
	StatusEdited          = "edited"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
	StatusDeleted         = "deleted"
)

// InFlight reports whether a record status means the episode is mid-pipeline
// and must not be exposed in the reconciled feed.
func InFlight(status string) bool {
	switch status {
	case StatusProcessing, StatusDownloaded, StatusTranscribed, StatusContentDetected, StatusEdited:
		return true
	}
	return false
}

// UpsertRecord creates the record for a (feed, episode) pair or, when one
// already exists, points it at the latest job and resets a failed record to
// processing so the run can resume from its checkpoints.
func UpsertRecord(feedURL, episodeTitle, guid, podcastTitle, jobID string) (models.EpisodeRecord, error) {
	record := models.EpisodeRecord{}
	err := DB.Get(&record, `
		INSERT INTO episode_records (feed_url, episode_title, guid, podcast_title, status, job_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)
		ON CONFLICT (feed_url, episode_title) DO UPDATE SET
			guid = COALESCE(episode_records.guid, EXCLUDED.guid),
			podcast_title = COALESCE(episode_records.podcast_title, EXCLUDED.podcast_title),
			status = CASE WHEN episode_records.status = 'failed' THEN 'processing' ELSE episode_records.status END,
			message = CASE WHEN episode_records.status = 'failed' THEN NULL ELSE episode_records.message END,
			job_id = EXCLUDED.job_id,
			updated_at = NOW()
		RETURNING *`,
		feedURL, episodeTitle, guid, podcastTitle, StatusProcessing, jobID)
	return record, err
}

func GetRecord(feedURL, episodeTitle string) (models.EpisodeRecord, error) {
	record := models.EpisodeRecord{}
	err := DB.Get(&record, "SELECT * FROM episode_records WHERE feed_url = $1 AND episode_title = $2", feedURL, episodeTitle)
	return record, err
}

func GetRecordsByFeed(feedURL string) ([]models.EpisodeRecord, error) {
	var records []models.EpisodeRecord
	err := DB.Select(&records, "SELECT * FROM episode_records WHERE feed_url = $1 ORDER BY created_at DESC", feedURL)
	return records, err
}

func GetCompletedRecords() ([]models.EpisodeRecord, error) {
	var records []models.EpisodeRecord
	err := DB.Select(&records, "SELECT * FROM episode_records WHERE status = 'completed' ORDER BY updated_at DESC")
	return records, err
}

func MarkRecordDownloaded(id int, inputRef string) error {
	_, err := DB.Exec(`
		UPDATE episode_records
		SET status = 'downloaded', input_ref = $1, updated_at = NOW()
		WHERE id = $2`, inputRef, id)
	return err
}

func MarkRecordTranscribed(id int, transcriptRef string) error {
	_, err := DB.Exec(`
		UPDATE episode_records
		SET status = 'transcribed', transcript_ref = $1, updated_at = NOW()
		WHERE id = $2`, transcriptRef, id)
	return err
}

func MarkRecordContentDetected(id int, unwantedContentRef string) error {
	_, err := DB.Exec(`
		UPDATE episode_records
		SET status = 'content_detected', unwanted_content_ref = $1, updated_at = NOW()
		WHERE id = $2`, unwantedContentRef, id)
	return err
}

func MarkRecordEdited(id int, outputRef string) error {
	_, err := DB.Exec(`
		UPDATE episode_records
		SET status = 'edited', output_ref = $1, updated_at = NOW()
		WHERE id = $2`, outputRef, id)
	return err
}

func MarkRecordCompleted(id int, outputRef string, durationSeconds float64) error {
	_, err := DB.Exec(`
		UPDATE episode_records
		SET status = 'completed', output_ref = $1, duration_seconds = NULLIF($2, 0.0), message = NULL, updated_at = NOW()
		WHERE id = $3`, outputRef, durationSeconds, id)
	return err
}

// MarkRecordFailed keeps the failure cause on the record; ledger entries
// expire, the record does not.
func MarkRecordFailed(id int, message string) error {
	_, err := DB.Exec(`
		UPDATE episode_records
		SET status = 'failed', message = NULLIF($1, ''), updated_at = NOW()
		WHERE id = $2`, message, id)
	return err
}

// MarkRecordDeleted clears the output reference but keeps the record, so the
// feed reconciler can suppress the episode permanently.
func MarkRecordDeleted(id int) error {
	_, err := DB.Exec(`
		UPDATE episode_records
		SET status = 'deleted', output_ref = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}
