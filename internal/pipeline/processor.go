package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"pod-optimizer/internal/audio"
	"pod-optimizer/internal/db"
	"pod-optimizer/internal/detect"
	"pod-optimizer/internal/feed"
	"pod-optimizer/internal/jobs"
	"pod-optimizer/internal/locks"
	"pod-optimizer/internal/models"
	"pod-optimizer/internal/storage"
	"pod-optimizer/internal/transcribe"
)

const (
	StageFetchEpisodes    = "FETCH_EPISODES"
	StageDownload         = "DOWNLOAD"
	StageTranscription    = "TRANSCRIPTION"
	StageContentDetection = "CONTENT_DETECTION"
	StageAudioEditing     = "AUDIO_EDITING"
	StageCleanup          = "CLEANUP"
	StageCompletion       = "COMPLETION"
)

// AlreadyInProgressError is returned when another job holds the processing
// lock for the same episode.
type AlreadyInProgressError struct {
	JobID string
}

func (e *AlreadyInProgressError) Error() string {
	if e.JobID == "" {
		return "episode is already being processed"
	}
	return fmt.Sprintf("episode is already being processed by job %s", e.JobID)
}

// EpisodeSource resolves the episode list of a feed.
type EpisodeSource interface {
	Episodes(ctx context.Context, feedURL string) ([]models.Episode, error)
}

// Processor drives one episode through the pipeline. Each stage checkpoints
// an artifact reference on the episode record, so an interrupted run resumes
// where it left off instead of redoing finished work.
type Processor struct {
	Episodes    EpisodeSource
	Artifacts   storage.Store
	Transcriber transcribe.Transcriber
	Detector    detect.Detector
	Editor      audio.SegmentRemover
	Ledger      *jobs.Ledger
	Locks       *locks.Manager
	Cache       *feed.Cache
	HTTPClient  *http.Client
	WorkDir     string
	LockTTL     time.Duration
}

// Run executes the pipeline for one episode under the job id. The lock for
// (feed, episode) is held for the duration and released on every exit path;
// if another job already holds it, Run returns AlreadyInProgressError without
// touching the record.
func (p *Processor) Run(ctx context.Context, feedURL, episodeTitle string, episodeIndex int, jobID string) error {
	p.update(ctx, jobID, models.JobStatusInProgress, StageFetchEpisodes, 10, "Fetching episodes")

	episodes, err := p.Episodes.Episodes(ctx, feedURL)
	if err != nil {
		return p.fail(ctx, jobID, 0, StageFetchEpisodes, err)
	}
	episode, err := feed.FindEpisode(episodes, episodeTitle, episodeIndex)
	if err != nil {
		return p.fail(ctx, jobID, 0, StageFetchEpisodes, err)
	}
	p.logStage(ctx, jobID, StageFetchEpisodes, fmt.Sprintf("Found %d episodes, selected %q", len(episodes), episode.Title))
	p.update(ctx, jobID, models.JobStatusInProgress, StageFetchEpisodes, 20, "Episodes fetched")

	lockKey := locks.Key(feedURL, episode.Title)
	acquired, err := p.Locks.TryAcquire(ctx, lockKey, jobID, p.LockTTL)
	if err != nil {
		return p.fail(ctx, jobID, 0, StageFetchEpisodes, err)
	}
	if !acquired {
		holder, _ := p.Locks.Holder(ctx, lockKey)
		return &AlreadyInProgressError{JobID: holder}
	}
	defer func() {
		if err := p.Locks.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			log.Printf("Error releasing lock %s: %v", lockKey, err)
		}
	}()

	existing, err := db.GetRecord(feedURL, episode.Title)
	if err == nil {
		switch existing.Status {
		case db.StatusCompleted:
			log.Printf("Episode %q has already been processed, skipping", episode.Title)
			p.update(ctx, jobID, models.JobStatusCompleted, StageCompletion, 100, "Episode already processed")
			return nil
		case db.StatusDeleted:
			return p.fail(ctx, jobID, 0, StageFetchEpisodes, fmt.Errorf("episode %q was deleted and will not be reprocessed", episode.Title))
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return p.fail(ctx, jobID, 0, StageFetchEpisodes, err)
	}

	record, err := db.UpsertRecord(feedURL, episode.Title, episode.GUID, episode.PodcastTitle, jobID)
	if err != nil {
		return p.fail(ctx, jobID, 0, StageFetchEpisodes, err)
	}

	workDir := filepath.Join(p.WorkDir, storage.SafeName(episode.PodcastTitle), storage.SafeName(episode.Title))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return p.fail(ctx, jobID, record.ID, StageDownload, err)
	}
	keyPrefix := storage.SafeName(episode.PodcastTitle) + "/" + storage.SafeName(episode.Title) + "/"
	inputLocal := filepath.Join(workDir, "original.mp3")

	// DOWNLOAD
	var inputRef string
	if record.InputRef != nil && p.Artifacts.Exists(*record.InputRef) {
		inputRef = *record.InputRef
		p.logStage(ctx, jobID, StageDownload, "Input already stored, skipping download")
	} else {
		p.update(ctx, jobID, models.JobStatusInProgress, StageDownload, 30, "Downloading episode")
		if err := p.download(ctx, episode.AudioURL, inputLocal); err != nil {
			return p.fail(ctx, jobID, record.ID, StageDownload, err)
		}
		inputRef, err = p.Artifacts.Put(inputLocal, keyPrefix+"original_"+storage.SafeName(episode.Title)+".mp3")
		if err != nil {
			return p.fail(ctx, jobID, record.ID, StageDownload, err)
		}
		if err := db.MarkRecordDownloaded(record.ID, inputRef); err != nil {
			return p.fail(ctx, jobID, record.ID, StageDownload, err)
		}
		p.update(ctx, jobID, models.JobStatusInProgress, StageDownload, 40, "Episode downloaded")
		p.logStage(ctx, jobID, StageDownload, "Episode downloaded")
	}

	// TRANSCRIPTION
	transcriptLocal := filepath.Join(workDir, "transcript.txt")
	var transcriptRef string
	if record.TranscriptRef != nil && p.Artifacts.Exists(*record.TranscriptRef) {
		transcriptRef = *record.TranscriptRef
		p.logStage(ctx, jobID, StageTranscription, "Transcript already stored, skipping transcription")
	} else {
		p.update(ctx, jobID, models.JobStatusInProgress, StageTranscription, 50, "Transcribing audio")
		if err := p.ensureLocal(inputRef, inputLocal); err != nil {
			return p.fail(ctx, jobID, record.ID, StageTranscription, err)
		}
		lines, err := p.Transcriber.Transcribe(ctx, inputLocal)
		if err != nil {
			return p.fail(ctx, jobID, record.ID, StageTranscription, err)
		}
		if err := os.WriteFile(transcriptLocal, []byte(transcribe.Format(lines)), 0644); err != nil {
			return p.fail(ctx, jobID, record.ID, StageTranscription, err)
		}
		transcriptRef, err = p.Artifacts.Put(transcriptLocal, keyPrefix+"transcript.txt")
		if err != nil {
			return p.fail(ctx, jobID, record.ID, StageTranscription, err)
		}
		if err := db.MarkRecordTranscribed(record.ID, transcriptRef); err != nil {
			return p.fail(ctx, jobID, record.ID, StageTranscription, err)
		}
		p.update(ctx, jobID, models.JobStatusInProgress, StageTranscription, 60, "Transcription completed")
		p.logStage(ctx, jobID, StageTranscription, "Transcription completed")
	}

	// CONTENT_DETECTION always runs: it is cheap and prompts change between
	// attempts.
	p.update(ctx, jobID, models.JobStatusInProgress, StageContentDetection, 70, "Detecting unwanted content")
	if err := p.ensureLocal(transcriptRef, transcriptLocal); err != nil {
		return p.fail(ctx, jobID, record.ID, StageContentDetection, err)
	}
	transcript, err := os.ReadFile(transcriptLocal)
	if err != nil {
		return p.fail(ctx, jobID, record.ID, StageContentDetection, err)
	}
	segments, err := p.Detector.FindUnwantedContent(ctx, string(transcript))
	if err != nil {
		return p.fail(ctx, jobID, record.ID, StageContentDetection, err)
	}
	segmentsLocal := filepath.Join(workDir, "unwanted_content.json")
	segmentsJSON, _ := json.MarshalIndent(map[string][]models.Segment{"unwanted_content": segments}, "", "  ")
	if err := os.WriteFile(segmentsLocal, segmentsJSON, 0644); err != nil {
		return p.fail(ctx, jobID, record.ID, StageContentDetection, err)
	}
	unwantedRef, err := p.Artifacts.Put(segmentsLocal, keyPrefix+"unwanted_content.json")
	if err != nil {
		return p.fail(ctx, jobID, record.ID, StageContentDetection, err)
	}
	if err := db.MarkRecordContentDetected(record.ID, unwantedRef); err != nil {
		return p.fail(ctx, jobID, record.ID, StageContentDetection, err)
	}
	p.update(ctx, jobID, models.JobStatusInProgress, StageContentDetection, 80, "Unwanted content detection completed")
	p.logStage(ctx, jobID, StageContentDetection, fmt.Sprintf("Found %d segments of unwanted content", len(segments)))

	// AUDIO_EDITING degrades to the original audio on failure; a broken edit
	// must never block publication.
	p.update(ctx, jobID, models.JobStatusInProgress, StageAudioEditing, 90, "Editing audio")
	outputRef := inputRef
	edited := false
	if len(segments) == 0 {
		p.logStage(ctx, jobID, StageAudioEditing, "No unwanted content found, skipping audio editing")
	} else if err := p.ensureLocal(inputRef, inputLocal); err != nil {
		p.logStage(ctx, jobID, StageAudioEditing, fmt.Sprintf("Audio editing failed, using original audio: %v", err))
	} else {
		outputLocal := filepath.Join(workDir, "edited.mp3")
		if err := p.Editor.RemoveSegments(ctx, inputLocal, outputLocal, segments); err != nil {
			p.logStage(ctx, jobID, StageAudioEditing, fmt.Sprintf("Audio editing failed, using original audio: %v", err))
		} else if ref, err := p.Artifacts.Put(outputLocal, keyPrefix+"edited_"+storage.SafeName(episode.Title)+".mp3"); err != nil {
			p.logStage(ctx, jobID, StageAudioEditing, fmt.Sprintf("Failed to store edited audio, using original: %v", err))
		} else {
			outputRef = ref
			edited = true
			p.logStage(ctx, jobID, StageAudioEditing, "Audio editing completed")
		}
	}
	if err := db.MarkRecordEdited(record.ID, outputRef); err != nil {
		return p.fail(ctx, jobID, record.ID, StageAudioEditing, err)
	}

	// CLEANUP
	p.update(ctx, jobID, models.JobStatusInProgress, StageCleanup, 95, "Cleaning up local files")
	if err := os.RemoveAll(workDir); err != nil {
		log.Printf("Error cleaning up %s: %v", workDir, err)
	}
	p.logStage(ctx, jobID, StageCleanup, "Local files cleaned up")

	// COMPLETION
	// The shortened duration only holds when the cuts were really applied;
	// on the degraded path the published audio is the original.
	finalDuration := episode.Duration
	if edited {
		finalDuration = editedDuration(episode.Duration, segments)
	}
	if err := db.MarkRecordCompleted(record.ID, outputRef, finalDuration); err != nil {
		return p.fail(ctx, jobID, record.ID, StageCompletion, err)
	}
	if p.Cache != nil {
		p.Cache.Invalidate(ctx, feedURL)
	}
	p.update(ctx, jobID, models.JobStatusCompleted, StageCompletion, 100, "Podcast processing completed")
	p.logStage(ctx, jobID, StageCompletion, "Podcast processing completed")
	return nil
}

// editedDuration estimates the output duration from the source duration and
// the removed spans. Returns 0 when the source duration is unknown.
func editedDuration(source float64, segments []models.Segment) float64 {
	if source <= 0 {
		return 0
	}
	var removed float64
	for _, cut := range audio.CutRanges(segments) {
		end := cut.End
		if end > source {
			end = source
		}
		if end > cut.Start {
			removed += end - cut.Start
		}
	}
	if removed >= source {
		return 0
	}
	return source - removed
}

func (p *Processor) download(ctx context.Context, url, dest string) error {
	if url == "" {
		return fmt.Errorf("episode has no media URL")
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return out.Close()
}

func (p *Processor) ensureLocal(ref, localPath string) error {
	if _, err := os.Stat(localPath); err == nil {
		return nil
	}
	return p.Artifacts.Fetch(ref, localPath)
}

func (p *Processor) update(ctx context.Context, jobID, status, stage string, progress int, message string) {
	if err := p.Ledger.Update(ctx, jobID, status, stage, progress, message); err != nil {
		log.Printf("Error updating job %s: %v", jobID, err)
	}
}

func (p *Processor) logStage(ctx context.Context, jobID, stage, message string) {
	log.Printf("STAGE:%s: %s (job %s)", stage, message, jobID)
	if err := p.Ledger.AppendLog(ctx, jobID, stage, message); err != nil {
		log.Printf("Error appending log for job %s: %v", jobID, err)
	}
}

func (p *Processor) fail(ctx context.Context, jobID string, recordID int, stage string, err error) error {
	p.logStage(ctx, jobID, stage, "Failed: "+err.Error())
	p.update(ctx, jobID, models.JobStatusFailed, stage, 0, err.Error())
	if recordID != 0 {
		if dbErr := db.MarkRecordFailed(recordID, err.Error()); dbErr != nil {
			log.Printf("Error marking record %d failed: %v", recordID, dbErr)
		}
	}
	return err
}
