package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Line is one timed span of transcribed speech.
type Line struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcriber converts downloaded audio into timed transcript lines. A
// transcription failure is fatal to the job; no partial transcript is usable.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Line, error)
}

// Client calls a Whisper-compatible transcription API.
type Client struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

func NewClient(apiURL, apiKey, model string) *Client {
	if model == "" {
		model = "whisper-1"
	}
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		model:  model,
		// Long uploads are expected; a hung call must not pin a worker
		// slot until the lock TTL.
		client: &http.Client{Timeout: 15 * time.Minute},
	}
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []Line `json:"segments"`
}

func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]Line, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	writer.WriteField("model", c.model)
	writer.WriteField("response_format", "verbose_json")
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription API returned %d: %s", resp.StatusCode, string(body))
	}

	var result transcriptionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}
	if len(result.Segments) == 0 {
		return nil, fmt.Errorf("transcription returned no segments")
	}
	return result.Segments, nil
}

// Format renders transcript lines in the "start - end: text" form the
// classifier prompt expects.
func Format(lines []Line) string {
	var b strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&b, "%.2f - %.2f: %s\n", line.Start, line.End, strings.TrimSpace(line.Text))
	}
	return b.String()
}
