package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"pod-optimizer/internal/models"
)

const systemPrompt = "You are a helpful assistant that finds unwanted content " +
	"(advertisements, sponsor reads, filler) in podcast transcripts. " +
	"Respond with a JSON array where each object has 'start_time', 'end_time' " +
	"and 'description' keys. Times are in seconds or HH:MM:SS. " +
	"Respond with [] if the transcript contains no unwanted content."

// Detector classifies unwanted content in a transcript. Unusable model output
// degrades to an empty result, never an error.
type Detector interface {
	FindUnwantedContent(ctx context.Context, transcript string) ([]models.Segment, error)
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

func NewClient(apiURL, apiKey, model string) *Client {
	return &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) FindUnwantedContent(ctx context.Context, transcript string) ([]models.Segment, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Here is the transcript:\n\n" + transcript},
		},
	}

	jsonBody, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classification API returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from LLM")
	}

	return ParseResponse(chatResp.Choices[0].Message.Content), nil
}

type wrappedSegments struct {
	UnwantedContent []models.Segment `json:"unwanted_content"`
}

// ParseResponse extracts segments from raw model output. It tolerates code
// fences, a bare JSON array, and the {"unwanted_content": [...]} wrapper.
// Anything unparseable is treated as "no unwanted content found".
func ParseResponse(raw string) []models.Segment {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var wrapped wrappedSegments
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && wrapped.UnwantedContent != nil {
		return wrapped.UnwantedContent
	}

	var segments []models.Segment
	if err := json.Unmarshal([]byte(cleaned), &segments); err == nil {
		return segments
	}

	// Some models pad the JSON with prose; try the first bracketed block.
	if start := strings.Index(cleaned, "["); start >= 0 {
		if end := strings.LastIndex(cleaned, "]"); end > start {
			if err := json.Unmarshal([]byte(cleaned[start:end+1]), &segments); err == nil {
				return segments
			}
		}
	}

	log.Printf("Could not parse classifier output, treating as no unwanted content: %.200s", raw)
	return nil
}
