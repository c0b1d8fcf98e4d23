package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"pod-optimizer/internal/timeutil"
)

// Segment is a span of unwanted content detected in an episode. Times are in
// seconds. The classifier may emit times as numbers, numeric strings, "MM:SS"
// or "HH:MM:SS"; decoding normalizes all of them.
type Segment struct {
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Description string  `json:"description"`
}

func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw struct {
		StartTime   json.RawMessage `json:"start_time"`
		EndTime     json.RawMessage `json:"end_time"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	start, err := decodeSeconds(raw.StartTime)
	if err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	end, err := decodeSeconds(raw.EndTime)
	if err != nil {
		return fmt.Errorf("end_time: %w", err)
	}

	s.StartTime = start
	s.EndTime = end
	s.Description = raw.Description
	return nil
}

func decodeSeconds(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing value")
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		return timeutil.ParseDuration(str)
	}
	return strconv.ParseFloat(string(raw), 64)
}
