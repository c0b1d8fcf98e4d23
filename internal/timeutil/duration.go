package timeutil

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDuration converts a duration in "HH:MM:SS", "MM:SS" or plain seconds
// form (e.g. "5.5") into seconds.
func ParseDuration(value string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	switch len(parts) {
	case 3:
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q", value)
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q", value)
		}
		s, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q", value)
		}
		return float64(h)*3600 + float64(m)*60 + s, nil
	case 2:
		m, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q", value)
		}
		s, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q", value)
		}
		return float64(m)*60 + s, nil
	default:
		seconds, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q", value)
		}
		return seconds, nil
	}
}

// FormatDuration renders seconds as "HH:MM:SS".
func FormatDuration(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
