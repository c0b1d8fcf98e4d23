package audio

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"strings"

	"pod-optimizer/internal/models"
)

var execCommandContext = exec.CommandContext

// Range is a half-open span of audio in seconds. End < 0 means "to the end
// of the stream".
type Range struct {
	Start float64
	End   float64
}

// SegmentRemover splices spans of unwanted content out of an audio file.
type SegmentRemover interface {
	RemoveSegments(ctx context.Context, inputPath, outputPath string, segments []models.Segment) error
}

// Editor drives ffmpeg. An empty segment list produces a stream copy of the
// input.
type Editor struct{}

func NewEditor() *Editor {
	return &Editor{}
}

func (e *Editor) RemoveSegments(ctx context.Context, inputPath, outputPath string, segments []models.Segment) error {
	keeps := KeepRanges(segments)
	if len(keeps) == 1 && keeps[0].Start == 0 && keeps[0].End < 0 {
		return e.copy(ctx, inputPath, outputPath)
	}

	filter := buildFilter(keeps)
	cmd := execCommandContext(ctx, "ffmpeg",
		"-y",
		"-i", inputPath,
		"-filter_complex", filter,
		"-map", "[out]",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("ffmpeg failed: %v, output: %s", err, string(output))
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

func (e *Editor) copy(ctx context.Context, inputPath, outputPath string) error {
	cmd := execCommandContext(ctx, "ffmpeg", "-y", "-i", inputPath, "-c", "copy", outputPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("ffmpeg copy failed: %v, output: %s", err, string(output))
		return fmt.Errorf("ffmpeg copy failed: %w", err)
	}
	return nil
}

// CutRanges normalizes detected segments into an ascending, non-overlapping
// cut list: reversed spans are swapped, the list is sorted by start, and each
// cut's start is clamped to the previous cut's end.
func CutRanges(segments []models.Segment) []Range {
	cuts := make([]Range, 0, len(segments))
	for _, s := range segments {
		start, end := s.StartTime, s.EndTime
		if end < start {
			start, end = end, start
		}
		if start < 0 {
			start = 0
		}
		cuts = append(cuts, Range{Start: start, End: end})
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Start < cuts[j].Start })

	merged := make([]Range, 0, len(cuts))
	var cursor float64
	for _, cut := range cuts {
		if cut.Start < cursor {
			cut.Start = cursor
		}
		if cut.End <= cut.Start {
			continue
		}
		merged = append(merged, cut)
		cursor = cut.End
	}
	return merged
}

// KeepRanges inverts the cut list into the spans of audio to retain. The
// final range is open-ended.
func KeepRanges(segments []models.Segment) []Range {
	var keeps []Range
	var cursor float64
	for _, cut := range CutRanges(segments) {
		if cut.Start > cursor {
			keeps = append(keeps, Range{Start: cursor, End: cut.Start})
		}
		cursor = cut.End
	}
	keeps = append(keeps, Range{Start: cursor, End: -1})
	return keeps
}

func buildFilter(keeps []Range) string {
	var trims, labels []string
	for i, keep := range keeps {
		label := fmt.Sprintf("a%d", i)
		if keep.End < 0 {
			trims = append(trims, fmt.Sprintf("[0:a]atrim=start=%.3f,asetpts=PTS-STARTPTS[%s]", keep.Start, label))
		} else {
			trims = append(trims, fmt.Sprintf("[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS[%s]", keep.Start, keep.End, label))
		}
		labels = append(labels, "["+label+"]")
	}
	return fmt.Sprintf("%s;%sconcat=n=%d:v=0:a=1[out]",
		strings.Join(trims, ";"), strings.Join(labels, ""), len(keeps))
}
