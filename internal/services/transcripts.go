package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"eino_agent_router/pkg"

	"github.com/bytedance/sonic"
)

// SegmentFileTranscriber reads diarized segments already produced by an
// external speech-to-text job and stored as a JSON array next to the audio.
// For "meeting.wav" it reads "meeting.json"; a ".json" path is read as is.
type SegmentFileTranscriber struct{}

// Transcribe implements Transcriber
func (SegmentFileTranscriber) Transcribe(ctx context.Context, path string) ([]pkg.Segment, error) {
	if path == "" {
		return nil, fmt.Errorf("audio path cannot be empty")
	}

	segmentsPath := path
	if ext := filepath.Ext(path); !strings.EqualFold(ext, ".json") {
		segmentsPath = strings.TrimSuffix(path, ext) + ".json"
	}

	data, err := os.ReadFile(filepath.Clean(segmentsPath))
	if err != nil {
		return nil, fmt.Errorf("error reading transcript segments: %w", err)
	}

	var segments []pkg.Segment
	if err := sonic.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("error parsing transcript segments: %w", err)
	}
	return segments, nil
}
