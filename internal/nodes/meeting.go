package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"eino_agent_router/internal/llm"
	"eino_agent_router/pkg"
)

// Meeting notices returned without a model call
const (
	NoTranscriptMessage = "No transcribed content was found."
	ShortMeetingNotice  = "There is not enough meeting content to write minutes."

	minMinutesInput = 50
)

// Transcribe turns the attached recording into speaker segments. Without an
// attachment the thread's previous transcript is reused.
func (s *Set) Transcribe(ctx context.Context, state *pkg.WorkflowState) (pkg.Update, error) {
	if state.Attachment == "" {
		if len(state.Transcript) > 0 {
			return pkg.Update{}, nil
		}
		return pkg.Update{}, fmt.Errorf("no recording attached")
	}

	segments, err := s.deps.Transcriber.Transcribe(ctx, state.Attachment)
	if err != nil {
		return pkg.Update{}, fmt.Errorf("transcribe %s: %w", state.Attachment, err)
	}
	s.deps.Logger.Info().
		Str("node", "transcribe").
		Str("thread_id", state.ThreadID).
		Int("segments", len(segments)).
		Msg("Recording transcribed")
	if segments == nil {
		segments = []pkg.Segment{}
	}
	return pkg.Update{Transcript: segments}, nil
}

// TranscribeFallback leaves an empty transcript so the pipeline reports
// that there is nothing to summarize
func TranscribeFallback(*pkg.WorkflowState) pkg.Update {
	return pkg.Update{Transcript: []pkg.Segment{}}
}

// MergeTranscript joins consecutive segments of the same speaker into
// labelled paragraphs
func (s *Set) MergeTranscript(ctx context.Context, state *pkg.WorkflowState) (pkg.Update, error) {
	return pkg.Update{MergedTranscript: MergeSegments(state.Transcript)}, nil
}

// MergeSegments renders segments as "Speaker N: text" paragraphs
func MergeSegments(segments []pkg.Segment) string {
	var (
		b       strings.Builder
		speaker string
		parts   []string
	)
	flush := func() {
		if len(parts) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s: %s", SpeakerName(speaker), strings.Join(parts, " "))
		parts = nil
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Speaker != speaker {
			flush()
			speaker = seg.Speaker
		}
		parts = append(parts, text)
	}
	flush()

	if b.Len() == 0 {
		return NoTranscriptMessage
	}
	return b.String()
}

// SpeakerName maps diarization labels like SPEAKER_00 to "Speaker 1"
func SpeakerName(label string) string {
	if label == "" {
		return "Unknown speaker"
	}
	if rest, ok := strings.CutPrefix(strings.ToUpper(label), "SPEAKER_"); ok {
		if n, err := strconv.Atoi(rest); err == nil {
			return "Speaker " + strconv.Itoa(n+1)
		}
	}
	return label
}

// GenerateMinutes streams meeting minutes from the merged transcript
func (s *Set) GenerateMinutes(ctx context.Context, state *pkg.WorkflowState, emit func(string)) (pkg.Update, error) {
	transcript := strings.TrimSpace(state.MergedTranscript)

	var notice string
	switch {
	case transcript == "" || transcript == NoTranscriptMessage:
		notice = NoTranscriptMessage
	case len([]rune(transcript)) < minMinutesInput:
		notice = ShortMeetingNotice
	}
	if notice != "" {
		emit(notice)
		return pkg.Update{
			Messages: []pkg.Message{pkg.AssistantMessage(notice)},
			Answer:   notice,
		}, nil
	}

	request := state.LastUserMessage()
	if request == "" {
		request = "Write the meeting minutes."
	}
	prompt, err := s.minutes.Format(ctx, map[string]any{
		"request":    request,
		"transcript": transcript,
	})
	if err != nil {
		return pkg.Update{}, fmt.Errorf("format minutes prompt: %w", err)
	}

	text, err := llm.StreamText(ctx, s.deps.Models.Main, prompt, emit)
	if err != nil {
		return pkg.Update{}, err
	}
	minutes := strings.TrimSpace(text)
	if minutes == "" {
		return pkg.Update{}, fmt.Errorf("model returned empty minutes")
	}

	s.deps.Logger.Info().Str("node", "generate_minutes").Str("thread_id", state.ThreadID).Int("length", len(minutes)).Msg("Minutes generated")
	return pkg.Update{
		Messages:  []pkg.Message{pkg.AssistantMessage(minutes)},
		Answer:    minutes,
		ModelUsed: s.deps.Models.MainName,
	}, nil
}
