package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"eino_agent_router/internal/llm/llmtest"
	"eino_agent_router/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeakerName(t *testing.T) {
	assert.Equal(t, "Speaker 1", SpeakerName("SPEAKER_00"))
	assert.Equal(t, "Speaker 3", SpeakerName("speaker_02"))
	assert.Equal(t, "Alice", SpeakerName("Alice"))
	assert.Equal(t, "Unknown speaker", SpeakerName(""))
}

func TestMergeSegments(t *testing.T) {
	merged := MergeSegments([]pkg.Segment{
		{Speaker: "SPEAKER_00", Text: "Good morning."},
		{Speaker: "SPEAKER_00", Text: "Let's start."},
		{Speaker: "SPEAKER_01", Text: "  "},
		{Speaker: "SPEAKER_01", Text: "Budget is approved."},
		{Speaker: "SPEAKER_00", Text: "Great."},
	})
	assert.Equal(t, "Speaker 1: Good morning. Let's start.\n\nSpeaker 2: Budget is approved.\n\nSpeaker 1: Great.", merged)

	assert.Equal(t, NoTranscriptMessage, MergeSegments(nil))
}

func TestTranscribe(t *testing.T) {
	ctx := context.Background()
	segments := []pkg.Segment{{Speaker: "SPEAKER_00", Text: "hello"}}

	t.Run("attachment", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Static(""), func(d *Deps) {
			d.Transcriber = stubTranscriber{segments: segments}
		})
		u, err := set.Transcribe(ctx, &pkg.WorkflowState{Attachment: "meeting.wav"})
		require.NoError(t, err)
		assert.Equal(t, segments, u.Transcript)
	})

	t.Run("reuses previous transcript", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Static(""), nil)
		u, err := set.Transcribe(ctx, &pkg.WorkflowState{Transcript: segments})
		require.NoError(t, err)
		assert.True(t, u.IsEmpty())
	})

	t.Run("nothing to transcribe", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Static(""), nil)
		_, err := set.Transcribe(ctx, &pkg.WorkflowState{})
		assert.Error(t, err)
	})

	t.Run("transcriber failure", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Static(""), func(d *Deps) {
			d.Transcriber = stubTranscriber{err: errors.New("codec")}
		})
		_, err := set.Transcribe(ctx, &pkg.WorkflowState{Attachment: "meeting.wav"})
		assert.Error(t, err)

		fb := TranscribeFallback(&pkg.WorkflowState{})
		assert.NotNil(t, fb.Transcript)
		assert.Empty(t, fb.Transcript)
	})
}

func TestGenerateMinutes(t *testing.T) {
	ctx := context.Background()
	transcript := "Speaker 1: We reviewed the quarterly budget and agreed to hire two engineers.\n\nSpeaker 2: I will draft the job posting by Friday."

	t.Run("streams minutes", func(t *testing.T) {
		main := llmtest.New(script{minutes: "Overview: budget review. Action: draft posting."}.reply)
		set := newTestSet(t, llmtest.Static(""), main, nil)

		deltas, emit := collectDeltas()
		u, err := set.GenerateMinutes(ctx, &pkg.WorkflowState{
			MergedTranscript: transcript,
			Messages:         []pkg.Message{pkg.UserMessage("minutes please")},
		}, emit)
		require.NoError(t, err)
		assert.Equal(t, "Overview: budget review. Action: draft posting.", u.Answer)
		assert.Equal(t, u.Answer, strings.Join(*deltas, ""))
		assert.Equal(t, "main-model", u.ModelUsed)
		assert.Contains(t, llmtest.LastContent(main.LastPrompt()), "hire two engineers")
		assert.Contains(t, llmtest.LastContent(main.LastPrompt()), "minutes please")
	})

	t.Run("short transcript", func(t *testing.T) {
		main := llmtest.Static("minutes")
		set := newTestSet(t, llmtest.Static(""), main, nil)

		_, emit := collectDeltas()
		u, err := set.GenerateMinutes(ctx, &pkg.WorkflowState{MergedTranscript: "Speaker 1: hi"}, emit)
		require.NoError(t, err)
		assert.Equal(t, ShortMeetingNotice, u.Answer)
		assert.Zero(t, main.Calls())
	})

	t.Run("no transcript", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Static("minutes"), nil)

		_, emit := collectDeltas()
		u, err := set.GenerateMinutes(ctx, &pkg.WorkflowState{MergedTranscript: NoTranscriptMessage}, emit)
		require.NoError(t, err)
		assert.Equal(t, NoTranscriptMessage, u.Answer)
	})

	t.Run("model failure", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Failing(errors.New("boom")), nil)

		_, emit := collectDeltas()
		_, err := set.GenerateMinutes(ctx, &pkg.WorkflowState{MergedTranscript: transcript}, emit)
		assert.Error(t, err)
	})
}
