package workflows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"eino_agent_router/internal/core"
	"eino_agent_router/internal/llm"
	"eino_agent_router/internal/llm/llmtest"
	"eino_agent_router/internal/nodes"
	"eino_agent_router/internal/storage"
	"eino_agent_router/pkg"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	fast   *llmtest.FakeModel
	main   *llmtest.FakeModel
	store  *storage.MemoryStore
	engine *core.Engine
	graph  *core.Graph
}

func routeByPrompt(agent, question, summary string) llmtest.Reply {
	return func(msgs []*schema.Message) (string, error) {
		system := llmtest.SystemContent(msgs)
		switch {
		case strings.Contains(system, "route user requests"):
			return agent, nil
		case strings.Contains(system, "Classify the user's question"):
			return question, nil
		case strings.Contains(system, "condense conversations"):
			return summary, nil
		}
		return "", errors.New("unexpected prompt")
	}
}

type segmentsTranscriber []pkg.Segment

func (s segmentsTranscriber) Transcribe(ctx context.Context, path string) ([]pkg.Segment, error) {
	return s, nil
}

func newFixture(t *testing.T, fast, main *llmtest.FakeModel, mutate func(*nodes.Deps)) *fixture {
	t.Helper()
	deps := nodes.Deps{
		Models:  &llm.Models{Fast: fast, Main: main, FastName: "fast-model", MainName: "main-model"},
		Counter: llm.WordCounter{Ratio: 1},
		Budget:  nodes.BudgetConfig{MaxTokens: 8000, KeepRatio: 0.3, SummaryMaxTokens: 500},
	}
	if mutate != nil {
		mutate(&deps)
	}
	set, err := nodes.NewSet(context.Background(), deps)
	require.NoError(t, err)

	g, err := NewRouterGraph(set)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	return &fixture{fast: fast, main: main, store: store, engine: core.NewEngine(store), graph: g}
}

func userTurn(text string) pkg.Update {
	return pkg.Update{Messages: []pkg.Message{pkg.UserMessage(text)}}
}

func drain(t *testing.T, events <-chan pkg.Event) []pkg.Event {
	t.Helper()
	var out []pkg.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return out
		}
	}
}

func TestGraphsCompile(t *testing.T) {
	f := newFixture(t, llmtest.Static("chat"), llmtest.Static("ok"), nil)
	assert.True(t, f.graph.Compiled())
	assert.Equal(t, []string{NodeCompactHistory, NodeDetectAgent, NodeChatAgent, NodeMeetingAgent}, f.graph.Nodes())
}

func TestRouter_FactQuestion(t *testing.T) {
	fast := llmtest.New(routeByPrompt("chat", "FACT", ""))
	main := llmtest.Static("The capital of France is Paris.")
	f := newFixture(t, fast, main, nil)

	state, err := f.engine.Invoke(context.Background(), f.graph, "T1", userTurn("What is the capital of France?"))
	require.NoError(t, err)

	assert.Equal(t, pkg.AgentChat, state.AgentType)
	assert.Equal(t, pkg.QuestionFact, state.QuestionType)
	assert.Equal(t, "The capital of France is Paris.", state.Answer)
	assert.Equal(t, "main-model", state.ModelUsed)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, pkg.RoleUser, state.Messages[0].Role)
	assert.Equal(t, pkg.RoleAssistant, state.Messages[1].Role)

	cp, err := f.store.Load(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Sequence)
	assert.Len(t, cp.State.Messages, 2)
}

func TestRouter_AgentTypePersists(t *testing.T) {
	fast := llmtest.New(routeByPrompt("chat", "SUMMARY", ""))
	f := newFixture(t, fast, llmtest.Static("Summary."), nil)
	ctx := context.Background()

	_, err := f.engine.Invoke(ctx, f.graph, "T1", userTurn("summarize the report"))
	require.NoError(t, err)
	afterFirst := fast.Calls()

	state, err := f.engine.Invoke(ctx, f.graph, "T1", userTurn("and the appendix?"))
	require.NoError(t, err)

	// only question classification runs on the second turn
	assert.Equal(t, afterFirst+1, fast.Calls())
	assert.Equal(t, pkg.AgentChat, state.AgentType)
	assert.Len(t, state.Messages, 4)
}

func TestRouter_CompactsLongHistory(t *testing.T) {
	var summarized int
	route := routeByPrompt("chat", "FACT", "Earlier the user shared a long list of words.")
	fast := llmtest.New(func(msgs []*schema.Message) (string, error) {
		if strings.Contains(llmtest.SystemContent(msgs), "condense conversations") {
			for _, m := range msgs {
				if strings.HasPrefix(m.Content, "word") {
					summarized++
				}
			}
		}
		return route(msgs)
	})
	f := newFixture(t, fast, llmtest.Static("Noted."), nil)
	ctx := context.Background()

	history := make([]pkg.Message, 0, 50)
	for i := 0; i < 50; i++ {
		role := pkg.RoleUser
		if i%2 == 1 {
			role = pkg.RoleAssistant
		}
		history = append(history, pkg.NewMessage(role, strings.TrimSpace(strings.Repeat("word ", 180))))
	}
	_, err := f.store.Save(ctx, "T2", pkg.WorkflowState{ThreadID: "T2", Messages: history, AgentType: pkg.AgentChat})
	require.NoError(t, err)

	state, err := f.engine.Invoke(ctx, f.graph, "T2", userTurn("what next"))
	require.NoError(t, err)

	assert.Equal(t, "Earlier the user shared a long list of words.", state.Digest)
	require.NotEmpty(t, state.Messages)
	assert.Equal(t, pkg.RoleSystem, state.Messages[0].Role)
	assert.True(t, strings.HasPrefix(state.Messages[0].Content, nodes.DigestPrefix))

	// digest, 13 verbatim history messages, the new question and the answer
	require.Len(t, state.Messages, 16)
	for i, m := range state.Messages[1:14] {
		assert.Equal(t, history[37+i].ID, m.ID)
	}
	assert.Equal(t, "what next", state.Messages[14].Content)
	assert.Equal(t, "Noted.", state.Messages[15].Content)

	verbatim := llm.CountMessages(llm.WordCounter{Ratio: 1}, state.Messages[1:15])
	assert.LessOrEqual(t, verbatim, 2400)

	assert.Equal(t, 37, summarized)
}

func TestRouter_CompactionFailureKeepsHistory(t *testing.T) {
	fast := llmtest.New(func(msgs []*schema.Message) (string, error) {
		if strings.Contains(llmtest.SystemContent(msgs), "condense conversations") {
			return "", errors.New("rate limited")
		}
		return routeByPrompt("chat", "FACT", "")(msgs)
	})
	f := newFixture(t, fast, llmtest.Static("Answer."), nil)
	ctx := context.Background()

	history := make([]pkg.Message, 0, 50)
	for i := 0; i < 50; i++ {
		history = append(history, pkg.UserMessage(strings.TrimSpace(strings.Repeat("word ", 180))))
	}
	_, err := f.store.Save(ctx, "T3", pkg.WorkflowState{ThreadID: "T3", Messages: history})
	require.NoError(t, err)

	state, err := f.engine.Invoke(ctx, f.graph, "T3", userTurn("still there?"))
	require.NoError(t, err)
	assert.Len(t, state.Messages, 52)
	assert.Empty(t, state.Digest)
	assert.Equal(t, "Answer.", state.Answer)
}

func TestRouter_GeneratorFailureApologizes(t *testing.T) {
	fast := llmtest.New(routeByPrompt("chat", "EVIDENCE", ""))
	f := newFixture(t, fast, llmtest.Failing(errors.New("provider down")), nil)

	state, err := f.engine.Invoke(context.Background(), f.graph, "T4", userTurn("prove it"))
	require.NoError(t, err)
	assert.Equal(t, pkg.ApologyMessage, state.Answer)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, pkg.ApologyMessage, state.Messages[1].Content)
	assert.Equal(t, pkg.QuestionEvidence, state.QuestionType)
}

func TestRouter_StreamEvents(t *testing.T) {
	fast := llmtest.New(routeByPrompt("chat", "COMPARE", ""))
	f := newFixture(t, fast, llmtest.Static("Go compiles, Python interprets."), nil)

	events := drain(t, f.engine.Stream(context.Background(), f.graph, "T5", userTurn("compare Go and Python")))
	require.NotEmpty(t, events)

	assert.Equal(t, pkg.EventStart, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, pkg.EventComplete, last.Type)
	assert.Equal(t, "Go compiles, Python interprets.", last.Answer)
	assert.Equal(t, pkg.QuestionCompare, last.QuestionType)
	assert.Equal(t, pkg.AgentChat, last.AgentType)

	var progress []string
	var text strings.Builder
	for _, ev := range events[1 : len(events)-1] {
		switch ev.Type {
		case pkg.EventProgress:
			progress = append(progress, ev.Graph+"/"+ev.Node)
		case pkg.EventChunk:
			assert.Equal(t, ChatGraph, ev.Graph)
			assert.Equal(t, NodeCompareGenerator, ev.Node)
			text.WriteString(ev.Content)
		default:
			t.Fatalf("unexpected event %s", ev.Type)
		}
	}
	assert.Equal(t, []string{
		RouterGraph + "/" + NodeDetectAgent,
		RouterGraph + "/" + NodeChatAgent,
		ChatGraph + "/" + NodeClassifyQuestion,
		ChatGraph + "/" + NodeCompareGenerator,
	}, progress)
	assert.Equal(t, last.Answer, text.String())
}

func TestRouter_MeetingPipeline(t *testing.T) {
	fast := llmtest.New(routeByPrompt("meeting", "FACT", ""))
	main := llmtest.Static("Minutes: the team approved the budget.")
	f := newFixture(t, fast, main, func(d *nodes.Deps) {
		d.Transcriber = segmentsTranscriber{
			{Speaker: "SPEAKER_00", Text: "Welcome everyone, today we review the quarterly budget."},
			{Speaker: "SPEAKER_01", Text: "The budget is approved with two new hires."},
		}
	})
	ctx := context.Background()

	input := userTurn("write minutes for this meeting")
	input.Attachment = "standup.wav"
	state, err := f.engine.Invoke(ctx, f.graph, "M1", input)
	require.NoError(t, err)

	assert.Equal(t, pkg.AgentMeeting, state.AgentType)
	assert.Equal(t, "Minutes: the team approved the budget.", state.Answer)
	assert.Len(t, state.Transcript, 2)
	assert.True(t, strings.HasPrefix(state.MergedTranscript, "Speaker 1: Welcome everyone"))
	assert.Empty(t, state.Attachment)
	assert.Contains(t, llmtest.LastContent(main.LastPrompt()), "Speaker 2: The budget is approved")

	cp, err := f.store.Load(ctx, "M1")
	require.NoError(t, err)
	assert.Empty(t, cp.State.Attachment)

	// a follow-up without an attachment reuses the transcript
	state, err = f.engine.Invoke(ctx, f.graph, "M1", userTurn("shorter please"))
	require.NoError(t, err)
	assert.Equal(t, "Minutes: the team approved the budget.", state.Answer)
	assert.Len(t, state.Messages, 4)
}

func TestRouter_MeetingWithoutRecording(t *testing.T) {
	fast := llmtest.New(routeByPrompt("meeting", "FACT", ""))
	main := llmtest.Static("should not be called")
	f := newFixture(t, fast, main, nil)

	state, err := f.engine.Invoke(context.Background(), f.graph, "M2", userTurn("write the minutes"))
	require.NoError(t, err)
	assert.Equal(t, nodes.NoTranscriptMessage, state.Answer)
	assert.Zero(t, main.Calls())
}

func TestRouter_SwitchingAgentResetsTurnMetadata(t *testing.T) {
	fast := llmtest.New(routeByPrompt("chat", "COMPARE", ""))
	main := llmtest.Static("Both are capitals.")
	f := newFixture(t, fast, main, nil)
	ctx := context.Background()

	state, err := f.engine.Invoke(ctx, f.graph, "S1", userTurn("compare Paris and Berlin"))
	require.NoError(t, err)
	assert.Equal(t, pkg.QuestionCompare, state.QuestionType)
	assert.Equal(t, "main-model", state.ModelUsed)

	input := userTurn("now write the minutes")
	input.AgentType = pkg.AgentMeeting
	events := drain(t, f.engine.Stream(ctx, f.graph, "S1", input))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, pkg.EventComplete, last.Type)
	assert.Equal(t, nodes.NoTranscriptMessage, last.Answer)
	assert.Equal(t, pkg.AgentMeeting, last.AgentType)
	assert.Empty(t, last.QuestionType)
	assert.Empty(t, last.ModelUsed)
	assert.Equal(t, 1, main.Calls())
}
