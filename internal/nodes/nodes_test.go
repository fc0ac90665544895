package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"eino_agent_router/internal/core"
	"eino_agent_router/internal/llm"
	"eino_agent_router/internal/llm/llmtest"
	"eino_agent_router/internal/metrics"
	"eino_agent_router/internal/services"
	"eino_agent_router/pkg"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script answers each prompt kind with a fixed reply
type script struct {
	agent    string
	question string
	summary  string
	answer   string
	minutes  string
	err      error
}

func (s script) reply(msgs []*schema.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	system := llmtest.SystemContent(msgs)
	switch {
	case strings.Contains(system, "route user requests"):
		return s.agent, nil
	case strings.Contains(system, "Classify the user's question"):
		return s.question, nil
	case strings.Contains(system, "condense conversations"):
		return s.summary, nil
	case strings.Contains(system, "meeting minutes"):
		return s.minutes, nil
	default:
		return s.answer, nil
	}
}

type stubRetriever struct {
	text string
	err  error
}

func (r stubRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	return r.text, r.err
}

type stubTranscriber struct {
	segments []pkg.Segment
	err      error
}

func (t stubTranscriber) Transcribe(ctx context.Context, path string) ([]pkg.Segment, error) {
	return t.segments, t.err
}

func newTestSet(t *testing.T, fast, main *llmtest.FakeModel, mutate func(*Deps)) *Set {
	t.Helper()
	deps := Deps{
		Models:  &llm.Models{Fast: fast, Main: main, FastName: "fast-model", MainName: "main-model"},
		Counter: llm.WordCounter{Ratio: 1},
		Budget:  DefaultBudget(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	set, err := NewSet(context.Background(), deps)
	require.NoError(t, err)
	return set
}

func collectDeltas() (*[]string, func(string)) {
	var deltas []string
	return &deltas, func(d string) { deltas = append(deltas, d) }
}

func TestNewSet_Validation(t *testing.T) {
	_, err := NewSet(context.Background(), Deps{Counter: llm.WordCounter{}})
	assert.Error(t, err)

	_, err = NewSet(context.Background(), Deps{Models: &llm.Models{Fast: llmtest.Static("x"), Main: llmtest.Static("x")}})
	assert.Error(t, err)

	set := newTestSet(t, llmtest.Static("x"), llmtest.Static("x"), func(d *Deps) { d.Budget = BudgetConfig{} })
	assert.Equal(t, DefaultBudget(), set.Deps().Budget)
	assert.NotNil(t, set.Deps().Retriever)
	assert.NotNil(t, set.Deps().Transcriber)
}

func TestClassifier_Parse(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		want     string
		fallback bool
	}{
		{"exact", "SUMMARY", pkg.QuestionSummary, false},
		{"lower case with spaces", "  compare \n", pkg.QuestionCompare, false},
		{"trailing punctuation", "EVIDENCE.", pkg.QuestionEvidence, false},
		{"first word", "Fact - the user asks for a capital", pkg.QuestionFact, false},
		{"unknown label", "OPINION", pkg.QuestionFact, true},
		{"empty", "", pkg.QuestionFact, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClassifier(context.Background(), llmtest.Static(tt.reply), questionClassificationTemplate(), ValidQuestionTypes, DefaultQuestionType, normalizeUpper)
			require.NoError(t, err)

			got := c.Classify(context.Background(), map[string]any{"user_message": "question"})
			assert.Equal(t, tt.want, got.Label)
			assert.Equal(t, tt.fallback, got.Fallback)
		})
	}
}

func TestClassifier_ModelError(t *testing.T) {
	c, err := NewClassifier(context.Background(), llmtest.Failing(errors.New("timeout")), agentDetectionTemplate(), ValidAgents, DefaultAgent, normalizeLower)
	require.NoError(t, err)

	got := c.Classify(context.Background(), map[string]any{"user_message": "hi"})
	assert.Equal(t, pkg.AgentChat, got.Label)
	assert.True(t, got.Fallback)
	assert.Contains(t, got.Reason, "timeout")
}

func TestNewClassifier_RejectsForeignFallback(t *testing.T) {
	_, err := NewClassifier(context.Background(), llmtest.Static("x"), agentDetectionTemplate(), ValidAgents, "sales", normalizeLower)
	assert.Error(t, err)
}

func TestDetectAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent when already valid", func(t *testing.T) {
		fast := llmtest.New(script{agent: "chat"}.reply)
		set := newTestSet(t, fast, llmtest.Static(""), nil)

		u, err := set.DetectAgent(ctx, &pkg.WorkflowState{
			AgentType: pkg.AgentMeeting,
			Messages:  []pkg.Message{pkg.UserMessage("what is the capital of France?")},
		})
		require.NoError(t, err)
		assert.True(t, u.IsEmpty())
		assert.Zero(t, fast.Calls())
	})

	t.Run("classifies unset agent", func(t *testing.T) {
		fast := llmtest.New(script{agent: "Meeting"}.reply)
		set := newTestSet(t, fast, llmtest.Static(""), nil)

		u, err := set.DetectAgent(ctx, &pkg.WorkflowState{
			Messages: []pkg.Message{pkg.UserMessage("write minutes for this recording")},
		})
		require.NoError(t, err)
		assert.Equal(t, pkg.AgentMeeting, u.AgentType)
		assert.Equal(t, 1, fast.Calls())
	})

	t.Run("invalid answer defaults to chat", func(t *testing.T) {
		set := newTestSet(t, llmtest.New(script{agent: "sales"}.reply), llmtest.Static(""), nil)

		u, err := set.DetectAgent(ctx, &pkg.WorkflowState{
			AgentType: "unknown",
			Messages:  []pkg.Message{pkg.UserMessage("hello")},
		})
		require.NoError(t, err)
		assert.Equal(t, pkg.AgentChat, u.AgentType)
	})

	t.Run("no user message", func(t *testing.T) {
		fast := llmtest.Static("meeting")
		set := newTestSet(t, fast, llmtest.Static(""), nil)

		u, err := set.DetectAgent(ctx, &pkg.WorkflowState{})
		require.NoError(t, err)
		assert.Equal(t, pkg.AgentChat, u.AgentType)
		assert.Zero(t, fast.Calls())
	})
}

func TestClassifyQuestion(t *testing.T) {
	set := newTestSet(t, llmtest.New(script{question: "compare"}.reply), llmtest.Static(""), nil)

	u, err := set.ClassifyQuestion(context.Background(), &pkg.WorkflowState{
		Messages: []pkg.Message{pkg.UserMessage("compare Go and Rust")},
	})
	require.NoError(t, err)
	assert.Equal(t, pkg.QuestionCompare, u.QuestionType)
	assert.Equal(t, "fast-model", u.ModelUsed)

	failing := newTestSet(t, llmtest.Failing(errors.New("down")), llmtest.Static(""), nil)
	u, err = failing.ClassifyQuestion(context.Background(), &pkg.WorkflowState{
		Messages: []pkg.Message{pkg.UserMessage("what is the capital of France?")},
	})
	require.NoError(t, err)
	assert.Equal(t, pkg.QuestionFact, u.QuestionType)
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, pkg.AgentMeeting, SelectAgent(&pkg.WorkflowState{AgentType: pkg.AgentMeeting}))
	assert.Equal(t, pkg.AgentChat, SelectAgent(&pkg.WorkflowState{AgentType: "bogus"}))
	assert.Equal(t, pkg.QuestionEvidence, RouteQuestion(&pkg.WorkflowState{QuestionType: pkg.QuestionEvidence}))
	assert.Equal(t, pkg.QuestionFact, RouteQuestion(&pkg.WorkflowState{}))
}

func wordsMessage(role pkg.Role, words int) pkg.Message {
	return pkg.NewMessage(role, strings.TrimSpace(strings.Repeat("word ", words)))
}

func longHistory(n, wordsEach int) []pkg.Message {
	msgs := make([]pkg.Message, 0, n)
	for i := 0; i < n; i++ {
		role := pkg.RoleUser
		if i%2 == 1 {
			role = pkg.RoleAssistant
		}
		msgs = append(msgs, wordsMessage(role, wordsEach))
	}
	return msgs
}

func TestTokenBudget(t *testing.T) {
	set := newTestSet(t, llmtest.Static(""), llmtest.Static(""), nil)

	assert.Equal(t, RouteSkip, set.TokenBudget(&pkg.WorkflowState{Messages: longHistory(10, 100)}))
	assert.Equal(t, RouteSkip, set.TokenBudget(&pkg.WorkflowState{Messages: longHistory(40, 200)}))
	assert.Equal(t, RouteCompact, set.TokenBudget(&pkg.WorkflowState{Messages: longHistory(50, 180)}))
}

func TestPlanCompaction(t *testing.T) {
	counter := llm.WordCounter{Ratio: 1}

	t.Run("keeps newest within reserve", func(t *testing.T) {
		msgs := longHistory(10, 100)
		older, kept := PlanCompaction(msgs, counter, 350)
		assert.Len(t, older, 7)
		assert.Len(t, kept, 3)
		assert.Equal(t, msgs[7].ID, kept[0].ID)
	})

	t.Run("newest kept even when over reserve", func(t *testing.T) {
		msgs := []pkg.Message{wordsMessage(pkg.RoleUser, 10), wordsMessage(pkg.RoleUser, 500)}
		older, kept := PlanCompaction(msgs, counter, 100)
		assert.Len(t, older, 1)
		require.Len(t, kept, 1)
		assert.Equal(t, msgs[1].ID, kept[0].ID)
	})

	t.Run("everything fits", func(t *testing.T) {
		older, kept := PlanCompaction(longHistory(3, 10), counter, 100)
		assert.Empty(t, older)
		assert.Len(t, kept, 3)
	})

	t.Run("empty", func(t *testing.T) {
		older, kept := PlanCompaction(nil, counter, 100)
		assert.Nil(t, older)
		assert.Nil(t, kept)
	})
}

func TestCompactHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces older messages with a digest", func(t *testing.T) {
		fast := llmtest.New(script{summary: "The user and assistant discussed words."}.reply)
		set := newTestSet(t, fast, llmtest.Static(""), nil)

		history := longHistory(50, 180)
		state := &pkg.WorkflowState{ThreadID: "T2", Messages: history}
		require.Equal(t, 9000, llm.CountMessages(llm.WordCounter{Ratio: 1}, history))

		u, err := set.CompactHistory(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, "The user and assistant discussed words.", u.Digest)

		core.Merge(state, u)
		require.Len(t, state.Messages, 14)
		assert.Equal(t, pkg.RoleSystem, state.Messages[0].Role)
		assert.True(t, strings.HasPrefix(state.Messages[0].Content, DigestPrefix))
		for i, m := range state.Messages[1:] {
			assert.Equal(t, history[37+i].ID, m.ID)
		}

		verbatim := llm.CountMessages(llm.WordCounter{Ratio: 1}, state.Messages[1:])
		assert.LessOrEqual(t, verbatim, 2400)
		assert.Equal(t, history[len(history)-1].ID, state.Messages[len(state.Messages)-1].ID)
	})

	t.Run("summarization failure changes nothing", func(t *testing.T) {
		set := newTestSet(t, llmtest.Failing(errors.New("rate limited")), llmtest.Static(""), nil)

		history := longHistory(50, 180)
		state := &pkg.WorkflowState{Messages: history}

		u, err := set.CompactHistory(ctx, state)
		require.Error(t, err)
		assert.True(t, u.IsEmpty())
	})

	t.Run("empty summary is a failure", func(t *testing.T) {
		set := newTestSet(t, llmtest.New(script{summary: "   "}.reply), llmtest.Static(""), nil)

		_, err := set.CompactHistory(ctx, &pkg.WorkflowState{Messages: longHistory(50, 180)})
		assert.Error(t, err)
	})

	t.Run("nothing to summarize", func(t *testing.T) {
		fast := llmtest.Static("summary")
		set := newTestSet(t, fast, llmtest.Static(""), nil)

		u, err := set.CompactHistory(ctx, &pkg.WorkflowState{Messages: longHistory(2, 10)})
		require.NoError(t, err)
		assert.True(t, u.IsEmpty())
		assert.Zero(t, fast.Calls())
	})
}

func TestCompactHistory_RecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	recorder := metrics.New(reg)
	withMetrics := func(d *Deps) { d.Metrics = recorder }

	ok := newTestSet(t, llmtest.New(script{summary: "digest"}.reply), llmtest.Static(""), withMetrics)
	_, err := ok.CompactHistory(ctx, &pkg.WorkflowState{Messages: longHistory(50, 180)})
	require.NoError(t, err)
	_, err = ok.CompactHistory(ctx, &pkg.WorkflowState{Messages: longHistory(2, 10)})
	require.NoError(t, err)

	failing := newTestSet(t, llmtest.Failing(errors.New("timeout")), llmtest.Static(""), withMetrics)
	_, err = failing.CompactHistory(ctx, &pkg.WorkflowState{Messages: longHistory(50, 180)})
	require.Error(t, err)

	expected := `
# HELP agent_router_compactions_total Total number of history compaction attempts
# TYPE agent_router_compactions_total counter
agent_router_compactions_total{outcome="failed"} 1
agent_router_compactions_total{outcome="skipped"} 1
agent_router_compactions_total{outcome="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "agent_router_compactions_total"))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("streams and records the answer", func(t *testing.T) {
		main := llmtest.New(script{answer: "The capital of France is Paris."}.reply)
		set := newTestSet(t, llmtest.Static(""), main, func(d *Deps) {
			d.Retriever = stubRetriever{text: "[1] France\nParis is the capital of France."}
		})

		deltas, emit := collectDeltas()
		u, err := set.Generate(pkg.QuestionFact)(ctx, &pkg.WorkflowState{
			Messages: []pkg.Message{pkg.UserMessage("What is the capital of France?")},
		}, emit)
		require.NoError(t, err)

		assert.Equal(t, "The capital of France is Paris.", u.Answer)
		assert.Equal(t, "The capital of France is Paris.", strings.Join(*deltas, ""))
		assert.Equal(t, "main-model", u.ModelUsed)
		require.Len(t, u.Messages, 1)
		assert.Equal(t, pkg.RoleAssistant, u.Messages[0].Role)
		assert.Contains(t, u.RetrievalContext, "Paris is the capital")

		system := llmtest.SystemContent(main.LastPrompt())
		assert.Contains(t, system, "<context>")
		assert.Contains(t, system, "Paris is the capital of France.")
		assert.Equal(t, "What is the capital of France?", llmtest.LastContent(main.LastPrompt()))
	})

	t.Run("per type instructions", func(t *testing.T) {
		main := llmtest.Static("ok")
		set := newTestSet(t, llmtest.Static(""), main, nil)

		_, emit := collectDeltas()
		_, err := set.Generate(pkg.QuestionCompare)(ctx, &pkg.WorkflowState{
			Messages: []pkg.Message{pkg.UserMessage("compare A and B")},
		}, emit)
		require.NoError(t, err)
		assert.Contains(t, llmtest.SystemContent(main.LastPrompt()), "similarities and differences")
		assert.Contains(t, llmtest.SystemContent(main.LastPrompt()), noContextText)
	})

	t.Run("retrieval failure means empty context", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Static("answer"), func(d *Deps) {
			d.Retriever = stubRetriever{err: services.ErrUnavailable}
		})

		_, emit := collectDeltas()
		u, err := set.Generate(pkg.QuestionFact)(ctx, &pkg.WorkflowState{
			Messages: []pkg.Message{pkg.UserMessage("anything")},
		}, emit)
		require.NoError(t, err)
		assert.Equal(t, "answer", u.Answer)
		assert.Empty(t, u.RetrievalContext)
	})

	t.Run("model failure is an error", func(t *testing.T) {
		set := newTestSet(t, llmtest.Static(""), llmtest.Failing(errors.New("boom")), nil)

		_, emit := collectDeltas()
		_, err := set.Generate(pkg.QuestionSummary)(ctx, &pkg.WorkflowState{
			Messages: []pkg.Message{pkg.UserMessage("summarize")},
		}, emit)
		assert.Error(t, err)
	})
}

func TestAnswerFallback(t *testing.T) {
	u := AnswerFallback(&pkg.WorkflowState{})
	assert.Equal(t, pkg.ApologyMessage, u.Answer)
	require.Len(t, u.Messages, 1)
	assert.Equal(t, pkg.ApologyMessage, u.Messages[0].Content)
}

func TestDocumentSearchTool(t *testing.T) {
	ctx := context.Background()
	tl, err := NewDocumentSearchTool(stubRetriever{text: "some \"quoted\" context"})
	require.NoError(t, err)

	info, err := tl.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, DocumentSearchToolName, info.Name)

	text, err := SearchDocuments(ctx, tl, "query")
	require.NoError(t, err)
	assert.Equal(t, "some \"quoted\" context", text)

	failing, err := NewDocumentSearchTool(stubRetriever{err: errors.New("index offline")})
	require.NoError(t, err)
	_, err = SearchDocuments(ctx, failing, "query")
	assert.Error(t, err)
}
