package nodes

import (
	"context"
	"fmt"

	"eino_agent_router/internal/llm"
	"eino_agent_router/internal/metrics"
	"eino_agent_router/internal/services"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/tool"
	"github.com/rs/zerolog"
)

// BudgetConfig holds the token budget of a thread
type BudgetConfig struct {
	// MaxTokens is the history ceiling that triggers compaction
	MaxTokens int
	// KeepRatio is the share of MaxTokens kept verbatim after compaction
	KeepRatio float64
	// SummaryMaxTokens caps the digest length
	SummaryMaxTokens int
}

// Reserve returns the verbatim token allowance
func (b BudgetConfig) Reserve() int {
	return int(float64(b.MaxTokens) * b.KeepRatio)
}

// DefaultBudget returns the default token budget
func DefaultBudget() BudgetConfig {
	return BudgetConfig{MaxTokens: 8000, KeepRatio: 0.3, SummaryMaxTokens: 1000}
}

// Deps are the collaborators shared by every node
type Deps struct {
	Models      *llm.Models
	Counter     llm.TokenCounter
	Retriever   services.Retriever
	Transcriber services.Transcriber
	Budget      BudgetConfig
	Metrics     *metrics.Recorder
	Logger      zerolog.Logger
}

// Set holds the node implementations built from one Deps
type Set struct {
	deps               Deps
	agentClassifier    *Classifier
	questionClassifier *Classifier
	search             tool.InvokableTool
	summarize          prompt.ChatTemplate
	answers            map[string]prompt.ChatTemplate
	minutes            prompt.ChatTemplate
}

// NewSet validates deps and builds the classifier chains and templates
func NewSet(ctx context.Context, deps Deps) (*Set, error) {
	if deps.Models == nil || deps.Models.Fast == nil || deps.Models.Main == nil {
		return nil, fmt.Errorf("both model tiers are required")
	}
	if deps.Counter == nil {
		return nil, fmt.Errorf("token counter is required")
	}
	if deps.Budget.MaxTokens <= 0 {
		deps.Budget = DefaultBudget()
	}
	if deps.Retriever == nil {
		deps.Retriever = services.NoopRetriever{}
	}
	if deps.Transcriber == nil {
		deps.Transcriber = services.UnavailableTranscriber{}
	}

	agentClassifier, err := NewClassifier(ctx, deps.Models.Fast, agentDetectionTemplate(), ValidAgents, DefaultAgent, normalizeLower)
	if err != nil {
		return nil, fmt.Errorf("error creating agent classifier: %w", err)
	}
	questionClassifier, err := NewClassifier(ctx, deps.Models.Fast, questionClassificationTemplate(), ValidQuestionTypes, DefaultQuestionType, normalizeUpper)
	if err != nil {
		return nil, fmt.Errorf("error creating question classifier: %w", err)
	}

	search, err := NewDocumentSearchTool(deps.Retriever)
	if err != nil {
		return nil, err
	}

	answers := make(map[string]prompt.ChatTemplate, len(ValidQuestionTypes))
	for _, qt := range ValidQuestionTypes {
		answers[qt] = answerTemplate(qt)
	}

	return &Set{
		deps:               deps,
		agentClassifier:    agentClassifier,
		questionClassifier: questionClassifier,
		search:             search,
		summarize:          summarizeTemplate(),
		answers:            answers,
		minutes:            minutesTemplate(),
	}, nil
}

// Deps returns the dependencies the set was built with, defaults applied
func (s *Set) Deps() Deps {
	return s.deps
}
