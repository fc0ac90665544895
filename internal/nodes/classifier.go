package nodes

import (
	"context"
	"fmt"
	"strings"

	"eino_agent_router/pkg"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// Label sets and defaults
var (
	ValidAgents        = []string{pkg.AgentChat, pkg.AgentMeeting}
	ValidQuestionTypes = []string{pkg.QuestionFact, pkg.QuestionSummary, pkg.QuestionCompare, pkg.QuestionEvidence}
)

const (
	DefaultAgent        = pkg.AgentChat
	DefaultQuestionType = pkg.QuestionFact
)

// IsValidAgent reports whether agentType names a specialist
func IsValidAgent(agentType string) bool {
	return contains(ValidAgents, agentType)
}

// IsValidQuestionType reports whether questionType is a known intent
func IsValidQuestionType(questionType string) bool {
	return contains(ValidQuestionTypes, questionType)
}

// Classifier asks a model for one label out of a closed set. It never fails:
// any model error or unexpected answer yields the fallback label.
type Classifier struct {
	runnable  compose.Runnable[map[string]any, *schema.Message]
	labels    map[string]bool
	fallback  string
	normalize func(string) string
}

// NewClassifier compiles template -> model into an eino graph
func NewClassifier(ctx context.Context, m model.BaseChatModel, tmpl prompt.ChatTemplate, labels []string, fallback string, normalize func(string) string) (*Classifier, error) {
	if m == nil {
		return nil, fmt.Errorf("classifier model is nil")
	}
	if !contains(labels, fallback) {
		return nil, fmt.Errorf("fallback label %q is not in the label set", fallback)
	}

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", tmpl); err != nil {
		return nil, fmt.Errorf("failed to add prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", m); err != nil {
		return nil, fmt.Errorf("failed to add chat model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("failed to add start edge: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("failed to add prompt to model edge: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("failed to add end edge: %w", err)
	}

	runnable, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile classifier graph: %w", err)
	}

	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	if normalize == nil {
		normalize = strings.TrimSpace
	}
	return &Classifier{runnable: runnable, labels: set, fallback: fallback, normalize: normalize}, nil
}

// Classify returns the label for vars
func (c *Classifier) Classify(ctx context.Context, vars map[string]any) pkg.Classification {
	out, err := c.runnable.Invoke(ctx, vars)
	if err != nil {
		return pkg.Classification{Label: c.fallback, Fallback: true, Reason: err.Error()}
	}
	if out == nil {
		return pkg.Classification{Label: c.fallback, Fallback: true, Reason: "empty response"}
	}
	if label, ok := c.parse(out.Content); ok {
		return pkg.Classification{Label: label}
	}
	return pkg.Classification{
		Label:    c.fallback,
		Fallback: true,
		Reason:   fmt.Sprintf("unexpected label %q", strings.TrimSpace(out.Content)),
	}
}

// parse accepts the whole answer or its first word, ignoring quotes and
// trailing punctuation
func (c *Classifier) parse(raw string) (string, bool) {
	candidate := c.normalize(trimLabel(raw))
	if c.labels[candidate] {
		return candidate, true
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", false
	}
	candidate = c.normalize(trimLabel(fields[0]))
	return candidate, c.labels[candidate]
}

func trimLabel(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`*.:,;!")
}

func normalizeLower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func normalizeUpper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
