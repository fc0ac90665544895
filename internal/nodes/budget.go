package nodes

import (
	"eino_agent_router/internal/llm"
	"eino_agent_router/pkg"
)

// Governor route keys
const (
	RouteCompact = "compact"
	RouteSkip    = "skip"
)

// TokenBudget is the governor selector: it routes to compaction when the
// thread's history exceeds the token ceiling
func (s *Set) TokenBudget(state *pkg.WorkflowState) string {
	if OverBudget(s.deps.Counter, state.Messages, s.deps.Budget.MaxTokens) {
		return RouteCompact
	}
	return RouteSkip
}

// OverBudget reports whether msgs cost more than maxTokens
func OverBudget(counter llm.TokenCounter, msgs []pkg.Message, maxTokens int) bool {
	return llm.CountMessages(counter, msgs) > maxTokens
}
