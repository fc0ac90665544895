package nodes

import (
	"context"
	"fmt"
	"strings"

	"eino_agent_router/internal/llm"
	"eino_agent_router/internal/metrics"
	"eino_agent_router/pkg"

	"github.com/cloudwego/eino/components/model"
)

// DigestPrefix starts the content of every digest message
const DigestPrefix = "[Conversation summary]\n"

// PlanCompaction splits msgs into the older part to summarize and the newest
// part that fits in reserve tokens. The newest message is always kept, even
// when it alone exceeds the reserve.
func PlanCompaction(msgs []pkg.Message, counter llm.TokenCounter, reserve int) (older, kept []pkg.Message) {
	if len(msgs) == 0 {
		return nil, nil
	}

	cut := len(msgs) - 1
	used := counter.Count(msgs[cut].Content)
	for i := cut - 1; i >= 0; i-- {
		cost := counter.Count(msgs[i].Content)
		if used+cost > reserve {
			break
		}
		used += cost
		cut = i
	}
	return msgs[:cut], msgs[cut:]
}

// CompactHistory replaces the messages outside the verbatim reserve with one
// digest. When summarization fails nothing changes.
func (s *Set) CompactHistory(ctx context.Context, state *pkg.WorkflowState) (pkg.Update, error) {
	logger := s.deps.Logger.With().Str("node", "compact_history").Str("thread_id", state.ThreadID).Logger()

	older, kept := PlanCompaction(state.Messages, s.deps.Counter, s.deps.Budget.Reserve())
	if len(older) == 0 {
		s.deps.Metrics.Compaction(metrics.CompactionSkipped)
		logger.Debug().Msg("Nothing to compact")
		return pkg.Update{}, nil
	}

	logger.Info().
		Int("summarized", len(older)).
		Int("kept", len(kept)).
		Int("tokens", llm.CountMessages(s.deps.Counter, state.Messages)).
		Msg("Compacting history")

	summary, err := s.summarizeMessages(ctx, older)
	if err != nil {
		s.deps.Metrics.Compaction(metrics.CompactionFailed)
		return pkg.Update{}, fmt.Errorf("summarize history: %w", err)
	}

	msgs := make([]pkg.Message, 0, len(older)+1+len(kept))
	for _, m := range older {
		msgs = append(msgs, pkg.RemoveMessage(m.ID))
	}
	msgs = append(msgs, pkg.SystemMessage(DigestPrefix+summary))
	msgs = append(msgs, kept...)

	s.deps.Metrics.Compaction(metrics.CompactionSuccess)
	return pkg.Update{Messages: msgs, Digest: summary}, nil
}

func (s *Set) summarizeMessages(ctx context.Context, msgs []pkg.Message) (string, error) {
	prompt, err := s.summarize.Format(ctx, map[string]any{
		"messages": llm.ToSchemaMessages(msgs),
	})
	if err != nil {
		return "", fmt.Errorf("format summary prompt: %w", err)
	}

	var opts []model.Option
	if s.deps.Budget.SummaryMaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(s.deps.Budget.SummaryMaxTokens))
	}
	summary, err := llm.Generate(ctx, s.deps.Models.Fast, prompt, opts...)
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	return summary, nil
}
