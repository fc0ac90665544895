package nodes

import (
	"context"
	"fmt"
	"strings"

	"eino_agent_router/internal/llm"
	"eino_agent_router/pkg"
)

const noContextText = "No relevant documents were found."

// Generate returns the streaming answer generator for questionType
func (s *Set) Generate(questionType string) func(ctx context.Context, state *pkg.WorkflowState, emit func(string)) (pkg.Update, error) {
	return func(ctx context.Context, state *pkg.WorkflowState, emit func(string)) (pkg.Update, error) {
		logger := s.deps.Logger.With().
			Str("node", "generate").
			Str("question_type", questionType).
			Str("thread_id", state.ThreadID).
			Logger()
		logger.Debug().Int("messages", len(state.Messages)).Msg("Processing answer generation")

		retrieved := s.retrieve(ctx, state.LastUserMessage())
		contextText := retrieved
		if contextText == "" {
			contextText = noContextText
		}

		prompt, err := s.answers[questionType].Format(ctx, map[string]any{
			"context":  contextText,
			"messages": llm.ToSchemaMessages(state.Messages),
		})
		if err != nil {
			return pkg.Update{}, fmt.Errorf("format answer prompt: %w", err)
		}

		text, err := llm.StreamText(ctx, s.deps.Models.Main, prompt, emit)
		if err != nil {
			return pkg.Update{}, err
		}
		answer := strings.TrimSpace(text)
		if answer == "" {
			return pkg.Update{}, fmt.Errorf("model returned an empty answer")
		}

		logger.Info().Int("answer_length", len(answer)).Msg("Answer generated")
		return pkg.Update{
			Messages:         []pkg.Message{pkg.AssistantMessage(answer)},
			Answer:           answer,
			ModelUsed:        s.deps.Models.MainName,
			RetrievalContext: retrieved,
		}, nil
	}
}

// retrieve never fails; an unavailable retriever means an empty context
func (s *Set) retrieve(ctx context.Context, query string) string {
	if strings.TrimSpace(query) == "" {
		return ""
	}
	text, err := SearchDocuments(ctx, s.search, query)
	if err != nil {
		s.deps.Logger.Warn().Err(err).Msg("Retrieval failed, answering without context")
		return ""
	}
	return text
}

// AnswerFallback is the partial state of a failed generator
func AnswerFallback(*pkg.WorkflowState) pkg.Update {
	return pkg.Update{
		Messages: []pkg.Message{pkg.AssistantMessage(pkg.ApologyMessage)},
		Answer:   pkg.ApologyMessage,
	}
}
