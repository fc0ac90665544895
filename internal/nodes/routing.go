package nodes

import (
	"context"
	"strings"

	"eino_agent_router/pkg"
)

// DetectAgent picks the specialist for the thread. A thread that already
// carries a valid agent type keeps it without a model call.
func (s *Set) DetectAgent(ctx context.Context, state *pkg.WorkflowState) (pkg.Update, error) {
	logger := s.deps.Logger.With().Str("node", "detect_agent").Str("thread_id", state.ThreadID).Logger()

	if IsValidAgent(state.AgentType) {
		logger.Debug().Str("agent_type", state.AgentType).Msg("Agent already selected")
		return pkg.Update{}, nil
	}

	message := state.LastUserMessage()
	if strings.TrimSpace(message) == "" {
		return pkg.Update{AgentType: DefaultAgent}, nil
	}

	result := s.agentClassifier.Classify(ctx, map[string]any{"user_message": message})
	if result.Fallback {
		logger.Warn().Str("reason", result.Reason).Str("agent_type", result.Label).Msg("Agent detection fell back to default")
	} else {
		logger.Info().Str("agent_type", result.Label).Msg("Agent selected")
	}
	return pkg.Update{AgentType: result.Label}, nil
}

// ClassifyQuestion labels the intent of the newest user message
func (s *Set) ClassifyQuestion(ctx context.Context, state *pkg.WorkflowState) (pkg.Update, error) {
	logger := s.deps.Logger.With().Str("node", "classify_question").Str("thread_id", state.ThreadID).Logger()

	message := state.LastUserMessage()
	if strings.TrimSpace(message) == "" {
		return pkg.Update{QuestionType: DefaultQuestionType}, nil
	}

	result := s.questionClassifier.Classify(ctx, map[string]any{"user_message": message})
	if result.Fallback {
		logger.Warn().Str("reason", result.Reason).Msg("Question classification fell back to default")
	}
	logger.Info().Str("question_type", result.Label).Msg("Question classified")

	return pkg.Update{
		QuestionType: result.Label,
		ModelUsed:    s.deps.Models.FastName,
	}, nil
}

// SelectAgent is the selector after agent detection
func SelectAgent(state *pkg.WorkflowState) string {
	if IsValidAgent(state.AgentType) {
		return state.AgentType
	}
	return DefaultAgent
}

// RouteQuestion is the selector after question classification
func RouteQuestion(state *pkg.WorkflowState) string {
	if IsValidQuestionType(state.QuestionType) {
		return state.QuestionType
	}
	return DefaultQuestionType
}
