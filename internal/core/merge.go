package core

import (
	"eino_agent_router/pkg"

	"github.com/google/uuid"
)

// Merge applies a partial state to state. Messages go through MergeMessages;
// every other field overwrites only when the update sets it.
func Merge(state *pkg.WorkflowState, u pkg.Update) {
	if len(u.Messages) > 0 {
		state.Messages = MergeMessages(state.Messages, u.Messages)
	}
	if u.UserID != "" {
		state.UserID = u.UserID
	}
	if u.AgentType != "" {
		state.AgentType = u.AgentType
	}
	if u.QuestionType != "" {
		state.QuestionType = u.QuestionType
	}
	if u.Digest != "" {
		state.Digest = u.Digest
	}
	if u.Answer != "" {
		state.Answer = u.Answer
	}
	if u.ModelUsed != "" {
		state.ModelUsed = u.ModelUsed
	}
	if u.Attachment != "" {
		state.Attachment = u.Attachment
	}
	if u.Transcript != nil {
		state.Transcript = append([]pkg.Segment(nil), u.Transcript...)
	}
	if u.MergedTranscript != "" {
		state.MergedTranscript = u.MergedTranscript
	}
	if u.RetrievalContext != "" {
		state.RetrievalContext = u.RetrievalContext
	}
}

// MergeMessages is the message reducer. Tombstones delete by ID before
// anything is added. A message whose ID already exists replaces it in place.
// New messages are inserted right before the next existing message that
// follows them in updates, or appended when none follows.
func MergeMessages(existing, updates []pkg.Message) []pkg.Message {
	removed := make(map[string]bool)
	for _, m := range updates {
		if m.Remove {
			removed[m.ID] = true
		}
	}

	out := make([]pkg.Message, 0, len(existing)+len(updates))
	for _, m := range existing {
		if !removed[m.ID] {
			out = append(out, m)
		}
	}

	index := indexMessages(out)
	var pending []pkg.Message
	for _, m := range updates {
		if m.Remove {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}

		pos, ok := index[m.ID]
		if !ok {
			pending = append(pending, m)
			continue
		}

		if len(pending) > 0 {
			out = append(out[:pos], append(pending, out[pos:]...)...)
			pos += len(pending)
			pending = nil
			index = indexMessages(out)
		}
		out[pos] = m
	}

	return append(out, pending...)
}

func indexMessages(msgs []pkg.Message) map[string]int {
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
	}
	return index
}
