package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"eino_agent_router/pkg"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ToSchemaMessages converts conversation messages to eino messages
func ToSchemaMessages(msgs []pkg.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Remove {
			continue
		}
		switch m.Role {
		case pkg.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case pkg.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		case pkg.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		}
	}
	return out
}

// FormatTranscript renders messages as "Role: content" lines for prompts
// that take the conversation as plain text
func FormatTranscript(msgs []pkg.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		var who string
		switch m.Role {
		case pkg.RoleUser:
			who = "User"
		case pkg.RoleAssistant:
			who = "Assistant"
		default:
			who = "System"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, m.Content)
	}
	return strings.TrimSpace(b.String())
}

// Generate runs a single-shot completion and returns its text
func Generate(ctx context.Context, m model.BaseChatModel, msgs []*schema.Message, opts ...model.Option) (string, error) {
	if m == nil {
		return "", errors.New("chat model is not configured")
	}
	resp, err := m.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil {
		return "", errors.New("generate: empty response")
	}
	return resp.Content, nil
}

// StreamText runs a streaming completion, calls emit for every non-empty
// delta and returns the concatenated text
func StreamText(ctx context.Context, m model.BaseChatModel, msgs []*schema.Message, emit func(string), opts ...model.Option) (string, error) {
	if m == nil {
		return "", errors.New("chat model is not configured")
	}
	sr, err := m.Stream(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("stream: %w", err)
	}
	defer sr.Close()

	var full strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("stream recv: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if emit != nil {
			emit(chunk.Content)
		}
	}
	return full.String(), nil
}
