// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Reply computes the answer to a prompt
type Reply func(msgs []*schema.Message) (string, error)

// FakeModel is a model.BaseChatModel that answers with a scripted reply and
// records every prompt it receives. Stream splits the reply on spaces.
type FakeModel struct {
	mu      sync.Mutex
	reply   Reply
	prompts [][]*schema.Message
}

var _ model.BaseChatModel = (*FakeModel)(nil)

// New creates a fake answering with reply
func New(reply Reply) *FakeModel {
	return &FakeModel{reply: reply}
}

// Static creates a fake that always answers text
func Static(text string) *FakeModel {
	return New(func([]*schema.Message) (string, error) { return text, nil })
}

// Failing creates a fake whose calls all fail with err
func Failing(err error) *FakeModel {
	return New(func([]*schema.Message) (string, error) { return "", err })
}

// Generate implements model.BaseChatModel
func (f *FakeModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	text, err := f.answer(input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(text, nil), nil
}

// Stream implements model.BaseChatModel
func (f *FakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	text, err := f.answer(input)
	if err != nil {
		return nil, err
	}
	var chunks []*schema.Message
	for _, part := range strings.SplitAfter(text, " ") {
		if part != "" {
			chunks = append(chunks, schema.AssistantMessage(part, nil))
		}
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// Calls returns the number of prompts received
func (f *FakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// LastPrompt returns the most recent prompt, or nil
func (f *FakeModel) LastPrompt() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *FakeModel) answer(input []*schema.Message) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, input)
	f.mu.Unlock()
	return f.reply(input)
}

// LastContent returns the content of the final message of a prompt
func LastContent(msgs []*schema.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

// SystemContent returns the content of the first system message of a prompt
func SystemContent(msgs []*schema.Message) string {
	for _, m := range msgs {
		if m.Role == schema.System {
			return m.Content
		}
	}
	return ""
}
