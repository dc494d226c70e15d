// Package llmtest provides a scripted eino chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Reply is what the fake returns for one call.
type Reply struct {
	Chunks    []string
	ToolCalls []schema.ToolCall
	Usage     *schema.TokenUsage
	// Err fails the call before any output.
	Err error
	// StreamErr is delivered after all chunks of a Stream call.
	StreamErr error
}

// Call records one invocation.
type Call struct {
	Stream   bool
	Messages []*schema.Message
	Options  *model.Options
	Tools    []*schema.ToolInfo
}

// ChatModel answers with Script(in) when set, otherwise pops Replies in
// order (the last one repeats).
type ChatModel struct {
	Script  func(in []*schema.Message) Reply
	Replies []Reply

	mu    sync.Mutex
	calls []Call
	next  int
	tools []*schema.ToolInfo
}

// Text returns a model that always streams text split into words.
func Text(text string) *ChatModel {
	return &ChatModel{Replies: []Reply{{Chunks: SplitWords(text)}}}
}

// SplitWords splits text into chunks while keeping separators.
func SplitWords(text string) []string {
	var out []string
	for _, w := range strings.SplitAfter(text, " ") {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func (m *ChatModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *ChatModel) reply(in []*schema.Message, stream bool, opts ...model.Option) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{
		Stream:   stream,
		Messages: in,
		Options:  model.GetCommonOptions(&model.Options{}, opts...),
		Tools:    m.tools,
	})
	if m.Script != nil {
		return m.Script(in)
	}
	if len(m.Replies) == 0 {
		return Reply{Err: errors.New("llmtest: no reply scripted")}
	}
	r := m.Replies[m.next]
	if m.next < len(m.Replies)-1 {
		m.next++
	}
	return r
}

func (m *ChatModel) Generate(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	r := m.reply(in, false, opts...)
	if r.Err != nil {
		return nil, r.Err
	}
	msg := schema.AssistantMessage(strings.Join(r.Chunks, ""), r.ToolCalls)
	if r.Usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: r.Usage}
	}
	return msg, nil
}

func (m *ChatModel) Stream(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	r := m.reply(in, true, opts...)
	if r.Err != nil {
		return nil, r.Err
	}
	sr, sw := schema.Pipe[*schema.Message](len(r.Chunks) + 2)
	go func() {
		defer sw.Close()
		for _, c := range r.Chunks {
			if closed := sw.Send(schema.AssistantMessage(c, nil), nil); closed {
				return
			}
		}
		if len(r.ToolCalls) > 0 {
			sw.Send(schema.AssistantMessage("", r.ToolCalls), nil)
		}
		if r.Usage != nil {
			sw.Send(&schema.Message{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{Usage: r.Usage}}, nil)
		}
		if r.StreamErr != nil {
			sw.Send(nil, r.StreamErr)
		}
	}()
	return sr, nil
}

// WithTools records the tools; the returned model shares the script and call log.
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.tools = tools
	m.mu.Unlock()
	return m, nil
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)
