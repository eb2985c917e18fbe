// Package echoprovider implements a deterministic, in-memory
// provider.ProviderAdapter used by internal/orchestrator and
// internal/racer's tests and demos. It makes no network call: it
// echoes back a canned or templated response, word by word, on a
// configurable per-token delay, and can be configured to emit a single
// tool call before its final answer.
package echoprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wuweilabs/cogkernel/internal/provider"
)

// ToolTrigger configures echoprovider to emit one tool call before its
// final answer when the last user message contains Phrase.
type ToolTrigger struct {
	Phrase     string
	ToolName   string
	ToolArgs   map[string]any
	FinalReply string
}

// Adapter is a deterministic provider.ProviderAdapter.
type Adapter struct {
	Name        string
	TokenDelay  time.Duration
	Reply       string
	Trigger     *ToolTrigger
	FailOnModel map[string]string // model -> error message
}

// New constructs an Adapter. An empty reply defaults to a short fixed
// sentence so callers always see at least one token.
func New(name, reply string, tokenDelay time.Duration) *Adapter {
	if reply == "" {
		reply = "this is a deterministic echo response"
	}
	return &Adapter{Name: name, TokenDelay: tokenDelay, Reply: reply}
}

// Stream implements provider.ProviderAdapter.
func (a *Adapter) Stream(ctx context.Context, messages []provider.Message, opts provider.StreamOptions) (<-chan provider.StreamEvent, error) {
	if msg, failing := a.FailOnModel[opts.Model]; failing {
		return nil, fmt.Errorf("echoprovider: %s", msg)
	}

	out := make(chan provider.StreamEvent)
	go a.run(ctx, messages, opts, out)
	return out, nil
}

func (a *Adapter) run(ctx context.Context, messages []provider.Message, opts provider.StreamOptions, out chan<- provider.StreamEvent) {
	defer close(out)

	if a.Trigger != nil && !hasToolResult(messages) && lastUserContains(messages, a.Trigger.Phrase) {
		if !a.send(ctx, out, provider.ToolStartEvent{ToolCallID: "echo-1", Name: a.Trigger.ToolName, Args: a.Trigger.ToolArgs}) {
			return
		}
		a.send(ctx, out, provider.DoneEvent{Reason: "tool_call"})
		return
	}

	reply := a.Reply
	if a.Trigger != nil && hasToolResult(messages) && a.Trigger.FinalReply != "" {
		reply = a.Trigger.FinalReply
	}

	words := strings.Fields(reply)
	var emitted int
	for i, w := range words {
		content := w
		if i < len(words)-1 {
			content += " "
		}
		if a.TokenDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.TokenDelay):
			}
		}
		if !a.send(ctx, out, provider.TokenEvent{Content: content}) {
			return
		}
		emitted++
	}

	a.send(ctx, out, provider.MetadataEvent{
		Usage:    provider.Usage{InputTokens: estimateTokens(messages), OutputTokens: emitted},
		Provider: a.Name,
		Model:    opts.Model,
	})
	a.send(ctx, out, provider.DoneEvent{Content: reply, Reason: "stop"})
}

func (a *Adapter) send(ctx context.Context, out chan<- provider.StreamEvent, ev provider.StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

func lastUserContains(messages []provider.Message, phrase string) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.Contains(messages[i].Content, phrase)
		}
	}
	return false
}

func hasToolResult(messages []provider.Message) bool {
	for _, m := range messages {
		if strings.HasPrefix(m.Content, "tool_result[") {
			return true
		}
	}
	return false
}

func estimateTokens(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m.Content))
	}
	return total
}
