// Package provider defines the narrow contract a concrete LLM backend
// must satisfy to be driven by internal/orchestrator and raced by
// internal/racer: a discriminated StreamEvent sum type and the
// ProviderAdapter interface that produces it. No concrete HTTP client
// lives here — that is explicitly out of scope; internal/echoprovider
// is the only implementation in this repository, and it makes no
// network call.
package provider

import (
	"context"
	"time"
)

// Message is one turn in a conversation passed to a ProviderAdapter.
type Message struct {
	Role    string
	Content string
}

// ToolSpec describes one callable tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// StreamOptions configures one Stream call. Cancellation is carried by
// the ctx argument to Stream rather than a signal field here.
type StreamOptions struct {
	Model          string
	APIKey         string
	Temperature    float64
	MaxTokens      int
	Tools          []ToolSpec
	EnableThinking bool
	ThinkingBudget int
}

// Usage reports token accounting for one stream.
type Usage struct {
	InputTokens    int
	OutputTokens   int
	ThinkingTokens int
}

// StreamEvent is the closed set of events a ProviderAdapter may emit.
// Exactly one concrete type is ever in flight at a time; the
// orchestrator switches on the concrete type, never on an escape-hatch
// field cast.
type StreamEvent interface {
	isStreamEvent()
}

// TokenEvent carries one chunk of assistant content.
type TokenEvent struct {
	Content string
}

func (TokenEvent) isStreamEvent() {}

// ToolStartEvent announces a tool call the model wants executed.
type ToolStartEvent struct {
	ToolCallID string
	Name       string
	Args       map[string]any
}

func (ToolStartEvent) isStreamEvent() {}

// ToolResultEvent reports one tool call's outcome back into the stream.
type ToolResultEvent struct {
	ToolCallID string
	Content    string
	Success    bool
	Duration   time.Duration
}

func (ToolResultEvent) isStreamEvent() {}

// ThinkingStartEvent marks the beginning of an extended-thinking block.
type ThinkingStartEvent struct{}

func (ThinkingStartEvent) isStreamEvent() {}

// ThinkingTokenEvent carries one chunk of thinking content.
type ThinkingTokenEvent struct {
	Content string
}

func (ThinkingTokenEvent) isStreamEvent() {}

// ThinkingEndEvent marks the end of an extended-thinking block.
type ThinkingEndEvent struct{}

func (ThinkingEndEvent) isStreamEvent() {}

// MetadataEvent carries provider-reported usage and identification.
type MetadataEvent struct {
	Usage    Usage
	Provider string
	Model    string
}

func (MetadataEvent) isStreamEvent() {}

// ErrorEvent reports an adapter-level failure. Retryable indicates the
// caller may reasonably retry the same request.
type ErrorEvent struct {
	Code      string
	Message   string
	Retryable bool
}

func (ErrorEvent) isStreamEvent() {}

// DoneEvent terminates one adapter stream. When tool calls were
// announced in that stream, the orchestrator treats it as the end of a
// leg and re-enters the adapter instead of ending the turn.
type DoneEvent struct {
	Content string
	Reason  string
	Metrics map[string]any
}

func (DoneEvent) isStreamEvent() {}

// ProviderAdapter streams StreamEvents from one LLM backend, translating
// to and from its native wire protocol. The core consumes only
// StreamEvent values.
type ProviderAdapter interface {
	// Stream begins a turn and returns a channel of StreamEvents. The
	// channel is closed once a DoneEvent or ErrorEvent has been sent, or
	// ctx is cancelled. A cancelled ctx stops the adapter promptly; it
	// must never block a send past ctx's cancellation.
	Stream(ctx context.Context, messages []Message, opts StreamOptions) (<-chan StreamEvent, error)
}
