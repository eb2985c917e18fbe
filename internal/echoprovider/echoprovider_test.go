package echoprovider

import (
	"context"
	"testing"
	"time"

	"github.com/wuweilabs/cogkernel/internal/provider"
)

func drain(t *testing.T, events <-chan provider.StreamEvent) []provider.StreamEvent {
	t.Helper()
	var got []provider.StreamEvent
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining echoprovider events")
		}
	}
}

func TestStreamEmitsTokensThenMetadataThenDone(t *testing.T) {
	a := New("echo", "hello world", 0)
	events, err := a.Stream(context.Background(), []provider.Message{{Role: "user", Content: "hi"}}, provider.StreamOptions{Model: "echo-1"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	got := drain(t, events)
	if len(got) != 4 {
		t.Fatalf("len(events) = %d, want 4 (2 tokens + metadata + done)", len(got))
	}
	if _, ok := got[len(got)-1].(provider.DoneEvent); !ok {
		t.Fatalf("last event = %T, want DoneEvent", got[len(got)-1])
	}
}

func TestFailOnModelReturnsErrorBeforeStreaming(t *testing.T) {
	a := New("echo", "hi", 0)
	a.FailOnModel = map[string]string{"broken": "simulated failure"}
	_, err := a.Stream(context.Background(), nil, provider.StreamOptions{Model: "broken"})
	if err == nil {
		t.Fatal("Stream() error = nil, want simulated failure")
	}
}

func TestTriggerEmitsToolCallThenFinalReplyOnSecondLeg(t *testing.T) {
	a := New("echo", "default reply", 0)
	a.Trigger = &ToolTrigger{Phrase: "weather", ToolName: "lookup", ToolArgs: map[string]any{"q": "weather"}, FinalReply: "it is sunny"}

	first, err := a.Stream(context.Background(), []provider.Message{{Role: "user", Content: "what's the weather?"}}, provider.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	gotFirst := drain(t, first)
	if len(gotFirst) != 2 {
		t.Fatalf("len(events) = %d, want 2 (tool_start + done)", len(gotFirst))
	}
	if _, ok := gotFirst[0].(provider.ToolStartEvent); !ok {
		t.Fatalf("events[0] = %T, want ToolStartEvent", gotFirst[0])
	}

	second, err := a.Stream(context.Background(), []provider.Message{
		{Role: "user", Content: "what's the weather?"},
		{Role: "user", Content: "tool_result[call-1]: sunny"},
	}, provider.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	gotSecond := drain(t, second)
	lastDone, ok := gotSecond[len(gotSecond)-1].(provider.DoneEvent)
	if !ok {
		t.Fatalf("last event = %T, want DoneEvent", gotSecond[len(gotSecond)-1])
	}
	if lastDone.Content != "it is sunny" {
		t.Fatalf("Done.Content = %q, want %q", lastDone.Content, "it is sunny")
	}
}

func TestStreamRespectsCancellation(t *testing.T) {
	a := New("echo", "one two three four five", 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	events, err := a.Stream(ctx, nil, provider.StreamOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	<-events
	cancel()
	for range events {
	}
}
