package pairing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wuweilabs/cogkernel/internal/events"
)

func TestGenerateWritesPNGFile(t *testing.T) {
	dir := t.TempDir()
	g := New(nil, Config{OutputDir: dir}, nil)

	path, err := g.Generate(Request{DeviceID: "device-1", Token: "abc123"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("Generate() path = %q, want under %q", path, dir)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %q: %v", path, err)
	}
	if info.Size() == 0 {
		t.Fatal("Generate() wrote an empty file")
	}
}

func TestGenerateRejectsEmptyDeviceID(t *testing.T) {
	g := New(nil, Config{OutputDir: t.TempDir()}, nil)
	if _, err := g.Generate(Request{}); err == nil {
		t.Fatal("Generate() error = nil, want error for empty device id")
	}
}

func TestHandleRequestPublishesCompleted(t *testing.T) {
	bus := events.New(events.BusOptions{})
	dir := t.TempDir()
	New(bus, Config{OutputDir: dir}, nil)

	done := make(chan events.Event, 1)
	bus.Subscribe(events.TopicDevicePairingCompleted, func(e events.Event) {
		done <- e
	})

	bus.Publish(events.TopicDevicePairingRequested, Request{DeviceID: "device-2", Token: "xyz"})

	select {
	case e := <-done:
		completed, ok := e.Payload.(Completed)
		if !ok {
			t.Fatalf("payload type = %T, want Completed", e.Payload)
		}
		if completed.DeviceID != "device-2" {
			t.Errorf("DeviceID = %q, want %q", completed.DeviceID, "device-2")
		}
		if completed.Error != "" {
			t.Errorf("Error = %q, want empty", completed.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completed event")
	}
}

func TestHandleRequestReportsErrorForEmptyDeviceID(t *testing.T) {
	bus := events.New(events.BusOptions{})
	New(bus, Config{OutputDir: t.TempDir()}, nil)

	done := make(chan events.Event, 1)
	bus.Subscribe(events.TopicDevicePairingCompleted, func(e events.Event) {
		done <- e
	})

	bus.Publish(events.TopicDevicePairingRequested, Request{})

	select {
	case e := <-done:
		completed := e.Payload.(Completed)
		if completed.Error == "" {
			t.Error("Error = \"\", want non-empty for empty device id")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completed event")
	}
}
