// Package pairing renders out-of-band device pairing codes. It is a
// side-channel collaborator: pairing requests arrive over
// events.TopicDevicePairingRequested and never touch belief state or
// the action-selection loop.
package pairing

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/skip2/go-qrcode"

	"github.com/wuweilabs/cogkernel/internal/events"
)

// Config names where rendered pairing images are written.
type Config struct {
	OutputDir string
}

// Request asks for a new pairing code for DeviceID. Token is an
// opaque, caller-generated pairing secret; Generator does not mint or
// validate it.
type Request struct {
	DeviceID string
	Token    string
}

// Completed reports the outcome of one Request.
type Completed struct {
	DeviceID  string
	ImagePath string
	Error     string
}

// Generator renders pairing QR codes and, when constructed with New,
// answers requests published on the bus.
type Generator struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus
}

// New constructs a Generator and subscribes it to
// events.TopicDevicePairingRequested. bus may be nil to use Generate
// directly without bus wiring.
func New(bus *events.Bus, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{cfg: cfg, logger: logger, bus: bus}
	if bus != nil {
		bus.Subscribe(events.TopicDevicePairingRequested, g.handleRequest)
	}
	return g
}

func (g *Generator) handleRequest(e events.Event) {
	req, ok := e.Payload.(Request)
	if !ok {
		return
	}
	path, err := g.Generate(req)
	completed := Completed{DeviceID: req.DeviceID, ImagePath: path}
	if err != nil {
		completed.Error = err.Error()
		g.logger.Warn("pairing: generate failed", "device", req.DeviceID, "error", err)
	}
	g.bus.Publish(events.TopicDevicePairingCompleted, completed)
}

// Generate renders a pairing QR code encoding a cogkernel-pair:// URI
// for req and writes it as a PNG under Config.OutputDir, returning the
// file path. It performs no network I/O and has no bearing on belief
// state — a bounded, one-off side effect.
func (g *Generator) Generate(req Request) (string, error) {
	if req.DeviceID == "" {
		return "", fmt.Errorf("pairing: device id required")
	}
	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("pairing: create output dir: %w", err)
	}

	uri := fmt.Sprintf("cogkernel-pair://%s?token=%s", req.DeviceID, req.Token)
	path := filepath.Join(g.cfg.OutputDir, req.DeviceID+".png")
	if err := qrcode.WriteFile(uri, qrcode.Medium, 256, path); err != nil {
		return "", fmt.Errorf("pairing: write qr code: %w", err)
	}
	return path, nil
}
