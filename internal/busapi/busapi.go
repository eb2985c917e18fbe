// Package busapi exposes a read-only websocket stream of event bus
// activity for external dashboards and operator consoles. It never
// accepts commands from clients and never mutates the bus.
package busapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wuweilabs/cogkernel/internal/events"
)

// WireEvent is the JSON shape streamed to connected clients.
type WireEvent struct {
	Seq           uint64    `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
	Topic         string    `json:"topic"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Payload       any       `json:"payload,omitempty"`
}

// Server streams bus events to websocket clients connecting to
// Handler's "/stream" route.
type Server struct {
	Addr   string
	bus    *events.Bus
	logger *slog.Logger

	upgrader websocket.Upgrader
}

// NewServer constructs a Server over bus, listening on addr once
// ListenAndServe is called.
func NewServer(bus *events.Bus, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Addr:   addr,
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboards may be served from a different origin than the
			// kernel API; this is a read-only stream with no mutating
			// side effects, so cross-origin connections are accepted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the websocket stream at
// "/stream". Exposed separately from ListenAndServe so callers can
// mount it on their own mux (and tests can wrap it in httptest.Server).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.serveWS)
	return mux
}

// ListenAndServe runs the websocket server until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("busapi: listen: %w", err)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("busapi: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	out := make(chan events.Event, 256)
	sub := s.bus.SubscribePrefix("", func(e events.Event) {
		select {
		case out <- e:
		default:
			s.logger.Warn("busapi: client too slow, dropping event", "topic", e.Topic)
		}
	})
	defer sub.Unsubscribe()

	// Detect client disconnects: a read-only stream still needs to read
	// from the connection to notice close frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-out:
			wev := WireEvent{Seq: e.Seq, Timestamp: e.Timestamp, Topic: e.Topic, CorrelationID: e.CorrelationID, Payload: e.Payload}
			data, err := json.Marshal(wev)
			if err != nil {
				s.logger.Warn("busapi: marshal event", "topic", e.Topic, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
