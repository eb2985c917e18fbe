// Package eventsink archives event bus history to SQLite. It is a
// best-effort subscriber: it never blocks Publish and never mutates the
// bus it observes.
package eventsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wuweilabs/cogkernel/internal/events"
)

// Record is one archived bus event.
type Record struct {
	Seq           uint64
	Timestamp     time.Time
	Topic         string
	CorrelationID string
	PayloadJSON   string
}

// Sink is an append-only SQLite store of bus events. All public methods
// are safe for concurrent use (SQLite serializes writes).
type Sink struct {
	db     *sql.DB
	sub    *events.Subscription
	logger *slog.Logger
}

// Open creates an event sink backed by the database at dbPath. The
// schema is created automatically on first use. Callers must blank-
// import the github.com/mattn/go-sqlite3 driver before calling Open.
func Open(dbPath string, logger *slog.Logger) (*Sink, error) {
	return open("sqlite3", dbPath, logger)
}

// open creates a Sink against an arbitrary registered database/sql
// driver name, letting tests substitute the pure-Go modernc.org/sqlite
// driver for the cgo-based mattn/go-sqlite3 Open uses in production.
func open(driverName, dbPath string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := dbPath
	if driverName == "sqlite3" {
		// mattn/go-sqlite3 DSN query parameters; modernc.org/sqlite (used
		// in tests) takes plain paths and PRAGMAs issued after Open.
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open eventsink database: %w", err)
	}

	s := &Sink{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate eventsink schema: %w", err)
	}
	return s, nil
}

func (s *Sink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bus_events (
		seq            INTEGER PRIMARY KEY,
		timestamp      TEXT NOT NULL,
		topic          TEXT NOT NULL,
		correlation_id TEXT,
		payload_json   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_bus_events_topic ON bus_events(topic);
	CREATE INDEX IF NOT EXISTS idx_bus_events_timestamp ON bus_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Attach subscribes the sink to every topic on bus via a prefix
// subscription on "". Each event is archived synchronously inside the
// handler; archival errors are logged, never propagated, since a
// persistence failure must not stall or crash the publisher.
func (s *Sink) Attach(bus *events.Bus) {
	s.sub = bus.SubscribePrefix("", s.record)
}

// Detach stops archiving new events. Already-archived records remain.
func (s *Sink) Detach() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}

// Close closes the underlying database connection.
func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) record(e events.Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		s.logger.Warn("eventsink: marshal payload", "topic", e.Topic, "error", err)
		payload = []byte("null")
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO bus_events (seq, timestamp, topic, correlation_id, payload_json)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Seq,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Topic,
		e.CorrelationID,
		string(payload),
	)
	if err != nil {
		s.logger.Warn("eventsink: insert event", "topic", e.Topic, "error", err)
	}
}

// Since returns archived records with timestamp >= since, ordered by
// sequence number, up to limit records (0 means unlimited).
func (s *Sink) Since(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	query := `SELECT seq, timestamp, topic, correlation_id, payload_json
	          FROM bus_events WHERE timestamp >= ? ORDER BY seq ASC`
	args := []any{since.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archived events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.Seq, &ts, &r.Topic, &r.CorrelationID, &r.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scan archived event: %w", err)
		}
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse archived event timestamp: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByTopic returns the archived event count for each topic.
func (s *Sink) CountByTopic(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topic, COUNT(*) FROM bus_events GROUP BY topic`)
	if err != nil {
		return nil, fmt.Errorf("query topic counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var topic string
		var count int
		if err := rows.Scan(&topic, &count); err != nil {
			return nil, fmt.Errorf("scan topic count: %w", err)
		}
		out[topic] = count
	}
	return out, rows.Err()
}
