// Package events implements the cognitive kernel's typed event bus: the
// sole inter-module communication channel. It supports priority dispatch,
// exact and prefix subscriptions held in separate registries, correlation
// contexts, and a bounded history ring.
package events

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority controls dispatch order within a topic. Higher values are
// delivered first; equal priorities are delivered in subscription order.
type Priority int

const (
	PriorityLow    Priority = -10
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 10
)

// Event is one published message. Once created it is never mutated.
type Event struct {
	Seq           uint64
	Timestamp     time.Time
	Topic         string
	CorrelationID string
	Payload       any
}

// Handler processes one delivered Event. A handler must not block long;
// it runs synchronously inside Publish.
type Handler func(Event)

// BusOptions configures a Bus. MaxHistory bounds the history ring; zero
// selects a default of 1000. Logger defaults to slog.Default().
type BusOptions struct {
	MaxHistory int
	Logger     *slog.Logger
}

type subEntry struct {
	id       string
	topic    string
	prefix   bool
	priority Priority
	subSeq   uint64
	once     bool
	handler  Handler
}

// Bus is an in-process, typed publish/subscribe router. The zero value is
// not usable; construct with New. A nil *Bus is safe to call Publish,
// WithCorrelation, History, Clear, and Stats on, matching the convention
// that collaborators holding an optional bus reference need not nil-check
// before use.
type Bus struct {
	mu     sync.Mutex
	logger *slog.Logger

	exact  map[string][]*subEntry
	prefix map[string][]*subEntry

	seqCounter      uint64
	subSeqCounter   uint64
	eventsPublished uint64
	history         []Event
	maxHistory      int

	corrMu    sync.Mutex
	corrStack []string
}

// New constructs a Bus with the given options.
func New(opts BusOptions) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Bus{
		logger:     logger,
		exact:      make(map[string][]*subEntry),
		prefix:     make(map[string][]*subEntry),
		maxHistory: maxHistory,
	}
}

// Stats is a snapshot of bus-level counters.
type Stats struct {
	EventsPublished uint64
	SubscriberCount int
	HistorySize     int
}

// Subscription binds one handler to one exact topic or prefix.
// Unsubscribe is idempotent.
type Subscription struct {
	bus    *Bus
	id     string
	topic  string
	prefix bool
	once   sync.Once
}

// Unsubscribe removes the registration. Calling it more than once is a
// no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.unsubscribe(s.topic, s.prefix, s.id)
	})
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

type subOptions struct {
	priority Priority
	id       string
}

// SubscribeOption customises a subscription's priority or explicit ID.
type SubscribeOption func(*subOptions)

// WithPriority sets the dispatch priority for a subscription. Default is
// PriorityNormal.
func WithPriority(p Priority) SubscribeOption {
	return func(o *subOptions) { o.priority = p }
}

// WithSubscriptionID assigns an explicit, caller-chosen subscription ID
// instead of the generated default.
func WithSubscriptionID(id string) SubscribeOption {
	return func(o *subOptions) { o.id = id }
}

// Subscribe registers handler for exact-topic delivery.
func (b *Bus) Subscribe(topic string, handler Handler, opts ...SubscribeOption) *Subscription {
	return b.subscribe(topic, false, handler, false, opts...)
}

// SubscribePrefix registers handler for every topic beginning with prefix.
// Prefix subscriptions live in a registry separate from exact-topic
// subscriptions; delivering to them never requires mutating the exact
// dispatch path.
func (b *Bus) SubscribePrefix(prefix string, handler Handler, opts ...SubscribeOption) *Subscription {
	return b.subscribe(prefix, true, handler, false, opts...)
}

// Once registers handler for exact-topic delivery and auto-unsubscribes
// after the first delivery, even if the handler panics.
func (b *Bus) Once(topic string, handler Handler, opts ...SubscribeOption) *Subscription {
	return b.subscribe(topic, false, handler, true, opts...)
}

func (b *Bus) subscribe(topic string, prefix bool, handler Handler, once bool, opts ...SubscribeOption) *Subscription {
	if b == nil {
		return &Subscription{}
	}
	o := subOptions{priority: PriorityNormal}
	for _, opt := range opts {
		opt(&o)
	}
	id := o.id
	if id == "" {
		id = "sub_" + uuid.Must(uuid.NewV7()).String()
	}

	b.mu.Lock()
	b.subSeqCounter++
	entry := &subEntry{
		id:       id,
		topic:    topic,
		prefix:   prefix,
		priority: o.priority,
		subSeq:   b.subSeqCounter,
		once:     once,
		handler:  handler,
	}
	reg := b.exact
	if prefix {
		reg = b.prefix
	}
	reg[topic] = append(reg[topic], entry)
	b.mu.Unlock()

	return &Subscription{bus: b, id: id, topic: topic, prefix: prefix}
}

func (b *Bus) unsubscribe(topic string, prefix bool, id string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	reg := b.exact
	if prefix {
		reg = b.prefix
	}
	list := reg[topic]
	for i, se := range list {
		if se.id == id {
			reg[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish assigns the next seq, attaches the current timestamp and the
// innermost correlation ID from WithCorrelation, appends the event to
// history (evicting the oldest entry once maxHistory is exceeded), then
// dispatches to matching subscribers. It never blocks on handlers and
// never panics: handler failures are recovered and logged.
func (b *Bus) Publish(topic string, payload any) Event {
	if b == nil {
		return Event{Topic: topic, Payload: payload}
	}
	return b.publish(topic, payload, b.currentCorrelationID())
}

// PublishCorrelated is Publish with an explicit correlation ID, overriding
// any ID pushed by an enclosing WithCorrelation.
func (b *Bus) PublishCorrelated(topic string, payload any, correlationID string) Event {
	if b == nil {
		return Event{Topic: topic, Payload: payload, CorrelationID: correlationID}
	}
	return b.publish(topic, payload, correlationID)
}

func (b *Bus) publish(topic string, payload any, correlationID string) Event {
	b.mu.Lock()
	b.seqCounter++
	e := Event{
		Seq:           b.seqCounter,
		Timestamp:     time.Now(),
		Topic:         topic,
		CorrelationID: correlationID,
		Payload:       payload,
	}
	b.eventsPublished++
	b.appendHistory(e)
	handlers := b.matchingHandlers(topic)
	b.mu.Unlock()

	for _, entry := range handlers {
		b.invoke(entry, e)
	}
	return e
}

// appendHistory must be called with mu held.
func (b *Bus) appendHistory(e Event) {
	b.history = append(b.history, e)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
}

// matchingHandlers must be called with mu held. It returns exact-topic
// subscribers sorted by descending priority (insertion order breaking
// ties), followed by matching prefix subscribers in the same order.
func (b *Bus) matchingHandlers(topic string) []*subEntry {
	exact := append([]*subEntry(nil), b.exact[topic]...)
	sortEntries(exact)

	var pfx []*subEntry
	for prefix, list := range b.prefix {
		if strings.HasPrefix(topic, prefix) {
			pfx = append(pfx, list...)
		}
	}
	sortEntries(pfx)

	return append(exact, pfx...)
}

func sortEntries(list []*subEntry) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].subSeq < list[j].subSeq
	})
}

// invoke calls entry.handler(e), recovering and logging any panic so it
// cannot prevent other handlers from being called or poison the bus. A
// once subscription is unsubscribed after delivery even if the handler
// panicked.
func (b *Bus) invoke(entry *subEntry, e Event) {
	if entry.once {
		defer b.unsubscribe(entry.topic, entry.prefix, entry.id)
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"topic", e.Topic,
				"subscription_id", entry.id,
				"panic", r,
			)
		}
	}()
	entry.handler(e)
}

// currentCorrelationID returns the innermost ID pushed by WithCorrelation,
// or "" if none is active.
func (b *Bus) currentCorrelationID() string {
	b.corrMu.Lock()
	defer b.corrMu.Unlock()
	if len(b.corrStack) == 0 {
		return ""
	}
	return b.corrStack[len(b.corrStack)-1]
}

// WithCorrelation pushes id onto the correlation stack for the duration of
// fn. Any Publish call inside fn (that does not use PublishCorrelated)
// inherits id. The stack is restored on every exit path, including a
// panic inside fn.
func (b *Bus) WithCorrelation(id string, fn func()) {
	if b == nil {
		fn()
		return
	}
	b.corrMu.Lock()
	b.corrStack = append(b.corrStack, id)
	b.corrMu.Unlock()
	defer func() {
		b.corrMu.Lock()
		if n := len(b.corrStack); n > 0 {
			b.corrStack = b.corrStack[:n-1]
		}
		b.corrMu.Unlock()
	}()
	fn()
}

// WaitTimeoutError is returned by WaitFor when no matching event arrives
// before the deadline.
type WaitTimeoutError struct {
	Topic   string
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("events: wait_for %q timed out after %s", e.Topic, e.Timeout)
}

// WaitFor resolves on the first event on topic for which predicate
// returns true (a nil predicate matches any event), or fails with a
// *WaitTimeoutError once timeout elapses. Its own subscription is
// cancelled on either path.
func (b *Bus) WaitFor(topic string, predicate func(Event) bool, timeout time.Duration) (Event, error) {
	resultCh := make(chan Event, 1)
	sub := b.Subscribe(topic, func(e Event) {
		if predicate != nil && !predicate(e) {
			return
		}
		select {
		case resultCh <- e:
		default:
		}
	})
	defer sub.Unsubscribe()

	select {
	case e := <-resultCh:
		return e, nil
	case <-time.After(timeout):
		return Event{}, &WaitTimeoutError{Topic: topic, Timeout: timeout}
	}
}

// History returns events matching filter (nil matches all), most recent
// limit of them (limit <= 0 means no limit).
func (b *Bus) History(filter func(Event) bool, limit int) []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, e := range b.history {
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Correlated returns every historical event carrying the given
// correlation ID, in seq order.
func (b *Bus) Correlated(id string) []Event {
	return b.History(func(e Event) bool { return e.CorrelationID == id }, 0)
}

// Clear empties history and resets the seq counter and publish count to
// zero. Subscriptions are left intact.
func (b *Bus) Clear() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.seqCounter = 0
	b.eventsPublished = 0
}

// Stats returns a snapshot of bus-level counters.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, l := range b.exact {
		count += len(l)
	}
	for _, l := range b.prefix {
		count += len(l)
	}
	return Stats{
		EventsPublished: b.eventsPublished,
		SubscriberCount: count,
		HistorySize:     len(b.history),
	}
}
