// Package heromessaging is an in-process messaging framework that routes
// commands, queries, and events through a decorator pipeline with reliability
// patterns (retry, circuit breaker, idempotency, rate limiting, transactional
// outbox/inbox) and batching.
package heromessaging

import (
	"time"

	"github.com/heromessaging/hero-messaging/internal/ids"
)

// Kind distinguishes the three message variants.
type Kind int

const (
	KindCommand Kind = iota
	KindQuery
	KindEvent
)

// Base carries the fields shared by every message variant. MessageID is
// assigned once at construction and stays stable across retries.
type Base struct {
	MessageID     string
	Timestamp     time.Time
	CorrelationID string
	CausationID   string
	Metadata      map[string]any
}

// Message is satisfied by Command, Query and Event.
type Message interface {
	Envelope() *Base
	Kind() Kind
}

func newBase(now time.Time, opts []Option) Base {
	b := Base{
		MessageID: ids.Default.NewID(),
		Timestamp: now,
		Metadata:  make(map[string]any),
	}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// Option customizes a message's envelope at construction time.
type Option func(*Base)

// WithCorrelationID sets an explicit correlation id (defaults to MessageID).
func WithCorrelationID(id string) Option {
	return func(b *Base) { b.CorrelationID = id }
}

// WithCausationID records the id of the message that caused this one.
func WithCausationID(id string) Option {
	return func(b *Base) { b.CausationID = id }
}

// WithMetadata attaches an opaque metadata entry.
func WithMetadata(key string, value any) Option {
	return func(b *Base) { b.Metadata[key] = value }
}

// Command is a message with zero-or-one response type, dispatched to exactly
// one registered handler.
type Command struct {
	Base
	Payload any
}

func NewCommand(now time.Time, payload any, opts ...Option) *Command {
	return &Command{Base: newBase(now, opts), Payload: payload}
}

func (c *Command) Envelope() *Base { return &c.Base }
func (c *Command) Kind() Kind      { return KindCommand }

// Query is a message with a mandatory response type R, dispatched to exactly
// one registered handler.
type Query struct {
	Base
	Payload any
}

func NewQuery(now time.Time, payload any, opts ...Option) *Query {
	return &Query{Base: newBase(now, opts), Payload: payload}
}

func (q *Query) Envelope() *Base { return &q.Base }
func (q *Query) Kind() Kind      { return KindQuery }

// Event is a message with no response, dispatched to every handler registered
// for its exact payload type in registration order. Handlers registered for an
// interface type that the payload implements are not invoked.
type Event struct {
	Base
	Payload any
}

func NewEvent(now time.Time, payload any, opts ...Option) *Event {
	return &Event{Base: newBase(now, opts), Payload: payload}
}

func (e *Event) Envelope() *Base { return &e.Base }
func (e *Event) Kind() Kind      { return KindEvent }
