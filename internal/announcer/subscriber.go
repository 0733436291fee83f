package announcer

import (
	"sync/atomic"

	"github.com/yawlcore/engine/internal/eventlog"
)

// Filter restricts which events a Subscriber receives, by case-id set and
// by event-type set. An empty (zero value) set on either dimension means
// "no restriction". There is no specification dimension: events cannot be
// filtered by the specification their case runs.
type Filter struct {
	CaseIDs    map[string]struct{}
	EventTypes map[eventlog.EventType]struct{}
}

// Matches reports whether ev passes this filter, exported so callers
// replaying backlog outside the hub (internal/api's SSE handler, replaying
// from C4 directly) can apply the same filter a live Notify would.
func (f Filter) Matches(ev eventlog.Event) bool {
	return f.matches(ev)
}

func (f Filter) matches(ev eventlog.Event) bool {
	if len(f.CaseIDs) > 0 {
		if _, ok := f.CaseIDs[ev.CaseID]; !ok {
			return false
		}
	}
	if len(f.EventTypes) > 0 {
		if _, ok := f.EventTypes[ev.Type]; !ok {
			return false
		}
	}
	return true
}

// Subscriber is one Interface E consumer's per-connection mailbox.
// Delivery is at-least-once and per-case FIFO: events for a given case are
// always Notify'd to the hub in the order they were appended (each case's
// own lock serialises its event appends), and a Subscriber's channel
// preserves that arrival order.
//
// A slow consumer is never blocked and never silently loses events: when
// its buffer is full, the offending event is dropped and a counter is
// bumped instead of retrying or blocking the case goroutine that called
// Notify. The consuming side (internal/api's SSE handler) drains that
// counter between events and synthesizes a SYSTEM_EVENT_DROPPED event of
// its own before resuming, satisfying spec.md §6's "the drop is itself an
// event so the consumer can detect it" without the hub needing to write
// back into the case's own append-only log.
type Subscriber struct {
	id     string
	filter Filter

	events  chan eventlog.Event
	dropped atomic.Int64
}

func newSubscriber(id string, filter Filter, backlog int) *Subscriber {
	return &Subscriber{
		id:     id,
		filter: filter,
		events: make(chan eventlog.Event, backlog),
	}
}

func (s *Subscriber) ID() string { return s.id }

// Events returns the channel the SSE handler ranges over. Closed by
// Hub.Unsubscribe.
func (s *Subscriber) Events() <-chan eventlog.Event { return s.events }

// DrainDropped atomically reads and resets the drop counter.
func (s *Subscriber) DrainDropped() int64 { return s.dropped.Swap(0) }

func (s *Subscriber) deliver(ev eventlog.Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}
