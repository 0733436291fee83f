// Package announcer implements C9: fan-out of every appended event to
// Interface E's current subscribers. Grounded on the teacher's fanout
// service (cmd/fanout/hub.go: a registry of live connections keyed by
// identity, each with its own buffered outbound channel, guarded by a
// single RWMutex rather than the channel-operated single-goroutine loop
// the teacher also shows — registry.Registry already established the
// RWMutex-guarded-map shape for this module's other concurrent registries
// (internal/registry's case map), so Hub follows suit instead of mixing
// the two patterns) — transport swapped from the teacher's WebSocket
// (cmd/fanout/client.go, server.go's gorilla/websocket upgrade) to SSE,
// since spec.md §6 allows either and a long-lived unidirectional stream
// has no use for a duplex socket.
package announcer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yawlcore/engine/internal/eventlog"
)

// Logger is the narrow logging surface this package depends on, matching
// the per-package Logger interface pattern used throughout (netrunner.
// Logger, registry's logger field).
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Hub holds every live Interface E subscription and fans out events to
// the ones whose filter matches. It implements netrunner.Notifier, so a
// Runner calls Notify directly from inside appendEvent — Hub itself never
// blocks that caller: each delivery attempt is a non-blocking channel
// send (see Subscriber.deliver).
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	backlogSize int
	logger      Logger
}

func NewHub(backlogSize int, logger Logger) *Hub {
	return &Hub{
		subscribers: map[string]*Subscriber{},
		backlogSize: backlogSize,
		logger:      logger,
	}
}

// Subscribe registers a new Interface E consumer and returns its
// Subscriber handle. The caller (internal/api's SSE route) is responsible
// for calling Unsubscribe when the connection ends.
func (h *Hub) Subscribe(filter Filter) *Subscriber {
	sub := newSubscriber(uuid.NewString(), filter, h.backlogSize)
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
	if h.logger != nil {
		h.logger.Debug("announcer: subscriber connected", "subscriber_id", sub.id)
	}
	return sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		close(sub.events)
		if h.logger != nil {
			h.logger.Debug("announcer: subscriber disconnected", "subscriber_id", id)
		}
	}
}

// Notify implements netrunner.Notifier: fan the event out to every
// subscriber whose filter matches. Called synchronously, inside the case
// lock, immediately after a durable log append — it must never block or
// error, since there is no recovery path for a failed notification (a
// dropped delivery is handled entirely within Subscriber.deliver).
func (h *Hub) Notify(ev eventlog.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if !sub.filter.matches(ev) {
			continue
		}
		sub.deliver(ev)
	}
}

// SubscriberCount reports the number of live Interface E connections, for
// /health or monitoring.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
