package announcer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawlcore/engine/internal/eventlog"
)

func TestHub_NotifyDeliversToMatchingSubscriber(t *testing.T) {
	h := NewHub(4, nil)
	sub := h.Subscribe(Filter{})
	defer h.Unsubscribe(sub.ID())

	ev := eventlog.Event{CaseID: "case-1", Type: eventlog.EventCaseStarted}
	h.Notify(ev)

	select {
	case got := <-sub.Events():
		assert.Equal(t, ev.CaseID, got.CaseID)
	default:
		t.Fatal("expected the subscriber to receive the notified event")
	}
}

func TestHub_NotifySkipsNonMatchingCaseFilter(t *testing.T) {
	h := NewHub(4, nil)
	sub := h.Subscribe(Filter{CaseIDs: map[string]struct{}{"other-case": {}}})
	defer h.Unsubscribe(sub.ID())

	h.Notify(eventlog.Event{CaseID: "case-1", Type: eventlog.EventCaseStarted})

	select {
	case <-sub.Events():
		t.Fatal("subscriber should not receive an event for a case it didn't filter on")
	default:
	}
}

func TestHub_NotifyFiltersByEventType(t *testing.T) {
	h := NewHub(4, nil)
	sub := h.Subscribe(Filter{EventTypes: map[eventlog.EventType]struct{}{eventlog.EventCaseFailed: {}}})
	defer h.Unsubscribe(sub.ID())

	h.Notify(eventlog.Event{CaseID: "case-1", Type: eventlog.EventCaseStarted})
	select {
	case <-sub.Events():
		t.Fatal("non-matching event type should have been filtered out")
	default:
	}

	h.Notify(eventlog.Event{CaseID: "case-1", Type: eventlog.EventCaseFailed})
	select {
	case got := <-sub.Events():
		assert.Equal(t, eventlog.EventCaseFailed, got.Type)
	default:
		t.Fatal("matching event type should have been delivered")
	}
}

func TestHub_SlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe(Filter{})
	defer h.Unsubscribe(sub.ID())

	h.Notify(eventlog.Event{CaseID: "c", Type: eventlog.EventCaseStarted})
	h.Notify(eventlog.Event{CaseID: "c", Type: eventlog.EventCaseStarted})
	h.Notify(eventlog.Event{CaseID: "c", Type: eventlog.EventCaseStarted})

	assert.Equal(t, int64(2), sub.DrainDropped(), "two of the three events should have been dropped against a backlog of 1")
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe(Filter{})
	h.Unsubscribe(sub.ID())

	_, ok := <-sub.Events()
	assert.False(t, ok, "the events channel should be closed after Unsubscribe")
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestFilter_MatchesExportedWrapper(t *testing.T) {
	f := Filter{CaseIDs: map[string]struct{}{"case-1": {}}}
	require.True(t, f.Matches(eventlog.Event{CaseID: "case-1"}))
	require.False(t, f.Matches(eventlog.Event{CaseID: "case-2"}))
}
