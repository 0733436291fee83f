package netrunner

import (
	"github.com/yawlcore/engine/internal/spec"
)

// placeOf returns the marking place associated with a flow: the explicit
// condition at either endpoint if one exists, or else a synthesized
// "implicit place" uniquely identifying a direct task-to-task edge
// (spec.md §3: "marking... multiset of tokens over conditions and
// implicit places between tasks").
func placeOf(n *spec.Net, f *spec.Flow) spec.PlaceRef {
	if _, ok := n.FindCondition(f.Source); ok {
		return spec.PlaceRef(f.Source)
	}
	if _, ok := n.FindCondition(f.Target); ok {
		return spec.PlaceRef(f.Target)
	}
	return spec.PlaceRef(f.Source + "=>" + f.Target)
}

// EnablementResult describes which incoming places a join actually
// consumes from if the task fires.
type EnablementResult struct {
	Enabled        bool
	ConsumedPlaces []spec.PlaceRef // places the firing consumes one token from
}

// isEnabled evaluates spec.md §4.5.1's join-type enablement rule for a
// task against the current marking.
func isEnabled(n *spec.Net, t *spec.Task, m Marking) EnablementResult {
	in := n.IncomingFlows(t.ID)
	if len(in) == 0 {
		return EnablementResult{}
	}
	switch t.JoinType {
	case spec.JoinAND:
		return andEnablement(n, in, m)
	case spec.JoinXOR:
		return xorEnablement(n, in, m)
	case spec.JoinOR:
		return orEnablement(n, t.ID, in, m)
	default:
		return EnablementResult{}
	}
}

func andEnablement(n *spec.Net, in []*spec.Flow, m Marking) EnablementResult {
	places := make([]spec.PlaceRef, 0, len(in))
	for _, f := range in {
		p := placeOf(n, f)
		if !m.Has(p) {
			return EnablementResult{Enabled: false}
		}
		places = append(places, p)
	}
	return EnablementResult{Enabled: true, ConsumedPlaces: places}
}

// xorEnablement: exactly one incoming place marked fires; if several are
// marked, the lowest-ordering-index place is chosen and surplus tokens are
// left untouched (spec.md §4.5.1).
func xorEnablement(n *spec.Net, in []*spec.Flow, m Marking) EnablementResult {
	for _, f := range in { // in is already Order-sorted by Net.BuildIndex
		p := placeOf(n, f)
		if m.Has(p) {
			return EnablementResult{Enabled: true, ConsumedPlaces: []spec.PlaceRef{p}}
		}
	}
	return EnablementResult{Enabled: false}
}

// orEnablement implements spec.md §4.5.1's non-local OR-join rule using
// the structural trigger-place precomputation from spec.Validate, turning
// the runtime check into a marking-local lookup (spec.md §9).
func orEnablement(n *spec.Net, taskID string, in []*spec.Flow, m Marking) EnablementResult {
	triggers := n.TriggerPlaces(taskID)
	var (
		anyMarked bool
		consumed  []spec.PlaceRef
	)
	for _, f := range in {
		p := placeOf(n, f)
		if m.Has(p) {
			anyMarked = true
			consumed = append(consumed, p)
			continue
		}
		if triggers[string(p)] {
			// An unmarked place that can still independently receive a
			// token structurally: more tokens may yet arrive, so T is
			// not OR-enabled.
			return EnablementResult{Enabled: false}
		}
	}
	if !anyMarked {
		return EnablementResult{Enabled: false}
	}
	return EnablementResult{Enabled: true, ConsumedPlaces: consumed}
}
