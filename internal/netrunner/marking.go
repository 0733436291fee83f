// Package netrunner implements C5, the Petri-net token engine per case:
// enablement, firing, split/join semantics, MI expansion, composite
// descent, and completion/deadlock detection. Grounded on the teacher's
// cmd/workflow-runner/coordinator/coordinator.go ("kicked on completion,
// runs to quiescence" shape: handleCompletion -> routeToNextNodes ->
// absorber/worker split) and on
// other_examples/...tracodict-go-petri-flow__internal-case-manager.go for
// case/marking ownership. No ecosystem Petri-net library exists in the
// retrieved corpus; the core token-flow algorithm is intentionally plain
// Go data structures and control flow (see DESIGN.md).
package netrunner

import "github.com/yawlcore/engine/internal/spec"

// Marking is the multiset of tokens over all places of a case's net,
// represented as place -> count so it stays a serializable JSON-friendly
// value (spec.md §3: "places are string keys, never pointers").
type Marking map[spec.PlaceRef]int

func NewMarking() Marking {
	return Marking{}
}

func (m Marking) Add(p spec.PlaceRef, n int) {
	if n <= 0 {
		return
	}
	m[p] += n
}

func (m Marking) Remove(p spec.PlaceRef, n int) bool {
	if m[p] < n {
		return false
	}
	m[p] -= n
	if m[p] == 0 {
		delete(m, p)
	}
	return true
}

func (m Marking) Has(p spec.PlaceRef) bool {
	return m[p] > 0
}

func (m Marking) Count(p spec.PlaceRef) int {
	return m[p]
}

func (m Marking) IsEmpty() bool {
	return len(m) == 0
}

// Clone returns a deep copy, used when taking a read snapshot outside the
// case lock (spec.md §5 "readers may read... a snapshot taken at the last
// quiescence").
func (m Marking) Clone() Marking {
	out := make(Marking, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
