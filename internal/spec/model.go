// Package spec holds the in-memory specification model: nets, tasks,
// conditions, flows, and decompositions. Purely data-bearing — no engine
// state lives here. Grounded on the teacher's IR node/graph shape
// (cmd/workflow-runner/compiler/ir.go), generalized from a DAG of typed
// nodes to a full Petri net with explicit places, join/split types, MI
// bounds, and cancellation/remove sets.
package spec

import "fmt"

// JoinType is how a task's incoming edges combine to decide enablement.
type JoinType int

const (
	JoinAND JoinType = iota
	JoinXOR
	JoinOR
)

func (j JoinType) String() string {
	switch j {
	case JoinAND:
		return "AND"
	case JoinXOR:
		return "XOR"
	case JoinOR:
		return "OR"
	default:
		return "UNKNOWN"
	}
}

// SplitType is how a task's outgoing edges combine after completion.
type SplitType int

const (
	SplitAND SplitType = iota
	SplitXOR
	SplitOR
)

func (s SplitType) String() string {
	switch s {
	case SplitAND:
		return "AND"
	case SplitXOR:
		return "XOR"
	case SplitOR:
		return "OR"
	default:
		return "UNKNOWN"
	}
}

// CreationMode governs how a multi-instance task's instance count is decided.
type CreationMode int

const (
	CreationStatic CreationMode = iota
	CreationDynamic
)

// SpecID identifies a specification by the (identifier, version, uri)
// triple spec.md §3 requires, with a legacy equality fallback.
type SpecID struct {
	Identifier string
	Version    string
	URI        string
}

func (id SpecID) String() string {
	if id.Version == "" {
		return fmt.Sprintf("%s@%s", id.Identifier, id.URI)
	}
	return fmt.Sprintf("%s:%s@%s", id.Identifier, id.Version, id.URI)
}

// Equals implements spec.md §3's "legacy fallback for pre-versioned specs":
// when either side has no version, compare on identifier+uri only.
func (id SpecID) Equals(other SpecID) bool {
	if id.Version == "" || other.Version == "" {
		return id.Identifier == other.Identifier && id.URI == other.URI
	}
	return id.Identifier == other.Identifier && id.Version == other.Version && id.URI == other.URI
}

// PlaceRef identifies a place (explicit condition or implicit task-to-task
// place) by a string key, never a pointer, so markings stay serializable
// for event-log replay and JSON snapshots.
type PlaceRef string

// ConditionKind distinguishes the three condition roles a net can declare.
type ConditionKind int

const (
	ConditionInput ConditionKind = iota
	ConditionOutput
	ConditionIntermediate
)

// Condition is a place in the Petri net that can hold tokens.
type Condition struct {
	ID   string
	Kind ConditionKind
}

func (c Condition) Place() PlaceRef { return PlaceRef(c.ID) }

// MIBounds declares a task's multi-instance configuration.
type MIBounds struct {
	Min            int
	Max            int
	Threshold      int
	CreationMode   CreationMode
	CreationExpr   string // evaluated by predicate.Evaluator against case data
}

func (b *MIBounds) Validate() error {
	if b == nil {
		return nil
	}
	if b.Min < 0 || b.Max < b.Min || b.Threshold < b.Min || b.Threshold > b.Max {
		return fmt.Errorf("malformed MI bounds: min=%d max=%d threshold=%d", b.Min, b.Max, b.Threshold)
	}
	return nil
}

// DecompositionKind tags whether a task binds to an atomic participant
// contract or descends into a sub-net. Modeled as a tagged variant per
// spec.md §9's "polymorphism over task decompositions" note; the runner
// dispatches on this tag at firing time.
type DecompositionKind int

const (
	DecompositionAtomic DecompositionKind = iota
	DecompositionSubNet
)

// Decomposition is a task's binding.
type Decomposition struct {
	ID         string
	Kind       DecompositionKind
	SubNetID   string // valid when Kind == DecompositionSubNet
	Skippable  bool
	SLA        string // duration string, e.g. "5m"; empty means no SLA
	RetryLimit int
	HandlerURL string // Interface X base URL for this decomposition's timeout/failure callbacks; empty means the engine's configured default handler
}

// DataBinding maps net data to/from task data via predicate-language
// queries (XPath surface, CEL underneath — see internal/predicate).
type DataBinding struct {
	Name  string
	Query string
}

// Task is a transition in the Petri net.
type Task struct {
	ID               string
	JoinType         JoinType
	SplitType        SplitType
	DecompositionID  string
	MI               *MIBounds
	CancellationSet  []string // task/condition ids whose tokens+workitems are withdrawn on fire
	RemoveSet        []string // places whose tokens are removed on fire (non-withdrawing)
	InputBindings    []DataBinding
	OutputBindings   []DataBinding
}

// Flow is a directed edge between a condition/task and a task/condition.
type Flow struct {
	Source    string
	Target    string
	Predicate string // CEL/XPath-shim expression; empty means unconditional
	Order     int    // ordering index for XOR fallthrough and OR evaluation order
}

// Net is one net (root or sub-net) within a specification.
type Net struct {
	ID         string
	Conditions map[string]*Condition
	Tasks      map[string]*Task
	Flows      []*Flow

	inFlows  map[string][]*Flow // target id -> incoming flows, order-sorted
	outFlows map[string][]*Flow // source id -> outgoing flows, order-sorted

	triggerPlaces map[string]map[string]bool // taskID -> set of trigger place ids (OR-join precompute)
}

// Specification is the immutable, loaded root: one root net plus zero or
// more sub-nets, identified by SpecID.
type Specification struct {
	ID             SpecID
	RootNet        string
	Nets           map[string]*Net
	Decompositions map[string]*Decomposition // decomposition id -> binding
}

func (s *Specification) Root() *Net { return s.Nets[s.RootNet] }

func (s *Specification) SubNet(decompositionID string) *Net {
	return s.Nets[decompositionID]
}

// FindDecomposition looks up a task's binding by decomposition id.
func (s *Specification) FindDecomposition(id string) (*Decomposition, bool) {
	d, ok := s.Decompositions[id]
	return d, ok
}

func (n *Net) FindTask(id string) (*Task, bool) {
	t, ok := n.Tasks[id]
	return t, ok
}

func (n *Net) FindCondition(id string) (*Condition, bool) {
	c, ok := n.Conditions[id]
	return c, ok
}

// IncomingFlows returns the flows ordered by Order whose target is id.
func (n *Net) IncomingFlows(id string) []*Flow {
	n.ensureIndex()
	return n.inFlows[id]
}

// OutgoingFlows returns the flows ordered by Order whose source is id.
func (n *Net) OutgoingFlows(id string) []*Flow {
	n.ensureIndex()
	return n.outFlows[id]
}

func (n *Net) InputConditions() []*Condition {
	return n.conditionsOfKind(ConditionInput)
}

func (n *Net) OutputConditions() []*Condition {
	return n.conditionsOfKind(ConditionOutput)
}

func (n *Net) conditionsOfKind(kind ConditionKind) []*Condition {
	var out []*Condition
	for _, c := range n.Conditions {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// BuildIndex must be called once after a Net is fully populated (done by
// the loader); subsequent reads use the cached indices. Exported so a spec
// builder/fixture can call it explicitly instead of relying on lazy init,
// matching spec.md's "validated on load" framing.
func (n *Net) BuildIndex() {
	n.inFlows = map[string][]*Flow{}
	n.outFlows = map[string][]*Flow{}
	for _, f := range n.Flows {
		n.inFlows[f.Target] = append(n.inFlows[f.Target], f)
		n.outFlows[f.Source] = append(n.outFlows[f.Source], f)
	}
	for _, fs := range n.inFlows {
		sortFlowsByOrder(fs)
	}
	for _, fs := range n.outFlows {
		sortFlowsByOrder(fs)
	}
}

func (n *Net) ensureIndex() {
	if n.inFlows == nil {
		n.BuildIndex()
	}
}

func sortFlowsByOrder(fs []*Flow) {
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && fs[j].Order < fs[j-1].Order; j-- {
			fs[j], fs[j-1] = fs[j-1], fs[j]
		}
	}
}

// TriggerPlaces returns the precomputed OR-join trigger-place set for a
// task, built by Validate's precomputeTriggerPlaces at load time (spec.md §9).
func (n *Net) TriggerPlaces(taskID string) map[string]bool {
	if n.triggerPlaces == nil {
		return nil
	}
	return n.triggerPlaces[taskID]
}
