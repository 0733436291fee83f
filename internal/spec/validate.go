package spec

import (
	"fmt"

	"github.com/yawlcore/engine/internal/engineerr"
)

// Diagnostic mirrors engineerr.Diagnostic; kept as a type alias so callers
// outside engineerr don't need to import it just to build a spec.
type Diagnostic = engineerr.Diagnostic

const (
	SeverityFatal   = "fatal"
	SeverityWarning = "warning"
)

// Validate runs every load-time check spec.md §4.1 requires: flow endpoints
// exist, split/join types are structurally consistent, MI bounds are
// well-formed, XOR splits declare a default (last-ordered) branch. It also
// runs the structural reachability analysis (checkReachability) and the
// OR-join trigger-place precomputation, populating Net.triggerPlaces as a
// side effect so later runtime OR-enablement checks are marking-local
// lookups (spec.md §9).
//
// Grounded on the teacher's compiler validation pass
// (cmd/workflow-runner/compiler/ir.go's node-wiring checks) and tested the
// way common/compiler/ir_test.go tests its own IR validation: table-driven,
// one malformed-spec fixture per diagnostic.
func Validate(s *Specification) []Diagnostic {
	var diags []Diagnostic
	if s.Root() == nil {
		diags = append(diags, Diagnostic{Severity: SeverityFatal, Message: fmt.Sprintf("root net %q not found", s.RootNet)})
		return diags
	}
	seenSubNets := map[string]bool{}
	for id, net := range s.Nets {
		net.BuildIndex()
		diags = append(diags, validateNet(id, net, s)...)
	}
	if cycle := detectSubNetCycle(s, s.RootNet, seenSubNets, map[string]bool{}); cycle != "" {
		diags = append(diags, Diagnostic{Severity: SeverityFatal, Message: "sub-net decomposition cycle detected at " + cycle})
	}
	for id, net := range s.Nets {
		precomputeTriggerPlaces(net)
		if d := checkReachability(net); d.Message != "" {
			_ = id
			diags = append(diags, d)
		}
	}
	return diags
}

func validateNet(netID string, n *Net, s *Specification) []Diagnostic {
	var diags []Diagnostic
	fatal := func(msg string) {
		diags = append(diags, Diagnostic{Severity: SeverityFatal, Path: netID, Message: msg})
	}

	for _, f := range n.Flows {
		_, srcIsTask := n.Tasks[f.Source]
		_, srcIsCond := n.Conditions[f.Source]
		_, dstIsTask := n.Tasks[f.Target]
		_, dstIsCond := n.Conditions[f.Target]
		if !srcIsTask && !srcIsCond {
			fatal(fmt.Sprintf("flow source %q does not exist", f.Source))
		}
		if !dstIsTask && !dstIsCond {
			fatal(fmt.Sprintf("flow target %q does not exist", f.Target))
		}
	}

	for id, c := range n.Conditions {
		switch c.Kind {
		case ConditionInput:
			if len(n.IncomingFlows(id)) != 0 {
				fatal(fmt.Sprintf("input condition %q has incoming flows", id))
			}
		case ConditionOutput:
			if len(n.OutgoingFlows(id)) != 0 {
				fatal(fmt.Sprintf("output condition %q has outgoing flows", id))
			}
		}
	}

	for id, t := range n.Tasks {
		in := n.IncomingFlows(id)
		out := n.OutgoingFlows(id)
		if len(in) == 0 {
			fatal(fmt.Sprintf("task %q has no incoming flow", id))
		}
		if len(out) == 0 {
			fatal(fmt.Sprintf("task %q has no outgoing flow", id))
		}
		if t.JoinType == JoinXOR && len(in) < 1 {
			fatal(fmt.Sprintf("task %q is XOR-join with no incoming flows", id))
		}
		if t.SplitType == SplitXOR && len(out) > 0 {
			// last-ordered branch is the implicit default; no explicit
			// "default" flag required, but warn if more than one flow
			// shares the net's highest Order value (ambiguous default).
			maxOrder := out[len(out)-1].Order
			count := 0
			for _, f := range out {
				if f.Order == maxOrder {
					count++
				}
			}
			if count > 1 {
				diags = append(diags, Diagnostic{Severity: SeverityWarning, Path: id,
					Message: "XOR-split has ambiguous default branch (tied ordering index)"})
			}
		}
		if err := t.MI.Validate(); err != nil {
			fatal(fmt.Sprintf("task %q: %v", id, err))
		}
		if t.DecompositionID == "" {
			fatal(fmt.Sprintf("task %q has no decomposition", id))
		}
		_ = s
	}
	return diags
}

func detectSubNetCycle(s *Specification, netID string, seen, stack map[string]bool) string {
	if stack[netID] {
		return netID
	}
	if seen[netID] {
		return ""
	}
	seen[netID] = true
	stack[netID] = true
	defer delete(stack, netID)

	n := s.Nets[netID]
	if n == nil {
		return ""
	}
	for _, t := range n.Tasks {
		if t.DecompositionID == "" {
			continue
		}
		if _, isSubNet := s.Nets[t.DecompositionID]; isSubNet && t.DecompositionID != netID {
			if c := detectSubNetCycle(s, t.DecompositionID, seen, stack); c != "" {
				return c
			}
		}
	}
	return ""
}

// precomputeTriggerPlaces implements spec.md §9's OR-join precomputation:
// for every OR-join task, the set of "trigger places" among its incoming
// places — places whose tokens cannot all simultaneously arrive without
// first consuming an already-marked incoming place of the task. Computed
// on the static flow graph only (never the dynamic marking), per spec.md
// §4.5.1's bounded-search requirement.
func precomputeTriggerPlaces(n *Net) {
	n.triggerPlaces = map[string]map[string]bool{}
	for id, t := range n.Tasks {
		if t.JoinType != JoinOR {
			continue
		}
		in := n.IncomingFlows(id)
		inSet := map[string]bool{}
		for _, f := range in {
			inSet[f.Source] = true
		}
		triggers := map[string]bool{}
		for _, f := range in {
			p := f.Source
			// p is a trigger place unless every static path that can
			// place a token at p must first pass through another
			// incoming place of t (i.e. p is only reachable via a
			// sibling incoming place). We approximate with the
			// standard YAWL construction: p is a trigger place if there
			// exists a predecessor-reachability path to p that does not
			// pass through any other incoming place of t.
			if reachableWithoutPassingThrough(n, p, inSet, p) {
				triggers[p] = true
			}
		}
		n.triggerPlaces[id] = triggers
	}
}

// reachableWithoutPassingThrough walks backwards from `from` over the
// static flow graph, returning true if some net source/initial place can
// reach `from` without routing through any place in avoid other than
// `from` itself. This bounds OR-join analysis to the structural graph, not
// a live marking, per spec.md §4.5.1.
func reachableWithoutPassingThrough(n *Net, from string, avoid map[string]bool, self string) bool {
	visited := map[string]bool{}
	var walk func(id string) bool
	walk = func(id string) bool {
		if visited[id] {
			return false
		}
		visited[id] = true
		preds := n.IncomingFlows(id)
		if len(preds) == 0 {
			// source place (e.g. an input condition) — reachable.
			return true
		}
		for _, f := range preds {
			if avoid[f.Source] && f.Source != self {
				continue
			}
			if walk(f.Source) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// checkReachability implements spec.md §4.5.6's structural livelock
// prevention: a conservative walk of the static flow graph that flags any
// net where a structurally-reachable task set can be simultaneously
// dead-ended (no task enabled by pure structure, and the output condition
// structurally unreachable from that task set). This is intentionally
// conservative: it only flags nets where some task has no path at all to
// any output condition.
func checkReachability(n *Net) Diagnostic {
	outputs := n.OutputConditions()
	if len(outputs) == 0 {
		return Diagnostic{}
	}
	reachesOutput := map[string]bool{}
	var walk func(id string) bool
	visiting := map[string]bool{}
	walk = func(id string) bool {
		if v, ok := reachesOutput[id]; ok {
			return v
		}
		if visiting[id] {
			return false // break cycles conservatively
		}
		visiting[id] = true
		defer delete(visiting, id)
		if c, ok := n.Conditions[id]; ok && c.Kind == ConditionOutput {
			reachesOutput[id] = true
			return true
		}
		for _, f := range n.OutgoingFlows(id) {
			if walk(f.Target) {
				reachesOutput[id] = true
				return true
			}
		}
		reachesOutput[id] = false
		return false
	}
	for id := range n.Tasks {
		if !walk(id) {
			return Diagnostic{Severity: SeverityFatal, Path: id,
				Message: fmt.Sprintf("task %q has no structural path to any output condition (potential livelock)", id)}
		}
	}
	return Diagnostic{}
}

// HasFatal reports whether any diagnostic in the list is fatal.
func HasFatal(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityFatal {
			return true
		}
	}
	return false
}
