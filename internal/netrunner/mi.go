package netrunner

import (
	"github.com/yawlcore/engine/internal/engineerr"
	"github.com/yawlcore/engine/internal/predicate"
	"github.com/yawlcore/engine/internal/spec"
	"github.com/yawlcore/engine/internal/workitem"
)

// miGroup tracks one multi-instance task firing's sibling work items for
// threshold-completion purposes (spec.md §4.5.5).
type miGroup struct {
	TaskID      string
	Bounds      spec.MIBounds
	Items       []workitem.ID
	completed   int
	fired       bool // output side already fired for this group
}

// resolveMICount evaluates a MI task's creation expression (static mode)
// clamped to [min, max], failing the case if the result is below min, per
// spec.md §4.5.2.
func resolveMICount(ev *predicate.Evaluator, bounds *spec.MIBounds, caseDoc map[string]interface{}) (int, error) {
	if bounds.CreationMode == spec.CreationDynamic {
		return bounds.Min, nil
	}
	n, err := ev.EvalCount(bounds.CreationExpr, caseDoc, predicate.Context{})
	if err != nil {
		return 0, err
	}
	if n > bounds.Max {
		n = bounds.Max
	}
	if n < bounds.Min {
		return 0, engineerr.NetSemantic("MI count expression produced fewer instances than the task's minimum bound")
	}
	return n, nil
}

// recordCompletion registers that one sibling instance reached Completed
// and reports whether the group's output side should fire now, which it
// does once completions reach the threshold (spec.md §4.5.5). The other
// firing condition, every remaining instance terminal-inactive, is
// checked by recordTerminalInactive, not here. Withdrawn instances are never passed to this
// function as "completed" — per spec.md §9's Open Question, cancellation
// wins, and a withdrawn instance never counts toward the threshold.
func (g *miGroup) recordCompletion() bool {
	if g.fired {
		return false
	}
	g.completed++
	if g.completed >= g.Bounds.Threshold {
		g.fired = true
		return true
	}
	return false
}

// recordTerminalInactive registers a Skipped/Failed sibling; if every
// remaining (non-withdrawn, non-counted) instance has now reached a
// terminal-inactive state and the threshold was never reached, the group
// still fires its output side (spec.md §4.5.5: "...OR all remaining items
// reach a terminal-inactive state, whichever happens first").
func (g *miGroup) recordTerminalInactive(remainingActive int) bool {
	if g.fired {
		return false
	}
	if remainingActive <= 0 {
		g.fired = true
		return true
	}
	return false
}
