package workitem

import (
	"time"

	"github.com/yawlcore/engine/internal/engineerr"
)

// Transition names the operations that drive the state machine, matching
// Interface B's verbs (spec.md §6) plus the runner-driven Withdraw.
type Transition int

const (
	TransOffer Transition = iota
	TransAllocate
	TransStart
	TransSkip
	TransComplete
	TransFail
	TransSuspend
	TransResume
	TransWithdraw
)

// transitions is the exhaustive table from spec.md §4.6's state diagram:
// from-status -> transition -> to-status. A (from, transition) pair not in
// this table is rejected.
var transitions = map[Status]map[Transition]Status{
	Enabled: {
		TransOffer:    Offered,
		TransSkip:     Skipped,
		TransWithdraw: Withdrawn,
	},
	Offered: {
		TransAllocate: Allocated,
		TransSkip:     Skipped,
		TransWithdraw: Withdrawn,
	},
	Allocated: {
		TransStart:    Started,
		TransSkip:     Skipped,
		TransWithdraw: Withdrawn,
	},
	Started: {
		TransComplete: Completed,
		TransFail:     Failed,
		TransSuspend:  Suspended,
		TransSkip:     Skipped,
		TransWithdraw: Withdrawn,
	},
	Suspended: {
		TransResume:   Started,
		TransWithdraw: Withdrawn,
	},
}

// Apply validates and executes a transition, mutating the item in place.
// Skip additionally requires the decomposition to be marked skippable
// (spec.md §4.6: "Skip is permitted only if the spec marks the task as
// skippable"); callers pass that flag in.
func (it *Item) Apply(t Transition, skippable bool) error {
	if it.Status.IsTerminal() {
		return engineerr.Conflict("work item " + it.ID.String() + " already in terminal state " + it.Status.String())
	}
	if t == TransSkip && !skippable {
		return engineerr.Conflict("task " + it.ID.TaskID + " is not skippable")
	}
	next, ok := transitions[it.Status][t]
	if !ok {
		return engineerr.Conflict("invalid transition from " + it.Status.String())
	}
	it.Status = next
	now := time.Now()
	switch next {
	case Started:
		if it.StartedAt.IsZero() {
			it.StartedAt = now
		}
	case Completed:
		it.CompletedAt = now
	}
	return nil
}

// ExceptionDecision is Interface X's callback response (spec.md §4.6, §6,
// §7): retry, reroute, or escalate.
type ExceptionDecision int

const (
	DecisionRetry ExceptionDecision = iota
	DecisionReroute
	DecisionEscalate
)

func ParseDecision(s string) ExceptionDecision {
	switch s {
	case "retry":
		return DecisionRetry
	case "reroute":
		return DecisionReroute
	default:
		return DecisionEscalate
	}
}

// ApplyExceptionDecision applies an Interface X decision to a Failed work
// item. retryLimit bounds DecisionRetry attempts. skippable gates whether
// reroute is actually honored: per spec.md §9's Open Question, a reroute
// decision against a non-skippable task is ignored and the engine
// escalates instead, logging a warning (the caller is expected to log;
// this function signals that outcome via the returned bool).
//
// Returns (appliedDecision, rerouteIgnored).
func (it *Item) ApplyExceptionDecision(decision ExceptionDecision, retryLimit int, skippable bool) (ExceptionDecision, bool) {
	switch decision {
	case DecisionRetry:
		if it.Attempt >= retryLimit {
			it.Status = Failed
			return DecisionEscalate, false
		}
		it.Attempt++
		it.Status = Enabled
		it.FailReason = ""
		return DecisionRetry, false
	case DecisionReroute:
		if !skippable {
			it.Status = Failed
			return DecisionEscalate, true
		}
		it.Status = Skipped
		it.SkipReason = "rerouted via exception handler"
		return DecisionReroute, false
	default:
		it.Status = Failed
		return DecisionEscalate, false
	}
}
