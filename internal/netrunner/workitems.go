package netrunner

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/yawlcore/engine/internal/engineerr"
	"github.com/yawlcore/engine/internal/eventlog"
	"github.com/yawlcore/engine/internal/workitem"
)

// Checkout composes Offer+Allocate+Start into the single RPC Interface B's
// checkout endpoint exposes (spec.md §6 names no separate offer/allocate
// endpoint; the fine-grained states still exist internally per §4.6's
// diagram, they are just collapsed at the wire boundary).
func (r *Runner) Checkout(ctx context.Context, tx pgx.Tx, id workitem.ID, owner string) error {
	item, ok := r.Items[id]
	if !ok {
		return engineerr.NotFound("work item", id.String())
	}
	if err := item.Apply(workitem.TransOffer, false); err != nil {
		return err
	}
	if err := item.Apply(workitem.TransAllocate, false); err != nil {
		return err
	}
	if err := item.Apply(workitem.TransStart, false); err != nil {
		return err
	}
	item.Owner = owner
	return r.appendEvent(ctx, tx, eventlog.EventWorkItemStarted, map[string]interface{}{
		"work_item_id": id.String(),
		"owner":        owner,
	})
}

// Checkin completes a started work item with its output document,
// idempotently: a repeat call carrying byte-identical output is a no-op
// that reports a conflict rather than re-firing the task (spec.md §8).
func (r *Runner) Checkin(ctx context.Context, tx pgx.Tx, id workitem.ID, output map[string]interface{}) (*KickResult, error) {
	item, ok := r.Items[id]
	if !ok {
		return nil, engineerr.NotFound("work item", id.String())
	}
	t := r.task(id.TaskID)
	if t == nil {
		return nil, engineerr.NotFound("task", id.TaskID)
	}

	applied, err := r.Data.MergeTaskOutput(id.String(), output, bindingQueries(t.OutputBindings))
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, engineerr.Conflict("work item " + id.String() + " already checked in with this output")
	}

	if err := item.Apply(workitem.TransComplete, false); err != nil {
		return nil, err
	}
	item.Output = output
	if err := r.appendEvent(ctx, tx, eventlog.EventWorkItemCompleted, map[string]interface{}{
		"work_item_id": id.String(),
		"output":       output,
	}); err != nil {
		return nil, err
	}

	net := r.currentNet()
	if err := r.maybeFireOutputSide(ctx, tx, net, t, id, workitem.Completed); err != nil {
		return nil, err
	}
	return r.runToQuiescence(ctx, tx)
}

// Skip implements spec.md §4.6's Skip transition, permitted only when the
// task's decomposition is marked skippable.
func (r *Runner) Skip(ctx context.Context, tx pgx.Tx, id workitem.ID, reason string) (*KickResult, error) {
	item, ok := r.Items[id]
	if !ok {
		return nil, engineerr.NotFound("work item", id.String())
	}
	t := r.task(id.TaskID)
	if t == nil {
		return nil, engineerr.NotFound("task", id.TaskID)
	}
	skippable := r.isSkippable(id.TaskID)

	if err := item.Apply(workitem.TransSkip, skippable); err != nil {
		return nil, err
	}
	item.SkipReason = reason
	if err := r.appendEvent(ctx, tx, eventlog.EventWorkItemSkipped, map[string]interface{}{
		"work_item_id": id.String(),
		"reason":       reason,
	}); err != nil {
		return nil, err
	}

	net := r.currentNet()
	if err := r.maybeFireOutputSide(ctx, tx, net, t, id, workitem.Skipped); err != nil {
		return nil, err
	}
	return r.runToQuiescence(ctx, tx)
}

// Fail marks a started work item Failed and emits the event; it does not
// itself call out to Interface X — internal/api's failWorkItem handler
// calls HandleExceptionDecision once the handler responds.
func (r *Runner) Fail(ctx context.Context, tx pgx.Tx, id workitem.ID, reason string) error {
	item, ok := r.Items[id]
	if !ok {
		return engineerr.NotFound("work item", id.String())
	}
	if err := item.Apply(workitem.TransFail, false); err != nil {
		return err
	}
	item.FailReason = reason
	return r.appendEvent(ctx, tx, eventlog.EventWorkItemFailed, map[string]interface{}{
		"work_item_id": id.String(),
		"reason":       reason,
	})
}

// HandleExceptionDecision applies Interface X's retry/reroute/escalate
// decision to a Failed work item (spec.md §4.6, §7). Retry re-enables the
// same item with no net effect on the marking (its tokens were already
// consumed when the task originally fired). Reroute fires the task's
// output side exactly like Skip. Escalate fails the whole case.
func (r *Runner) HandleExceptionDecision(ctx context.Context, tx pgx.Tx, id workitem.ID, decision workitem.ExceptionDecision) (*KickResult, bool, error) {
	item, ok := r.Items[id]
	if !ok {
		return nil, false, engineerr.NotFound("work item", id.String())
	}
	t := r.task(id.TaskID)
	if t == nil {
		return nil, false, engineerr.NotFound("task", id.TaskID)
	}
	retryLimit := 0
	skippable := r.isSkippable(id.TaskID)
	if d := r.decomposition(id.TaskID); d != nil {
		retryLimit = d.RetryLimit
	}

	applied, ignored := item.ApplyExceptionDecision(decision, retryLimit, skippable)
	if ignored && r.Logger != nil {
		r.Logger.Warn("reroute decision ignored on non-skippable task, escalating instead",
			"case_id", r.CaseID, "task_id", id.TaskID)
	}

	switch applied {
	case workitem.DecisionRetry:
		return &KickResult{}, ignored, nil
	case workitem.DecisionReroute:
		net := r.currentNet()
		if err := r.appendEvent(ctx, tx, eventlog.EventWorkItemSkipped, map[string]interface{}{
			"work_item_id": id.String(),
			"reason":       "rerouted via exception handler",
		}); err != nil {
			return nil, ignored, err
		}
		if err := r.maybeFireOutputSide(ctx, tx, net, t, id, workitem.Skipped); err != nil {
			return nil, ignored, err
		}
		res, err := r.runToQuiescence(ctx, tx)
		return res, ignored, err
	default: // DecisionEscalate
		r.Status = StatusFailed
		if err := r.appendEvent(ctx, tx, eventlog.EventCaseFailed, map[string]interface{}{
			"reason":       "escalated",
			"work_item_id": id.String(),
		}); err != nil {
			return nil, ignored, err
		}
		return &KickResult{CaseFailed: true, FailureReason: "escalated"}, ignored, nil
	}
}

func (r *Runner) isSkippable(taskID string) bool {
	d := r.decomposition(taskID)
	return d != nil && d.Skippable
}

// SuspendItem and ResumeItem toggle a started work item's Suspended state
// (spec.md §4.6); neither changes the marking.
func (r *Runner) SuspendItem(ctx context.Context, tx pgx.Tx, id workitem.ID) error {
	item, ok := r.Items[id]
	if !ok {
		return engineerr.NotFound("work item", id.String())
	}
	if err := item.Apply(workitem.TransSuspend, false); err != nil {
		return err
	}
	return r.appendEvent(ctx, tx, eventlog.EventCaseSuspended, map[string]interface{}{"work_item_id": id.String()})
}

func (r *Runner) ResumeItem(ctx context.Context, tx pgx.Tx, id workitem.ID) error {
	item, ok := r.Items[id]
	if !ok {
		return engineerr.NotFound("work item", id.String())
	}
	if err := item.Apply(workitem.TransResume, false); err != nil {
		return err
	}
	return r.appendEvent(ctx, tx, eventlog.EventCaseResumed, map[string]interface{}{"work_item_id": id.String()})
}

// SuspendCase suspends the whole case (spec.md §6's POST
// /b/cases/{case-id}/suspend): no further task firing happens while
// suspended, though already-Started work items are untouched (an operator
// suspends new progress, not in-flight participant work).
func (r *Runner) SuspendCase(ctx context.Context, tx pgx.Tx) error {
	if r.Status != StatusActive {
		return engineerr.Conflict("case " + r.CaseID + " is not active")
	}
	r.Status = StatusSuspended
	return r.appendEvent(ctx, tx, eventlog.EventCaseSuspended, nil)
}

// ResumeCase resumes a suspended case and immediately kicks it back to
// quiescence, since a task may have been enabled all along and only
// blocked from firing by the suspension.
func (r *Runner) ResumeCase(ctx context.Context, tx pgx.Tx) (*KickResult, error) {
	if r.Status != StatusSuspended {
		return nil, engineerr.Conflict("case " + r.CaseID + " is not suspended")
	}
	r.Status = StatusActive
	if err := r.appendEvent(ctx, tx, eventlog.EventCaseResumed, nil); err != nil {
		return nil, err
	}
	return r.runToQuiescence(ctx, tx)
}

// Cancel implements spec.md §5's cancelCase: withdraw every live work item
// and pending descent, clear the marking, and move the case to its
// terminal Cancelled state. The registry is responsible for retiring any
// child cases named by the withdrawn descents.
func (r *Runner) Cancel(ctx context.Context, tx pgx.Tx) (*KickResult, error) {
	for wid, item := range r.Items {
		if !item.Status.IsActive() {
			continue
		}
		if err := item.Apply(workitem.TransWithdraw, false); err != nil {
			return nil, err
		}
		if err := r.appendEvent(ctx, tx, eventlog.EventWorkItemWithdrawn, map[string]interface{}{
			"work_item_id": wid.String(),
		}); err != nil {
			return nil, err
		}
	}
	for taskID := range r.descents {
		delete(r.descents, taskID)
	}
	for p := range r.Marking {
		delete(r.Marking, p)
	}
	r.Status = StatusCancelled
	if err := r.appendEvent(ctx, tx, eventlog.EventCaseCancelled, nil); err != nil {
		return nil, err
	}
	return &KickResult{}, nil
}
