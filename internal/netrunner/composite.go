package netrunner

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/yawlcore/engine/internal/eventlog"
	"github.com/yawlcore/engine/internal/spec"
	"github.com/yawlcore/engine/internal/workitem"
)

// pushDescent implements spec.md §4.5.4: firing a composite task pushes a
// sub-case frame instead of creating a work item. The registry owns case
// creation, so this only records the pending frame and returns a
// DescentRequest for the registry to act on after Kick returns. The child
// case-id extends this case's own id with a dot-separated, monotonically
// increasing suffix, so a case that spawns three sub-cases over its
// lifetime produces "<this>.1", "<this>.2", "<this>.3" regardless of which
// composite task pushed each one.
func (r *Runner) pushDescent(ctx context.Context, tx pgx.Tx, t *spec.Task, d *spec.Decomposition, res *KickResult) error {
	r.childSeq++
	childID := r.CaseID + "." + strconv.Itoa(r.childSeq)
	r.descents[t.ID] = &descentFrame{TaskID: t.ID, ChildCaseID: childID}

	parentItemID := workitem.ID{CaseID: r.CaseID, TaskID: t.ID}
	initial, err := r.Data.ExtractTaskInput(parentItemID.String(), bindingQueries(t.InputBindings))
	if err != nil {
		return err
	}

	res.Descents = append(res.Descents, DescentRequest{
		ParentCaseID:     r.CaseID,
		ParentWorkItemID: parentItemID,
		SubNetID:         d.SubNetID,
		ChildCaseID:      childID,
		InitialData:      initial,
	})
	return r.appendEvent(ctx, tx, eventlog.EventWorkItemEnabled, map[string]interface{}{
		"work_item_id": parentItemID.String(),
		"task_id":      t.ID,
		"descent":      childID,
	})
}

// CompleteDescent is called by the registry once a child case reaches
// StatusCompleted, folding its output document back into the parent case
// and firing the composite task's output side (spec.md §4.5.4).
func (r *Runner) CompleteDescent(ctx context.Context, tx pgx.Tx, taskID string, childOutput map[string]interface{}) (*KickResult, error) {
	if _, ok := r.descents[taskID]; !ok {
		return nil, nil // withdrawn or already retired; nothing to do
	}
	t := r.task(taskID)
	if t == nil {
		return nil, nil
	}

	itemID := workitem.ID{CaseID: r.CaseID, TaskID: taskID}
	if _, err := r.Data.MergeTaskOutput(itemID.String(), childOutput, bindingQueries(t.OutputBindings)); err != nil {
		return nil, err
	}
	delete(r.descents, taskID)

	net := r.currentNet()
	if err := r.fireOutputSide(ctx, tx, net, t); err != nil {
		return nil, err
	}
	return r.runToQuiescence(ctx, tx)
}

// FailDescent is called by the registry when a child case reaches
// StatusFailed instead of StatusCompleted. spec.md does not carve out a
// separate sub-case exception path distinct from §7's general
// NetSemanticError framing, so a failed child case is treated the same
// way a deadlock is: fatal for this case too, surfaced as CASE_FAILED.
func (r *Runner) FailDescent(ctx context.Context, tx pgx.Tx, taskID, childCaseID, reason string) (*KickResult, error) {
	if _, ok := r.descents[taskID]; !ok {
		return nil, nil
	}
	delete(r.descents, taskID)
	r.Status = StatusFailed
	if err := r.appendEvent(ctx, tx, eventlog.EventCaseFailed, map[string]interface{}{
		"reason":        "sub_case_failed",
		"task_id":       taskID,
		"child_case_id": childCaseID,
		"child_reason":  reason,
	}); err != nil {
		return nil, err
	}
	return &KickResult{CaseFailed: true, FailureReason: "sub_case_failed"}, nil
}

func bindingQueries(bindings []spec.DataBinding) map[string]string {
	out := make(map[string]string, len(bindings))
	for _, b := range bindings {
		out[b.Name] = b.Query
	}
	return out
}
