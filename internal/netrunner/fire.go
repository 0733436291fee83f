package netrunner

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/yawlcore/engine/internal/eventlog"
	"github.com/yawlcore/engine/internal/predicate"
	"github.com/yawlcore/engine/internal/spec"
	"github.com/yawlcore/engine/internal/workitem"
)

// fireTask implements spec.md §4.5.2 ("firing the input side of a task"):
// consume the join's chosen incoming places, apply the task's cancellation
// and remove sets, then either create the task's work item(s) (atomic) or
// push a sub-case descent request (composite).
func (r *Runner) fireTask(ctx context.Context, tx pgx.Tx, net *spec.Net, t *spec.Task, er EnablementResult, res *KickResult) error {
	for _, p := range er.ConsumedPlaces {
		r.Marking.Remove(p, 1)
	}

	if err := r.applyCancellationSet(ctx, tx, net, t); err != nil {
		return err
	}
	for _, place := range t.RemoveSet {
		r.Marking.Remove(spec.PlaceRef(place), r.Marking.Count(spec.PlaceRef(place)))
	}

	d := r.decomposition(t.ID)
	if d != nil && d.Kind == spec.DecompositionSubNet {
		return r.pushDescent(ctx, tx, t, d, res)
	}
	return r.createWorkItems(ctx, tx, t)
}

// applyCancellationSet withdraws live work items and clears tokens for every
// task/condition named in t's cancellation set, except t itself: a task
// whose own id appears in its cancellation set still completes firing
// (spec.md §8 boundary case).
func (r *Runner) applyCancellationSet(ctx context.Context, tx pgx.Tx, net *spec.Net, t *spec.Task) error {
	for _, id := range t.CancellationSet {
		if id == t.ID {
			continue
		}
		if c, ok := net.FindCondition(id); ok {
			r.Marking.Remove(c.Place(), r.Marking.Count(c.Place()))
			continue
		}
		target, ok := net.FindTask(id)
		if !ok {
			continue
		}
		for _, f := range net.IncomingFlows(target.ID) {
			p := placeOf(net, f)
			r.Marking.Remove(p, r.Marking.Count(p))
		}
		for _, f := range net.OutgoingFlows(target.ID) {
			p := placeOf(net, f)
			r.Marking.Remove(p, r.Marking.Count(p))
		}
		// The child case (if any) is orphaned; the registry retires it
		// out-of-band once it observes the withdrawal event.
		delete(r.descents, target.ID)
		for wid, item := range r.Items {
			if wid.TaskID != target.ID || !item.Status.IsActive() {
				continue
			}
			if err := item.Apply(workitem.TransWithdraw, false); err != nil {
				return err
			}
			if err := r.appendEvent(ctx, tx, eventlog.EventWorkItemWithdrawn, map[string]interface{}{
				"work_item_id": wid.String(),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// createWorkItems implements the non-MI and MI cases of spec.md §4.5.2
// step 3: one work item, or N per resolveMICount, all starting Enabled.
func (r *Runner) createWorkItems(ctx context.Context, tx pgx.Tx, t *spec.Task) error {
	if t.MI == nil {
		id := workitem.ID{CaseID: r.CaseID, TaskID: t.ID}
		return r.enableItem(ctx, tx, t, id)
	}

	caseDoc := r.Data.CaseDocument()
	n, err := resolveMICount(r.Eval, t.MI, caseDoc)
	if err != nil {
		return err
	}
	group := &miGroup{TaskID: t.ID, Bounds: *t.MI}
	r.miGroups[t.ID] = group
	for i := 0; i < n; i++ {
		id := workitem.ID{CaseID: r.CaseID, TaskID: t.ID, Instance: i + 1}
		group.Items = append(group.Items, id)
		if err := r.enableItem(ctx, tx, t, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) enableItem(ctx context.Context, tx pgx.Tx, t *spec.Task, id workitem.ID) error {
	item := workitem.New(id, nil)
	item.IsMI = t.MI != nil
	r.Items[id] = item
	return r.appendEvent(ctx, tx, eventlog.EventWorkItemEnabled, map[string]interface{}{
		"work_item_id": id.String(),
		"task_id":      t.ID,
	})
}

// fireOutputSide implements spec.md §4.5.3: evaluate the task's split and
// deposit tokens on the chosen outgoing places. AND deposits on every
// outgoing place; XOR deposits on exactly one (first predicate match in
// Order, else the last-ordered flow); OR deposits on every matching
// predicate, falling through to the last-ordered flow if none match.
func (r *Runner) fireOutputSide(ctx context.Context, tx pgx.Tx, net *spec.Net, t *spec.Task) error {
	out := net.OutgoingFlows(t.ID)
	if len(out) == 0 {
		return nil
	}
	caseDoc := r.Data.CaseDocument()
	pctx := predicate.Context{TaskID: t.ID}

	switch t.SplitType {
	case spec.SplitAND:
		for _, f := range out {
			r.Marking.Add(placeOf(net, f), 1)
		}
	case spec.SplitXOR:
		chosen, err := r.firstMatchingFlow(out, caseDoc, pctx)
		if err != nil {
			return err
		}
		r.Marking.Add(placeOf(net, chosen), 1)
	case spec.SplitOR:
		matched, err := r.allMatchingFlows(out, caseDoc, pctx)
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			matched = out[len(out)-1:]
		}
		for _, f := range matched {
			r.Marking.Add(placeOf(net, f), 1)
		}
	default:
		return fmt.Errorf("unknown split type for task %s", t.ID)
	}

	return r.appendEvent(ctx, tx, eventlog.EventNetMarkingChanged, map[string]interface{}{
		"task_id": t.ID,
		"marking": markingToJSON(r.Marking),
	})
}

func (r *Runner) firstMatchingFlow(out []*spec.Flow, caseDoc map[string]interface{}, pctx predicate.Context) (*spec.Flow, error) {
	for _, f := range out {
		if f.Predicate == "" {
			return f, nil
		}
		ok, err := r.Eval.EvalBool(f.Predicate, caseDoc, pctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	return out[len(out)-1], nil
}

func (r *Runner) allMatchingFlows(out []*spec.Flow, caseDoc map[string]interface{}, pctx predicate.Context) ([]*spec.Flow, error) {
	var matched []*spec.Flow
	for _, f := range out {
		if f.Predicate == "" {
			matched = append(matched, f)
			continue
		}
		ok, err := r.Eval.EvalBool(f.Predicate, caseDoc, pctx)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// maybeFireOutputSide is invoked when a work item is checked in (Completed),
// skipped, or rerouted by an exception decision (Skipped); Fail does not
// invoke it. For a non-MI task this
// fires immediately; for an MI task it defers to the group's threshold /
// terminal-inactive rule (spec.md §4.5.5).
func (r *Runner) maybeFireOutputSide(ctx context.Context, tx pgx.Tx, net *spec.Net, t *spec.Task, id workitem.ID, terminalKind workitem.Status) error {
	if t.MI == nil {
		return r.fireOutputSide(ctx, tx, net, t)
	}

	group := r.miGroups[t.ID]
	if group == nil {
		return fmt.Errorf("no MI group recorded for task %s", t.ID)
	}

	var shouldFire bool
	if terminalKind == workitem.Completed {
		shouldFire = group.recordCompletion()
	}
	if !shouldFire {
		remaining := 0
		for _, sibling := range group.Items {
			it := r.Items[sibling]
			if it != nil && it.Status.IsActive() {
				remaining++
			}
		}
		shouldFire = group.recordTerminalInactive(remaining)
	}
	if !shouldFire {
		return nil
	}
	delete(r.miGroups, t.ID)
	if err := r.withdrawActiveSiblings(ctx, tx, group); err != nil {
		return err
	}
	return r.fireOutputSide(ctx, tx, net, t)
}

// withdrawActiveSiblings moves every still-active instance in a reached MI
// group to Withdrawn once the group's output side is about to fire
// (spec.md §4.5.5): "outstanding items that are still active are withdrawn;
// no further completions from them affect case state."
func (r *Runner) withdrawActiveSiblings(ctx context.Context, tx pgx.Tx, group *miGroup) error {
	for _, sibling := range group.Items {
		it := r.Items[sibling]
		if it == nil || !it.Status.IsActive() {
			continue
		}
		if err := it.Apply(workitem.TransWithdraw, false); err != nil {
			return err
		}
		if err := r.appendEvent(ctx, tx, eventlog.EventWorkItemWithdrawn, map[string]interface{}{
			"work_item_id": sibling.String(),
		}); err != nil {
			return err
		}
	}
	return nil
}
