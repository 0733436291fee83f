package netrunner

import "github.com/yawlcore/engine/internal/workitem"

// Rehydrate installs marking/work-item/status state reconstructed by
// internal/registry's crash-recovery replay. Unlike every other exported
// method on Runner, it mutates state directly without appending to the
// event log — the log is exactly what was replayed to produce this
// state, so re-logging it would duplicate history.
func (r *Runner) Rehydrate(marking Marking, items map[workitem.ID]*workitem.Item, status CaseStatus) {
	r.Marking = marking
	r.Items = items
	r.Status = status
}

// RehydrateChildSeq restores the sub-case counter pushDescent uses to mint
// dot-suffixed child case-ids, from the highest suffix internal/registry's
// replay observed in this case's own event history.
func (r *Runner) RehydrateChildSeq(n int) {
	if n > r.childSeq {
		r.childSeq = n
	}
}

// RehydrateDataMerge quietly replays a completed work item's output
// merge into the case document during recovery, without re-appending a
// WORKITEM_COMPLETED event (already present in the log being replayed).
func (r *Runner) RehydrateDataMerge(itemID workitem.ID, output map[string]interface{}) error {
	t := r.task(itemID.TaskID)
	if t == nil {
		return nil
	}
	_, err := r.Data.MergeTaskOutput(itemID.String(), output, bindingQueries(t.OutputBindings))
	return err
}
