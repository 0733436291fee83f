// Package registry implements C7: the set of running cases, the per-case
// exclusive lock that serialises every mutating operation (spec.md
// §4.5.7), and the Admit/Route/Retire/Recover lifecycle spec.md §4.7
// names. Grounded on the teacher's case-manager analogue
// (other_examples/...petri-flow__internal-case-manager.go: a
// map[string]*Case plus RWMutex owning case creation/lookup/deletion) and
// the teacher's ticker-driven background sweep shape
// (cmd/workflow-runner/supervisor/timeout.go's TimeoutDetector).
package registry

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/semaphore"

	"github.com/yawlcore/engine/internal/casedata"
	"github.com/yawlcore/engine/internal/engineerr"
	"github.com/yawlcore/engine/internal/eventlog"
	"github.com/yawlcore/engine/internal/netrunner"
	"github.com/yawlcore/engine/internal/predicate"
	"github.com/yawlcore/engine/internal/spec"
	"github.com/yawlcore/engine/internal/workitem"
)

// SpecLookup resolves a loaded specification by id. Implemented by
// whatever owns Interface A's load/unload surface; the registry only
// needs read access to look a spec up at Admit time.
type SpecLookup interface {
	Get(id spec.SpecID) (*spec.Specification, bool)
}

// caseEntry is one case's registry-side bookkeeping: its runner, the
// exclusive lock guarding it, and retirement tracking. sem is a
// golang.org/x/sync/semaphore.Weighted of capacity 1 rather than a plain
// sync.Mutex because Route needs a context-bounded, timeout-failing
// acquire (spec.md §4.7's Route: "if the lock is not acquired within a
// bounded time, return a busy error") — sync.Mutex has no such primitive,
// and the semaphore package is already an engine dependency (errgroup's
// sibling package under golang.org/x/sync).
type caseEntry struct {
	runner    *netrunner.Runner
	sem       *semaphore.Weighted
	retiredAt time.Time
}

func newCaseEntry(r *netrunner.Runner) *caseEntry {
	return &caseEntry{runner: r, sem: semaphore.NewWeighted(1)}
}

func (e *caseEntry) isRetired() bool {
	return !e.retiredAt.IsZero()
}

// Registry owns every live case and serialises mutation per case. The map
// mutex only ever guards membership (insert/lookup/delete); the actual
// business operation on a case is serialised by that case's own
// semaphore, so two different cases never contend with each other
// (spec.md §4.7: "different cases run independently in parallel").
type Registry struct {
	mu    sync.RWMutex
	cases map[string]*caseEntry

	specs     SpecLookup
	log       *eventlog.Log
	notifier  netrunner.Notifier
	logger    netrunner.Logger
	evaluator *predicate.Evaluator

	lockTimeout time.Duration
	retireGrace time.Duration

	// rootSeq mints root case-ids per spec.md §3: a monotonically
	// increasing string counter ("1", "2", ...), not an opaque id. Recover
	// seeds it from the highest root case-id already observed in the
	// event log, so a restart never reissues an id that's already in use.
	rootSeq atomic.Int64
}

// New constructs a case registry. lockTimeout bounds Route's lock
// acquisition (spec.md §4.7); retireGrace is how long a terminal case's
// record stays queryable before Retire evicts it (spec.md §4.7).
func New(specs SpecLookup, log *eventlog.Log, notifier netrunner.Notifier, logger netrunner.Logger, evaluator *predicate.Evaluator, lockTimeout, retireGrace time.Duration) *Registry {
	return &Registry{
		cases:       map[string]*caseEntry{},
		specs:       specs,
		log:         log,
		notifier:    notifier,
		logger:      logger,
		evaluator:   evaluator,
		lockTimeout: lockTimeout,
		retireGrace: retireGrace,
	}
}

// Admit implements spec.md §4.7's Admit: allocate a case id, construct a
// runner over the named specification's root net, launch it, and process
// whatever composite-task descents or completion the launch produced.
func (r *Registry) Admit(ctx context.Context, specID spec.SpecID, initialData map[string]interface{}) (string, *netrunner.KickResult, error) {
	s, ok := r.specs.Get(specID)
	if !ok {
		return "", nil, engineerr.NotFound("specification", specID.String())
	}
	caseID := strconv.FormatInt(r.rootSeq.Add(1), 10)
	entry, err := r.construct(caseID, s, s.RootNet, initialData, nil)
	if err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	r.cases[caseID] = entry
	r.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		return "", nil, engineerr.Busy("could not acquire newly admitted case " + caseID)
	}
	defer entry.sem.Release(1)

	res, err := r.launchLocked(ctx, entry)
	if err != nil {
		return caseID, nil, err
	}
	res, err = r.processResult(ctx, caseID, entry, res)
	return caseID, res, err
}

func (r *Registry) construct(caseID string, s *spec.Specification, netID string, initialData map[string]interface{}, parent *netrunner.ParentBinding) (*caseEntry, error) {
	if _, ok := s.Nets[netID]; !ok {
		return nil, engineerr.NotFound("net", netID)
	}
	store := casedata.New(r.evaluator, initialData)
	runner := netrunner.NewRunner(caseID, s, netID, store, r.evaluator, r.log, r.notifier, r.logger)
	runner.Parent = parent
	return newCaseEntry(runner), nil
}

func (r *Registry) launchLocked(ctx context.Context, entry *caseEntry) (*netrunner.KickResult, error) {
	tx, err := r.log.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	res, err := entry.runner.Launch(ctx, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, engineerr.LogFailure(err)
	}
	return res, nil
}

// Route implements spec.md §4.7's Route: acquire the named case's lock
// within lockTimeout (else BusyError), run fn inside a log transaction,
// and process any descents/completion the operation produced.
func (r *Registry) Route(ctx context.Context, caseID string, fn func(ctx context.Context, tx pgx.Tx, run *netrunner.Runner) (*netrunner.KickResult, error)) (*netrunner.KickResult, error) {
	r.mu.RLock()
	entry, ok := r.cases[caseID]
	r.mu.RUnlock()
	if !ok {
		return nil, engineerr.NotFound("case", caseID)
	}

	acqCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()
	if err := entry.sem.Acquire(acqCtx, 1); err != nil {
		return nil, engineerr.Busy("case " + caseID + " did not release its lock within the deadline")
	}
	defer entry.sem.Release(1)

	tx, err := r.log.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	res, err := fn(ctx, tx, entry.runner)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, engineerr.LogFailure(err)
	}

	return r.processResult(ctx, caseID, entry, res)
}

// processResult admits every descended sub-case and propagates a
// completed/failed sub-case back to its parent's composite task, looping
// until no descent or propagation remains outstanding. Each admitted
// child and each propagation step opens its own log transaction — a
// single Route call can therefore span several transactions, one per net
// it touches, matching the teacher's one-statement-at-a-time repository
// calls rather than a single giant cross-case transaction.
func (r *Registry) processResult(ctx context.Context, caseID string, entry *caseEntry, res *netrunner.KickResult) (*netrunner.KickResult, error) {
	if res == nil {
		return res, nil
	}

	for _, d := range res.Descents {
		if err := r.admitDescent(ctx, entry.runner.Spec, d); err != nil {
			return res, err
		}
	}

	if res.CaseCompleted || res.CaseFailed {
		r.mu.Lock()
		entry.retiredAt = time.Now()
		r.mu.Unlock()

		if entry.runner.Parent != nil {
			if err := r.propagateToParent(ctx, caseID, entry, res); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// admitDescent constructs and launches a composite task's child case,
// then immediately feeds its outcome back through processResult so a
// child that completes synchronously during its own launch propagates to
// the parent without the registry's caller having to ask again.
func (r *Registry) admitDescent(ctx context.Context, parentSpec *spec.Specification, d netrunner.DescentRequest) error {
	parentBinding := &netrunner.ParentBinding{
		ParentCaseID:     d.ParentCaseID,
		ParentWorkItemID: d.ParentWorkItemID,
	}
	entry, err := r.construct(d.ChildCaseID, parentSpec, d.SubNetID, d.InitialData, parentBinding)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cases[d.ChildCaseID] = entry
	r.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		return engineerr.Busy("could not acquire newly admitted child case " + d.ChildCaseID)
	}
	defer entry.sem.Release(1)

	res, err := r.launchLocked(ctx, entry)
	if err != nil {
		return err
	}
	_, err = r.processResult(ctx, d.ChildCaseID, entry, res)
	return err
}

// propagateToParent folds a just-terminated child case's outcome into its
// parent's composite task, then recursively processes the result that
// produces (the parent may itself now complete, or push another
// descent). propagateToParent only ever runs from inside processResult,
// which runs while the caller (Admit/Route/admitDescent) holds the
// *child's* lock, not the parent's, so the parent's own lock is acquired
// here, bounded by lockTimeout the same way Route bounds it.
func (r *Registry) propagateToParent(ctx context.Context, childCaseID string, childEntry *caseEntry, childRes *netrunner.KickResult) error {
	parent := childEntry.runner.Parent
	r.mu.RLock()
	parentEntry, ok := r.cases[parent.ParentCaseID]
	r.mu.RUnlock()
	if !ok {
		if r.logger != nil {
			r.logger.Warn("child case completed but parent case is gone", "child_case_id", childCaseID, "parent_case_id", parent.ParentCaseID)
		}
		return nil
	}

	acqCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()
	if err := parentEntry.sem.Acquire(acqCtx, 1); err != nil {
		return engineerr.Busy("parent case " + parent.ParentCaseID + " did not release its lock within the deadline")
	}
	defer parentEntry.sem.Release(1)

	tx, err := r.log.BeginTx(ctx)
	if err != nil {
		return err
	}

	var parentRes *netrunner.KickResult
	if childRes.CaseCompleted {
		parentRes, err = parentEntry.runner.CompleteDescent(ctx, tx, parent.ParentWorkItemID.TaskID, childEntry.runner.Data.CaseDocument())
	} else {
		parentRes, err = parentEntry.runner.FailDescent(ctx, tx, parent.ParentWorkItemID.TaskID, childCaseID, childRes.FailureReason)
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return engineerr.LogFailure(err)
	}

	_, err = r.processResult(ctx, parent.ParentCaseID, parentEntry, parentRes)
	return err
}

// Retire implements spec.md §4.7's Retire: evict every case whose
// terminal status was observed more than retireGrace ago. Driven by a
// ticker started from common/bootstrap, in the same Start(ctx)-plus-
// time.Ticker shape as the teacher's TimeoutDetector
// (cmd/workflow-runner/supervisor/timeout.go).
func (r *Registry) Retire(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, entry := range r.cases {
		if entry.isRetired() && now.Sub(entry.retiredAt) > r.retireGrace {
			delete(r.cases, id)
			evicted++
		}
	}
	return evicted
}

// StartRetireSweep runs Retire on a fixed interval until ctx is
// cancelled, mirroring TimeoutDetector.Start's ticker-select loop.
func (r *Registry) StartRetireSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Retire(now); n > 0 && r.logger != nil {
				r.logger.Debug("retired terminal cases", "count", n)
			}
		}
	}
}

// CaseStatus reports a live or recently-retired case's status, used by
// Interface B's getCaseStatus.
func (r *Registry) CaseStatus(caseID string) (netrunner.CaseStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cases[caseID]
	if !ok {
		return 0, false
	}
	return entry.runner.Status, true
}

// CaseSnapshot is a read-only view of a case's status and marking, for
// Interface B's GET /b/cases/{case-id} (spec.md §5: "readers may read...
// a snapshot taken at the last quiescence" — no case lock is acquired,
// since a snapshot racing a concurrent mutation is an accepted staleness,
// not a correctness issue).
type CaseSnapshot struct {
	CaseID  string
	SpecID  spec.SpecID
	Status  netrunner.CaseStatus
	Marking map[string]int
}

// Case returns a snapshot of one live or recently-retired case.
func (r *Registry) Case(caseID string) (CaseSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cases[caseID]
	if !ok {
		return CaseSnapshot{}, false
	}
	marking := make(map[string]int, len(entry.runner.Marking))
	for p, n := range entry.runner.Marking {
		marking[string(p)] = n
	}
	return CaseSnapshot{
		CaseID:  caseID,
		SpecID:  entry.runner.Spec.ID,
		Status:  entry.runner.Status,
		Marking: marking,
	}, true
}

// WorkItemFilter narrows ListWorkItems; an empty string field or a nil
// Status matches anything.
type WorkItemFilter struct {
	CaseID string
	TaskID string
	Status *workitem.Status
	Owner  string
}

// ListWorkItems reports every live work item matching filter, across every
// tracked case, for Interface B's GET /b/workitems. Grounded on the same
// non-locking read-snapshot approach as Case: callers get a point-in-time
// view, not a transactionally consistent one, matching spec.md §5's
// reader-snapshot allowance.
func (r *Registry) ListWorkItems(filter WorkItemFilter) []*workitem.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*workitem.Item
	for caseID, entry := range r.cases {
		if filter.CaseID != "" && caseID != filter.CaseID {
			continue
		}
		for id, item := range entry.runner.Items {
			if filter.TaskID != "" && id.TaskID != filter.TaskID {
				continue
			}
			if filter.Status != nil && *filter.Status != item.Status {
				continue
			}
			if filter.Owner != "" && item.Owner != filter.Owner {
				continue
			}
			out = append(out, item)
		}
	}
	return out
}

// OverdueWorkItem is a Started work item whose decomposition's declared
// SLA has elapsed, reported by Sweep for Interface X's timeout callback
// (spec.md §4.6: "if a work item remains in Started beyond the spec's
// declared SLA, the engine emits a timeout event to Interface X").
type OverdueWorkItem struct {
	CaseID        string
	ItemID        workitem.ID
	Decomposition *spec.Decomposition
}

// Sweep scans every live case for Started work items past their
// decomposition's SLA. Grounded on the teacher's TimeoutDetector
// (cmd/workflow-runner/supervisor/timeout.go's ticker-driven
// checkHangingWorkflows): a periodic scan over in-flight work rather than
// a per-item timer, since the number of concurrently Started items is
// small relative to the sweep interval. A case currently busy with
// another operation is skipped this round via a non-blocking
// semaphore.TryAcquire — the sweep never waits on a case lock — and
// picked up on the next tick instead.
func (r *Registry) Sweep(now time.Time) []OverdueWorkItem {
	r.mu.RLock()
	entries := make(map[string]*caseEntry, len(r.cases))
	for id, e := range r.cases {
		entries[id] = e
	}
	r.mu.RUnlock()

	var overdue []OverdueWorkItem
	for caseID, entry := range entries {
		if entry.isRetired() {
			continue
		}
		if !entry.sem.TryAcquire(1) {
			continue
		}
		for id, item := range entry.runner.Items {
			if item.Status != workitem.Started {
				continue
			}
			d := entry.runner.Decomposition(id.TaskID)
			if d == nil || d.SLA == "" {
				continue
			}
			sla, err := time.ParseDuration(d.SLA)
			if err != nil {
				continue
			}
			if now.Sub(item.StartedAt) >= sla {
				overdue = append(overdue, OverdueWorkItem{CaseID: caseID, ItemID: id, Decomposition: d})
			}
		}
		entry.sem.Release(1)
	}
	return overdue
}

// HasActiveCaseForSpec reports whether any non-retired case is running
// against the named specification, used by Interface A's unload check
// (spec.md §6: "rejected if any case is still active for that spec-id").
func (r *Registry) HasActiveCaseForSpec(specID spec.SpecID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.cases {
		if entry.isRetired() {
			continue
		}
		if entry.runner.Spec.ID.Equals(specID) {
			return true
		}
	}
	return false
}

// Count reports the number of cases currently tracked (live or within
// their retirement grace window); used by health/readiness reporting.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cases)
}
