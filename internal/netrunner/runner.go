package netrunner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yawlcore/engine/internal/casedata"
	"github.com/yawlcore/engine/internal/engineerr"
	"github.com/yawlcore/engine/internal/eventlog"
	"github.com/yawlcore/engine/internal/predicate"
	"github.com/yawlcore/engine/internal/spec"
	"github.com/yawlcore/engine/internal/workitem"
)

// CaseStatus is one of the case lifecycle states from spec.md §3.
type CaseStatus int

const (
	StatusActive CaseStatus = iota
	StatusSuspended
	StatusCompleting
	StatusCompleted
	StatusCancelled
	StatusFailed
)

func (s CaseStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	case StatusCompleting:
		return "completing"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Logger is the narrow logging surface netrunner depends on, matching the
// teacher's repeated per-package Logger interface pattern
// (coordinator.Logger, operators.Logger) so this package never imports
// common/logger directly.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Notifier is called after every event is durably appended, so C9 (the
// announcer) can fan it out. Implemented by internal/announcer.Hub.
type Notifier interface {
	Notify(ev eventlog.Event)
}

// Appender is the narrow slice of *eventlog.Log the runner depends on,
// letting tests substitute an in-memory fake instead of a live Postgres
// connection (the teacher's coordinator takes a similarly narrow
// persistence interface rather than a concrete repository type).
type Appender interface {
	Append(ctx context.Context, tx pgx.Tx, caseID string, eventType eventlog.EventType, payload map[string]interface{}) (int64, error)
}

// ParentBinding records the pre-agreed binding of a child case to the
// parent work item that spawned it (spec.md §9 "sub-case lifecycle").
type ParentBinding struct {
	ParentCaseID     string
	ParentWorkItemID workitem.ID
}

// DescentRequest is returned from Kick when a composite task fires and a
// new sub-case frame must be created. The case registry (which owns case
// creation) is responsible for constructing and admitting the child
// Runner and wiring its ParentBinding; netrunner never creates cases
// itself, avoiding an import cycle with internal/registry.
type DescentRequest struct {
	ParentCaseID     string
	ParentWorkItemID workitem.ID
	SubNetID         string
	ChildCaseID      string
	InitialData      map[string]interface{}
}

// KickResult summarizes the outcome of running a case to quiescence.
type KickResult struct {
	CaseCompleted bool
	CaseFailed    bool
	FailureReason string
	Deadlock      bool
	OffendingMarking Marking
	Descents      []DescentRequest
}

const defaultMaxQuiescenceRounds = 10000

// Runner owns one case's marking and drives it (C5). Every exported
// method assumes the caller already holds the case's registry lock
// (spec.md §4.5.7); Runner itself does no locking.
type Runner struct {
	CaseID string
	Spec   *spec.Specification
	NetID  string
	Status CaseStatus
	Parent *ParentBinding

	Marking Marking
	Items   map[workitem.ID]*workitem.Item

	miGroups map[string]*miGroup             // taskID -> in-flight MI group
	descents map[string]*descentFrame        // taskID -> pushed sub-case frame
	childSeq int                             // count of sub-cases ever pushed from this case

	Data     *casedata.Store
	Eval     *predicate.Evaluator
	Log      Appender
	Notifier Notifier
	Logger   Logger

	MaxQuiescenceRounds int
}

type descentFrame struct {
	TaskID      string
	ChildCaseID string
}

func NewRunner(caseID string, s *spec.Specification, netID string, data *casedata.Store, ev *predicate.Evaluator, log Appender, notifier Notifier, logger Logger) *Runner {
	return &Runner{
		CaseID:              caseID,
		Spec:                s,
		NetID:               netID,
		Status:              StatusActive,
		Marking:             NewMarking(),
		Items:               map[workitem.ID]*workitem.Item{},
		miGroups:            map[string]*miGroup{},
		descents:            map[string]*descentFrame{},
		Data:                data,
		Eval:                ev,
		Log:                 log,
		Notifier:            notifier,
		Logger:              logger,
		MaxQuiescenceRounds: defaultMaxQuiescenceRounds,
	}
}

func (r *Runner) currentNet() *spec.Net {
	return r.Spec.Nets[r.NetID]
}

func (r *Runner) task(id string) *spec.Task {
	t, _ := r.currentNet().FindTask(id)
	return t
}

func (r *Runner) decomposition(taskID string) *spec.Decomposition {
	t := r.task(taskID)
	if t == nil {
		return nil
	}
	d, _ := r.Spec.FindDecomposition(t.DecompositionID)
	return d
}

// Decomposition exposes decomposition lookup to internal/registry's SLA
// sweep, which needs a Started work item's declared SLA and handler URL
// without reaching into the runner's other internals.
func (r *Runner) Decomposition(taskID string) *spec.Decomposition {
	return r.decomposition(taskID)
}

// Launch seeds the net's input condition(s) with a token and runs to
// quiescence, per spec.md §4.7's Admit responsibility ("construct a
// runner, kick it"). CASE_STARTED carries enough of the specification
// binding and initial marking for internal/registry's Recover to rebuild
// this runner from the event log alone, with no separate snapshot store.
func (r *Runner) Launch(ctx context.Context, tx pgx.Tx) (*KickResult, error) {
	net := r.currentNet()
	for _, c := range net.InputConditions() {
		r.Marking.Add(c.Place(), 1)
	}
	payload := map[string]interface{}{
		"spec_identifier": r.Spec.ID.Identifier,
		"spec_version":    r.Spec.ID.Version,
		"spec_uri":        r.Spec.ID.URI,
		"net_id":          r.NetID,
		"initial_marking": markingToJSON(r.Marking),
		"initial_data":    r.Data.CaseDocument(),
	}
	if r.Parent != nil {
		payload["parent_case_id"] = r.Parent.ParentCaseID
		payload["parent_work_item_id"] = r.Parent.ParentWorkItemID.String()
		payload["parent_task_id"] = r.Parent.ParentWorkItemID.TaskID
	}
	if err := r.appendEvent(ctx, tx, eventlog.EventCaseStarted, payload); err != nil {
		return nil, err
	}
	return r.runToQuiescence(ctx, tx)
}

// Kick re-runs the net to quiescence from the current marking; called
// whenever a work item completes, a sub-case completes, or an external
// timer injects a token (spec.md §4.5 preamble).
func (r *Runner) Kick(ctx context.Context, tx pgx.Tx) (*KickResult, error) {
	return r.runToQuiescence(ctx, tx)
}

// runToQuiescence fires every enabled task, in deterministic task-ID order,
// repeating until no task is enabled (spec.md §4.5.8: a round-robin over
// enabled tasks at each quiescence iteration is sufficient for
// starvation-freedom), then evaluates completion/deadlock.
func (r *Runner) runToQuiescence(ctx context.Context, tx pgx.Tx) (*KickResult, error) {
	res := &KickResult{}
	if r.Status != StatusActive {
		return res, nil
	}

	for round := 0; ; round++ {
		if round >= r.MaxQuiescenceRounds {
			if r.Logger != nil {
				r.Logger.Error("case exceeded max quiescence rounds", "case_id", r.CaseID, "rounds", r.MaxQuiescenceRounds)
			}
			return nil, engineerr.NetSemantic(fmt.Sprintf("case %s exceeded max quiescence rounds (%d); likely a livelock", r.CaseID, r.MaxQuiescenceRounds))
		}
		net := r.currentNet()
		ids := sortedTaskIDs(net)
		fired := false
		for _, id := range ids {
			t := net.Tasks[id]
			er := isEnabled(net, t, r.Marking)
			if !er.Enabled {
				continue
			}
			if err := r.fireTask(ctx, tx, net, t, er, res); err != nil {
				return nil, err
			}
			fired = true
		}
		if !fired {
			break
		}
	}

	return r.evaluateCompletion(ctx, tx, res)
}

func sortedTaskIDs(n *spec.Net) []string {
	ids := make([]string, 0, len(n.Tasks))
	for id := range n.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// evaluateCompletion implements spec.md §4.5.6.
func (r *Runner) evaluateCompletion(ctx context.Context, tx pgx.Tx, res *KickResult) (*KickResult, error) {
	net := r.currentNet()
	outputs := net.OutputConditions()

	outputHeld := false
	for _, c := range outputs {
		if r.Marking.Has(c.Place()) {
			outputHeld = true
			break
		}
	}

	liveItems := r.hasLiveWorkItems()

	switch {
	case outputHeld && !liveItems:
		r.Status = StatusCompleted
		res.CaseCompleted = true
		if err := r.appendEvent(ctx, tx, eventlog.EventCaseCompleted, nil); err != nil {
			return nil, err
		}
	case !outputHeld && !r.Marking.IsEmpty() && !liveItems:
		r.Status = StatusFailed
		res.CaseFailed = true
		res.Deadlock = true
		res.FailureReason = "deadlock"
		res.OffendingMarking = r.Marking.Clone()
		if r.Logger != nil {
			r.Logger.Warn("case deadlocked", "case_id", r.CaseID, "marking", markingToJSON(r.Marking))
		}
		if err := r.appendEvent(ctx, tx, eventlog.EventCaseFailed, map[string]interface{}{
			"reason":  "deadlock",
			"marking": markingToJSON(r.Marking),
		}); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func markingToJSON(m Marking) map[string]int {
	out := make(map[string]int, len(m))
	for p, n := range m {
		out[string(p)] = n
	}
	return out
}

func (r *Runner) hasLiveWorkItems() bool {
	for _, it := range r.Items {
		if it.Status.IsActive() {
			return true
		}
	}
	return len(r.descents) > 0
}

// appendEvent appends to C4 and, on success, notifies C9. A LogError here
// is fatal for the calling operation per spec.md §4.4/§7 and is
// propagated unchanged (the registry degrades on seeing it).
func (r *Runner) appendEvent(ctx context.Context, tx pgx.Tx, t eventlog.EventType, payload map[string]interface{}) error {
	seq, err := r.Log.Append(ctx, tx, r.CaseID, t, payload)
	if err != nil {
		return err
	}
	if r.Notifier != nil {
		r.Notifier.Notify(eventlog.Event{Sequence: seq, Timestamp: time.Now(), CaseID: r.CaseID, Type: t, Payload: payload})
	}
	return nil
}
