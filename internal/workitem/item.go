// Package workitem implements C6: the per-task state machine that is the
// handoff point to participants. Grounded on the teacher's node-status
// lifecycle (cmd/workflow-runner/workflow_lifecycle/status.go,
// completion.go), generalized from a 2-state (pending/done) worker model
// to the full Offered/Allocated/Started/.../Withdrawn machine spec.md
// requires.
package workitem

import (
	"strconv"
	"strings"
	"time"
)

// Status is one of the work-item lifecycle states (spec.md §4.6).
type Status int

const (
	Enabled Status = iota
	Offered
	Allocated
	Started
	Suspended
	Completed
	Failed
	Skipped
	Withdrawn
)

func (s Status) String() string {
	switch s {
	case Enabled:
		return "Enabled"
	case Offered:
		return "Offered"
	case Allocated:
		return "Allocated"
	case Started:
		return "Started"
	case Suspended:
		return "Suspended"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Skipped:
		return "Skipped"
	case Withdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether a status is one of spec.md §4.6's terminal
// states: Completed, Failed, Skipped, Withdrawn. Once terminal, "no
// workitem escapes terminal state" (spec.md §8) — no further transitions
// or events are permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case Completed, Failed, Skipped, Withdrawn:
		return true
	default:
		return false
	}
}

func (s Status) IsActive() bool {
	return !s.IsTerminal()
}

// ID identifies a work item by (case-id, task-id, optional instance
// suffix), per spec.md §3.
type ID struct {
	CaseID   string
	TaskID   string
	Instance int // 0 for non-MI tasks; 1-based instance index for MI tasks
}

func (id ID) String() string {
	if id.Instance == 0 {
		return id.CaseID + ":" + id.TaskID
	}
	return id.CaseID + ":" + id.TaskID + "#" + strconv.Itoa(id.Instance)
}

// ParseID parses the string form ID.String() produces, used by
// internal/registry's crash-recovery replay to turn a logged
// work_item_id back into structured form.
func ParseID(s string) (ID, error) {
	caseID, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ID{}, errNotAWorkItemID(s)
	}
	taskID := rest
	instance := 0
	if taskPart, instPart, ok := strings.Cut(rest, "#"); ok {
		taskID = taskPart
		n, err := strconv.Atoi(instPart)
		if err != nil || instPart == "" {
			return ID{}, errNotAWorkItemID(s)
		}
		instance = n
	}
	return ID{CaseID: caseID, TaskID: taskID, Instance: instance}, nil
}

type errNotAWorkItemID string

func (e errNotAWorkItemID) Error() string { return "workitem: not a valid work item id: " + string(e) }

// Item is a live work item: one per atomic-task enablement (or one per MI
// instance).
type Item struct {
	ID     ID
	Status Status

	Input  map[string]interface{}
	Output map[string]interface{}

	Owner string // opaque participant id, set on checkout

	EnabledAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Attempt      int // retry count, bounded by the decomposition's RetryLimit
	FailReason   string
	SkipReason   string
	IsMI         bool
	MIThresholdTaskKey string // groups sibling MI instances for threshold counting
}

func New(id ID, input map[string]interface{}) *Item {
	return &Item{
		ID:        id,
		Status:    Enabled,
		Input:     input,
		EnabledAt: time.Now(),
	}
}
