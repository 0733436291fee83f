package netrunner

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yawlcore/engine/internal/casedata"
	"github.com/yawlcore/engine/internal/eventlog"
	"github.com/yawlcore/engine/internal/predicate"
	"github.com/yawlcore/engine/internal/spec"
	"github.com/yawlcore/engine/internal/workitem"
)

type fakeAppender struct {
	events []eventlog.EventType
	seq    int64
}

func (f *fakeAppender) Append(_ context.Context, _ pgx.Tx, _ string, t eventlog.EventType, _ map[string]interface{}) (int64, error) {
	f.seq++
	f.events = append(f.events, t)
	return f.seq, nil
}

type fakeNotifier struct{}

func (fakeNotifier) Notify(ev eventlog.Event) {}

type fakeLogger struct{}

func (fakeLogger) Info(string, ...any)  {}
func (fakeLogger) Warn(string, ...any)  {}
func (fakeLogger) Error(string, ...any) {}
func (fakeLogger) Debug(string, ...any) {}

func atomicDecomps(taskIDs ...string) map[string]*spec.Decomposition {
	out := map[string]*spec.Decomposition{}
	for _, id := range taskIDs {
		out[id] = &spec.Decomposition{ID: id, Kind: spec.DecompositionAtomic}
	}
	return out
}

func newTestRunner(t *testing.T, net *spec.Net, decomps map[string]*spec.Decomposition, caseDoc map[string]interface{}) (*Runner, *fakeAppender) {
	t.Helper()
	net.BuildIndex()
	s := &spec.Specification{
		ID:             spec.SpecID{Identifier: "test", Version: "1", URI: "mem"},
		RootNet:        net.ID,
		Nets:           map[string]*spec.Net{net.ID: net},
		Decompositions: decomps,
	}
	ev, err := predicate.NewEvaluator()
	require.NoError(t, err)
	store := casedata.New(ev, caseDoc)
	appender := &fakeAppender{}
	r := NewRunner("1", s, net.ID, store, ev, appender, fakeNotifier{}, fakeLogger{})
	return r, appender
}

// --- Scenario 1: straight-line case ---

func straightLineNet() *spec.Net {
	return &spec.Net{
		ID: "root",
		Conditions: map[string]*spec.Condition{
			"i": {ID: "i", Kind: spec.ConditionInput},
			"o": {ID: "o", Kind: spec.ConditionOutput},
		},
		Tasks: map[string]*spec.Task{
			"T1": {ID: "T1", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T1"},
		},
		Flows: []*spec.Flow{
			{Source: "i", Target: "T1", Order: 0},
			{Source: "T1", Target: "o", Order: 0},
		},
	}
}

func TestScenario1_StraightLineCase(t *testing.T) {
	r, ap := newTestRunner(t, straightLineNet(), atomicDecomps("T1"), map[string]interface{}{})
	ctx := context.Background()

	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)

	id := workitem.ID{CaseID: "1", TaskID: "T1"}
	require.Contains(t, r.Items, id)
	assert.Equal(t, workitem.Enabled, r.Items[id].Status)

	require.NoError(t, r.Checkout(ctx, nil, id, "alice"))
	assert.Equal(t, workitem.Started, r.Items[id].Status)

	res, err := r.Checkin(ctx, nil, id, map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, res.CaseCompleted)
	assert.Equal(t, StatusCompleted, r.Status)

	assert.Equal(t, []eventlog.EventType{
		eventlog.EventCaseStarted,
		eventlog.EventWorkItemEnabled,
		eventlog.EventWorkItemStarted,
		eventlog.EventWorkItemCompleted,
		eventlog.EventNetMarkingChanged,
		eventlog.EventCaseCompleted,
	}, ap.events)
}

func TestScenario1_IdempotentCheckin(t *testing.T) {
	r, _ := newTestRunner(t, straightLineNet(), atomicDecomps("T1"), map[string]interface{}{})
	ctx := context.Background()
	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)

	id := workitem.ID{CaseID: "1", TaskID: "T1"}
	require.NoError(t, r.Checkout(ctx, nil, id, "alice"))
	_, err = r.Checkin(ctx, nil, id, map[string]interface{}{"k": "v"})
	require.NoError(t, err)

	_, err = r.Checkin(ctx, nil, id, map[string]interface{}{"k": "v"})
	assert.Error(t, err)
}

// --- Scenario 2: AND-split / AND-join ---

func andJoinNet() *spec.Net {
	return &spec.Net{
		ID: "root",
		Conditions: map[string]*spec.Condition{
			"i": {ID: "i", Kind: spec.ConditionInput},
			"o": {ID: "o", Kind: spec.ConditionOutput},
		},
		Tasks: map[string]*spec.Task{
			"T1": {ID: "T1", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T1"},
			"T2": {ID: "T2", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T2"},
			"T3": {ID: "T3", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T3"},
			"T4": {ID: "T4", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T4"},
		},
		Flows: []*spec.Flow{
			{Source: "i", Target: "T1", Order: 0},
			{Source: "T1", Target: "T2", Order: 0},
			{Source: "T1", Target: "T3", Order: 1},
			{Source: "T2", Target: "T4", Order: 0},
			{Source: "T3", Target: "T4", Order: 1},
			{Source: "T4", Target: "o", Order: 0},
		},
	}
}

func TestScenario2_ANDSplitANDJoin(t *testing.T) {
	r, _ := newTestRunner(t, andJoinNet(), atomicDecomps("T1", "T2", "T3", "T4"), map[string]interface{}{})
	ctx := context.Background()

	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)
	t1 := workitem.ID{CaseID: "1", TaskID: "T1"}
	require.NoError(t, r.Checkout(ctx, nil, t1, "a"))
	_, err = r.Checkin(ctx, nil, t1, nil)
	require.NoError(t, err)

	t2 := workitem.ID{CaseID: "1", TaskID: "T2"}
	t3 := workitem.ID{CaseID: "1", TaskID: "T3"}
	require.Contains(t, r.Items, t2)
	require.Contains(t, r.Items, t3)
	t4 := workitem.ID{CaseID: "1", TaskID: "T4"}
	assert.NotContains(t, r.Items, t4)

	require.NoError(t, r.Checkout(ctx, nil, t2, "a"))
	_, err = r.Checkin(ctx, nil, t2, nil)
	require.NoError(t, err)
	assert.NotContains(t, r.Items, t4, "T4 must not enable on only one AND-join branch")

	require.NoError(t, r.Checkout(ctx, nil, t3, "a"))
	_, err = r.Checkin(ctx, nil, t3, nil)
	require.NoError(t, err)
	require.Contains(t, r.Items, t4)

	require.NoError(t, r.Checkout(ctx, nil, t4, "a"))
	res, err := r.Checkin(ctx, nil, t4, nil)
	require.NoError(t, err)
	assert.True(t, res.CaseCompleted)
}

// --- Scenario 3: XOR-split fallthrough ---

func xorFallthroughNet() *spec.Net {
	return &spec.Net{
		ID: "root",
		Conditions: map[string]*spec.Condition{
			"i": {ID: "i", Kind: spec.ConditionInput},
			"o": {ID: "o", Kind: spec.ConditionOutput},
		},
		Tasks: map[string]*spec.Task{
			"T1": {ID: "T1", JoinType: spec.JoinAND, SplitType: spec.SplitXOR, DecompositionID: "T1"},
			"T2": {ID: "T2", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T2"},
			"T3": {ID: "T3", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T3"},
			"T4": {ID: "T4", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T4"},
		},
		Flows: []*spec.Flow{
			{Source: "i", Target: "T1", Order: 0},
			{Source: "T1", Target: "T2", Predicate: "case.x == 1", Order: 0},
			{Source: "T1", Target: "T3", Predicate: "case.x == 2", Order: 1},
			{Source: "T1", Target: "T4", Order: 2}, // default fallthrough
			{Source: "T2", Target: "o", Order: 0},
			{Source: "T3", Target: "o", Order: 0},
			{Source: "T4", Target: "o", Order: 0},
		},
	}
}

func TestScenario3_XORFallthrough(t *testing.T) {
	r, _ := newTestRunner(t, xorFallthroughNet(), atomicDecomps("T1", "T2", "T3", "T4"), map[string]interface{}{"x": 7})
	ctx := context.Background()
	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)

	t1 := workitem.ID{CaseID: "1", TaskID: "T1"}
	require.NoError(t, r.Checkout(ctx, nil, t1, "a"))
	_, err = r.Checkin(ctx, nil, t1, nil)
	require.NoError(t, err)

	assert.Contains(t, r.Items, workitem.ID{CaseID: "1", TaskID: "T4"})
	assert.NotContains(t, r.Items, workitem.ID{CaseID: "1", TaskID: "T2"})
	assert.NotContains(t, r.Items, workitem.ID{CaseID: "1", TaskID: "T3"})
}

// --- Scenario 4: multi-instance static threshold ---

func miNet() *spec.Net {
	return &spec.Net{
		ID: "root",
		Conditions: map[string]*spec.Condition{
			"i": {ID: "i", Kind: spec.ConditionInput},
			"o": {ID: "o", Kind: spec.ConditionOutput},
		},
		Tasks: map[string]*spec.Task{
			"T": {
				ID: "T", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T",
				MI: &spec.MIBounds{Min: 2, Max: 4, Threshold: 2, CreationMode: spec.CreationStatic, CreationExpr: "count(/items/*)"},
			},
		},
		Flows: []*spec.Flow{
			{Source: "i", Target: "T", Order: 0},
			{Source: "T", Target: "o", Order: 0},
		},
	}
}

func TestScenario4_MultiInstanceStaticThreshold(t *testing.T) {
	r, _ := newTestRunner(t, miNet(), atomicDecomps("T"), map[string]interface{}{"items": []interface{}{1, 2, 3}})
	ctx := context.Background()
	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)

	ids := []workitem.ID{
		{CaseID: "1", TaskID: "T", Instance: 1},
		{CaseID: "1", TaskID: "T", Instance: 2},
		{CaseID: "1", TaskID: "T", Instance: 3},
	}
	for _, id := range ids {
		require.Contains(t, r.Items, id)
	}

	require.NoError(t, r.Checkout(ctx, nil, ids[0], "a"))
	_, err = r.Checkin(ctx, nil, ids[0], nil)
	require.NoError(t, err)
	assert.Equal(t, workitem.Enabled, r.Items[ids[2]].Status, "threshold not yet reached")

	require.NoError(t, r.Checkout(ctx, nil, ids[1], "a"))
	res, err := r.Checkin(ctx, nil, ids[1], nil)
	require.NoError(t, err)

	assert.Equal(t, workitem.Withdrawn, r.Items[ids[2]].Status)
	assert.True(t, res.CaseCompleted)
}

// --- Scenario 5: cancellation set ---

func cancellationNet() *spec.Net {
	return &spec.Net{
		ID: "root",
		Conditions: map[string]*spec.Condition{
			"i1":    {ID: "i1", Kind: spec.ConditionInput},
			"i2":    {ID: "i2", Kind: spec.ConditionInput},
			"gated": {ID: "gated", Kind: spec.ConditionIntermediate},
			"ob2":   {ID: "ob2", Kind: spec.ConditionIntermediate},
			"o":     {ID: "o", Kind: spec.ConditionOutput},
		},
		Tasks: map[string]*spec.Task{
			"Tb2":     {ID: "Tb2", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "Tb2"},
			"Tgate":   {ID: "Tgate", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "Tgate"},
			"Tcancel": {ID: "Tcancel", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "Tcancel", CancellationSet: []string{"Tb2"}},
		},
		Flows: []*spec.Flow{
			{Source: "i1", Target: "Tb2", Order: 0},
			{Source: "Tb2", Target: "ob2", Order: 0},
			{Source: "i2", Target: "Tgate", Order: 0},
			{Source: "Tgate", Target: "gated", Order: 0},
			{Source: "gated", Target: "Tcancel", Order: 0},
			{Source: "Tcancel", Target: "o", Order: 0},
		},
	}
}

func TestScenario5_CancellationSetWithdrawsLiveWorkItem(t *testing.T) {
	r, ap := newTestRunner(t, cancellationNet(), atomicDecomps("Tb2", "Tgate", "Tcancel"), map[string]interface{}{})
	ctx := context.Background()
	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)

	b2 := workitem.ID{CaseID: "1", TaskID: "Tb2"}
	require.Contains(t, r.Items, b2)
	assert.True(t, r.Items[b2].Status.IsActive())

	gate := workitem.ID{CaseID: "1", TaskID: "Tgate"}
	require.NoError(t, r.Checkout(ctx, nil, gate, "a"))
	_, err = r.Checkin(ctx, nil, gate, nil)
	require.NoError(t, err)

	assert.Equal(t, workitem.Withdrawn, r.Items[b2].Status)
	assert.Contains(t, ap.events, eventlog.EventWorkItemWithdrawn)
	assert.False(t, r.Marking.Has(spec.PlaceRef("gated")), "Tcancel must have consumed its own incoming token")
}

// --- Scenario 6: deadlock ---

func deadlockNet() *spec.Net {
	return &spec.Net{
		ID: "root",
		Conditions: map[string]*spec.Condition{
			"i":  {ID: "i", Kind: spec.ConditionInput},
			"p2": {ID: "p2", Kind: spec.ConditionIntermediate}, // never fed: unreachable
			"o":  {ID: "o", Kind: spec.ConditionOutput},
		},
		Tasks: map[string]*spec.Task{
			"T1":    {ID: "T1", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "T1"},
			"Tjoin": {ID: "Tjoin", JoinType: spec.JoinAND, SplitType: spec.SplitAND, DecompositionID: "Tjoin"},
		},
		Flows: []*spec.Flow{
			{Source: "i", Target: "T1", Order: 0},
			{Source: "T1", Target: "Tjoin", Order: 0},
			{Source: "p2", Target: "Tjoin", Order: 1},
			{Source: "Tjoin", Target: "o", Order: 0},
		},
	}
}

func TestScenario6_Deadlock(t *testing.T) {
	r, ap := newTestRunner(t, deadlockNet(), atomicDecomps("T1", "Tjoin"), map[string]interface{}{})
	ctx := context.Background()
	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)

	t1 := workitem.ID{CaseID: "1", TaskID: "T1"}
	require.NoError(t, r.Checkout(ctx, nil, t1, "a"))
	res, err := r.Checkin(ctx, nil, t1, nil)
	require.NoError(t, err)

	assert.True(t, res.Deadlock)
	assert.True(t, res.CaseFailed)
	assert.Equal(t, StatusFailed, r.Status)
	assert.NotContains(t, r.Items, workitem.ID{CaseID: "1", TaskID: "Tjoin"})
	assert.Contains(t, ap.events, eventlog.EventCaseFailed)
}

// --- Boundary case: self-targeting cancellation set doesn't withdraw the firing task ---

func TestBoundary_SelfCancellationDoesNotWithdrawFiringTask(t *testing.T) {
	net := straightLineNet()
	net.Tasks["T1"].CancellationSet = []string{"T1"}
	r, _ := newTestRunner(t, net, atomicDecomps("T1"), map[string]interface{}{})
	ctx := context.Background()

	_, err := r.Launch(ctx, nil)
	require.NoError(t, err)
	id := workitem.ID{CaseID: "1", TaskID: "T1"}
	require.Contains(t, r.Items, id)
	assert.True(t, r.Items[id].Status.IsActive())
}
