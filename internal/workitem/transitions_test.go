package workitem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestItem() *Item {
	return New(ID{CaseID: "1", TaskID: "T1"}, map[string]interface{}{})
}

func TestLifecycle_HappyPath(t *testing.T) {
	it := newTestItem()
	require.NoError(t, it.Apply(TransOffer, false))
	assert.Equal(t, Offered, it.Status)
	require.NoError(t, it.Apply(TransAllocate, false))
	assert.Equal(t, Allocated, it.Status)
	require.NoError(t, it.Apply(TransStart, false))
	assert.Equal(t, Started, it.Status)
	require.NoError(t, it.Apply(TransComplete, false))
	assert.Equal(t, Completed, it.Status)
	assert.False(t, it.CompletedAt.IsZero())
}

func TestLifecycle_SuspendResume(t *testing.T) {
	it := newTestItem()
	require.NoError(t, it.Apply(TransOffer, false))
	require.NoError(t, it.Apply(TransAllocate, false))
	require.NoError(t, it.Apply(TransStart, false))
	require.NoError(t, it.Apply(TransSuspend, false))
	assert.Equal(t, Suspended, it.Status)
	require.NoError(t, it.Apply(TransResume, false))
	assert.Equal(t, Started, it.Status)
}

func TestLifecycle_SkipRejectedWhenNotSkippable(t *testing.T) {
	it := newTestItem()
	err := it.Apply(TransSkip, false)
	assert.Error(t, err)
	assert.Equal(t, Enabled, it.Status)
}

func TestLifecycle_SkipAllowedWhenSkippable(t *testing.T) {
	it := newTestItem()
	require.NoError(t, it.Apply(TransSkip, true))
	assert.Equal(t, Skipped, it.Status)
}

func TestLifecycle_NoEscapeFromTerminalState(t *testing.T) {
	it := newTestItem()
	require.NoError(t, it.Apply(TransSkip, true))
	err := it.Apply(TransOffer, false)
	assert.Error(t, err)
	assert.Equal(t, Skipped, it.Status)
}

func TestLifecycle_WithdrawFromAnyActiveState(t *testing.T) {
	it := newTestItem()
	require.NoError(t, it.Apply(TransWithdraw, false))
	assert.Equal(t, Withdrawn, it.Status)
}

func TestLifecycle_InvalidTransitionRejected(t *testing.T) {
	it := newTestItem()
	err := it.Apply(TransComplete, false)
	assert.Error(t, err)
	assert.Equal(t, Enabled, it.Status)
}

func TestExceptionDecision_RetryBoundedByLimit(t *testing.T) {
	it := newTestItem()
	it.Status = Failed
	dec, ignored := it.ApplyExceptionDecision(DecisionRetry, 2, false)
	assert.Equal(t, DecisionRetry, dec)
	assert.False(t, ignored)
	assert.Equal(t, Enabled, it.Status)
	assert.Equal(t, 1, it.Attempt)

	it.Status = Failed
	it.Attempt = 2
	dec, ignored = it.ApplyExceptionDecision(DecisionRetry, 2, false)
	assert.Equal(t, DecisionEscalate, dec)
	assert.False(t, ignored)
	assert.Equal(t, Failed, it.Status)
}

func TestExceptionDecision_RerouteIgnoredOnNonSkippable(t *testing.T) {
	// spec.md §9 Open Question: reroute on a non-skippable task is
	// ignored; the engine escalates instead.
	it := newTestItem()
	it.Status = Failed
	dec, ignored := it.ApplyExceptionDecision(DecisionReroute, 3, false)
	assert.Equal(t, DecisionEscalate, dec)
	assert.True(t, ignored)
	assert.Equal(t, Failed, it.Status)
}

func TestExceptionDecision_RerouteHonoredOnSkippable(t *testing.T) {
	it := newTestItem()
	it.Status = Failed
	dec, ignored := it.ApplyExceptionDecision(DecisionReroute, 3, true)
	assert.Equal(t, DecisionReroute, dec)
	assert.False(t, ignored)
	assert.Equal(t, Skipped, it.Status)
}
