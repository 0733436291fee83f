package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func straightLineSpec() *Specification {
	net := &Net{
		ID: "root",
		Conditions: map[string]*Condition{
			"i": {ID: "i", Kind: ConditionInput},
			"o": {ID: "o", Kind: ConditionOutput},
		},
		Tasks: map[string]*Task{
			"T1": {ID: "T1", JoinType: JoinAND, SplitType: SplitAND, DecompositionID: "T1"},
		},
		Flows: []*Flow{
			{Source: "i", Target: "T1", Order: 0},
			{Source: "T1", Target: "o", Order: 0},
		},
	}
	return &Specification{
		ID:      SpecID{Identifier: "straight-line", Version: "1", URI: "mem://straight-line"},
		RootNet: "root",
		Nets:    map[string]*Net{"root": net},
	}
}

func TestValidate_StraightLine_NoFatal(t *testing.T) {
	s := straightLineSpec()
	diags := Validate(s)
	assert.False(t, HasFatal(diags), "diags: %+v", diags)
}

func TestValidate_InputConditionWithIncomingFlow_IsFatal(t *testing.T) {
	s := straightLineSpec()
	s.Nets["root"].Flows = append(s.Nets["root"].Flows, &Flow{Source: "T1", Target: "i", Order: 1})
	diags := Validate(s)
	assert.True(t, HasFatal(diags))
}

func TestValidate_OutputConditionWithOutgoingFlow_IsFatal(t *testing.T) {
	s := straightLineSpec()
	s.Nets["root"].Flows = append(s.Nets["root"].Flows, &Flow{Source: "o", Target: "T1", Order: 1})
	diags := Validate(s)
	assert.True(t, HasFatal(diags))
}

func TestValidate_TaskWithNoIncomingFlow_IsFatal(t *testing.T) {
	s := straightLineSpec()
	s.Nets["root"].Tasks["T2"] = &Task{ID: "T2", JoinType: JoinAND, SplitType: SplitAND, DecompositionID: "T2"}
	s.Nets["root"].Flows = append(s.Nets["root"].Flows, &Flow{Source: "T2", Target: "o", Order: 1})
	diags := Validate(s)
	assert.True(t, HasFatal(diags))
}

func TestValidate_MalformedMIBounds_IsFatal(t *testing.T) {
	s := straightLineSpec()
	s.Nets["root"].Tasks["T1"].MI = &MIBounds{Min: 3, Max: 2, Threshold: 2}
	diags := Validate(s)
	assert.True(t, HasFatal(diags))
}

func TestValidate_SubNetCycle_IsFatal(t *testing.T) {
	s := straightLineSpec()
	s.Nets["root"].Tasks["T1"].DecompositionID = "sub"
	sub := &Net{
		ID: "sub",
		Conditions: map[string]*Condition{
			"si": {ID: "si", Kind: ConditionInput},
			"so": {ID: "so", Kind: ConditionOutput},
		},
		Tasks: map[string]*Task{
			"ST1": {ID: "ST1", JoinType: JoinAND, SplitType: SplitAND, DecompositionID: "root"},
		},
		Flows: []*Flow{
			{Source: "si", Target: "ST1", Order: 0},
			{Source: "ST1", Target: "so", Order: 0},
		},
	}
	s.Nets["sub"] = sub
	diags := Validate(s)
	require.True(t, HasFatal(diags))
}

func TestValidate_UnreachableTask_FlaggedAsLivelockRisk(t *testing.T) {
	s := straightLineSpec()
	// T2 forms its own dead-end cycle with no path to the output condition.
	s.Nets["root"].Tasks["T2"] = &Task{ID: "T2", JoinType: JoinAND, SplitType: SplitAND, DecompositionID: "T2"}
	s.Nets["root"].Conditions["p"] = &Condition{ID: "p", Kind: ConditionIntermediate}
	s.Nets["root"].Flows = append(s.Nets["root"].Flows,
		&Flow{Source: "p", Target: "T2", Order: 0},
		&Flow{Source: "T2", Target: "p", Order: 0},
	)
	diags := Validate(s)
	assert.True(t, HasFatal(diags))
}

func TestPrecomputeTriggerPlaces_ORJoin(t *testing.T) {
	net := &Net{
		ID: "root",
		Conditions: map[string]*Condition{
			"i":  {ID: "i", Kind: ConditionInput},
			"p1": {ID: "p1", Kind: ConditionIntermediate},
			"p2": {ID: "p2", Kind: ConditionIntermediate},
			"o":  {ID: "o", Kind: ConditionOutput},
		},
		Tasks: map[string]*Task{
			"split": {ID: "split", JoinType: JoinAND, SplitType: SplitOR, DecompositionID: "split"},
			"join":  {ID: "join", JoinType: JoinOR, SplitType: SplitAND, DecompositionID: "join"},
		},
		Flows: []*Flow{
			{Source: "i", Target: "split", Order: 0},
			{Source: "split", Target: "p1", Order: 0},
			{Source: "split", Target: "p2", Order: 1},
			{Source: "p1", Target: "join", Order: 0},
			{Source: "p2", Target: "join", Order: 1},
			{Source: "join", Target: "o", Order: 0},
		},
	}
	s := &Specification{ID: SpecID{Identifier: "or-join", URI: "mem://or-join"}, RootNet: "root", Nets: map[string]*Net{"root": net}}
	diags := Validate(s)
	require.False(t, HasFatal(diags), "diags: %+v", diags)
	triggers := net.TriggerPlaces("join")
	assert.True(t, triggers["p1"])
	assert.True(t, triggers["p2"])
}
