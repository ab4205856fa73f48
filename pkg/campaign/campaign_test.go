package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaign_Steps_PreservesDeclarationOrder(t *testing.T) {
	c := &Campaign{
		ID: "c1",
		TaskGroups: []TaskGroup{
			{ID: "g1", Tasks: []Task{{ID: "t1"}, {ID: "t2"}}},
			{ID: "g2", Tasks: []Task{{ID: "t3"}}},
		},
	}

	steps := c.Steps()

	assert.Equal(t, []StepRef{
		{GroupID: "g1", TaskID: "t1"},
		{GroupID: "g1", TaskID: "t2"},
		{GroupID: "g2", TaskID: "t3"},
	}, steps)
}

func TestCampaign_TaskByRef(t *testing.T) {
	c := &Campaign{TaskGroups: []TaskGroup{
		{ID: "g1", Tasks: []Task{{ID: "t1", Capability: "noop"}}},
	}}

	task, ok := c.TaskByRef(StepRef{GroupID: "g1", TaskID: "t1"})
	assert.True(t, ok)
	assert.Equal(t, "noop", task.Capability)

	_, ok = c.TaskByRef(StepRef{GroupID: "g1", TaskID: "missing"})
	assert.False(t, ok)
}

func TestObjective_Validate(t *testing.T) {
	cases := []struct {
		name    string
		obj     Objective
		wantErr bool
	}{
		{"upper limit in range", Objective{Kind: ObjectiveThresholdUpperLimit, ID: "o1", ThresholdUpperLimit: &ThresholdUpperLimitObjective{Var: "x", Target: 10}}, false},
		{"upper limit too high", Objective{Kind: ObjectiveThresholdUpperLimit, ID: "o2", ThresholdUpperLimit: &ThresholdUpperLimitObjective{Var: "x", Target: 21}}, true},
		{"range in bounds", Objective{Kind: ObjectiveThresholdRange, ID: "o3", ThresholdRange: &ThresholdRangeObjective{Var: "x", Target: 2.0}}, false},
		{"range out of bounds", Objective{Kind: ObjectiveThresholdRange, ID: "o4", ThresholdRange: &ThresholdRangeObjective{Var: "x", Target: 1.0}}, true},
		{"missing payload", Objective{Kind: ObjectiveAssert, ID: "o5"}, true},
		{"unknown kind", Objective{Kind: "bogus", ID: "o6"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.obj.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
