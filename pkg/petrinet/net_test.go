package petrinet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
)

func oneGroupOneTask() *campaign.Campaign {
	return &campaign.Campaign{
		ID: "c1",
		TaskGroups: []campaign.TaskGroup{
			{ID: "tg-1", Tasks: []campaign.Task{{ID: "task-1"}}},
		},
	}
}

func TestCompile_EmptyCampaign_FinalizeImmediatelyEnabled(t *testing.T) {
	net, err := Compile(&campaign.Campaign{ID: "empty"})
	require.NoError(t, err)

	assert.Contains(t, net.EnabledTransitions(), "finalize_campaign")
}

func TestCompile_CycleDetected(t *testing.T) {
	c := &campaign.Campaign{
		ID: "cyclic",
		TaskGroups: []campaign.TaskGroup{
			{ID: "a", GroupDependencies: []string{"b"}},
			{ID: "b", GroupDependencies: []string{"c"}},
			{ID: "c", GroupDependencies: []string{"a"}},
		},
	}

	_, err := Compile(c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
}

func TestCompile_MissingDependency_IsWarningNotError(t *testing.T) {
	c := &campaign.Campaign{
		ID: "c1",
		TaskGroups: []campaign.TaskGroup{
			{ID: "a", GroupDependencies: []string{"ghost"}},
		},
	}

	net, err := Compile(c)
	require.NoError(t, err)
	assert.NotEmpty(t, net.Warnings)
	assert.NotContains(t, net.EnabledTransitions(), "activate_a")
}

func TestRoundTrip_CanonicalSequenceReachesComplete(t *testing.T) {
	net, err := Compile(oneGroupOneTask())
	require.NoError(t, err)

	sequence := []string{"activate_tg-1", "task_tg-1_task-1", "complete_tg-1", "finalize_campaign"}
	for _, trans := range sequence {
		require.Contains(t, net.EnabledTransitions(), trans, "expected %q enabled", trans)
		require.NoError(t, net.Fire(trans))
	}

	marking := net.Marking()
	assert.Equal(t, 1, marking["Complete"])
	assert.Empty(t, net.EnabledTransitions())
}

func TestFire_NoSuchTransition(t *testing.T) {
	net, err := Compile(oneGroupOneTask())
	require.NoError(t, err)

	err = net.Fire("does_not_exist")
	assert.True(t, errors.Is(err, ErrNoSuchTransition))
}

func TestFire_NotEnabled(t *testing.T) {
	net, err := Compile(oneGroupOneTask())
	require.NoError(t, err)

	err = net.Fire("complete_tg-1") // pending token not produced yet
	assert.True(t, errors.Is(err, ErrNotEnabled))
}

func TestCompleteGroup_RequiresEveryTaskComplete(t *testing.T) {
	c := &campaign.Campaign{
		ID: "c1",
		TaskGroups: []campaign.TaskGroup{
			{ID: "g1", Tasks: []campaign.Task{{ID: "t1"}, {ID: "t2"}}},
		},
	}
	net, err := Compile(c)
	require.NoError(t, err)

	require.NoError(t, net.Fire("activate_g1"))
	require.NoError(t, net.Fire("task_g1_t1"))

	assert.NotContains(t, net.EnabledTransitions(), "complete_g1")

	require.NoError(t, net.Fire("task_g1_t2"))
	assert.Contains(t, net.EnabledTransitions(), "complete_g1")
}

func TestDiamondDependency_WaitsForBothParents(t *testing.T) {
	c := &campaign.Campaign{
		ID: "diamond",
		TaskGroups: []campaign.TaskGroup{
			{ID: "a"},
			{ID: "b", GroupDependencies: []string{"a"}},
			{ID: "c", GroupDependencies: []string{"a"}},
			{ID: "d", GroupDependencies: []string{"b", "c"}},
		},
	}
	net, err := Compile(c)
	require.NoError(t, err)

	require.NoError(t, net.Fire("activate_a"))
	require.NoError(t, net.Fire("complete_a"))
	assert.NotContains(t, net.EnabledTransitions(), "activate_d")

	require.NoError(t, net.Fire("activate_b"))
	require.NoError(t, net.Fire("complete_b"))
	assert.NotContains(t, net.EnabledTransitions(), "activate_d", "c has not completed yet")

	require.NoError(t, net.Fire("activate_c"))
	require.NoError(t, net.Fire("complete_c"))
	assert.Contains(t, net.EnabledTransitions(), "activate_d")
}

func TestHundredIndependentGroups_AllActivateInParallel(t *testing.T) {
	c := &campaign.Campaign{ID: "wide"}
	for i := 0; i < 100; i++ {
		c.TaskGroups = append(c.TaskGroups, campaign.TaskGroup{ID: groupName(i)})
	}
	net, err := Compile(c)
	require.NoError(t, err)

	enabled := net.EnabledTransitions()
	assert.Len(t, enabled, 100)
}

func groupName(i int) string {
	return "g" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
