package reducer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/reducer"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store/memstore"
)

func newCampaign(id string) *campaign.Campaign {
	return &campaign.Campaign{
		ID: id,
		TaskGroups: []campaign.TaskGroup{
			{ID: "g1", Tasks: []campaign.Task{{ID: "t1"}}},
		},
	}
}

func newSeeded(t *testing.T, id string) (*memstore.Store, *reducer.Reducer) {
	t.Helper()
	s := memstore.New()
	ctx := context.Background()
	c := newCampaign(id)
	initial := store.Snapshot{
		CampaignID: id,
		State: store.State{
			CampaignStatus: campaign.StatusQueued,
			GroupStatus:    map[string]campaign.ExecutionStatus{"g1": campaign.StatusQueued},
			TaskStatus:     map[string]campaign.ExecutionStatus{"g1/t1": campaign.StatusQueued},
		},
	}
	require.NoError(t, s.CreateCampaign(ctx, id, c, initial))
	return s, reducer.New(s)
}

func loadEventTypes(t *testing.T, s *memstore.Store, id string) []string {
	t.Helper()
	events, err := s.LoadEvents(context.Background(), id, 0)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}

func TestReducer_CampaignStarted(t *testing.T) {
	ctx := context.Background()
	s, r := newSeeded(t, "c1")

	require.NoError(t, r.CampaignStarted(ctx, "c1"))

	snap, err := s.LoadSnapshot(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusRunning, snap.State.CampaignStatus)
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, 1, snap.LastSeq)
}

// TestReducer_SeqGaplessAcrossActions exercises invariant R1/R2 across a
// run of distinct actions: seq is 1,2,3,… with no gaps and Version always
// equals the max appended seq.
func TestReducer_SeqGaplessAcrossActions(t *testing.T) {
	ctx := context.Background()
	s, r := newSeeded(t, "c2")

	require.NoError(t, r.CampaignStarted(ctx, "c2"))
	require.NoError(t, r.TaskGroupStarted(ctx, "c2", "g1"))
	require.NoError(t, r.StepStart(ctx, "c2", campaign.StepRef{GroupID: "g1", TaskID: "t1"}))
	require.NoError(t, r.TaskCompleted(ctx, "c2", "g1", "t1"))
	require.NoError(t, r.StepComplete(ctx, "c2"))
	require.NoError(t, r.TaskGroupCompleted(ctx, "c2", "g1"))
	require.NoError(t, r.CampaignCompleted(ctx, "c2"))

	events, err := s.LoadEvents(ctx, "c2", 0)
	require.NoError(t, err)
	require.Len(t, events, 7)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq, "seq must be gapless and consecutive")
	}

	snap, err := s.LoadSnapshot(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, len(events), snap.Version, "version must equal max appended seq")
	assert.Equal(t, campaign.StatusComplete, snap.State.CampaignStatus)
	assert.Equal(t, campaign.StatusComplete, snap.State.TaskStatus["g1/t1"])
}

// TestReducer_ObjectiveMetEmitsBothEventsConsecutively covers invariant R3:
// TaskGroupObjectiveMet always emits TASK_GROUP_OBJECTIVE_MET then
// TASK_GROUP_COMPLETED at distinct, consecutive seq numbers, and the group
// ends up complete.
func TestReducer_ObjectiveMetEmitsBothEventsConsecutively(t *testing.T) {
	ctx := context.Background()
	s, r := newSeeded(t, "c3")

	require.NoError(t, r.CampaignStarted(ctx, "c3"))
	require.NoError(t, r.TaskGroupStarted(ctx, "c3", "g1"))

	require.NoError(t, r.TaskGroupObjectiveMet(ctx, "c3", "g1", "obj-1", "threshold reached"))

	events, err := s.LoadEvents(ctx, "c3", 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "TASK_GROUP_OBJECTIVE_MET", events[2].EventType)
	assert.Equal(t, "TASK_GROUP_COMPLETED", events[3].EventType)
	assert.Equal(t, events[2].Seq+1, events[3].Seq, "objective and completion events must be consecutive")

	snap, err := s.LoadSnapshot(ctx, "c3")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusComplete, snap.State.GroupStatus["g1"])
	assert.Equal(t, 4, snap.Version)
}

// TestReducer_TaskEventReceivedAdvancesSeqWithoutBumpingVersion exercises
// the reducer-level contract for spec.md's Open Question: repeated
// TASK_EVENT_RECEIVED ticks append gaplessly but never touch Version, and
// a subsequent real action CASes against the Version the ticks left
// untouched rather than against LastSeq.
func TestReducer_TaskEventReceivedAdvancesSeqWithoutBumpingVersion(t *testing.T) {
	ctx := context.Background()
	s, r := newSeeded(t, "c4")

	require.NoError(t, r.CampaignStarted(ctx, "c4")) // seq 1, version 1

	for i := 0; i < 3; i++ {
		require.NoError(t, r.TaskEventReceived(ctx, "c4", map[string]any{"n": i}))
	}

	snap, err := s.LoadSnapshot(ctx, "c4")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version, "version must not move for event-stream ticks")
	assert.Equal(t, 4, snap.LastSeq)

	require.NoError(t, r.TaskGroupStarted(ctx, "c4", "g1")) // must CAS against version 1, not last_seq 4

	events := loadEventTypes(t, s, "c4")
	require.Len(t, events, 5)
	assert.Equal(t, []string{
		"CAMPAIGN_STARTED", "TASK_EVENT_RECEIVED", "TASK_EVENT_RECEIVED", "TASK_EVENT_RECEIVED", "TASK_GROUP_STARTED",
	}, events)

	all, err := s.LoadEvents(ctx, "c4", 0)
	require.NoError(t, err)
	for i, ev := range all {
		assert.Equal(t, i+1, ev.Seq)
	}

	final, err := s.LoadSnapshot(ctx, "c4")
	require.NoError(t, err)
	assert.Equal(t, 5, final.Version)
	assert.Equal(t, 5, final.LastSeq)
	assert.Equal(t, campaign.StatusRunning, final.State.GroupStatus["g1"])
}

func TestReducer_CampaignCancelledMarksError(t *testing.T) {
	ctx := context.Background()
	s, r := newSeeded(t, "c5")

	require.NoError(t, r.CampaignStarted(ctx, "c5"))
	require.NoError(t, r.CampaignCancelled(ctx, "c5", "operator requested"))

	snap, err := s.LoadSnapshot(ctx, "c5")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusError, snap.State.CampaignStatus)
}

func TestReducer_CampaignErrorMarksError(t *testing.T) {
	ctx := context.Background()
	s, r := newSeeded(t, "c6")

	require.NoError(t, r.CampaignStarted(ctx, "c6"))
	require.NoError(t, r.CampaignError(ctx, "c6", "downstream service failed"))

	snap, err := s.LoadSnapshot(ctx, "c6")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusError, snap.State.CampaignStatus)
}

func TestReducer_StepStartThenCompleteAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	s, r := newSeeded(t, "c7")

	require.NoError(t, r.StepStart(ctx, "c7", campaign.StepRef{GroupID: "g1", TaskID: "t1"}))

	mid, err := s.LoadSnapshot(ctx, "c7")
	require.NoError(t, err)
	require.NotNil(t, mid.State.ActiveStep)
	assert.Equal(t, "t1", mid.State.ActiveStep.TaskID)
	assert.Equal(t, 0, mid.State.StepCursor)

	require.NoError(t, r.StepComplete(ctx, "c7"))

	final, err := s.LoadSnapshot(ctx, "c7")
	require.NoError(t, err)
	assert.Nil(t, final.State.ActiveStep)
	assert.Equal(t, 1, final.State.StepCursor)
}
