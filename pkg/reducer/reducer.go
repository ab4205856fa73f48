// Package reducer is the state reducer: the only writer to pkg/store
// outside campaign creation. One method per row of the action→event table
// (spec.md §4.3), each translating original_source/campaign_orchestrator.py's
// _record_campaign_event / _record_task_event / _record_task_group_event /
// _record_task_group_objective_met helpers into a
// LoadSnapshot→AppendEvent→mutate→UpdateSnapshot round trip.
package reducer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
)

// Reducer applies lifecycle actions to a campaign's event log and snapshot.
type Reducer struct {
	store store.Store
}

// New returns a Reducer backed by s.
func New(s store.Store) *Reducer {
	return &Reducer{store: s}
}

func taskKey(groupID, taskID string) string {
	return fmt.Sprintf("%s/%s", groupID, taskID)
}

// record appends one event at snapshot.LastSeq+1, applies mutate to a copy
// of the loaded state, and CASes the result back via UpdateSnapshot. If
// AppendEvent fails the action aborts before any snapshot write is
// attempted — the new snapshot value is only ever built after the append
// has already succeeded (invariant R2).
//
// payload is built by buildPayload from the state as loaded, before mutate
// runs — callers whose payload describes what's *about to change* (e.g.
// StepComplete's completed step) need the pre-mutation value, not the
// post-mutation one.
func (r *Reducer) record(ctx context.Context, campaignID, eventType string, buildPayload func(store.State) map[string]any, mutate func(*store.State)) error {
	snap, err := r.store.LoadSnapshot(ctx, campaignID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ev := store.Event{
		EventID:    uuid.NewString(),
		CampaignID: campaignID,
		Seq:        snap.LastSeq + 1,
		EventType:  eventType,
		Payload:    buildPayload(snap.State),
		Timestamp:  now,
	}
	if err := r.store.AppendEvent(ctx, ev, snap.LastSeq); err != nil {
		return err
	}

	oldVersion := snap.Version
	mutate(&snap.State)
	snap.Version = ev.Seq
	snap.LastSeq = ev.Seq
	snap.UpdatedAt = now
	return r.store.UpdateSnapshot(ctx, *snap, oldVersion)
}

// staticPayload adapts a fixed payload map to buildPayload's signature for
// the common case where the payload doesn't depend on pre-mutation state.
func staticPayload(payload map[string]any) func(store.State) map[string]any {
	return func(store.State) map[string]any { return payload }
}

// CampaignStarted records CAMPAIGN_STARTED; campaign.status = running.
func (r *Reducer) CampaignStarted(ctx context.Context, campaignID string) error {
	return r.record(ctx, campaignID, "CAMPAIGN_STARTED", staticPayload(map[string]any{}), func(s *store.State) {
		s.CampaignStatus = campaign.StatusRunning
	})
}

// TaskGroupStarted records TASK_GROUP_STARTED; group.status = running.
func (r *Reducer) TaskGroupStarted(ctx context.Context, campaignID, groupID string) error {
	return r.record(ctx, campaignID, "TASK_GROUP_STARTED", staticPayload(map[string]any{
		"task_group_id": groupID,
	}), func(s *store.State) {
		if s.GroupStatus == nil {
			s.GroupStatus = map[string]campaign.ExecutionStatus{}
		}
		s.GroupStatus[groupID] = campaign.StatusRunning
	})
}

// TaskCompleted records TASK_COMPLETED; task.status = complete.
func (r *Reducer) TaskCompleted(ctx context.Context, campaignID, groupID, taskID string) error {
	return r.record(ctx, campaignID, "TASK_COMPLETED", staticPayload(map[string]any{
		"task_group_id": groupID,
		"task_id":       taskID,
	}), func(s *store.State) {
		if s.TaskStatus == nil {
			s.TaskStatus = map[string]campaign.ExecutionStatus{}
		}
		s.TaskStatus[taskKey(groupID, taskID)] = campaign.StatusComplete
	})
}

// TaskGroupCompleted records TASK_GROUP_COMPLETED; group.status = complete.
func (r *Reducer) TaskGroupCompleted(ctx context.Context, campaignID, groupID string) error {
	return r.record(ctx, campaignID, "TASK_GROUP_COMPLETED", staticPayload(map[string]any{
		"task_group_id": groupID,
	}), func(s *store.State) {
		if s.GroupStatus == nil {
			s.GroupStatus = map[string]campaign.ExecutionStatus{}
		}
		s.GroupStatus[groupID] = campaign.StatusComplete
	})
}

// TaskGroupObjectiveMet records TASK_GROUP_OBJECTIVE_MET followed, in the
// same call, by TASK_GROUP_COMPLETED — two independent append+update round
// trips at seq v+1 and v+2 (invariant R3, scenario 6). If the objective
// event round trip fails, the completion round trip is never attempted.
func (r *Reducer) TaskGroupObjectiveMet(ctx context.Context, campaignID, groupID, objectiveID, reason string) error {
	err := r.record(ctx, campaignID, "TASK_GROUP_OBJECTIVE_MET", staticPayload(map[string]any{
		"task_group_id": groupID,
		"objective_id":  objectiveID,
		"reason":        reason,
	}), func(*store.State) {})
	if err != nil {
		return err
	}
	return r.TaskGroupCompleted(ctx, campaignID, groupID)
}

// CampaignCompleted records CAMPAIGN_COMPLETED; campaign.status = complete.
func (r *Reducer) CampaignCompleted(ctx context.Context, campaignID string) error {
	return r.record(ctx, campaignID, "CAMPAIGN_COMPLETED", staticPayload(map[string]any{}), func(s *store.State) {
		s.CampaignStatus = campaign.StatusComplete
	})
}

// CampaignCancelled records CAMPAIGN_CANCELLED; campaign.status = error.
func (r *Reducer) CampaignCancelled(ctx context.Context, campaignID, reason string) error {
	return r.record(ctx, campaignID, "CAMPAIGN_CANCELLED", staticPayload(map[string]any{
		"reason": reason,
	}), func(s *store.State) {
		s.CampaignStatus = campaign.StatusError
	})
}

// CampaignError records CAMPAIGN_ERROR; campaign.status = error.
func (r *Reducer) CampaignError(ctx context.Context, campaignID, reason string) error {
	return r.record(ctx, campaignID, "CAMPAIGN_ERROR", staticPayload(map[string]any{
		"reason": reason,
	}), func(s *store.State) {
		s.CampaignStatus = campaign.StatusError
	})
}

// StepStart records STEP_START; active_step := step.
func (r *Reducer) StepStart(ctx context.Context, campaignID string, step campaign.StepRef) error {
	return r.record(ctx, campaignID, "STEP_START", staticPayload(map[string]any{
		"task_group_id": step.GroupID,
		"task_id":       step.TaskID,
	}), func(s *store.State) {
		stepCopy := step
		s.ActiveStep = &stepCopy
	})
}

// StepComplete records STEP_COMPLETE; active_step := none, cursor advances.
// The payload reports the step that was active *before* this call clears
// it, so it must be read from the pre-mutation state record passes to
// buildPayload, not from a variable a later mutate call assigns into.
func (r *Reducer) StepComplete(ctx context.Context, campaignID string) error {
	buildPayload := func(s store.State) map[string]any {
		if s.ActiveStep == nil {
			return map[string]any{}
		}
		return map[string]any{
			"task_group_id": s.ActiveStep.GroupID,
			"task_id":       s.ActiveStep.TaskID,
		}
	}
	return r.record(ctx, campaignID, "STEP_COMPLETE", buildPayload, func(s *store.State) {
		s.ActiveStep = nil
		s.StepCursor++
	})
}

// TaskEventReceived records TASK_EVENT_RECEIVED and nothing else: seq
// still advances gaplessly (AppendEvent bumps Snapshot.LastSeq
// unconditionally), but Snapshot.Version is deliberately left untouched —
// per spec.md's Open Question resolution, routine event-stream ticks must
// not force a snapshot CAS write. UpdateSnapshot is never called here.
func (r *Reducer) TaskEventReceived(ctx context.Context, campaignID string, payload map[string]any) error {
	snap, err := r.store.LoadSnapshot(ctx, campaignID)
	if err != nil {
		return err
	}

	ev := store.Event{
		EventID:    uuid.NewString(),
		CampaignID: campaignID,
		Seq:        snap.LastSeq + 1,
		EventType:  "TASK_EVENT_RECEIVED",
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
	return r.store.AppendEvent(ctx, ev, snap.LastSeq)
}
