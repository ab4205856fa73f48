package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/fanout"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/orchestrator"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/reducer"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store/memstore"
)

// fakePublisher records every Publish call; it never actually talks to a
// broker, matching how the teacher's own tests fake out collaborators
// rather than standing up live infrastructure.
type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
}

type publishCall struct {
	topic       string
	body        []byte
	contentType string
	headers     map[string]string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, body []byte, contentType string, headers map[string]string, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic: topic, body: body, contentType: contentType, headers: headers})
	return nil
}

// drainEventTypes collects every event_type fanout has published to ch
// without blocking once no more arrive within the buffer already sent.
func drainEventTypes(t *testing.T, ch <-chan []byte) []string {
	t.Helper()
	var types []string
	for {
		select {
		case data := <-ch:
			if len(data) == 0 {
				return types
			}
			var ev struct {
				EventType string `json:"event_type"`
			}
			require.NoError(t, json.Unmarshal(data, &ev))
			types = append(types, ev.EventType)
		default:
			return types
		}
	}
}

func oneStepCampaign(taskID, hierarchy, source, sdkVersion string) *campaign.Campaign {
	return &campaign.Campaign{
		TaskGroups: []campaign.TaskGroup{
			{
				ID: "tg-1",
				Tasks: []campaign.Task{
					{
						ID:               taskID,
						ServiceHierarchy: hierarchy,
						Capability:       "capability-1",
						OperationID:      "op-1",
						Metadata: map[string]any{
							"source":      source,
							"sdk_version": sdkVersion,
						},
					},
				},
			},
		},
	}
}

func newOrchestrator() (*orchestrator.Orchestrator, *memstore.Store, *fanout.Fanout, *fakePublisher) {
	s := memstore.New()
	r := reducer.New(s)
	f := fanout.New()
	pub := &fakePublisher{}
	return orchestrator.New(s, r, pub, f), s, f, pub
}

// TestOrchestrator_HappySingleStep is spec.md §8 scenario 1.
func TestOrchestrator_HappySingleStep(t *testing.T) {
	ctx := context.Background()
	o, _, f, pub := newOrchestrator()
	_, ch := f.Subscribe()

	c := oneStepCampaign("task-1", "org.fac.system.subsystem.service", "org.fac.system.subsystem.service", "1.0")
	id, err := o.Submit(ctx, c)
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, "org/fac/system/subsystem/service/response", pub.calls[0].topic)

	o.HandleBrokerMessage(ctx, []byte("{}"), "application/json", map[string]string{
		"campaignId": id,
		"nodeId":     "task-1",
		"has_error":  "false",
		"source":     "org.fac.system.subsystem.service",
	})

	types := drainEventTypes(t, ch)
	assert.Equal(t, []string{"STEP_START", "STEP_COMPLETE", "CAMPAIGN_COMPLETE"}, types)
}

// TestOrchestrator_ServiceError is spec.md §8 scenario 2.
func TestOrchestrator_ServiceError(t *testing.T) {
	ctx := context.Background()
	o, _, f, _ := newOrchestrator()
	_, ch := f.Subscribe()

	c := oneStepCampaign("task-1", "org.fac.system.subsystem.service", "org.fac.system.subsystem.service", "1.0")
	id, err := o.Submit(ctx, c)
	require.NoError(t, err)

	o.HandleBrokerMessage(ctx, []byte(`{"error":"boom"}`), "application/json", map[string]string{
		"campaignId": id,
		"nodeId":     "task-1",
		"has_error":  "true",
		"source":     "org.fac.system.subsystem.service",
	})

	types := drainEventTypes(t, ch)
	require.NotEmpty(t, types)
	assert.Equal(t, "CAMPAIGN_ERROR_FROM_SERVICE", types[len(types)-1])
}

// TestOrchestrator_LateCallbackIsSilentlyDropped is spec.md §8 scenario 3:
// once a campaign has finished, a repeat of the very callback that
// finished it produces no further events.
func TestOrchestrator_LateCallbackIsSilentlyDropped(t *testing.T) {
	ctx := context.Background()
	o, _, f, _ := newOrchestrator()
	_, ch := f.Subscribe()

	c := oneStepCampaign("task-1", "org.fac.system.subsystem.service", "org.fac.system.subsystem.service", "1.0")
	id, err := o.Submit(ctx, c)
	require.NoError(t, err)

	callback := map[string]string{
		"campaignId": id,
		"nodeId":     "task-1",
		"has_error":  "false",
		"source":     "org.fac.system.subsystem.service",
	}
	o.HandleBrokerMessage(ctx, []byte("{}"), "application/json", callback)
	drainEventTypes(t, ch) // discard the happy-path events

	o.HandleBrokerMessage(ctx, []byte("{}"), "application/json", callback)
	assert.Empty(t, drainEventTypes(t, ch), "a late duplicate callback must produce no new events")
}

// TestOrchestrator_CancelUnknownIsIdempotent is spec.md §8 scenario 4.
func TestOrchestrator_CancelUnknownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	o, _, f, _ := newOrchestrator()
	_, ch := f.Subscribe()

	ok, err := o.Cancel(ctx, "11111111-1111-1111-1111-111111111111")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, drainEventTypes(t, ch))
}

// TestOrchestrator_CycleRejectedAtSubmit is spec.md §8 scenario 5: a cycle
// in group dependencies rejects the submission before any snapshot exists.
func TestOrchestrator_CycleRejectedAtSubmit(t *testing.T) {
	ctx := context.Background()
	o, s, _, _ := newOrchestrator()

	c := &campaign.Campaign{
		ID: "cyclic-campaign",
		TaskGroups: []campaign.TaskGroup{
			{ID: "a", GroupDependencies: []string{"c"}},
			{ID: "b", GroupDependencies: []string{"a"}},
			{ID: "c", GroupDependencies: []string{"b"}},
		},
	}
	_, err := o.Submit(ctx, c)
	require.Error(t, err)

	exists, err := s.CampaignExists(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestOrchestrator_SubmitRejectsInvalidTaskSchema exercises validate_schema
// (spec.md §6.1): a task input_schema with an unknown "type" keyword fails
// submission with a CAMPAIGN_ERROR_SCHEMA event, never reaching the net
// compiler or the store.
func TestOrchestrator_SubmitRejectsInvalidTaskSchema(t *testing.T) {
	ctx := context.Background()
	o, s, f, _ := newOrchestrator()
	_, ch := f.Subscribe()

	c := oneStepCampaign("task-1", "org.fac.system.subsystem.service", "org.fac.system.subsystem.service", "1.0")
	c.TaskGroups[0].Tasks[0].InputSchema = map[string]any{"type": "not-a-real-type"}

	_, err := o.Submit(ctx, c)
	require.Error(t, err)

	types := drainEventTypes(t, ch)
	assert.Equal(t, []string{"CAMPAIGN_ERROR_SCHEMA"}, types)

	exists, err := s.CampaignExists(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestOrchestrator_SubmitRejectsInvalidObjective exercises Objective.Validate
// wired into Submit (spec.md §3's ThresholdUpperLimit target range): a
// target of 21 falls outside (0,20] and must be rejected with a
// CAMPAIGN_ERROR_SCHEMA event before the net compiler or the store ever
// see the campaign.
func TestOrchestrator_SubmitRejectsInvalidObjective(t *testing.T) {
	ctx := context.Background()
	o, s, f, _ := newOrchestrator()
	_, ch := f.Subscribe()

	c := oneStepCampaign("task-1", "org.fac.system.subsystem.service", "org.fac.system.subsystem.service", "1.0")
	c.TaskGroups[0].Objectives = []campaign.Objective{
		{
			Kind:                campaign.ObjectiveThresholdUpperLimit,
			ID:                  "obj-1",
			ThresholdUpperLimit: &campaign.ThresholdUpperLimitObjective{Var: "temp", Target: 21},
		},
	}

	_, err := o.Submit(ctx, c)
	require.Error(t, err)

	types := drainEventTypes(t, ch)
	assert.Equal(t, []string{"CAMPAIGN_ERROR_SCHEMA"}, types)

	exists, err := s.CampaignExists(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}
