// Package store defines the event-sourced persistence contract shared by
// every backend (in-memory, relational, document): an append-only,
// strictly-ordered event log plus a latest-state snapshot, both guarded by
// optimistic-concurrency compare-and-set writes.
package store

import (
	"context"
	"time"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
)

// Event is one entry in a campaign's append-only log. Seq is strictly
// increasing per campaign, starting at 1, with no gaps (invariant I1/I2).
type Event struct {
	EventID    string         `json:"event_id" bson:"event_id"`
	CampaignID string         `json:"campaign_id" bson:"campaign_id"`
	Seq        int            `json:"seq" bson:"seq"`
	EventType  string         `json:"event_type" bson:"event_type"`
	Payload    map[string]any `json:"payload" bson:"payload"`
	Timestamp  time.Time      `json:"timestamp" bson:"timestamp"`
}

// Snapshot is the latest reduced view of a campaign, versioned by the seq
// of the last event applied to it (invariant I3: version == max(seq) for
// every reducer action except TASK_EVENT_RECEIVED, which advances LastSeq
// without bumping Version — see AppendEvent).
type Snapshot struct {
	CampaignID string    `json:"campaign_id" bson:"campaign_id"`
	Version    int       `json:"version" bson:"version"`
	LastSeq    int       `json:"last_seq" bson:"last_seq"`
	State      State     `json:"state" bson:"state"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
}

// State embeds per-campaign, per-group, and per-task execution status
// alongside the active-step cursor the orchestrator advances.
type State struct {
	CampaignStatus campaign.ExecutionStatus           `json:"campaign_status" bson:"campaign_status"`
	GroupStatus    map[string]campaign.ExecutionStatus `json:"group_status" bson:"group_status"`
	TaskStatus     map[string]campaign.ExecutionStatus `json:"task_status" bson:"task_status"` // keyed by "<group>/<task>"
	ActiveStep     *campaign.StepRef                   `json:"active_step,omitempty" bson:"active_step,omitempty"`
	StepCursor     int                                 `json:"step_cursor" bson:"step_cursor"`
}

// Clone returns a deep copy, matching the store contract's "deep copy on
// read — callers MUST NOT mutate backend-owned state" rule.
func (s Snapshot) Clone() Snapshot {
	cp := s
	cp.State.GroupStatus = cloneStatusMap(s.State.GroupStatus)
	cp.State.TaskStatus = cloneStatusMap(s.State.TaskStatus)
	if s.State.ActiveStep != nil {
		step := *s.State.ActiveStep
		cp.State.ActiveStep = &step
	}
	return cp
}

func cloneStatusMap(m map[string]campaign.ExecutionStatus) map[string]campaign.ExecutionStatus {
	if m == nil {
		return nil
	}
	cp := make(map[string]campaign.ExecutionStatus, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Store is the contract every backend implements and every backend runs
// the same conformance suite against (pkg/store/storetest).
//
// AppendEvent and UpdateSnapshot are deliberately CAS'd against two
// different counters. AppendEvent's expectedLastSeq guards the append-only
// log's own monotonic seq counter (Snapshot.LastSeq): every successful
// append bumps it unconditionally, regardless of event type, so seq values
// are always gapless and unique (invariants I1/I2). UpdateSnapshot's
// expectedVersion guards the separate, reducer-controlled Snapshot.Version
// field used to CAS the reduced-state write; TASK_EVENT_RECEIVED appends
// an event (advancing LastSeq) without ever calling UpdateSnapshot, so
// Version intentionally lags LastSeq for that event type alone.
type Store interface {
	CreateCampaign(ctx context.Context, id string, c *campaign.Campaign, initial Snapshot) error
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	LoadSnapshot(ctx context.Context, id string) (*Snapshot, error)
	AppendEvent(ctx context.Context, ev Event, expectedLastSeq int) error
	UpdateSnapshot(ctx context.Context, snap Snapshot, expectedVersion int) error
	LoadEvents(ctx context.Context, id string, afterSeq int) ([]Event, error)
	CampaignExists(ctx context.Context, id string) (bool, error)
}
