// Package orchestrator is the engine's live coordination core: it holds
// the in-memory table of running campaigns, drives each one's compiled
// workflow net, and is the sole consumer of pkg/broker callbacks. It is
// grounded on pkg/session.Manager's mutex-guarded map generalized to three
// maps (campaigns, aliases, nets), and translates
// original_source/campaign_orchestrator.py's threading.Lock()-guarded
// _campaigns/_campaign_aliases/_campaign_petri_nets dicts idiom-for-idiom.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/broker"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/fanout"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/petrinet"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/reducer"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/schemavalidate"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
)

// campaignState is the orchestrator's live view of one running campaign:
// everything needed to advance its step cursor and match an inbound broker
// callback, without touching the store.
type campaignState struct {
	campaign   *campaign.Campaign
	steps      []campaign.StepRef
	cursor     int
	activeStep *campaign.StepRef // step awaiting a broker callback, or nil
	aliases    map[string]bool   // every string a broker message might use for this campaign's id
}

// Orchestrator holds the live campaign table under one lock plus the
// collaborators every action fans out to: the reducer (sole store writer),
// the broker publisher (step dispatch), and the fanout (lifecycle stream).
type Orchestrator struct {
	mu        sync.RWMutex
	campaigns map[string]*campaignState
	aliases   map[string]string // alias -> canonical campaign id
	nets      map[string]*petrinet.Net

	reducer   *reducer.Reducer
	store     store.Store
	publisher broker.Publisher
	fanout    *fanout.Fanout
}

// New returns an Orchestrator wired to its collaborators. publisher and f
// may be nil in tests that only exercise the reducer/store path.
func New(s store.Store, r *reducer.Reducer, publisher broker.Publisher, f *fanout.Fanout) *Orchestrator {
	return &Orchestrator{
		campaigns: make(map[string]*campaignState),
		aliases:   make(map[string]string),
		nets:      make(map[string]*petrinet.Net),
		reducer:   r,
		store:     s,
		publisher: publisher,
		fanout:    f,
	}
}

// Submit registers and starts a campaign: resolves its id, compiles the
// workflow net, persists the initial snapshot, and dispatches the first
// step. Submit is not a hot path (spec.md §5), so the first dispatch
// happens inline rather than being handed off to a worker.
func (o *Orchestrator) Submit(ctx context.Context, c *campaign.Campaign) (string, error) {
	id := resolveCampaignID(c.ID)
	c.ID = id

	if errs := validateTaskSchemas(c); len(errs) != 0 {
		o.publishFanout(id, "CAMPAIGN_ERROR_SCHEMA", map[string]any{"errors": errs})
		return "", fmt.Errorf("orchestrator: campaign %s: invalid task schema: %s", id, strings.Join(errs, "; "))
	}

	if errs := validateObjectives(c); len(errs) != 0 {
		o.publishFanout(id, "CAMPAIGN_ERROR_SCHEMA", map[string]any{"errors": errs})
		return "", fmt.Errorf("orchestrator: campaign %s: invalid objective: %s", id, strings.Join(errs, "; "))
	}

	net, err := petrinet.Compile(c)
	if err != nil {
		return "", fmt.Errorf("orchestrator: compile campaign %s: %w", id, err)
	}

	steps := c.Steps()
	aliases := campaignAliases(c)

	o.mu.Lock()
	if _, exists := o.campaigns[id]; exists {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	for alias := range aliases {
		if _, taken := o.aliases[alias]; taken {
			o.mu.Unlock()
			return "", fmt.Errorf("%w: alias %q already bound", ErrAlreadyRegistered, alias)
		}
	}

	initial := store.Snapshot{
		CampaignID: id,
		Version:    0,
		LastSeq:    0,
		State: store.State{
			CampaignStatus: campaign.StatusQueued,
			GroupStatus:    map[string]campaign.ExecutionStatus{},
			TaskStatus:     map[string]campaign.ExecutionStatus{},
			StepCursor:     0,
		},
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.store.CreateCampaign(ctx, id, c, initial); err != nil {
		o.mu.Unlock()
		return "", fmt.Errorf("orchestrator: create campaign %s: %w", id, err)
	}

	cs := &campaignState{campaign: c, steps: steps, cursor: 0, aliases: aliases}
	o.campaigns[id] = cs
	o.nets[id] = net
	for alias := range aliases {
		o.aliases[alias] = id
	}
	o.mu.Unlock()

	if err := o.reducer.CampaignStarted(ctx, id); err != nil {
		return "", fmt.Errorf("orchestrator: record campaign started %s: %w", id, err)
	}

	o.startNextStep(ctx, id)
	return id, nil
}

// startNextStep dispatches the step at cs.cursor, or finishes the campaign
// once the cursor runs past the end of the step list. Looked up fresh under
// lock on every call so a concurrent Cancel is always observed.
func (o *Orchestrator) startNextStep(ctx context.Context, id string) {
	o.mu.RLock()
	cs, ok := o.campaigns[id]
	o.mu.RUnlock()
	if !ok {
		return
	}

	if cs.cursor >= len(cs.steps) {
		o.finishCampaign(ctx, id)
		return
	}

	step := cs.steps[cs.cursor]
	task, ok := cs.campaign.TaskByRef(step)
	if !ok {
		slog.Error("orchestrator: step references unknown task", "campaign_id", id, "group", step.GroupID, "task", step.TaskID)
		o.failCampaign(ctx, id, fmt.Sprintf("unresolvable step %s/%s", step.GroupID, step.TaskID))
		return
	}

	if err := o.reducer.StepStart(ctx, id, step); err != nil {
		slog.Error("orchestrator: record step start failed", "campaign_id", id, "error", err)
		return
	}

	stepCopy := step
	o.mu.Lock()
	if cs, ok := o.campaigns[id]; ok {
		cs.activeStep = &stepCopy
	}
	o.mu.Unlock()

	o.publishFanout(id, "STEP_START", map[string]any{"task_group_id": step.GroupID, "task_id": step.TaskID})

	topic, headers, payload, contentType, err := resolveDispatch(task)
	if err != nil {
		slog.Warn("orchestrator: dispatch resolution failed", "campaign_id", id, "task", task.ID, "error", err)
		o.failCampaign(ctx, id, err.Error())
		return
	}

	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, topic, payload, contentType, headers, false); err != nil {
		slog.Warn("orchestrator: broker publish failed", "campaign_id", id, "topic", topic, "error", err)
		o.failCampaign(ctx, id, err.Error())
		return
	}
}

// failCampaign mirrors _dispatch_step's except ValueError branch: emit
// UNKNOWN_ERROR, record CAMPAIGN_ERROR, and tear the campaign out of the
// live table so no further broker callback can be matched to it.
func (o *Orchestrator) failCampaign(ctx context.Context, id, reason string) {
	if err := o.reducer.CampaignError(ctx, id, reason); err != nil {
		slog.Error("orchestrator: record campaign error failed", "campaign_id", id, "error", err)
	}
	o.publishFanout(id, "UNKNOWN_ERROR", map[string]any{"reason": reason})
	o.removeCampaign(id)
}

// finishCampaign attempts the net's finalize transition, records
// CAMPAIGN_COMPLETED, publishes CAMPAIGN_COMPLETE, and removes the campaign
// from the live table (the store log is kept). Broker step completions do
// not fire the net's activate/task/complete transitions, so for a campaign
// with task groups finalize is not enabled here; that Fire error is logged
// as a warning and completion proceeds regardless.
func (o *Orchestrator) finishCampaign(ctx context.Context, id string) {
	o.mu.RLock()
	net := o.nets[id]
	o.mu.RUnlock()
	if net != nil {
		if err := net.Fire(petrinet.FinalizeTransitionName); err != nil {
			slog.Warn("orchestrator: finalize transition failed", "campaign_id", id, "error", err)
		}
	}

	if err := o.reducer.CampaignCompleted(ctx, id); err != nil {
		slog.Error("orchestrator: record campaign completed failed", "campaign_id", id, "error", err)
		return
	}
	o.publishFanout(id, "CAMPAIGN_COMPLETE", map[string]any{})
	o.removeCampaign(id)
}

// removeCampaign drops a campaign and its aliases from the live table.
// Returns the removed state, or nil if the id was already gone.
func (o *Orchestrator) removeCampaign(id string) *campaignState {
	o.mu.Lock()
	defer o.mu.Unlock()

	cs, ok := o.campaigns[id]
	if !ok {
		return nil
	}
	delete(o.campaigns, id)
	delete(o.nets, id)
	for alias := range cs.aliases {
		delete(o.aliases, alias)
	}
	return cs
}

// Cancel removes a campaign from the live table and records
// CAMPAIGN_CANCELLED. Idempotent: cancelling an unknown or already-gone
// campaign returns false, nil and mutates nothing (spec.md §8 law).
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	cs := o.removeCampaign(id)
	if cs == nil {
		return false, nil
	}

	o.publishFanout(id, "UNKNOWN_ERROR", map[string]any{"reason": "cancelled"})
	if err := o.reducer.CampaignCancelled(ctx, id, "cancelled"); err != nil {
		return true, fmt.Errorf("orchestrator: record campaign cancelled %s: %w", id, err)
	}
	return true, nil
}

// FirePetriTransition fires transitionName on id's compiled net, then
// dispatches the matching reducer action by matching the name against the
// campaign's live groups/tasks via the exported petrinet naming helpers —
// grounded on _handle_petri_transition's string matching, generalized to
// avoid parsing group/task ids apart (they may themselves contain
// underscores).
func (o *Orchestrator) FirePetriTransition(ctx context.Context, id, transitionName string) error {
	o.mu.RLock()
	net, ok := o.nets[id]
	cs := o.campaigns[id]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}

	if err := net.Fire(transitionName); err != nil {
		return err
	}

	if transitionName == petrinet.FinalizeTransitionName {
		return o.reducer.CampaignCompleted(ctx, id)
	}

	for _, g := range cs.campaign.TaskGroups {
		if transitionName == petrinet.ActivateTransitionName(g.ID) {
			return o.reducer.TaskGroupStarted(ctx, id, g.ID)
		}
		if transitionName == petrinet.CompleteTransitionName(g.ID) {
			return o.reducer.TaskGroupCompleted(ctx, id, g.ID)
		}
		for _, t := range g.Tasks {
			if transitionName == petrinet.TaskTransitionName(g.ID, t.ID) {
				return o.reducer.TaskCompleted(ctx, id, g.ID, t.ID)
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTransition, transitionName)
}

// publishFanout is a no-op when no Fanout was wired (e.g. reducer-only
// tests).
func (o *Orchestrator) publishFanout(campaignID, eventType string, payload map[string]any) {
	if o.fanout == nil {
		return
	}
	o.fanout.Publish(fanout.Event{CampaignID: campaignID, EventType: eventType, Payload: payload})
}

// resolveCampaignID mirrors _resolve_campaign_id: an explicit id that
// parses as a UUID is kept verbatim, anything else mints a fresh one.
func resolveCampaignID(explicit string) string {
	if explicit != "" {
		if _, err := uuid.Parse(explicit); err == nil {
			return explicit
		}
	}
	return uuid.NewString()
}

// validateTaskSchemas runs schemavalidate.ValidateSchema over every task's
// input/output schema, implementing spec.md §6.1's validate_schema helper
// at the point a campaign enters the engine.
func validateTaskSchemas(c *campaign.Campaign) []string {
	var errs []string
	for _, g := range c.TaskGroups {
		for _, t := range g.Tasks {
			for _, violation := range schemavalidate.ValidateSchema(t.InputSchema) {
				errs = append(errs, fmt.Sprintf("%s/%s.input_schema%s", g.ID, t.ID, strings.TrimPrefix(violation, "$")))
			}
			for _, violation := range schemavalidate.ValidateSchema(t.OutputSchema) {
				errs = append(errs, fmt.Sprintf("%s/%s.output_schema%s", g.ID, t.ID, strings.TrimPrefix(violation, "$")))
			}
		}
	}
	return errs
}

// validateObjectives runs Objective.Validate over every task group's
// objectives, rejecting a campaign at the submit boundary if any
// objective's variant payload is missing or its target falls outside the
// data model's fixed range (§3: ThresholdUpperLimit target in (0,20],
// ThresholdRange target in (1.62,3.14)) — the net itself never checks
// these (§4.2 objectives are advisory), so Submit is the only place left
// to catch a malformed objective before it becomes silent dead metadata.
func validateObjectives(c *campaign.Campaign) []string {
	var errs []string
	for _, g := range c.TaskGroups {
		for _, o := range g.Objectives {
			if err := o.Validate(); err != nil {
				errs = append(errs, fmt.Sprintf("%s.objectives : %s", g.ID, err))
			}
		}
	}
	return errs
}

// campaignAliases mirrors _campaign_aliases_from_campaign: the canonical id
// plus, for now, no further aliasing source exists in the Go data model
// (the Python original also derives aliases from ICMP compatibility
// fields, explicitly out of scope here per spec.md §9).
func campaignAliases(c *campaign.Campaign) map[string]bool {
	return map[string]bool{c.ID: true}
}
