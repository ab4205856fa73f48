// Package petrinet is a small, hand-rolled Petri net implementation
// covering exactly the places/transitions/arcs a compiled campaign needs.
// The net is in-house rather than built on an external Petri-net library:
// the representation is small (places/transitions/arcs plus a marking map)
// and nothing in the retrieval pack carries a Petri-net dependency with
// ecosystem weight behind it, so a narrow auditable implementation beats
// pulling in an unfamiliar niche library for ~400 lines of logic.
package petrinet

import (
	"fmt"
	"sort"
	"sync"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
)

const (
	placeReady    = "Ready"
	placeComplete = "Complete"
)

// arc lists the places a transition consumes from and produces to. Read
// arcs (consume-and-return the same place) are modeled by listing the
// place in both Consumes and Produces.
type arc struct {
	Consumes []string
	Produces []string
}

// Net is the compiled workflow net for one campaign. All methods are safe
// for concurrent use; Fire is atomic (all arc effects apply or none).
type Net struct {
	Name     string
	Warnings []string

	mu      sync.Mutex
	marking map[string]int
	arcs    map[string]arc
}

// Compile builds the workflow net of spec §3 for a campaign: places
// Ready/Complete plus per-group pending/running/complete places and
// per-task complete places; transitions activate_<g>/complete_<g>/
// task_<g>_<t> plus a single finalize_campaign. Missing dependency targets
// are not errors — they are recorded as warnings and simply leave the
// dependent group unreachable.
func Compile(c *campaign.Campaign) (*Net, error) {
	groups := c.GroupByID()

	if err := detectCycle(groups); err != nil {
		return nil, err
	}

	n := &Net{
		Name:    fmt.Sprintf("Campaign_%s", c.ID),
		marking: map[string]int{placeReady: 1},
		arcs:    make(map[string]arc),
	}

	for _, g := range c.TaskGroups {
		pending := groupPendingPlace(g.ID)
		running := groupRunningPlace(g.ID)
		complete := groupCompletePlace(g.ID)
		n.marking[pending] = 0
		n.marking[running] = 0
		n.marking[complete] = 0

		activate := activateTransition(g.ID)
		activateConsumes := []string{placeReady}
		activateProduces := []string{pending}
		if len(g.GroupDependencies) != 0 {
			activateConsumes = nil
			for _, dep := range g.GroupDependencies {
				if _, ok := groups[dep]; !ok {
					n.Warnings = append(n.Warnings, fmt.Sprintf(
						"task group %q depends on unknown group %q; %q can never activate", g.ID, dep, g.ID))
				}
				depComplete := groupCompletePlace(dep)
				if _, ok := n.marking[depComplete]; !ok {
					n.marking[depComplete] = 0 // ensure the place exists even for unknown deps
				}
				// read arc: consume and return the dependency's complete token.
				activateConsumes = append(activateConsumes, depComplete)
				activateProduces = append(activateProduces, depComplete)
			}
		}
		n.arcs[activate] = arc{Consumes: activateConsumes, Produces: activateProduces}

		taskCompletePlaces := make([]string, 0, len(g.Tasks))
		seen := make(map[string]bool, len(g.Tasks))
		for _, t := range g.Tasks {
			if seen[t.ID] {
				return nil, fmt.Errorf("%w: group %q task %q", ErrDuplicateTaskID, g.ID, t.ID)
			}
			seen[t.ID] = true

			taskTrans := taskTransition(g.ID, t.ID)
			taskComplete := taskCompletePlace(g.ID, t.ID)
			taskCompletePlaces = append(taskCompletePlaces, taskComplete)
			n.marking[taskComplete] = 0

			tConsumes := []string{pending}
			tProduces := []string{pending, taskComplete}
			for _, dep := range t.TaskDependencies {
				depComplete := taskCompletePlace(g.ID, dep)
				tConsumes = append(tConsumes, depComplete)
				tProduces = append(tProduces, depComplete)
				if _, ok := n.marking[depComplete]; !ok {
					n.marking[depComplete] = 0
				}
			}
			n.arcs[taskTrans] = arc{Consumes: tConsumes, Produces: tProduces}
		}

		completeTrans := completeTransition(g.ID)
		completeConsumes := append([]string{pending}, taskCompletePlaces...)
		n.arcs[completeTrans] = arc{Consumes: completeConsumes, Produces: []string{complete}}
	}

	finalizeConsumes := make([]string, 0, len(c.TaskGroups))
	for _, g := range c.TaskGroups {
		finalizeConsumes = append(finalizeConsumes, groupCompletePlace(g.ID))
	}
	n.arcs["finalize_campaign"] = arc{Consumes: finalizeConsumes, Produces: []string{placeComplete}}
	n.marking[placeComplete] = 0

	return n, nil
}

// EnabledTransitions returns every transition whose input places all hold
// at least one token, sorted for deterministic output.
func (n *Net) EnabledTransitions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var enabled []string
	for name := range n.arcs {
		if n.isEnabledLocked(name) {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}

func (n *Net) isEnabledLocked(name string) bool {
	a, ok := n.arcs[name]
	if !ok {
		return false
	}
	for _, p := range a.Consumes {
		if n.marking[p] < 1 {
			return false
		}
	}
	return true
}

// Marking returns a copy of the current place->token-count map. Callers
// must not rely on mutating the result to affect the net.
func (n *Net) Marking() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()

	cp := make(map[string]int, len(n.marking))
	for k, v := range n.marking {
		cp[k] = v
	}
	return cp
}

// Fire removes one token from each of transition's input places and adds
// one to each output place, atomically. Read arcs (a place listed in both
// Consumes and Produces) preserve their token count across the call.
func (n *Net) Fire(transition string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	a, ok := n.arcs[transition]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchTransition, transition)
	}
	if !n.isEnabledLocked(transition) {
		return fmt.Errorf("%w: %q", ErrNotEnabled, transition)
	}

	for _, p := range a.Consumes {
		n.marking[p]--
	}
	for _, p := range a.Produces {
		n.marking[p]++
	}
	return nil
}

func groupPendingPlace(g string) string    { return fmt.Sprintf("tg_%s_pending", g) }
func groupRunningPlace(g string) string    { return fmt.Sprintf("tg_%s_running", g) }
func groupCompletePlace(g string) string   { return fmt.Sprintf("tg_%s_complete", g) }
func taskCompletePlace(g, t string) string { return fmt.Sprintf("task_%s_%s_complete", g, t) }
func activateTransition(g string) string   { return fmt.Sprintf("activate_%s", g) }
func completeTransition(g string) string   { return fmt.Sprintf("complete_%s", g) }
func taskTransition(g, t string) string    { return fmt.Sprintf("task_%s_%s", g, t) }

// FinalizeTransitionName is the single campaign-wide finalize transition
// produced by Compile.
const FinalizeTransitionName = "finalize_campaign"

// ActivateTransitionName, CompleteTransitionName and TaskTransitionName
// expose the same naming scheme Compile uses internally, so callers (the
// orchestrator's FirePetriTransition dispatcher) can match an arbitrary
// transition name against a campaign's known groups/tasks without parsing
// the name apart — group and task ids may themselves contain underscores,
// which would make that parsing ambiguous.
func ActivateTransitionName(groupID string) string     { return activateTransition(groupID) }
func CompleteTransitionName(groupID string) string     { return completeTransition(groupID) }
func TaskTransitionName(groupID, taskID string) string { return taskTransition(groupID, taskID) }

// detectCycle runs an iterative DFS with an explicit recursion stack over
// group dependencies, translating original_source's has_cycle (recursive
// Python) into the idiomatic explicit-stack Go shape.
func detectCycle(groups map[string]*campaign.TaskGroup) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(groups))

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, start := range ids {
		if state[start] != unvisited {
			continue
		}

		type frame struct {
			id      string
			depIdx  int
			depsLen int
		}
		var stack []frame
		var path []string

		push := func(id string) {
			state[id] = visiting
			path = append(path, id)
			deps := groups[id].GroupDependencies
			stack = append(stack, frame{id: id, depIdx: 0, depsLen: len(deps)})
		}
		push(start)

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := groups[top.id].GroupDependencies
			if top.depIdx >= top.depsLen {
				state[top.id] = done
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
				continue
			}
			dep := deps[top.depIdx]
			top.depIdx++

			if _, known := groups[dep]; !known {
				continue // missing targets are warnings, not cycle candidates
			}
			switch state[dep] {
			case unvisited:
				push(dep)
			case visiting:
				cyclePath := append(append([]string{}, path...), dep)
				return &CycleError{Path: cyclePath}
			}
		}
	}
	return nil
}
