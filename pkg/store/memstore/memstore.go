// Package memstore is the in-memory Store backend: a single mutex guarding
// three maps, grounded on the teacher's pkg/session.Manager
// (single-mutex, map-keyed, deep-copy-on-read) generalized from one map to
// three. Used for tests and the "memory" deployment mode.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
)

// Store is the in-memory store.Store implementation.
type Store struct {
	mu        sync.Mutex
	campaigns map[string]*campaign.Campaign
	snapshots map[string]store.Snapshot
	events    map[string][]store.Event
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		campaigns: make(map[string]*campaign.Campaign),
		snapshots: make(map[string]store.Snapshot),
		events:    make(map[string][]store.Event),
	}
}

func (s *Store) CreateCampaign(_ context.Context, id string, c *campaign.Campaign, initial store.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[id]; exists {
		return store.ErrAlreadyExists
	}

	cp := *c
	s.campaigns[id] = &cp
	s.snapshots[id] = initial.Clone()
	s.events[id] = nil
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*campaign.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) LoadSnapshot(_ context.Context, id string) (*store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := snap.Clone()
	return &cp, nil
}

func (s *Store) AppendEvent(_ context.Context, ev store.Event, expectedLastSeq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[ev.CampaignID]
	if !ok {
		return store.ErrNotFound
	}
	if snap.LastSeq != expectedLastSeq {
		return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq, Actual: snap.LastSeq}
	}
	if ev.Seq != expectedLastSeq+1 {
		return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq + 1, Actual: ev.Seq}
	}

	s.events[ev.CampaignID] = append(s.events[ev.CampaignID], ev)
	snap.LastSeq = ev.Seq
	s.snapshots[ev.CampaignID] = snap
	return nil
}

func (s *Store) UpdateSnapshot(_ context.Context, snap store.Snapshot, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.snapshots[snap.CampaignID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return &store.ConflictError{Kind: store.ErrVersionConflict, CampaignID: snap.CampaignID, Expected: expectedVersion, Actual: current.Version}
	}

	s.snapshots[snap.CampaignID] = snap.Clone()
	return nil
}

func (s *Store) LoadEvents(_ context.Context, id string, afterSeq int) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[id]; !ok {
		return nil, store.ErrNotFound
	}

	all := s.events[id]
	out := make([]store.Event, 0, len(all))
	for _, ev := range all {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) CampaignExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.campaigns[id]
	return ok, nil
}
