// Package mongostore is the document-store Store backend, grounded on
// original_source's repository/mongo.py: three collections (campaigns,
// snapshots, events), a unique index on id for campaigns, on campaign_id
// for snapshots, and on (campaign_id, seq) for events, and update_snapshot as a
// filtered update with the expected version in the filter. Mongo's
// per-document write is atomic, but AppendEvent still performs an
// explicit read-compare before insert to honor the CAS contract across
// the snapshot+event pair, matching the Python original.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
)

// Store is the MongoDB-backed store.Store implementation.
type Store struct {
	campaigns *mongo.Collection
	snapshots *mongo.Collection
	events    *mongo.Collection
}

// New wraps a *mongo.Database, ensuring the required unique indexes exist.
func New(ctx context.Context, db *mongo.Database) (*Store, error) {
	s := &Store{
		campaigns: db.Collection("campaigns"),
		snapshots: db.Collection("snapshots"),
		events:    db.Collection("events"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.campaigns.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create campaigns index: %w", err)
	}
	_, err = s.snapshots.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "campaign_id", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create snapshots index: %w", err)
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "campaign_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create events index: %w", err)
	}
	return nil
}

func (s *Store) CreateCampaign(ctx context.Context, id string, c *campaign.Campaign, initial store.Snapshot) error {
	stored := *c
	stored.ID = id
	if _, err := s.campaigns.InsertOne(ctx, stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrAlreadyExists
		}
		return &store.TransientError{Op: "CreateCampaign insert campaign", Err: err}
	}

	initial.CampaignID = id
	if _, err := s.snapshots.InsertOne(ctx, initial); err != nil {
		return &store.TransientError{Op: "CreateCampaign insert snapshot", Err: err}
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	var c campaign.Campaign
	err := s.campaigns.FindOne(ctx, bson.M{"id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.TransientError{Op: "GetCampaign", Err: err}
	}
	return &c, nil
}

func (s *Store) LoadSnapshot(ctx context.Context, id string) (*store.Snapshot, error) {
	var snap store.Snapshot
	err := s.snapshots.FindOne(ctx, bson.M{"campaign_id": id}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.TransientError{Op: "LoadSnapshot", Err: err}
	}
	cloned := snap.Clone()
	return &cloned, nil
}

// AppendEvent performs an explicit FindOne last_seq check before InsertOne,
// then bumps last_seq unconditionally: Mongo's own single-document
// atomicity doesn't by itself enforce the cross-document snapshot/event
// CAS contract this store promises. last_seq is tracked separately from
// version (see store.Store) so TASK_EVENT_RECEIVED ticks still advance seq
// gaplessly without the reducer ever calling UpdateSnapshot for them.
func (s *Store) AppendEvent(ctx context.Context, ev store.Event, expectedLastSeq int) error {
	var current struct {
		LastSeq int `bson:"last_seq"`
	}
	err := s.snapshots.FindOne(ctx, bson.M{"campaign_id": ev.CampaignID}).Decode(&current)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if err != nil {
		return &store.TransientError{Op: "AppendEvent load snapshot", Err: err}
	}

	if current.LastSeq != expectedLastSeq {
		return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq, Actual: current.LastSeq}
	}
	if ev.Seq != expectedLastSeq+1 {
		return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq + 1, Actual: ev.Seq}
	}

	_, err = s.events.InsertOne(ctx, ev)
	if mongo.IsDuplicateKeyError(err) {
		return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq + 1, Actual: ev.Seq}
	}
	if err != nil {
		return &store.TransientError{Op: "AppendEvent insert", Err: err}
	}

	_, err = s.snapshots.UpdateOne(ctx,
		bson.M{"campaign_id": ev.CampaignID},
		bson.M{"$set": bson.M{"last_seq": ev.Seq}},
	)
	if err != nil {
		return &store.TransientError{Op: "AppendEvent bump last_seq", Err: err}
	}
	return nil
}

// UpdateSnapshot uses a filtered update_one({campaign_id, version:
// expected}, ...), checking MatchedCount == 0, exactly as
// original_source/mongo.py does.
func (s *Store) UpdateSnapshot(ctx context.Context, snap store.Snapshot, expectedVersion int) error {
	res, err := s.snapshots.UpdateOne(ctx,
		bson.M{"campaign_id": snap.CampaignID, "version": expectedVersion},
		bson.M{"$set": bson.M{"version": snap.Version, "last_seq": snap.LastSeq, "state": snap.State, "updated_at": snap.UpdatedAt}},
	)
	if err != nil {
		return &store.TransientError{Op: "UpdateSnapshot", Err: err}
	}
	if res.MatchedCount == 0 {
		exists, existsErr := s.CampaignExists(ctx, snap.CampaignID)
		if existsErr == nil && !exists {
			return store.ErrNotFound
		}
		return &store.ConflictError{Kind: store.ErrVersionConflict, CampaignID: snap.CampaignID, Expected: expectedVersion, Actual: -1}
	}
	return nil
}

func (s *Store) LoadEvents(ctx context.Context, id string, afterSeq int) ([]store.Event, error) {
	exists, err := s.CampaignExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cur, err := s.events.Find(ctx, bson.M{"campaign_id": id, "seq": bson.M{"$gt": afterSeq}}, opts)
	if err != nil {
		return nil, &store.TransientError{Op: "LoadEvents", Err: err}
	}
	defer cur.Close(ctx)

	var events []store.Event
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

func (s *Store) CampaignExists(ctx context.Context, id string) (bool, error) {
	n, err := s.campaigns.CountDocuments(ctx, bson.M{"id": id})
	if err != nil {
		return false, &store.TransientError{Op: "CampaignExists", Err: err}
	}
	return n > 0, nil
}
