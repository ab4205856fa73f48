// Package pgstore is the relational Store backend. It is grounded on the
// teacher's pkg/database (pgx driver registered via database/sql,
// golang-migrate migrations) and on pkg/queue/worker.go's
// claimNextSession transaction-then-compare-then-commit shape, translating
// original_source's postgres.py CAS logic into hand-written SQL rather
// than an ent-generated client (see DESIGN.md for why ent was dropped).
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/campaign-orchestrator/pkg/campaign"
	"github.com/codeready-toolchain/campaign-orchestrator/pkg/store"
)

const pgUniqueViolation = "23505"

// Store is the PostgreSQL-backed store.Store implementation. db is a pool
// opened by pkg/database.NewDB, which has already applied migrations.
type Store struct {
	db *sql.DB
}

// New wraps an already-migrated *sql.DB pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateCampaign(ctx context.Context, id string, c *campaign.Campaign, initial store.Snapshot) error {
	campaignJSON, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	stateJSON, err := json.Marshal(initial.State)
	if err != nil {
		return fmt.Errorf("marshal initial state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &store.TransientError{Op: "CreateCampaign begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO campaigns (campaign_id, campaign) VALUES ($1, $2)`, id, campaignJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return &store.TransientError{Op: "CreateCampaign insert campaign", Err: err}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (campaign_id, version, last_seq, state, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, initial.Version, initial.LastSeq, stateJSON, initial.UpdatedAt)
	if err != nil {
		return &store.TransientError{Op: "CreateCampaign insert snapshot", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &store.TransientError{Op: "CreateCampaign commit", Err: err}
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT campaign FROM campaigns WHERE campaign_id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.TransientError{Op: "GetCampaign", Err: err}
	}

	var c campaign.Campaign
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal campaign: %w", err)
	}
	return &c, nil
}

func (s *Store) LoadSnapshot(ctx context.Context, id string) (*store.Snapshot, error) {
	var (
		version   int
		lastSeq   int
		stateJSON []byte
		updatedAt sqlTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, last_seq, state, updated_at FROM snapshots WHERE campaign_id = $1`, id,
	).Scan(&version, &lastSeq, &stateJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &store.TransientError{Op: "LoadSnapshot", Err: err}
	}

	var state store.State
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot state: %w", err)
	}

	snap := store.Snapshot{CampaignID: id, Version: version, LastSeq: lastSeq, State: state, UpdatedAt: updatedAt.Time}
	return &snap, nil
}

// AppendEvent locks the snapshot row with SELECT ... FOR UPDATE inside a
// transaction, compares the caller's expected last_seq and the event's seq
// against it, inserts the event row, then bumps last_seq unconditionally —
// mirroring Worker.claimNextSession's transaction-then-compare-then-commit
// shape. last_seq is tracked separately from version (see store.Store) so
// TASK_EVENT_RECEIVED ticks still advance seq gaplessly without the
// reducer ever calling UpdateSnapshot for them.
func (s *Store) AppendEvent(ctx context.Context, ev store.Event, expectedLastSeq int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &store.TransientError{Op: "AppendEvent begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var currentLastSeq int
	err = tx.QueryRowContext(ctx,
		`SELECT last_seq FROM snapshots WHERE campaign_id = $1 FOR UPDATE`, ev.CampaignID,
	).Scan(&currentLastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return &store.TransientError{Op: "AppendEvent lock snapshot", Err: err}
	}

	if currentLastSeq != expectedLastSeq {
		return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq, Actual: currentLastSeq}
	}
	if ev.Seq != expectedLastSeq+1 {
		return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq + 1, Actual: ev.Seq}
	}

	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (event_id, campaign_id, seq, event_type, payload, timestamp) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.EventID, ev.CampaignID, ev.Seq, ev.EventType, payloadJSON, ev.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return &store.ConflictError{Kind: store.ErrSequenceConflict, CampaignID: ev.CampaignID, Expected: expectedLastSeq + 1, Actual: ev.Seq}
		}
		return &store.TransientError{Op: "AppendEvent insert", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE snapshots SET last_seq = $1 WHERE campaign_id = $2`, ev.Seq, ev.CampaignID,
	); err != nil {
		return &store.TransientError{Op: "AppendEvent bump last_seq", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &store.TransientError{Op: "AppendEvent commit", Err: err}
	}
	return nil
}

// UpdateSnapshot is a single UPDATE ... WHERE campaign_id = $1 AND version
// = $2 compare-and-set, checking RowsAffected() exactly like postgres.py's
// cursor.rowcount == 0 check.
func (s *Store) UpdateSnapshot(ctx context.Context, snap store.Snapshot, expectedVersion int) error {
	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE snapshots SET version = $1, last_seq = $2, state = $3, updated_at = $4 WHERE campaign_id = $5 AND version = $6`,
		snap.Version, snap.LastSeq, stateJSON, snap.UpdatedAt, snap.CampaignID, expectedVersion)
	if err != nil {
		return &store.TransientError{Op: "UpdateSnapshot", Err: err}
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return &store.TransientError{Op: "UpdateSnapshot rows affected", Err: err}
	}
	if rows == 0 {
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, campaign_id, seq, event_type, payload, timestamp FROM events
		 WHERE campaign_id = $1 AND seq > $2 ORDER BY seq ASC`, id, afterSeq)
	if err != nil {
		return nil, &store.TransientError{Op: "LoadEvents", Err: err}
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var (
			ev        store.Event
			payload   []byte
			timestamp sqlTime
		)
		if err := rows.Scan(&ev.EventID, &ev.CampaignID, &ev.Seq, &ev.EventType, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		ev.Timestamp = timestamp.Time
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) CampaignExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE campaign_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, &store.TransientError{Op: "CampaignExists", Err: err}
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
