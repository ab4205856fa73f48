package store

import (
	"errors"
	"fmt"
)

// Sentinel errors, matching the teacher's pkg/config/errors.go pattern of
// package-level sentinels plus a wrapping struct for diagnostic context.
var (
	ErrAlreadyExists    = errors.New("store: campaign already exists")
	ErrNotFound         = errors.New("store: campaign not found")
	ErrVersionConflict  = errors.New("store: snapshot version conflict")
	ErrSequenceConflict = errors.New("store: event sequence conflict")
	ErrTransient        = errors.New("store: transient backend error")
)

// ConflictError wraps a version or sequence CAS failure with the expected
// and actual values observed, for diagnostics. errors.Is(err,
// ErrVersionConflict) / errors.Is(err, ErrSequenceConflict) both work via
// Unwrap.
type ConflictError struct {
	Kind       error // ErrVersionConflict or ErrSequenceConflict
	CampaignID string
	Expected   int
	Actual     int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: campaign %s: expected %d, got %d (%v)",
		e.CampaignID, e.Expected, e.Actual, e.Kind)
}

func (e *ConflictError) Unwrap() error { return e.Kind }

// TransientError wraps a backend availability failure (network, driver) so
// callers can retry via errors.Is(err, ErrTransient) without inspecting
// driver-specific error types.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store: transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return errors.Join(ErrTransient, e.Err) }
