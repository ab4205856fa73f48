package petrinet

import "errors"

// Sentinel errors returned by Net operations, matching the
// sentinel-plus-wrapper pattern used throughout this repository's error
// taxonomies (see pkg/config/errors.go in the teacher lineage).
var (
	ErrCycleDetected     = errors.New("petrinet: cycle detected in group dependencies")
	ErrNoSuchTransition  = errors.New("petrinet: no such transition")
	ErrNotEnabled        = errors.New("petrinet: transition not enabled")
	ErrDuplicateTaskID   = errors.New("petrinet: duplicate task id within group")
)

// CycleError carries the cycle path for diagnostics while remaining
// errors.Is-compatible with ErrCycleDetected.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	s := "petrinet: cycle detected in group dependencies: "
	for i, id := range e.Path {
		if i > 0 {
			s += " -> "
		}
		s += id
	}
	return s
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }
