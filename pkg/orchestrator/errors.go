package orchestrator

import "errors"

// Sentinel errors returned by Orchestrator methods, matching the
// sentinel-plus-wrapper pattern used throughout this repository's error
// taxonomies (see pkg/config/errors.go in the teacher lineage).
var (
	ErrAlreadyRegistered = errors.New("orchestrator: campaign already registered")
	ErrCampaignNotFound  = errors.New("orchestrator: campaign not found")
	ErrMissingHeaders    = errors.New("orchestrator: missing required source/sdk_version headers")
	ErrUnresolvableTopic = errors.New("orchestrator: cannot resolve publish topic")
	ErrUnknownTransition = errors.New("orchestrator: transition name matches no known group/task")
)
