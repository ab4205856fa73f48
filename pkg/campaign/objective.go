package campaign

import (
	"fmt"
	"time"
)

// ObjectiveKind discriminates the five Objective variants. Objectives are a
// closed tagged union — one kind tag plus a variant payload — rather than
// an interface hierarchy, per the five fixed shapes the engine must carry
// as reducer metadata.
type ObjectiveKind string

const (
	ObjectiveMaxRuntime          ObjectiveKind = "max_runtime"
	ObjectiveThresholdUpperLimit ObjectiveKind = "threshold_upper_limit"
	ObjectiveThresholdRange      ObjectiveKind = "threshold_range"
	ObjectiveIterate             ObjectiveKind = "iterate"
	ObjectiveAssert              ObjectiveKind = "assert"
)

// Objective is a declarative constraint on a task group that may
// short-circuit it (or the whole campaign) early. The engine carries these
// as advisory metadata; the workflow net itself encodes no guards (§4.2).
type Objective struct {
	Kind ObjectiveKind `json:"kind"`
	ID   string        `json:"id"`

	MaxRuntime          *MaxRuntimeObjective          `json:"max_runtime,omitempty"`
	ThresholdUpperLimit *ThresholdUpperLimitObjective `json:"threshold_upper_limit,omitempty"`
	ThresholdRange      *ThresholdRangeObjective      `json:"threshold_range,omitempty"`
	Iterate             *IterateObjective             `json:"iterate,omitempty"`
	Assert              *AssertObjective              `json:"assert,omitempty"`
}

// MaxRuntimeObjective terminates task_group once duration has elapsed
// since the group started running.
type MaxRuntimeObjective struct {
	TaskGroup string        `json:"task_group"`
	Duration  time.Duration `json:"duration"`
}

// ThresholdUpperLimitObjective fires once Var's observed value reaches
// Target. Target must lie in (0, 20].
type ThresholdUpperLimitObjective struct {
	Var    string  `json:"var"`
	Target float64 `json:"target"`
}

// ThresholdRangeObjective fires once Var's observed value enters
// (1.62, 3.14). Target is the value that tripped the range.
type ThresholdRangeObjective struct {
	Var    string  `json:"var"`
	Target float64 `json:"target"`
}

// IterateObjective fires after Iterations task-event ticks.
type IterateObjective struct {
	Iterations int `json:"iterations"`
}

// AssertObjective fires when Var's observed boolean equals Target.
type AssertObjective struct {
	Var    string `json:"var"`
	Target bool   `json:"target"`
}

// Validate checks the variant-specific range constraints fixed by the data
// model (§3): ThresholdUpperLimit target in (0,20], ThresholdRange target
// in (1.62,3.14).
func (o Objective) Validate() error {
	switch o.Kind {
	case ObjectiveMaxRuntime:
		if o.MaxRuntime == nil {
			return fmt.Errorf("objective %s: kind max_runtime requires max_runtime payload", o.ID)
		}
	case ObjectiveThresholdUpperLimit:
		if o.ThresholdUpperLimit == nil {
			return fmt.Errorf("objective %s: kind threshold_upper_limit requires payload", o.ID)
		}
		if t := o.ThresholdUpperLimit.Target; t <= 0 || t > 20 {
			return fmt.Errorf("objective %s: threshold_upper_limit target %v outside (0,20]", o.ID, t)
		}
	case ObjectiveThresholdRange:
		if o.ThresholdRange == nil {
			return fmt.Errorf("objective %s: kind threshold_range requires payload", o.ID)
		}
		if t := o.ThresholdRange.Target; t <= 1.62 || t >= 3.14 {
			return fmt.Errorf("objective %s: threshold_range target %v outside (1.62,3.14)", o.ID, t)
		}
	case ObjectiveIterate:
		if o.Iterate == nil {
			return fmt.Errorf("objective %s: kind iterate requires iterate payload", o.ID)
		}
	case ObjectiveAssert:
		if o.Assert == nil {
			return fmt.Errorf("objective %s: kind assert requires assert payload", o.ID)
		}
	default:
		return fmt.Errorf("objective %s: unknown kind %q", o.ID, o.Kind)
	}
	return nil
}
