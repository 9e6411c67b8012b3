package models

import "errors"

// ConditionOp is a cue condition comparison operator (spec.md §3
// CueDefinition, §4.9 Condition evaluation).
type ConditionOp string

const (
	OpEq  ConditionOp = "eq"
	OpNeq ConditionOp = "neq"
	OpGt  ConditionOp = "gt"
	OpGte ConditionOp = "gte"
	OpLt  ConditionOp = "lt"
	OpLte ConditionOp = "lte"
	OpIn  ConditionOp = "in"
)

// CueCondition is one {field, op, value} clause. A cue's conditions are
// implicitly AND-ed (spec.md §4.9 Condition evaluation).
type CueCondition struct {
	Field string      `json:"field"`
	Op    ConditionOp `json:"op"`
	Value any         `json:"value"`
}

// CueTrigger is a standing cue's firing condition: either an event name
// or a clock offset "HH:MM:SS", never both (spec.md §3 CueDefinition).
type CueTrigger struct {
	Event string `json:"event,omitempty" yaml:"event,omitempty"`
	Clock string `json:"clock,omitempty" yaml:"clock,omitempty"`
}

// CueCommand is one entry of a simple cue's commands[] (spec.md §3).
type CueCommand struct {
	Action  string         `json:"action" yaml:"action"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// TimelineEntry is one entry of a compound cue's timeline[] (spec.md §3):
// an action fired `at` seconds from cue start.
type TimelineEntry struct {
	At      int            `json:"at" yaml:"at"`
	Action  string         `json:"action" yaml:"action"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// CueDefinition is one loaded, immutable-during-a-session cue (spec.md §3
// CueDefinition, §4.9 loadCues).
type CueDefinition struct {
	ID         string              `json:"id" yaml:"id"`
	Label      string              `json:"label" yaml:"label"`
	Icon       string              `json:"icon,omitempty" yaml:"icon,omitempty"`
	QuickFire  bool                `json:"quick_fire,omitempty" yaml:"quickFire,omitempty"`
	Once       bool                `json:"once,omitempty" yaml:"once,omitempty"`
	Trigger    *CueTrigger         `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Conditions []CueCondition      `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Commands   []CueCommand        `json:"commands,omitempty" yaml:"commands,omitempty"`
	Timeline   []TimelineEntry     `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	Routing    map[string]string   `json:"routing,omitempty" yaml:"routing,omitempty"`
}

// IsCompound reports whether the cue is timeline-driven rather than a
// flat command list.
func (c *CueDefinition) IsCompound() bool {
	return len(c.Timeline) > 0
}

// IsStanding reports whether the cue is eligible for automatic firing
// (spec.md GLOSSARY "Standing cue").
func (c *CueDefinition) IsStanding() bool {
	return c.Trigger != nil && (c.Trigger.Event != "" || c.Trigger.Clock != "")
}

// Validate enforces "exactly one of commands[] or timeline[]" (spec.md §3
// CueDefinition).
func (c *CueDefinition) Validate() error {
	if c.ID == "" {
		return errors.New("cue id is required")
	}
	hasCommands := len(c.Commands) > 0
	hasTimeline := len(c.Timeline) > 0
	if hasCommands == hasTimeline {
		return errors.New("cue " + c.ID + " must have exactly one of commands or timeline")
	}
	if c.Trigger != nil && c.Trigger.Event != "" && c.Trigger.Clock != "" {
		return errors.New("cue " + c.ID + " trigger must be event or clock, not both")
	}
	return nil
}

// CueState is the run state of an ActiveCompoundCue (spec.md §3).
type CueState string

const (
	CueStateRunning CueState = "running"
	CueStatePaused  CueState = "paused"
	CueStateStopped CueState = "stopped"
)

// ActiveCompoundCue is the runtime state of one in-flight compound cue
// (spec.md §3 ActiveCompoundCue, §4.9 Compound cues).
type ActiveCompoundCue struct {
	CueID         string          `json:"cue_id"`
	State         CueState        `json:"state"`
	StartElapsed  int             `json:"start_elapsed"`
	Elapsed       int             `json:"elapsed"`
	FiredEntries  map[int]bool    `json:"-"`
	MaxAt         int             `json:"max_at"`
	HasVideo      bool            `json:"has_video"`
	ParentChain   []string        `json:"parent_chain,omitempty"`
	Children      []string        `json:"children,omitempty"`
	Timeline      []TimelineEntry `json:"-"`
}

// NewActiveCompoundCue constructs runtime state for cueID starting at
// startElapsed, with maxAt the latest timeline offset.
func NewActiveCompoundCue(cueID string, timeline []TimelineEntry, startElapsed int, hasVideo bool, parentChain []string) *ActiveCompoundCue {
	maxAt := 0
	for _, e := range timeline {
		if e.At > maxAt {
			maxAt = e.At
		}
	}
	return &ActiveCompoundCue{
		CueID:        cueID,
		State:        CueStateRunning,
		StartElapsed: startElapsed,
		Elapsed:      0,
		FiredEntries: make(map[int]bool),
		MaxAt:        maxAt,
		HasVideo:     hasVideo,
		ParentChain:  append([]string(nil), parentChain...),
		Timeline:     timeline,
	}
}

// Complete reports whether every timeline entry has fired and elapsed has
// reached maxAt (spec.md §4.9 Compound cues, step 5).
func (a *ActiveCompoundCue) Complete() bool {
	if a.Elapsed < a.MaxAt {
		return false
	}
	for i := range a.Timeline {
		if !a.FiredEntries[i] {
			return false
		}
	}
	return true
}
