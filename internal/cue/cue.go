// Package cue implements spec.md §4.9: the declarative cue engine.
// Standing cues fire from game events or clock offsets; simple cues run
// a flat command list; compound cues run a timeline either clock-driven
// or video-progress-driven, with conflict arbitration, cycle detection,
// and nesting. Grounded on the teacher's internal/rules.Engine — the same
// load-rules-then-evaluate-against-an-input shape, generalized from one
// flat real-time rule pass to standing triggers plus a second, stateful
// active-cue advance loop the teacher's engine never needed.
package cue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
)

// Domain events this engine publishes (spec.md §4.9).
const (
	EventCueFired     = "cue:fired"
	EventCueStarted   = "cue:started"
	EventCueStatus    = "cue:status"
	EventCueCompleted = "cue:completed"
	EventCueError     = "cue:error"
	EventCueConflict  = "cue:conflict"
)

// DefaultAutoCancelDuration is the conflict arbitration timer (spec.md
// §4.9 Compound cues, D13: "autoCancelMs:10000").
const DefaultAutoCancelDuration = 10 * time.Second

// DefaultMaxNestingDepth caps fireCue recursion through parentChain
// (spec.md §4.9 fireCue "Depth cap").
const DefaultMaxNestingDepth = 5

// FiredPayload is the EventCueFired payload.
type FiredPayload struct {
	CueID   string `json:"cue_id"`
	Trigger string `json:"trigger"`
	Source  string `json:"source"`
}

// StartedPayload is the EventCueStarted payload (compound cues only).
type StartedPayload struct {
	CueID    string `json:"cue_id"`
	HasVideo bool   `json:"has_video"`
	Duration int    `json:"duration"`
}

// StatusPayload is the EventCueStatus payload, emitted on every advance.
type StatusPayload struct {
	CueID    string          `json:"cue_id"`
	State    models.CueState `json:"state"`
	Progress int             `json:"progress"`
	Duration int             `json:"duration"`
}

// CompletedPayload is the EventCueCompleted payload.
type CompletedPayload struct {
	CueID string `json:"cue_id"`
}

// ErrorPayload is the EventCueError payload.
type ErrorPayload struct {
	CueID  string `json:"cue_id"`
	Reason string `json:"reason"`
}

// ConflictPayload is the EventCueConflict payload (spec.md §4.9 D13).
type ConflictPayload struct {
	CueID        string               `json:"cue_id"`
	Reason       string               `json:"reason"`
	CurrentVideo models.VideoQueueItem `json:"current_video"`
	AutoCancel   bool                 `json:"auto_cancel"`
	AutoCancelMs int                  `json:"auto_cancel_ms"`
}

// ActiveCueView is the snapshot shape returned by GetActiveCues (spec.md
// §4.9 Control operations).
type ActiveCueView struct {
	CueID    string          `json:"cue_id"`
	State    models.CueState `json:"state"`
	Progress int             `json:"progress"`
	Duration int             `json:"duration"`
}

// VideoState is the subset of internal/video.Service the cue engine
// needs to detect and resolve playback conflicts — a local seam, the
// same trick internal/transaction uses to avoid importing package
// session (DESIGN.md Open Question #4).
type VideoState interface {
	IsPlaying() bool
	GetCurrentVideo() (models.VideoQueueItem, models.VideoPlaybackStatus, bool)
	StopCurrent()
}

// ClockSource is the subset of internal/clock.Clock a cue's start
// snapshot needs.
type ClockSource interface {
	GetElapsed() int
}

// Command is one dispatched action, resolved with routing (spec.md §4.9
// fireCue, Timeline entry dispatch and routing).
type Command struct {
	Action  string
	Payload map[string]any
	Source  string
	Trigger string
	Target  string
}

// CommandExecutor runs one resolved Command against whatever external or
// in-core collaborator owns Action (video queue, audio, lighting,
// Home-Assistant — the last three are out of scope per spec.md §1
// Non-goals and are expected to be a no-op/logging stub at the
// composition root).
type CommandExecutor interface {
	Execute(ctx context.Context, cmd Command) error
}

type pendingConflict struct {
	def         models.CueDefinition
	trigger     string
	parentChain []string
	timer       *time.Timer
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithAutoCancelDuration overrides the conflict arbitration timer.
func WithAutoCancelDuration(d time.Duration) Option {
	return func(e *Engine) { e.autoCancelDuration = d }
}

// WithMaxNestingDepth overrides the fireCue recursion cap.
func WithMaxNestingDepth(n int) Option {
	return func(e *Engine) { e.maxNestingDepth = n }
}

// Engine is the cue authority (spec.md §4.9).
type Engine struct {
	bus      *eventbus.Bus
	clock    ClockSource
	video    VideoState
	executor CommandExecutor

	autoCancelDuration time.Duration
	maxNestingDepth    int

	mu               sync.Mutex
	active           bool
	cues             map[string]models.CueDefinition
	disabled         map[string]bool
	firedClockCues   map[string]bool
	activeCues       map[string]*models.ActiveCompoundCue
	pendingConflicts map[string]*pendingConflict
}

// New constructs a suspended Engine with no cues loaded.
func New(bus *eventbus.Bus, clock ClockSource, video VideoState, executor CommandExecutor, opts ...Option) *Engine {
	e := &Engine{
		bus:                bus,
		clock:              clock,
		video:              video,
		executor:           executor,
		autoCancelDuration: DefaultAutoCancelDuration,
		maxNestingDepth:    DefaultMaxNestingDepth,
		cues:               make(map[string]models.CueDefinition),
		disabled:           make(map[string]bool),
		firedClockCues:     make(map[string]bool),
		activeCues:         make(map[string]*models.ActiveCompoundCue),
		pendingConflicts:   make(map[string]*pendingConflict),
	}
	return e
}

// LoadCues validates and indexes defs by id, replacing any previously
// loaded set. Replacing the set stops every currently running compound
// cue (spec.md §4.9 "Definitions and loading").
func (e *Engine) LoadCues(defs []models.CueDefinition) error {
	indexed := make(map[string]models.CueDefinition, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		indexed[d.ID] = d
	}

	e.mu.Lock()
	running := make([]string, 0, len(e.activeCues))
	for id, ac := range e.activeCues {
		if len(ac.ParentChain) == 0 {
			running = append(running, id)
		}
	}
	e.mu.Unlock()

	for _, id := range running {
		e.StopCue(id)
	}

	e.mu.Lock()
	e.cues = indexed
	e.mu.Unlock()
	return nil
}

// EnableCue clears id from the disabled set.
func (e *Engine) EnableCue(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.disabled, id)
}

// DisableCue marks id disabled; disabled cues are silently skipped.
func (e *Engine) DisableCue(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled[id] = true
}

// Activate gates standing-cue evaluation on (spec.md §4.9 activate()).
func (e *Engine) Activate() {
	e.mu.Lock()
	e.active = true
	e.mu.Unlock()
}

// Suspend gates standing-cue evaluation off; a suspended engine ignores
// both event and clock inputs.
func (e *Engine) Suspend() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

// IsActive reports the current gate state.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Reset clears all runtime state: cues, disabled set, fired-clock set,
// conflict timers (stopped before discarding), pending conflicts, and
// active cues (spec.md §4.9 Reset).
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, pc := range e.pendingConflicts {
		pc.timer.Stop()
	}
	e.cues = make(map[string]models.CueDefinition)
	e.disabled = make(map[string]bool)
	e.firedClockCues = make(map[string]bool)
	e.pendingConflicts = make(map[string]*pendingConflict)
	e.activeCues = make(map[string]*models.ActiveCompoundCue)
}

// HandleGameEvent is the event-path entry point (spec.md §4.9 "Event path
// (standing-event cues)"). It must be wired as a subscriber only to
// events originating from game services — never to the engine's own
// cue:* events (spec.md §4.2 D4 re-entrancy rule).
func (e *Engine) HandleGameEvent(eventName string, payload any) {
	if !e.IsActive() {
		return
	}

	ctx := normalizeEventPayload(eventName, payload)

	e.mu.Lock()
	var toFire []models.CueDefinition
	for _, def := range e.cues {
		if e.disabled[def.ID] {
			continue
		}
		if def.Trigger == nil || def.Trigger.Event != eventName {
			continue
		}
		if !conditionsMatch(def.Conditions, ctx) {
			continue
		}
		toFire = append(toFire, def)
	}
	e.mu.Unlock()

	sort.Slice(toFire, func(i, j int) bool { return toFire[i].ID < toFire[j].ID })
	for _, def := range toFire {
		if err := e.FireCue(context.Background(), def.ID, "event:"+eventName, nil); err != nil {
			log.Printf("cue engine: firing %s from event %s: %v", def.ID, eventName, err)
		}
	}
}

// HandleClockTick is the clock-path entry point (spec.md §4.9 "Clock
// path") plus the clock-driven compound-cue advance (spec.md §4.9
// "Advancing").
func (e *Engine) HandleClockTick(elapsed int) {
	e.handleClockTriggers(elapsed)
	e.advanceClockDriven(elapsed)
}

func (e *Engine) handleClockTriggers(elapsed int) {
	if !e.IsActive() {
		return
	}

	e.mu.Lock()
	var toFire []models.CueDefinition
	for _, def := range e.cues {
		if e.disabled[def.ID] || e.firedClockCues[def.ID] {
			continue
		}
		if def.Trigger == nil || def.Trigger.Clock == "" {
			continue
		}
		threshold, err := parseClockOffset(def.Trigger.Clock)
		if err != nil {
			log.Printf("cue engine: cue %s has invalid clock trigger %q: %v", def.ID, def.Trigger.Clock, err)
			continue
		}
		if elapsed >= threshold {
			e.firedClockCues[def.ID] = true
			toFire = append(toFire, def)
		}
	}
	e.mu.Unlock()

	sort.Slice(toFire, func(i, j int) bool { return toFire[i].ID < toFire[j].ID })
	for _, def := range toFire {
		if err := e.FireCue(context.Background(), def.ID, "clock:"+def.Trigger.Clock, nil); err != nil {
			log.Printf("cue engine: firing %s from clock trigger: %v", def.ID, err)
		}
	}
}

// parseClockOffset parses "HH:MM:SS" into seconds (spec.md §4.9 Clock path).
func parseClockOffset(hms string) (int, error) {
	parts := strings.Split(hms, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("expected HH:MM:SS, got %q", hms)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	s, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, err
	}
	return h*3600 + m*60 + s, nil
}
