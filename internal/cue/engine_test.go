package cue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
)

type fakeExecutor struct {
	mu          sync.Mutex
	executed    []Command
	failActions map[string]bool
}

func (f *fakeExecutor) Execute(_ context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, cmd)
	if f.failActions[cmd.Action] {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeExecutor) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	for i, c := range f.executed {
		out[i] = c.Action
	}
	return out
}

type fakeVideo struct {
	playing bool
	current models.VideoQueueItem
	stopped bool
}

func (f *fakeVideo) IsPlaying() bool { return f.playing }
func (f *fakeVideo) GetCurrentVideo() (models.VideoQueueItem, models.VideoPlaybackStatus, bool) {
	if !f.playing {
		return models.VideoQueueItem{}, models.VideoStatusIdle, false
	}
	return f.current, models.VideoStatusPlaying, true
}
func (f *fakeVideo) StopCurrent() { f.playing = false; f.stopped = true }

type fakeClock struct{ elapsed int }

func (f *fakeClock) GetElapsed() int { return f.elapsed }

func newTestEngine(t *testing.T) (*Engine, *eventbus.Bus, *fakeExecutor, *fakeVideo, *fakeClock) {
	t.Helper()
	bus := eventbus.New()
	exec := &fakeExecutor{failActions: map[string]bool{}}
	vid := &fakeVideo{}
	clk := &fakeClock{}
	e := New(bus, clk, vid, exec)
	e.Activate()
	return e, bus, exec, vid, clk
}

func simpleCue(id string, once bool, actions ...string) models.CueDefinition {
	var cmds []models.CueCommand
	for _, a := range actions {
		cmds = append(cmds, models.CueCommand{Action: a})
	}
	return models.CueDefinition{ID: id, Once: once, Commands: cmds}
}

func TestLoadCues_RejectsInvalidDefinition(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	err := e.LoadCues([]models.CueDefinition{
		{ID: "bad", Commands: []models.CueCommand{{Action: "a"}}, Timeline: []models.TimelineEntry{{At: 0, Action: "b"}}},
	})
	require.Error(t, err)
}

func TestFireCue_SimpleCue_ExecutesCommandsInOrder(t *testing.T) {
	e, bus, exec, _, _ := newTestEngine(t)
	require.NoError(t, e.LoadCues([]models.CueDefinition{simpleCue("c1", false, "audio:play", "lighting:flash")}))

	var completed bool
	bus.Subscribe(EventCueCompleted, func(any) { completed = true })

	require.NoError(t, e.FireCue(context.Background(), "c1", "manual", nil))
	require.Equal(t, []string{"audio:play", "lighting:flash"}, exec.actions())
	require.True(t, completed)
}

func TestFireCue_UnknownID_Errors(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	require.Error(t, e.FireCue(context.Background(), "ghost", "manual", nil))
}

func TestFireCue_Disabled_IsSkippedSilently(t *testing.T) {
	e, _, exec, _, _ := newTestEngine(t)
	require.NoError(t, e.LoadCues([]models.CueDefinition{simpleCue("c1", false, "audio:play")}))
	e.DisableCue("c1")

	require.NoError(t, e.FireCue(context.Background(), "c1", "manual", nil))
	require.Empty(t, exec.actions())
}

func TestOnce_DisablesAfterSuccessfulFire(t *testing.T) {
	e, _, exec, _, _ := newTestEngine(t)
	require.NoError(t, e.LoadCues([]models.CueDefinition{simpleCue("c1", true, "audio:play")}))

	require.NoError(t, e.FireCue(context.Background(), "c1", "manual", nil))
	require.NoError(t, e.FireCue(context.Background(), "c1", "manual", nil))
	require.Len(t, exec.actions(), 1, "once cue must not fire a second time")
}

func TestFailedCommand_DoesNotStopRemainingSequence(t *testing.T) {
	e, bus, exec, _, _ := newTestEngine(t)
	exec.failActions["audio:play"] = true
	require.NoError(t, e.LoadCues([]models.CueDefinition{simpleCue("c1", false, "audio:play", "lighting:flash")}))

	var errs int
	bus.Subscribe(EventCueError, func(any) { errs++ })

	require.NoError(t, e.FireCue(context.Background(), "c1", "manual", nil))
	require.Equal(t, []string{"audio:play", "lighting:flash"}, exec.actions())
	require.Equal(t, 1, errs)
}

func TestHandleGameEvent_FiresMatchingStandingCue(t *testing.T) {
	e, _, exec, _, _ := newTestEngine(t)
	def := simpleCue("c1", false, "audio:play")
	def.Trigger = &models.CueTrigger{Event: "transaction:accepted"}
	def.Conditions = []models.CueCondition{{Field: "teamId", Op: models.OpEq, Value: "team-a"}}
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))

	e.HandleGameEvent("transaction:accepted", map[string]any{"teamId": "team-b"})
	require.Empty(t, exec.actions(), "condition must not match team-b")

	e.HandleGameEvent("transaction:accepted", map[string]any{"teamId": "team-a"})
	require.Equal(t, []string{"audio:play"}, exec.actions())
}

func TestHandleGameEvent_SuspendedEngineIgnoresEvents(t *testing.T) {
	e, _, exec, _, _ := newTestEngine(t)
	def := simpleCue("c1", false, "audio:play")
	def.Trigger = &models.CueTrigger{Event: "transaction:accepted"}
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))
	e.Suspend()

	e.HandleGameEvent("transaction:accepted", map[string]any{})
	require.Empty(t, exec.actions())
}

func TestHandleClockTick_FiresOnceAtThreshold(t *testing.T) {
	e, _, exec, _, _ := newTestEngine(t)
	def := simpleCue("c1", false, "audio:play")
	def.Trigger = &models.CueTrigger{Clock: "00:00:10"}
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))

	e.HandleClockTick(5)
	require.Empty(t, exec.actions())

	e.HandleClockTick(10)
	require.Equal(t, []string{"audio:play"}, exec.actions())

	e.HandleClockTick(11)
	require.Len(t, exec.actions(), 1, "clock cue must fire exactly once")
}

func TestFireCue_CycleDetection(t *testing.T) {
	e, bus, _, _, _ := newTestEngine(t)
	require.NoError(t, e.LoadCues([]models.CueDefinition{simpleCue("c1", false, "audio:play")}))

	var errs []string
	bus.Subscribe(EventCueError, func(data any) { errs = append(errs, data.(ErrorPayload).CueID) })

	require.Error(t, e.FireCue(context.Background(), "c1", "manual", []string{"c1"}))
	require.Equal(t, []string{"c1"}, errs)
}

func TestFireCue_MaxNestingDepth(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	require.NoError(t, e.LoadCues([]models.CueDefinition{simpleCue("c1", false, "audio:play")}))

	deepChain := []string{"a", "b", "c", "d", "e"}
	require.Error(t, e.FireCue(context.Background(), "c1", "manual", deepChain))
}

func compoundCue(id string, timeline []models.TimelineEntry) models.CueDefinition {
	return models.CueDefinition{ID: id, Timeline: timeline}
}

func TestCompoundCue_ClockDriven_AdvancesAndCompletes(t *testing.T) {
	e, bus, exec, _, clk := newTestEngine(t)
	def := compoundCue("timeline1", []models.TimelineEntry{
		{At: 0, Action: "lighting:flash"},
		{At: 5, Action: "audio:play"},
	})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))

	var completed []string
	bus.Subscribe(EventCueCompleted, func(data any) { completed = append(completed, data.(CompletedPayload).CueID) })

	clk.elapsed = 0
	require.NoError(t, e.FireCue(context.Background(), "timeline1", "manual", nil))
	require.Equal(t, []string{"lighting:flash"}, exec.actions())

	e.HandleClockTick(3)
	require.Equal(t, []string{"lighting:flash"}, exec.actions(), "entry at 5 not due yet")

	e.HandleClockTick(5)
	require.Equal(t, []string{"lighting:flash", "audio:play"}, exec.actions())
	require.Equal(t, []string{"timeline1"}, completed)
}

func TestCompoundCue_ReEntry_RejectedWhileActive(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	def := compoundCue("timeline1", []models.TimelineEntry{{At: 5, Action: "audio:play"}})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))

	require.NoError(t, e.FireCue(context.Background(), "timeline1", "manual", nil))
	require.Error(t, e.FireCue(context.Background(), "timeline1", "manual", nil))
}

func TestCompoundCue_VideoConflict_EmitsConflictAndAutoCancels(t *testing.T) {
	bus := eventbus.New()
	exec := &fakeExecutor{failActions: map[string]bool{}}
	vid := &fakeVideo{playing: true, current: models.VideoQueueItem{TokenID: "now-playing"}}
	clk := &fakeClock{}
	e := New(bus, clk, vid, exec, WithAutoCancelDuration(20*time.Millisecond))
	e.Activate()

	def := compoundCue("vid1", []models.TimelineEntry{{At: 0, Action: "video:play"}})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))

	var conflict ConflictPayload
	bus.Subscribe(EventCueConflict, func(data any) { conflict = data.(ConflictPayload) })

	require.NoError(t, e.FireCue(context.Background(), "vid1", "manual", nil))
	require.Equal(t, "now-playing", conflict.CurrentVideo.TokenID)
	require.Empty(t, e.GetActiveCues(), "conflicted cue must not be active yet")

	// Give the 20ms auto-cancel timer time to fire on its own, without us
	// resolving the conflict ourselves.
	time.Sleep(100 * time.Millisecond)
	require.Error(t, e.ResolveConflict(context.Background(), "vid1", "override"),
		"conflict should already be auto-cancelled, leaving nothing to resolve")
}

func TestResolveConflict_Override_StopsCurrentThenStarts(t *testing.T) {
	bus := eventbus.New()
	exec := &fakeExecutor{failActions: map[string]bool{}}
	vid := &fakeVideo{playing: true, current: models.VideoQueueItem{TokenID: "now-playing"}}
	clk := &fakeClock{}
	e := New(bus, clk, vid, exec)
	e.Activate()

	def := compoundCue("vid1", []models.TimelineEntry{{At: 0, Action: "video:play"}})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))
	require.NoError(t, e.FireCue(context.Background(), "vid1", "manual", nil))

	require.NoError(t, e.ResolveConflict(context.Background(), "vid1", "override"))
	require.True(t, vid.stopped)
	require.Len(t, e.GetActiveCues(), 1)
}

func TestResolveConflict_Cancel_Discards(t *testing.T) {
	bus := eventbus.New()
	exec := &fakeExecutor{failActions: map[string]bool{}}
	vid := &fakeVideo{playing: true, current: models.VideoQueueItem{TokenID: "now-playing"}}
	clk := &fakeClock{}
	e := New(bus, clk, vid, exec)
	e.Activate()

	def := compoundCue("vid1", []models.TimelineEntry{{At: 0, Action: "video:play"}})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))
	require.NoError(t, e.FireCue(context.Background(), "vid1", "manual", nil))

	require.NoError(t, e.ResolveConflict(context.Background(), "vid1", "cancel"))
	require.False(t, vid.stopped)
	require.Empty(t, e.GetActiveCues())
}

func TestRouting_CommandLevelOverridesCueLevelOverridesDefault(t *testing.T) {
	e, _, exec, _, _ := newTestEngine(t)
	def := models.CueDefinition{
		ID:      "c1",
		Routing: map[string]string{"audio": "zone-2"},
		Commands: []models.CueCommand{
			{Action: "audio:play", Payload: map[string]any{"target": "zone-9"}},
			{Action: "audio:stop"},
		},
	}
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))
	require.NoError(t, e.FireCue(context.Background(), "c1", "manual", nil))

	require.Equal(t, "zone-9", exec.executed[0].Target, "command-level target wins")
	require.Equal(t, "zone-2", exec.executed[1].Target, "falls back to cue-level routing")
}

func TestStopCue_CascadesToChildren(t *testing.T) {
	e, _, _, _, clk := newTestEngine(t)
	child := compoundCue("child", []models.TimelineEntry{{At: 100, Action: "audio:play"}})
	parent := models.CueDefinition{
		ID: "parent",
		Timeline: []models.TimelineEntry{
			{At: 0, Action: "cue:fire", Payload: map[string]any{"cueId": "child"}},
			{At: 50, Action: "noop:marker"},
		},
	}
	require.NoError(t, e.LoadCues([]models.CueDefinition{parent, child}))

	clk.elapsed = 0
	require.NoError(t, e.FireCue(context.Background(), "parent", "manual", nil))
	require.Len(t, e.GetActiveCues(), 2)

	e.StopCue("parent")
	require.Empty(t, e.GetActiveCues())
}

func TestPauseResumeCue_CascadesToChildren(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	child := compoundCue("child", []models.TimelineEntry{{At: 100, Action: "audio:play"}})
	parent := models.CueDefinition{
		ID: "parent",
		Timeline: []models.TimelineEntry{
			{At: 0, Action: "cue:fire", Payload: map[string]any{"cueId": "child"}},
			{At: 50, Action: "noop:marker"},
		},
	}
	require.NoError(t, e.LoadCues([]models.CueDefinition{parent, child}))
	require.NoError(t, e.FireCue(context.Background(), "parent", "manual", nil))

	e.PauseCue("parent")
	for _, ac := range e.GetActiveCues() {
		require.Equal(t, models.CueStatePaused, ac.State)
	}

	e.ResumeCue("parent")
	for _, ac := range e.GetActiveCues() {
		require.Equal(t, models.CueStateRunning, ac.State)
	}
}

func TestVideoDrivenAdvance_ProgressPauseResumeComplete(t *testing.T) {
	e, bus, exec, _, _ := newTestEngine(t)
	def := compoundCue("vid1", []models.TimelineEntry{
		{At: 0, Action: "video:play"},
		{At: 50, Action: "audio:play"},
	})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))
	require.NoError(t, e.FireCue(context.Background(), "vid1", "manual", nil))

	e.HandleVideoProgress(0.25, 100)
	require.Equal(t, []string{"video:play"}, exec.actions(), "25s < 50s threshold")

	e.HandleVideoPaused()
	require.Equal(t, models.CueStatePaused, e.GetActiveCues()[0].State)

	e.HandleVideoResumed()
	require.Equal(t, models.CueStateRunning, e.GetActiveCues()[0].State)

	var completed bool
	bus.Subscribe(EventCueCompleted, func(any) { completed = true })

	e.HandleVideoCompleted()
	require.Equal(t, []string{"video:play", "audio:play"}, exec.actions())
	require.True(t, completed)
}

func TestReset_ClearsAllRuntimeState(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	def := compoundCue("vid1", []models.TimelineEntry{{At: 100, Action: "audio:play"}})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))
	require.NoError(t, e.FireCue(context.Background(), "vid1", "manual", nil))
	require.NotEmpty(t, e.GetActiveCues())

	e.Reset()
	require.Empty(t, e.GetActiveCues())
	require.Error(t, e.FireCue(context.Background(), "vid1", "manual", nil), "cues cleared on reset")
}

func TestLoadCues_StopsRunningCompoundCuesOnReplace(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	def := compoundCue("vid1", []models.TimelineEntry{{At: 100, Action: "audio:play"}})
	require.NoError(t, e.LoadCues([]models.CueDefinition{def}))
	require.NoError(t, e.FireCue(context.Background(), "vid1", "manual", nil))
	require.NotEmpty(t, e.GetActiveCues())

	require.NoError(t, e.LoadCues([]models.CueDefinition{simpleCue("c2", false, "audio:play")}))
	require.Empty(t, e.GetActiveCues())
}

func TestConditionOperators(t *testing.T) {
	cases := []struct {
		name string
		cond models.CueCondition
		ctx  map[string]any
		want bool
	}{
		{"eq match", models.CueCondition{Field: "a", Op: models.OpEq, Value: "x"}, map[string]any{"a": "x"}, true},
		{"neq match", models.CueCondition{Field: "a", Op: models.OpNeq, Value: "x"}, map[string]any{"a": "y"}, true},
		{"gt true", models.CueCondition{Field: "n", Op: models.OpGt, Value: 5}, map[string]any{"n": 10}, true},
		{"gte equal", models.CueCondition{Field: "n", Op: models.OpGte, Value: 5}, map[string]any{"n": 5}, true},
		{"lt false", models.CueCondition{Field: "n", Op: models.OpLt, Value: 5}, map[string]any{"n": 10}, false},
		{"lte true", models.CueCondition{Field: "n", Op: models.OpLte, Value: 5}, map[string]any{"n": 5}, true},
		{"in true", models.CueCondition{Field: "a", Op: models.OpIn, Value: []any{"x", "y"}}, map[string]any{"a": "y"}, true},
		{"unknown op", models.CueCondition{Field: "a", Op: "bogus", Value: "x"}, map[string]any{"a": "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, conditionsMatch([]models.CueCondition{tc.cond}, tc.ctx))
		})
	}
}
