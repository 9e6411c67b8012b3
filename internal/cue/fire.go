package cue

import (
	"context"
	"fmt"
	"log"
	"time"

	"alnorchestrator/internal/models"
)

// FireCue runs cue id (spec.md §4.9 "fireCue(id, trigger, parentChain?)").
// parentChain is the ancestry of nested compound-cue invocations, used
// both for cycle detection and for cascading stop/pause.
func (e *Engine) FireCue(ctx context.Context, id, trigger string, parentChain []string) error {
	e.mu.Lock()
	def, ok := e.cues[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("cue %s: unknown", id)
	}
	if e.disabled[id] {
		e.mu.Unlock()
		return nil
	}
	for _, p := range parentChain {
		if p == id {
			e.mu.Unlock()
			e.publishError(id, "cycle detected: "+id+" already in parent chain")
			return fmt.Errorf("cue %s: cycle detected", id)
		}
	}
	if len(parentChain) >= e.maxNestingDepth {
		e.mu.Unlock()
		e.publishError(id, "max nesting depth exceeded")
		return fmt.Errorf("cue %s: max nesting depth exceeded", id)
	}
	_, activeAlready := e.activeCues[id]
	_, pendingAlready := e.pendingConflicts[id]
	if (activeAlready || pendingAlready) && def.IsCompound() {
		e.mu.Unlock()
		e.publishError(id, "cue already active")
		return fmt.Errorf("cue %s: already active", id)
	}
	e.mu.Unlock()

	e.bus.Publish(EventCueFired, FiredPayload{CueID: id, Trigger: trigger, Source: "cue"})

	if def.IsCompound() {
		return e.startCompoundCue(ctx, def, trigger, parentChain)
	}
	return e.fireSimpleCue(ctx, def, trigger, parentChain)
}

func (e *Engine) fireSimpleCue(ctx context.Context, def models.CueDefinition, trigger string, parentChain []string) error {
	for _, cmd := range def.Commands {
		if nestedID, ok := nestedCueID(cmd.Action, cmd.Payload); ok {
			if err := e.FireCue(ctx, nestedID, "cue:"+def.ID, append(append([]string(nil), parentChain...), def.ID)); err != nil {
				log.Printf("cue engine: cue %s nested fire of %s failed: %v", def.ID, nestedID, err)
			}
			continue
		}
		resolved := Command{
			Action:  cmd.Action,
			Payload: cmd.Payload,
			Source:  "cue",
			Trigger: "cue:" + def.ID,
			Target:  e.resolveRouting(cmd.Action, cmd.Payload, def),
		}
		if err := e.executor.Execute(ctx, resolved); err != nil {
			log.Printf("cue engine: cue %s command %s failed: %v", def.ID, cmd.Action, err)
			e.publishError(def.ID, err.Error())
			// spec.md §4.9 D36: a failed command does not stop the
			// remaining sequence.
			continue
		}
	}
	e.bus.Publish(EventCueCompleted, CompletedPayload{CueID: def.ID})
	e.finishOnce(def.ID)
	return nil
}

// nestedCueID recognizes the "cue:fire" action convention a cue uses to
// trigger another cue (spec.md §4.9 fireCue "register child→parent links
// if spawned nested") — handled internally rather than handed to the
// external CommandExecutor, since only the engine can track parentChain
// for cycle detection and nesting depth.
func nestedCueID(action string, payload map[string]any) (string, bool) {
	if action != "cue:fire" {
		return "", false
	}
	id, ok := payload["cueId"].(string)
	return id, ok
}

func (e *Engine) finishOnce(id string) {
	e.mu.Lock()
	def, ok := e.cues[id]
	e.mu.Unlock()
	if ok && def.Once {
		e.DisableCue(id)
	}
}

func (e *Engine) publishError(id, reason string) {
	e.bus.Publish(EventCueError, ErrorPayload{CueID: id, Reason: reason})
}

// hasVideoAction reports whether timeline contains a video:play or
// video:queue:add entry (spec.md §4.9 Compound cues, step 1).
func hasVideoAction(timeline []models.TimelineEntry) bool {
	for _, e := range timeline {
		if e.Action == "video:play" || e.Action == "video:queue:add" {
			return true
		}
	}
	return false
}

func (e *Engine) startCompoundCue(ctx context.Context, def models.CueDefinition, trigger string, parentChain []string) error {
	wantsVideo := hasVideoAction(def.Timeline)

	if wantsVideo && e.video != nil && e.video.IsPlaying() {
		current, _, _ := e.video.GetCurrentVideo()
		timer := time.AfterFunc(e.autoCancelDuration, func() { e.autoCancelConflict(def.ID) })
		e.mu.Lock()
		e.pendingConflicts[def.ID] = &pendingConflict{def: def, trigger: trigger, parentChain: parentChain, timer: timer}
		e.mu.Unlock()
		e.bus.Publish(EventCueConflict, ConflictPayload{
			CueID:        def.ID,
			Reason:       "Video conflict",
			CurrentVideo: current,
			AutoCancel:   true,
			AutoCancelMs: int(e.autoCancelDuration.Milliseconds()),
		})
		return nil
	}

	return e.reallyStartCompoundCue(ctx, def, parentChain)
}

func (e *Engine) reallyStartCompoundCue(ctx context.Context, def models.CueDefinition, parentChain []string) error {
	wantsVideo := hasVideoAction(def.Timeline)
	startElapsed := 0
	if e.clock != nil {
		startElapsed = e.clock.GetElapsed()
	}

	active := models.NewActiveCompoundCue(def.ID, def.Timeline, startElapsed, wantsVideo, parentChain)

	e.mu.Lock()
	e.activeCues[def.ID] = active
	if len(parentChain) > 0 {
		parentID := parentChain[len(parentChain)-1]
		if parent, ok := e.activeCues[parentID]; ok {
			parent.Children = append(parent.Children, def.ID)
		}
	}
	e.mu.Unlock()

	e.bus.Publish(EventCueStarted, StartedPayload{CueID: def.ID, HasVideo: wantsVideo, Duration: active.MaxAt})
	e.bus.Publish(EventCueFired, FiredPayload{CueID: def.ID, Trigger: "cue:" + def.ID, Source: "cue"})

	e.fireTimelineEntries(ctx, def, active, append(append([]string(nil), parentChain...), def.ID))

	if active.Complete() {
		e.completeCompoundCue(def.ID)
	}
	e.finishOnce(def.ID)
	return nil
}

// fireTimelineEntries dispatches every not-yet-fired entry at or before
// active.Elapsed (spec.md §4.9 step 4 "_fireTimelineEntries").
func (e *Engine) fireTimelineEntries(ctx context.Context, def models.CueDefinition, active *models.ActiveCompoundCue, childChain []string) {
	for i, entry := range active.Timeline {
		e.mu.Lock()
		already := active.FiredEntries[i]
		due := entry.At <= active.Elapsed
		e.mu.Unlock()
		if already || !due {
			continue
		}

		if nestedID, ok := nestedCueID(entry.Action, entry.Payload); ok {
			if err := e.FireCue(ctx, nestedID, "cue:"+def.ID, childChain); err != nil {
				log.Printf("cue engine: cue %s nested fire of %s failed: %v", def.ID, nestedID, err)
			}
		} else {
			resolved := Command{
				Action:  entry.Action,
				Payload: entry.Payload,
				Source:  "cue",
				Trigger: "cue:" + def.ID,
				Target:  e.resolveRouting(entry.Action, entry.Payload, def),
			}
			if err := e.executor.Execute(ctx, resolved); err != nil {
				log.Printf("cue engine: cue %s timeline entry %d (%s) failed: %v", def.ID, i, entry.Action, err)
				e.publishError(def.ID, err.Error())
			}
		}

		e.mu.Lock()
		active.FiredEntries[i] = true
		e.mu.Unlock()
	}
}

func (e *Engine) completeCompoundCue(id string) {
	e.mu.Lock()
	delete(e.activeCues, id)
	e.mu.Unlock()
	e.bus.Publish(EventCueCompleted, CompletedPayload{CueID: id})
}

func (e *Engine) autoCancelConflict(id string) {
	e.mu.Lock()
	pc, ok := e.pendingConflicts[id]
	if ok {
		delete(e.pendingConflicts, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	log.Printf("cue engine: conflict for cue %s auto-cancelled after timeout", id)
}

// ResolveConflict lets a GM override (stop the current video, then
// start) or cancel (discard) a pending conflict (spec.md §4.9 D13).
func (e *Engine) ResolveConflict(ctx context.Context, id, resolution string) error {
	e.mu.Lock()
	pc, ok := e.pendingConflicts[id]
	if ok {
		delete(e.pendingConflicts, id)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("cue %s: no pending conflict", id)
	}
	pc.timer.Stop()

	switch resolution {
	case "override":
		if e.video != nil {
			e.video.StopCurrent()
		}
		return e.reallyStartCompoundCue(ctx, pc.def, pc.parentChain)
	case "cancel":
		return nil
	default:
		return fmt.Errorf("cue %s: unknown resolution %q", id, resolution)
	}
}

// StopCue cascades to children depth-first, clears any conflict timer,
// sets state=stopped, removes from activeCues (spec.md §4.9 Control
// operations).
func (e *Engine) StopCue(id string) {
	e.mu.Lock()
	if pc, ok := e.pendingConflicts[id]; ok {
		pc.timer.Stop()
		delete(e.pendingConflicts, id)
	}
	active, ok := e.activeCues[id]
	var children []string
	if ok {
		children = append([]string(nil), active.Children...)
	}
	e.mu.Unlock()

	for _, child := range children {
		e.StopCue(child)
	}

	if !ok {
		return
	}
	e.mu.Lock()
	active.State = models.CueStateStopped
	delete(e.activeCues, id)
	e.mu.Unlock()
	e.bus.Publish(EventCueStatus, StatusPayload{CueID: id, State: models.CueStateStopped, Progress: active.Elapsed, Duration: active.MaxAt})
}

// PauseCue transitions a running compound cue to paused and cascades to
// running children.
func (e *Engine) PauseCue(id string) {
	e.mu.Lock()
	active, ok := e.activeCues[id]
	if !ok || active.State != models.CueStateRunning {
		e.mu.Unlock()
		return
	}
	active.State = models.CueStatePaused
	children := append([]string(nil), active.Children...)
	e.mu.Unlock()

	e.bus.Publish(EventCueStatus, StatusPayload{CueID: id, State: models.CueStatePaused, Progress: active.Elapsed, Duration: active.MaxAt})
	for _, child := range children {
		e.PauseCue(child)
	}
}

// ResumeCue transitions a paused compound cue back to running and
// cascades to paused children.
func (e *Engine) ResumeCue(id string) {
	e.mu.Lock()
	active, ok := e.activeCues[id]
	if !ok || active.State != models.CueStatePaused {
		e.mu.Unlock()
		return
	}
	active.State = models.CueStateRunning
	children := append([]string(nil), active.Children...)
	e.mu.Unlock()

	e.bus.Publish(EventCueStatus, StatusPayload{CueID: id, State: models.CueStateRunning, Progress: active.Elapsed, Duration: active.MaxAt})
	for _, child := range children {
		e.ResumeCue(child)
	}
}

// GetActiveCues snapshots every currently active compound cue (spec.md
// §4.9 Control operations).
func (e *Engine) GetActiveCues() []ActiveCueView {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ActiveCueView, 0, len(e.activeCues))
	for id, ac := range e.activeCues {
		out = append(out, ActiveCueView{CueID: id, State: ac.State, Progress: ac.Elapsed, Duration: ac.MaxAt})
	}
	return out
}
