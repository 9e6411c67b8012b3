package cue

import (
	"context"

	"alnorchestrator/internal/models"
)

// advanceClockDriven ticks every active, non-video compound cue forward
// to elapsed (spec.md §4.9 Advancing, "Clock-driven").
func (e *Engine) advanceClockDriven(elapsed int) {
	for _, id := range e.clockDrivenActiveIDs() {
		e.mu.Lock()
		active, ok := e.activeCues[id]
		if !ok || active.State != models.CueStateRunning {
			e.mu.Unlock()
			continue
		}
		def := e.cues[id]
		active.Elapsed = elapsed - active.StartElapsed
		if active.Elapsed < 0 {
			active.Elapsed = 0
		}
		e.mu.Unlock()

		e.fireTimelineEntries(context.Background(), def, active, append(append([]string(nil), active.ParentChain...), id))
		e.bus.Publish(EventCueStatus, StatusPayload{CueID: id, State: models.CueStateRunning, Progress: active.Elapsed, Duration: active.MaxAt})

		if active.Complete() {
			e.completeCompoundCue(id)
		}
	}
}

func (e *Engine) clockDrivenActiveIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id, ac := range e.activeCues {
		if !ac.HasVideo {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Engine) videoDrivenActive() (string, *models.ActiveCompoundCue, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ac := range e.activeCues {
		if ac.HasVideo {
			return id, ac, true
		}
	}
	return "", nil, false
}

// HandleVideoProgress advances the single hasVideo active cue, converting
// a 0..1 position ratio plus duration into elapsed seconds (spec.md §4.9
// Advancing, "Video-driven").
func (e *Engine) HandleVideoProgress(position float64, duration int) {
	id, active, ok := e.videoDrivenActive()
	if !ok {
		return
	}
	e.mu.Lock()
	if active.State != models.CueStateRunning {
		e.mu.Unlock()
		return
	}
	def := e.cues[id]
	active.Elapsed = int(position * float64(duration))
	e.mu.Unlock()

	e.fireTimelineEntries(context.Background(), def, active, append(append([]string(nil), active.ParentChain...), id))
	e.bus.Publish(EventCueStatus, StatusPayload{CueID: id, State: models.CueStateRunning, Progress: active.Elapsed, Duration: active.MaxAt})

	if active.Complete() {
		e.completeCompoundCue(id)
	}
}

// HandleVideoPaused cascades the hasVideo active cue (and its children)
// to paused.
func (e *Engine) HandleVideoPaused() {
	if id, _, ok := e.videoDrivenActive(); ok {
		e.PauseCue(id)
	}
}

// HandleVideoResumed cascades the hasVideo active cue (and its children)
// back to running.
func (e *Engine) HandleVideoResumed() {
	if id, _, ok := e.videoDrivenActive(); ok {
		e.ResumeCue(id)
	}
}

// HandleVideoCompleted advances the hasVideo active cue's elapsed to
// maxAt, which forces completion (spec.md §4.9 Advancing: "On
// video:completed, advance elapsed to maxAt").
func (e *Engine) HandleVideoCompleted() {
	id, active, ok := e.videoDrivenActive()
	if !ok {
		return
	}
	e.mu.Lock()
	def := e.cues[id]
	active.Elapsed = active.MaxAt
	e.mu.Unlock()

	e.fireTimelineEntries(context.Background(), def, active, append(append([]string(nil), active.ParentChain...), id))
	if active.Complete() {
		e.completeCompoundCue(id)
	}
}
