package broadcast

import (
	"context"

	"alnorchestrator/internal/cue"
	"alnorchestrator/internal/devices"
	"alnorchestrator/internal/offline"
	"alnorchestrator/internal/session"
	"alnorchestrator/internal/transaction"
	"alnorchestrator/internal/video"
)

// passthroughEvents rebroadcast under their own name, unchanged (spec.md
// §4.10's session/score/cue/device/offline rows).
var passthroughEvents = []string{
	session.EventSessionCreated,
	session.EventSessionUpdated,
	session.EventSessionOvertime,
	transaction.EventTransactionDeleted,
	transaction.EventScoreUpdated,
	transaction.EventScoreAdjusted,
	transaction.EventScoresReset,
	transaction.EventGroupCompleted,
	cue.EventCueFired,
	cue.EventCueStarted,
	cue.EventCueStatus,
	cue.EventCueCompleted,
	cue.EventCueError,
	cue.EventCueConflict,
	devices.EventConnected,
	devices.EventDisconnected,
	offline.EventQueueProcessed,
}

// videoEvents are rewritten to a single "video:status" broadcast carrying
// the service's current snapshot (spec.md §4.10).
var videoEvents = []string{
	video.EventLoading,
	video.EventStarted,
	video.EventPaused,
	video.EventResumed,
	video.EventProgress,
	video.EventCompleted,
	video.EventIdle,
}

func (l *Layer) subscribeAll() {
	for _, event := range passthroughEvents {
		event := event
		l.unsubscribe = append(l.unsubscribe, l.bus.Subscribe(event, func(data any) {
			l.Broadcast(context.Background(), event, data)
		}))
	}

	for _, event := range videoEvents {
		event := event
		l.unsubscribe = append(l.unsubscribe, l.bus.Subscribe(event, func(data any) {
			l.handleVideoEvent(event, data)
		}))
	}

	l.unsubscribe = append(l.unsubscribe, l.bus.Subscribe(transaction.EventTransactionAccepted, func(data any) {
		// spec.md §4.10: "broadcast transaction:new to all GMs (accepted
		// transactions only — duplicates stay unicast)". The adjudicator
		// only ever publishes EventTransactionAccepted for accepted
		// scans, so every event reaching this handler qualifies.
		l.Broadcast(context.Background(), "transaction:new", data)
	}))

}

func (l *Layer) handleVideoEvent(event string, _ any) {
	if event == video.EventProgress {
		l.progressMu.Lock()
		now := l.now()
		if now.Sub(l.lastProgress) < l.progressThrottle {
			l.progressMu.Unlock()
			return
		}
		l.lastProgress = now
		l.progressMu.Unlock()
	}

	var snapshot any
	if l.video != nil {
		snapshot = l.video.Snapshot()
	}
	l.Broadcast(context.Background(), "video:status", snapshot)
}
