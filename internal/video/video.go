// Package video implements spec.md §4.7: the single-slot video queue
// service. At most one item plays at a time; additional items wait in a
// FIFO. The playback driver itself is external (spec.md §1 Non-goals);
// this service only tracks state and emits transition events, the way
// internal/poller tracks one ActiveStream per key behind a mutex without
// owning the media-server connection that drives it.
package video

import (
	"sync"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
)

// Domain events this service publishes (spec.md §4.7).
const (
	EventLoading   = "video:loading"
	EventStarted   = "video:started"
	EventPaused    = "video:paused"
	EventResumed   = "video:resumed"
	EventProgress  = "video:progress"
	EventCompleted = "video:completed"
	EventIdle      = "video:idle"
)

// TransitionPayload is the payload for loading/started/paused/resumed.
type TransitionPayload struct {
	TokenID  string `json:"token_id"`
	Duration int    `json:"duration"`
}

// ProgressPayload is the EventProgress payload: position is a 0..1 ratio
// (spec.md §4.7 "position (0..1 ratio)").
type ProgressPayload struct {
	TokenID  string  `json:"token_id"`
	Position float64 `json:"position"`
	Duration int     `json:"duration"`
}

// CompletedPayload is the EventCompleted payload.
type CompletedPayload struct {
	TokenID string `json:"token_id"`
}

type current struct {
	item     models.VideoQueueItem
	status   models.VideoPlaybackStatus
	position float64
}

// Service is the video queue authority (spec.md §4.7).
type Service struct {
	bus *eventbus.Bus

	mu    sync.Mutex
	cur   *current
	queue []models.VideoQueueItem
}

// New constructs an idle Service publishing onto bus.
func New(bus *eventbus.Bus) *Service {
	return &Service{bus: bus}
}

// GetCurrentVideo returns the current item, its status, and whether one
// is loaded.
func (s *Service) GetCurrentVideo() (models.VideoQueueItem, models.VideoPlaybackStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return models.VideoQueueItem{}, "", false
	}
	return s.cur.item, s.cur.status, true
}

// GetQueueItems returns a snapshot of the pending FIFO.
func (s *Service) GetQueueItems() []models.VideoQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.VideoQueueItem, len(s.queue))
	copy(out, s.queue)
	return out
}

// IsPlaying reports whether the current item is in state playing
// (spec.md §4.7 "isPlaying() is true iff a current item is in state
// playing").
func (s *Service) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.status == models.VideoStatusPlaying
}

// AddToQueue enqueues token/source/duration, starting it immediately if
// nothing is currently loaded.
func (s *Service) AddToQueue(tokenID, source string, duration int) {
	item := models.VideoQueueItem{TokenID: tokenID, Source: source, Duration: duration}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		s.startLocked(item)
		return
	}
	s.queue = append(s.queue, item)
}

func (s *Service) startLocked(item models.VideoQueueItem) {
	s.cur = &current{item: item, status: models.VideoStatusLoading}
	s.bus.Publish(EventLoading, TransitionPayload{TokenID: item.TokenID, Duration: item.Duration})
	s.cur.status = models.VideoStatusPlaying
	s.bus.Publish(EventStarted, TransitionPayload{TokenID: item.TokenID, Duration: item.Duration})
}

// PauseCurrent transitions playing -> paused; a no-op otherwise.
func (s *Service) PauseCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.status != models.VideoStatusPlaying {
		return
	}
	s.cur.status = models.VideoStatusPaused
	s.bus.Publish(EventPaused, TransitionPayload{TokenID: s.cur.item.TokenID, Duration: s.cur.item.Duration})
}

// ResumeCurrent transitions paused -> playing; a no-op otherwise.
func (s *Service) ResumeCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.status != models.VideoStatusPaused {
		return
	}
	s.cur.status = models.VideoStatusPlaying
	s.bus.Publish(EventResumed, TransitionPayload{TokenID: s.cur.item.TokenID, Duration: s.cur.item.Duration})
}

// SkipCurrent discards the current item without completion and advances
// the queue.
func (s *Service) SkipCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
}

// StopCurrent clears the current item, discards nothing from the queue,
// and goes idle.
func (s *Service) StopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	s.cur = nil
	s.bus.Publish(EventIdle, struct{}{})
}

// ClearQueue discards every pending item; the current item is untouched.
func (s *Service) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// ReportProgress is called by the external transport driver as playback
// advances (spec.md §4.7 "video:progress {position, duration}").
func (s *Service) ReportProgress(position float64, duration int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	s.cur.position = position
	s.bus.Publish(EventProgress, ProgressPayload{TokenID: s.cur.item.TokenID, Position: position, Duration: duration})
}

// ReportCompleted is called by the driver when the current item finishes;
// it advances to the next queued item, if any.
func (s *Service) ReportCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	tokenID := s.cur.item.TokenID
	s.bus.Publish(EventCompleted, CompletedPayload{TokenID: tokenID})
	s.advanceLocked()
}

func (s *Service) advanceLocked() {
	if len(s.queue) == 0 {
		s.cur = nil
		s.bus.Publish(EventIdle, struct{}{})
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.startLocked(next)
}

// GetVideoDuration returns tokenID's duration if it is current or queued.
func (s *Service) GetVideoDuration(tokenID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil && s.cur.item.TokenID == tokenID {
		return s.cur.item.Duration, true
	}
	for _, it := range s.queue {
		if it.TokenID == tokenID {
			return it.Duration, true
		}
	}
	return 0, false
}

// GetRemainingTime estimates the current item's remaining seconds from
// its last reported position.
func (s *Service) GetRemainingTime() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return 0, false
	}
	remaining := float64(s.cur.item.Duration) * (1 - s.cur.position)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), true
}

// Snapshot returns the §4.12 sync:full "videoStatus" shape.
func (s *Service) Snapshot() models.VideoStatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := models.VideoStatusSnapshot{
		Status:      models.VideoStatusIdle,
		QueueLength: len(s.queue),
	}
	if s.cur != nil {
		snap.Status = s.cur.status
		snap.TokenID = s.cur.item.TokenID
		snap.Duration = s.cur.item.Duration
		snap.Progress = s.cur.position
	}
	return snap
}
