package models

import "time"

// VideoPlaybackStatus is the single-slot video player's state (spec.md
// §4.7 Video queue service).
type VideoPlaybackStatus string

const (
	VideoStatusIdle    VideoPlaybackStatus = "idle"
	VideoStatusLoading VideoPlaybackStatus = "loading"
	VideoStatusPlaying VideoPlaybackStatus = "playing"
	VideoStatusPaused  VideoPlaybackStatus = "paused"
)

// VideoQueueItem is one pending item in the video FIFO (spec.md §4.7).
type VideoQueueItem struct {
	TokenID  string `json:"token_id"`
	Source   string `json:"source"`
	Duration int    `json:"duration"`
}

// VideoStatusSnapshot is the §4.12 sync:full "videoStatus" shape.
type VideoStatusSnapshot struct {
	Status          VideoPlaybackStatus `json:"status"`
	QueueLength     int                 `json:"queue_length"`
	TokenID         string              `json:"token_id,omitempty"`
	Duration        int                 `json:"duration,omitempty"`
	Progress        float64             `json:"progress,omitempty"`
	ExpectedEndTime *time.Time          `json:"expected_end_time,omitempty"`
	Error           string              `json:"error,omitempty"`
}
