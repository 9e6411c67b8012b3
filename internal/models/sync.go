package models

import "time"

// SystemStatus is the §4.12 sync:full "systemStatus" shape.
type SystemStatus struct {
	Orchestrator string `json:"orchestrator"` // "online" | "offline"
	VLC          string `json:"vlc"`          // "connected" | "disconnected"
	Offline      bool   `json:"offline"`
}

// SessionSummary is the §4.12 sync:full "session" shape — a thin,
// read-only projection of Session.
type SessionSummary struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    SessionStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Teams     []string      `json:"teams"`
	Metadata  SessionMetadata `json:"metadata"`
}

// SyncFullSnapshot is the §4.12 full aggregator snapshot sent to a
// newly-attached console and after an offline-queue drain.
type SyncFullSnapshot struct {
	Session             *SessionSummary `json:"session"`
	Scores              []TeamScore     `json:"scores"`
	RecentTransactions  []Transaction   `json:"recent_transactions"`
	VideoStatus         VideoStatusSnapshot `json:"video_status"`
	Devices             []DeviceSummary `json:"devices"`
	SystemStatus        SystemStatus    `json:"system_status"`
}

// SessionSummaryFrom projects a Session into its SessionSummary.
func SessionSummaryFrom(s *Session) *SessionSummary {
	if s == nil {
		return nil
	}
	teams := make([]string, 0, len(s.Scores))
	for _, ts := range s.Scores {
		teams = append(teams, ts.TeamID)
	}
	return &SessionSummary{
		ID:        s.ID,
		Name:      s.Name,
		Status:    s.Status,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Teams:     teams,
		Metadata:  s.Metadata,
	}
}
