package models

import (
	"errors"
	"sort"
	"time"
)

// SessionStatus is the lifecycle state of a Session (spec.md §3 Session).
type SessionStatus string

const (
	SessionStatusSetup  SessionStatus = "setup"
	SessionStatusActive SessionStatus = "active"
	SessionStatusPaused SessionStatus = "paused"
	SessionStatusEnded  SessionStatus = "ended"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusSetup, SessionStatusActive, SessionStatusPaused, SessionStatusEnded:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal session transition
// per spec.md §4.3 updateSessionStatus.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusSetup:
		return next == SessionStatusActive
	case SessionStatusActive:
		return next == SessionStatusPaused || next == SessionStatusEnded
	case SessionStatusPaused:
		return next == SessionStatusActive || next == SessionStatusEnded
	case SessionStatusEnded:
		return false
	}
	return false
}

// SessionMetadata holds counts derived from session.Transactions. It is
// recomputed, never independently mutated.
type SessionMetadata struct {
	TotalTransactions     int `json:"total_transactions"`
	AcceptedTransactions  int `json:"accepted_transactions"`
	DuplicateTransactions int `json:"duplicate_transactions"`
	RejectedTransactions  int `json:"rejected_transactions"`
}

// DeriveMetadata recomputes SessionMetadata from a transaction list.
func DeriveMetadata(txs []Transaction) SessionMetadata {
	var m SessionMetadata
	m.TotalTransactions = len(txs)
	for _, t := range txs {
		switch t.Status {
		case TransactionStatusAccepted:
			m.AcceptedTransactions++
		case TransactionStatusDuplicate:
			m.DuplicateTransactions++
		case TransactionStatusRejected:
			m.RejectedTransactions++
		}
	}
	return m
}

// ClockStatus is the run state of the game clock (spec.md §4.5).
type ClockStatus string

const (
	ClockStatusStopped ClockStatus = "stopped"
	ClockStatusRunning ClockStatus = "running"
	ClockStatusPaused  ClockStatus = "paused"
)

// ClockState is the persisted shape of the game clock, embedded in Session
// and round-tripped through internal/store.
type ClockState struct {
	Status         ClockStatus `json:"status"`
	GameStartTime  *time.Time  `json:"game_start_time,omitempty"`
	PausedAt       *time.Time  `json:"paused_at,omitempty"`
	TotalPausedMs  int64       `json:"total_paused_ms"`
	OvertimeFired  bool        `json:"overtime_fired"`
}

// Session is the authoritative game-instance record (spec.md §3 Session).
type Session struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Status           SessionStatus     `json:"status"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          *time.Time        `json:"end_time,omitempty"`
	GameStartTime    *time.Time        `json:"game_start_time,omitempty"`
	Scores           []TeamScore       `json:"scores"`
	Transactions     []Transaction     `json:"transactions"`
	ConnectedDevices []DeviceSummary   `json:"connected_devices"`
	Metadata         SessionMetadata   `json:"metadata"`
	GameClock        ClockState        `json:"game_clock"`

	// deviceTokenScans tracks, per GM device, which tokenIds it has already
	// claimed this session (spec.md §4.6 step 4a, per-device duplicate check).
	// Keyed "<deviceId>:<tokenId>".
	deviceTokenScans map[string]bool `json:"-"`
}

// NewSession constructs a fresh Session in "setup" status with zero-state
// TeamScores for the given team ids.
func NewSession(id, name string, teamIDs []string, now time.Time) *Session {
	s := &Session{
		ID:               id,
		Name:             name,
		Status:           SessionStatusSetup,
		StartTime:        now,
		Scores:           make([]TeamScore, 0, len(teamIDs)),
		Transactions:     make([]Transaction, 0),
		ConnectedDevices: make([]DeviceSummary, 0),
		deviceTokenScans: make(map[string]bool),
	}
	for _, t := range teamIDs {
		s.Scores = append(s.Scores, NewTeamScore(t))
	}
	s.Metadata = DeriveMetadata(s.Transactions)
	return s
}

func (s *Session) ensureMaps() {
	if s.deviceTokenScans == nil {
		s.deviceTokenScans = make(map[string]bool)
	}
}

// TeamScoreIndex returns the index of the TeamScore for teamID, or -1.
func (s *Session) TeamScoreIndex(teamID string) int {
	for i := range s.Scores {
		if s.Scores[i].TeamID == teamID {
			return i
		}
	}
	return -1
}

// UpsertTeamScore replaces or appends a TeamScore by TeamID, preserving
// order for existing entries (session.scores single-writer rule, §4.3).
func (s *Session) UpsertTeamScore(ts TeamScore) {
	if i := s.TeamScoreIndex(ts.TeamID); i >= 0 {
		s.Scores[i] = ts
		return
	}
	s.Scores = append(s.Scores, ts)
}

// AddTeam appends a zero-state TeamScore for teamID. Returns ErrTeamExists
// if the team is already present (spec.md §4.3 addTeamToSession).
func (s *Session) AddTeam(teamID string) error {
	if s.TeamScoreIndex(teamID) >= 0 {
		return ErrTeamExists
	}
	s.Scores = append(s.Scores, NewTeamScore(teamID))
	return nil
}

// AddTransaction appends t to the processing-order transaction log and
// recomputes derived metadata.
func (s *Session) AddTransaction(t Transaction) {
	s.Transactions = append(s.Transactions, t)
	s.Metadata = DeriveMetadata(s.Transactions)
}

// RemoveTransaction deletes the transaction with the given id, if present,
// and recomputes derived metadata. Returns the removed transaction.
func (s *Session) RemoveTransaction(id string) (Transaction, bool) {
	for i, t := range s.Transactions {
		if t.ID == id {
			s.Transactions = append(s.Transactions[:i:i], s.Transactions[i+1:]...)
			s.Metadata = DeriveMetadata(s.Transactions)
			return t, true
		}
	}
	return Transaction{}, false
}

// HasDeviceScannedToken reports whether deviceID has already claimed
// tokenID this session (spec.md §4.6 step 4a, per-device check).
func (s *Session) HasDeviceScannedToken(deviceID, tokenID string) bool {
	s.ensureMaps()
	return s.deviceTokenScans[deviceID+":"+tokenID]
}

// MarkDeviceTokenScanned records that deviceID has scanned tokenID.
func (s *Session) MarkDeviceTokenScanned(deviceID, tokenID string) {
	s.ensureMaps()
	s.deviceTokenScans[deviceID+":"+tokenID] = true
}

// AcceptedTransactionForToken returns the (unique, per invariant #1)
// accepted transaction claiming tokenID in this session, if any.
func (s *Session) AcceptedTransactionForToken(tokenID string) (*Transaction, bool) {
	for i := range s.Transactions {
		t := &s.Transactions[i]
		if t.TokenID == tokenID && t.Status == TransactionStatusAccepted && t.DeviceType == DeviceTypeGM {
			return t, true
		}
	}
	return nil, false
}

// AcceptedTokenIDsForTeam returns the set of tokenIds the team has an
// accepted (claiming) transaction for in this session — detective-mode
// acceptances count as claims (spec.md §3 Session invariants).
func (s *Session) AcceptedTokenIDsForTeam(teamID string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range s.Transactions {
		if t.TeamID == teamID && t.Status == TransactionStatusAccepted && t.DeviceType == DeviceTypeGM {
			out[t.TokenID] = true
		}
	}
	return out
}

// RebuildIndexes recomputes the in-memory-only per-device claim index from
// s.Transactions. Call after loading a Session from persistence (spec.md
// §8 restart-recovery property): only accepted GM transactions register a
// per-device claim (spec.md §4.6 step 6 only runs past the duplicate
// checks in step 4).
func (s *Session) RebuildIndexes() {
	s.deviceTokenScans = make(map[string]bool)
	for _, t := range s.Transactions {
		if t.Status == TransactionStatusAccepted && t.DeviceType == DeviceTypeGM {
			s.deviceTokenScans[t.DeviceID+":"+t.TokenID] = true
		}
	}
}

// UpsertDevice inserts or replaces a DeviceSummary by DeviceID.
func (s *Session) UpsertDevice(d DeviceSummary) {
	for i := range s.ConnectedDevices {
		if s.ConnectedDevices[i].DeviceID == d.DeviceID {
			s.ConnectedDevices[i] = d
			return
		}
	}
	s.ConnectedDevices = append(s.ConnectedDevices, d)
}

// RemoveDevice deletes the DeviceSummary with the given id, if present.
func (s *Session) RemoveDevice(deviceID string) {
	for i := range s.ConnectedDevices {
		if s.ConnectedDevices[i].DeviceID == deviceID {
			s.ConnectedDevices = append(s.ConnectedDevices[:i:i], s.ConnectedDevices[i+1:]...)
			return
		}
	}
}

// Validate checks structural invariants that must hold before persisting
// a Session (spec.md §3 Session invariants).
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if !s.Status.Valid() {
		return errors.New("invalid session status")
	}
	seen := make(map[string]bool, len(s.Scores))
	for _, ts := range s.Scores {
		if seen[ts.TeamID] {
			return errors.New("duplicate teamId in session.scores: " + ts.TeamID)
		}
		seen[ts.TeamID] = true
	}
	if (s.EndTime != nil) != (s.Status == SessionStatusEnded) {
		return errors.New("endTime must be set iff status is ended")
	}
	return nil
}

// sortedKeys returns the sorted keys of a string-keyed bool set, used for
// deterministic JSON round-tripping of set-valued fields.
func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k, v := range set {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
