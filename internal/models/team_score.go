package models

import (
	"encoding/json"
	"time"
)

// AdminAdjustment is one audit-trail entry for a manual score correction
// (spec.md §3 TeamScore).
type AdminAdjustment struct {
	Delta  int       `json:"delta"`
	GM     string    `json:"gm"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// TeamScore is the scoring state for one team within a session (spec.md
// §3 TeamScore). CurrentScore is derived, never set directly outside of
// Recompute.
type TeamScore struct {
	TeamID           string            `json:"team_id"`
	BaseScore        int               `json:"base_score"`
	BonusPoints      int               `json:"bonus_points"`
	CurrentScore     int               `json:"current_score"`
	TokensScanned    int               `json:"tokens_scanned"`
	CompletedGroups  map[string]bool   `json:"-"`
	AdminAdjustments []AdminAdjustment `json:"admin_adjustments"`
	LastUpdate       time.Time         `json:"last_update"`
	LastTokenTime    time.Time         `json:"last_token_time"`
}

// teamScoreJSON is the wire shape: CompletedGroups serializes as a sorted
// array so TeamScore round-trips byte-for-byte (spec.md §8 round-trip law).
type teamScoreJSON struct {
	TeamID           string            `json:"team_id"`
	BaseScore        int               `json:"base_score"`
	BonusPoints      int               `json:"bonus_points"`
	CurrentScore     int               `json:"current_score"`
	TokensScanned    int               `json:"tokens_scanned"`
	CompletedGroups  []string          `json:"completed_groups"`
	AdminAdjustments []AdminAdjustment `json:"admin_adjustments"`
	LastUpdate       time.Time         `json:"last_update"`
	LastTokenTime    time.Time         `json:"last_token_time"`
}

func (t TeamScore) MarshalJSON() ([]byte, error) {
	return json.Marshal(teamScoreJSON{
		TeamID:           t.TeamID,
		BaseScore:        t.BaseScore,
		BonusPoints:      t.BonusPoints,
		CurrentScore:     t.CurrentScore,
		TokensScanned:    t.TokensScanned,
		CompletedGroups:  sortedKeys(t.CompletedGroups),
		AdminAdjustments: t.AdminAdjustments,
		LastUpdate:       t.LastUpdate,
		LastTokenTime:    t.LastTokenTime,
	})
}

func (t *TeamScore) UnmarshalJSON(data []byte) error {
	var raw teamScoreJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.TeamID = raw.TeamID
	t.BaseScore = raw.BaseScore
	t.BonusPoints = raw.BonusPoints
	t.CurrentScore = raw.CurrentScore
	t.TokensScanned = raw.TokensScanned
	t.AdminAdjustments = raw.AdminAdjustments
	t.LastUpdate = raw.LastUpdate
	t.LastTokenTime = raw.LastTokenTime
	t.CompletedGroups = make(map[string]bool, len(raw.CompletedGroups))
	for _, g := range raw.CompletedGroups {
		t.CompletedGroups[g] = true
	}
	return nil
}

// NewTeamScore returns a zero-state TeamScore for teamID.
func NewTeamScore(teamID string) TeamScore {
	return TeamScore{
		TeamID:           teamID,
		CompletedGroups:  make(map[string]bool),
		AdminAdjustments: make([]AdminAdjustment, 0),
	}
}

// Recompute sets CurrentScore = BaseScore + BonusPoints + sum(adjustments),
// the score-identity invariant (spec.md §8 property #4).
func (t *TeamScore) Recompute() {
	total := t.BaseScore + t.BonusPoints
	for _, a := range t.AdminAdjustments {
		total += a.Delta
	}
	t.CurrentScore = total
}

// HasCompletedGroup reports whether the team has already been awarded the
// completion bonus for groupID this session.
func (t *TeamScore) HasCompletedGroup(groupID string) bool {
	if t.CompletedGroups == nil {
		return false
	}
	return t.CompletedGroups[groupID]
}

// MarkGroupCompleted records groupID as completed (one-shot per team per
// session, monotonically non-shrinking per spec.md §8 property #6).
func (t *TeamScore) MarkGroupCompleted(groupID string) {
	if t.CompletedGroups == nil {
		t.CompletedGroups = make(map[string]bool)
	}
	t.CompletedGroups[groupID] = true
}

// Clone returns a deep-enough copy of t so callers can hand out snapshots
// without aliasing CompletedGroups/AdminAdjustments.
func (t TeamScore) Clone() TeamScore {
	out := t
	out.CompletedGroups = make(map[string]bool, len(t.CompletedGroups))
	for k, v := range t.CompletedGroups {
		out.CompletedGroups[k] = v
	}
	out.AdminAdjustments = append([]AdminAdjustment(nil), t.AdminAdjustments...)
	return out
}
