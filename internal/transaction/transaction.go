// Package transaction implements spec.md §4.6: the scan adjudicator.
// Every method here takes the current *models.Session as a plain
// argument rather than importing package session, the re-architecture
// spec.md §9 calls for ("let transaction read from session only through
// read-only getters passed in... do not let session call into
// transaction at all"). Atomicity across steps 4-6 (duplicate check
// through claim-append) is the caller's responsibility: internal/session
// holds a per-session mutex for the full ProcessScan call, which is what
// makes the claim-before-accept ordering here actually race-free rather
// than just documentation.
package transaction

import (
	"context"
	"sync"
	"time"

	"alnorchestrator/internal/apperr"
	"alnorchestrator/internal/catalog"
	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/idgen"
	"alnorchestrator/internal/models"
)

// Domain event names this service publishes (spec.md §4.10 names the
// broadcast-layer mapping; these are the unwrapped payload events).
const (
	EventTransactionAccepted = "transaction:accepted"
	EventTransactionDeleted  = "transaction:deleted"
	EventScoreUpdated        = "score:updated"
	EventScoreAdjusted       = "score:adjusted"
	EventScoresReset         = "scores:reset"
	EventGroupCompleted      = "group:completed"
)

// AcceptedPayload is the EventTransactionAccepted payload (spec.md §4.6
// step 9 "new-format payload that carries teamScore & deviceTracking").
type AcceptedPayload struct {
	Transaction    models.Transaction `json:"transaction"`
	TeamScore      models.TeamScore   `json:"team_score"`
	DeviceTracking DeviceTracking     `json:"device_tracking"`
	GroupBonus     *GroupBonus        `json:"group_bonus,omitempty"`
}

// DeviceTracking reports which device made the claim, for consoles that
// want to show "scanned by" without re-deriving it from the transaction.
type DeviceTracking struct {
	DeviceID   string            `json:"device_id"`
	DeviceType models.DeviceType `json:"device_type"`
}

// GroupBonus is the payload shape carried alongside EventGroupCompleted
// and embedded in AcceptedPayload when a scan completes a group.
type GroupBonus struct {
	TeamID     string `json:"team_id"`
	GroupID    string `json:"group_id"`
	Multiplier int    `json:"multiplier"`
	Bonus      int    `json:"bonus"`
}

// CueFields flattens AcceptedPayload into the {field: value} shape the
// cue engine's standing-event conditions evaluate against (spec.md §4.9
// Event path, step 2: "tokenId, teamId, deviceType, points, ...,
// groupId, teamScore, hasGroupBonus"). Implementing this locally rather
// than letting internal/cue import package transaction keeps the
// dependency pointed the same single direction as the
// transaction/session seam (DESIGN.md Open Question #4).
func (p AcceptedPayload) CueFields() map[string]any {
	fields := map[string]any{
		"tokenId":      p.Transaction.TokenID,
		"teamId":       p.Transaction.TeamID,
		"deviceType":   string(p.Transaction.DeviceType),
		"points":       p.Transaction.Points,
		"teamScore":    p.TeamScore.CurrentScore,
		"hasGroupBonus": p.GroupBonus != nil,
	}
	if p.GroupBonus != nil {
		fields["groupId"] = p.GroupBonus.GroupID
	}
	return fields
}

// DeletedPayload is the EventTransactionDeleted payload.
type DeletedPayload struct {
	TransactionID    string           `json:"transaction_id"`
	TokenID          string           `json:"token_id"`
	TeamID           string           `json:"team_id"`
	UpdatedTeamScore models.TeamScore `json:"updated_team_score"`
}

// AdjustedPayload is the EventScoreAdjusted payload.
type AdjustedPayload struct {
	TeamScore   models.TeamScore `json:"team_score"`
	Reason      string           `json:"reason"`
	IsAdminAction bool           `json:"is_admin_action"`
}

// Option configures a Service at construction.
type Option func(*Service)

// WithRecentLimit overrides the recentTransactions ring size (default 100,
// spec.md §4.12 "recentTransactions ... most recent ≤ 100").
func WithRecentLimit(n int) Option {
	return func(s *Service) { s.recentLimit = n }
}

// WithIDGenerator overrides the transaction id source, for deterministic
// tests.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Service) { s.idgen = g }
}

// WithNow overrides the time source, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// Service is the scan adjudicator (spec.md §4.6).
type Service struct {
	catalog *catalog.Catalog
	bus     *eventbus.Bus
	idgen   idgen.Generator
	now     func() time.Time

	recentLimit int

	mu                 sync.Mutex
	recentTransactions []models.Transaction
}

// New constructs a Service backed by cat and publishing onto bus.
func New(cat *catalog.Catalog, bus *eventbus.Bus, opts ...Option) *Service {
	s := &Service{
		catalog:     cat,
		bus:         bus,
		idgen:       idgen.Default,
		now:         func() time.Time { return time.Now().UTC() },
		recentLimit: 100,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ProcessScan adjudicates req against session (spec.md §4.6 processScan).
// The caller must hold session exclusively for the duration of this call
// (spec.md §5 "Adjudication atomicity").
func (s *Service) ProcessScan(ctx context.Context, session *models.Session, req models.ScanRequest) (*models.ScanResponse, error) {
	if session == nil || session.Status != models.SessionStatusActive {
		return nil, apperr.Validation("no active session")
	}
	if err := req.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.ClassValidation, "invalid scan request", err)
	}

	txID := req.TransactionID
	if txID == "" {
		txID = s.idgen.NewID()
	}

	tx := models.Transaction{
		ID:         txID,
		SessionID:  session.ID,
		TokenID:    req.TokenID,
		TeamID:     req.TeamID,
		DeviceID:   req.DeviceID,
		DeviceType: req.DeviceType,
		Mode:       req.Mode,
		Timestamp:  s.now(),
	}

	token, ok := s.catalog.Lookup(req.TokenID)
	if !ok {
		tx.Status = models.TransactionStatusRejected
		tx.RejectionReason = "Invalid token ID"
		session.AddTransaction(tx)
		return &models.ScanResponse{
			Status:        string(models.TransactionStatusRejected),
			Message:       tx.RejectionReason,
			TransactionID: tx.ID,
			Transaction:   &tx,
		}, nil
	}

	if req.DeviceType == models.DeviceTypeGM {
		if session.HasDeviceScannedToken(req.DeviceID, req.TokenID) {
			claimedBy := ""
			if winner, found := session.AcceptedTransactionForToken(req.TokenID); found {
				claimedBy = winner.TeamID
			}
			return s.rejectAsDuplicate(session, tx, claimedBy)
		}
		if winner, found := session.AcceptedTransactionForToken(req.TokenID); found {
			return s.rejectAsDuplicate(session, tx, winner.TeamID, winner.ID)
		}
	}

	// Claim-before-accept (spec.md §4.6 step 5 / §9 race-window fix): append
	// first, then finalize status, closing the window a second concurrent
	// scan of the same token would otherwise race through.
	scores := req.DeviceType == models.DeviceTypeGM && req.Mode != models.ModeDetective
	points := 0
	if scores {
		points = token.Value
	}
	tx.Status = models.TransactionStatusAccepted
	tx.Points = points
	session.AddTransaction(tx)

	if req.DeviceType == models.DeviceTypeGM {
		session.MarkDeviceTokenScanned(req.DeviceID, req.TokenID)
	}

	var groupBonus *GroupBonus
	var teamScore models.TeamScore
	if scores {
		ts, bonus := s.updateTeamScore(session, req.TeamID, token)
		teamScore = ts
		groupBonus = bonus
	} else if i := session.TeamScoreIndex(req.TeamID); i >= 0 {
		teamScore = session.Scores[i]
	}

	s.pushRecent(tx)

	s.bus.Publish(EventTransactionAccepted, AcceptedPayload{
		Transaction:    tx,
		TeamScore:      teamScore,
		DeviceTracking: DeviceTracking{DeviceID: req.DeviceID, DeviceType: req.DeviceType},
		GroupBonus:     groupBonus,
	})

	resp := &models.ScanResponse{
		Status:        string(models.TransactionStatusAccepted),
		Message:       "Accepted",
		TransactionID: tx.ID,
		Transaction:   &tx,
		Token:         &token,
	}
	if req.Mode != models.ModeDetective {
		resp.Points = &points
	}
	return resp, nil
}

func (s *Service) rejectAsDuplicate(session *models.Session, tx models.Transaction, claimedBy string, originalID ...string) (*models.ScanResponse, error) {
	tx.Status = models.TransactionStatusDuplicate
	if len(originalID) > 0 {
		tx.OriginalTransactionID = originalID[0]
	}
	session.AddTransaction(tx)
	s.pushRecent(tx)

	resp := &models.ScanResponse{
		Status:        string(models.TransactionStatusDuplicate),
		Message:       "Token already claimed",
		TransactionID: tx.ID,
		Transaction:   &tx,
		ClaimedBy:     claimedBy,
	}
	if tx.OriginalTransactionID != "" {
		resp.OriginalTransactionID = tx.OriginalTransactionID
	}
	return resp, nil
}

// updateTeamScore adds points and tokensScanned for teamID, checks group
// completion, and returns the updated TeamScore plus a GroupBonus if one
// was just awarded (spec.md §4.6 steps 7, "Group completion").
func (s *Service) updateTeamScore(session *models.Session, teamID string, token models.Token) (models.TeamScore, *GroupBonus) {
	i := session.TeamScoreIndex(teamID)
	var ts models.TeamScore
	if i >= 0 {
		ts = session.Scores[i]
	} else {
		ts = models.NewTeamScore(teamID)
	}

	ts.BaseScore += token.Value
	ts.TokensScanned++
	ts.LastUpdate = s.now()
	ts.LastTokenTime = s.now()

	var bonus *GroupBonus
	if token.HasGroup() && !ts.HasCompletedGroup(token.GroupID) {
		claimed := session.AcceptedTokenIDsForTeam(teamID)
		members := s.catalog.TokensInGroup(token.GroupID)
		multiplier := s.catalog.GroupMultiplier(token.GroupID)
		if len(members) >= 2 && multiplier > 1 && isSuperset(claimed, members) {
			sum := 0
			for _, id := range members {
				if t, ok := s.catalog.Lookup(id); ok {
					sum += t.Value
				}
			}
			award := (multiplier - 1) * sum
			ts.BonusPoints += award
			ts.MarkGroupCompleted(token.GroupID)
			bonus = &GroupBonus{TeamID: teamID, GroupID: token.GroupID, Multiplier: multiplier, Bonus: award}
		}
	}

	ts.Recompute()
	session.UpsertTeamScore(ts)

	if bonus != nil {
		s.bus.Publish(EventGroupCompleted, *bonus)
	}
	return ts, bonus
}

func isSuperset(claimed map[string]bool, members []string) bool {
	for _, id := range members {
		if !claimed[id] {
			return false
		}
	}
	return true
}

func (s *Service) pushRecent(tx models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentTransactions = append([]models.Transaction{tx}, s.recentTransactions...)
	if len(s.recentTransactions) > s.recentLimit {
		s.recentTransactions = s.recentTransactions[:s.recentLimit]
	}
}

// RecentTransactions returns the bounded, newest-first ring (spec.md
// §4.12 sync:full "recentTransactions").
func (s *Service) RecentTransactions() []models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Transaction, len(s.recentTransactions))
	copy(out, s.recentTransactions)
	return out
}

// AdjustTeamScore appends an admin adjustment and recomputes currentScore
// (spec.md §4.6 adjustTeamScore).
func (s *Service) AdjustTeamScore(session *models.Session, teamID string, delta int, reason, gm string) (*models.TeamScore, error) {
	i := session.TeamScoreIndex(teamID)
	if i < 0 {
		return nil, apperr.NotFound("team not found in session")
	}
	ts := session.Scores[i]
	ts.AdminAdjustments = append(ts.AdminAdjustments, models.AdminAdjustment{
		Delta: delta, GM: gm, Reason: reason, At: s.now(),
	})
	ts.Recompute()
	session.UpsertTeamScore(ts)

	s.bus.Publish(EventScoreAdjusted, AdjustedPayload{TeamScore: ts, Reason: reason, IsAdminAction: true})
	return &ts, nil
}

// DeleteTransaction removes id from session and rebuilds scores from
// scratch (spec.md §4.6 deleteTransaction).
func (s *Service) DeleteTransaction(session *models.Session, id string) (*models.Transaction, error) {
	removed, ok := session.RemoveTransaction(id)
	if !ok {
		return nil, apperr.NotFound("transaction not found")
	}

	s.RebuildScoresFromTransactions(session)
	session.RebuildIndexes()

	var updated models.TeamScore
	if i := session.TeamScoreIndex(removed.TeamID); i >= 0 {
		updated = session.Scores[i]
	}

	s.bus.Publish(EventScoreUpdated, updated)
	s.bus.Publish(EventTransactionDeleted, DeletedPayload{
		TransactionID:    removed.ID,
		TokenID:          removed.TokenID,
		TeamID:           removed.TeamID,
		UpdatedTeamScore: updated,
	})
	return &removed, nil
}

// RebuildScoresFromTransactions recomputes every TeamScore in session
// from session.Transactions, deterministically and independent of
// processing history (spec.md §4.6 rebuildScoresFromTransactions, §8
// property #5 "Rebuild determinism").
func (s *Service) RebuildScoresFromTransactions(session *models.Session) {
	teamIDs := make([]string, 0, len(session.Scores))
	for _, ts := range session.Scores {
		teamIDs = append(teamIDs, ts.TeamID)
	}

	fresh := make(map[string]*models.TeamScore, len(teamIDs))
	for _, id := range teamIDs {
		ts := models.NewTeamScore(id)
		fresh[id] = &ts
	}

	claimed := make(map[string]map[string]bool) // teamID -> tokenID -> claimed

	for _, tx := range session.Transactions {
		if tx.Status != models.TransactionStatusAccepted || tx.Mode == models.ModeDetective || tx.DeviceType != models.DeviceTypeGM {
			continue
		}
		ts, ok := fresh[tx.TeamID]
		if !ok {
			nts := models.NewTeamScore(tx.TeamID)
			ts = &nts
			fresh[tx.TeamID] = ts
			teamIDs = append(teamIDs, tx.TeamID)
		}
		token, found := s.catalog.Lookup(tx.TokenID)
		if !found {
			continue
		}
		ts.BaseScore += token.Value
		ts.TokensScanned++

		if claimed[tx.TeamID] == nil {
			claimed[tx.TeamID] = make(map[string]bool)
		}
		claimed[tx.TeamID][tx.TokenID] = true

		if token.HasGroup() && !ts.HasCompletedGroup(token.GroupID) {
			members := s.catalog.TokensInGroup(token.GroupID)
			multiplier := s.catalog.GroupMultiplier(token.GroupID)
			if len(members) >= 2 && multiplier > 1 && isSuperset(claimed[tx.TeamID], members) {
				sum := 0
				for _, id := range members {
					if t, ok := s.catalog.Lookup(id); ok {
						sum += t.Value
					}
				}
				ts.BonusPoints += (multiplier - 1) * sum
				ts.MarkGroupCompleted(token.GroupID)
			}
		}
	}

	for _, id := range teamIDs {
		ts := fresh[id]
		ts.Recompute()
		session.UpsertTeamScore(*ts)
	}
}

// RestoreFromSession rebuilds team scores at startup and ensures every
// team persisted on the session appears with at least zero-state scores
// (spec.md §4.6 restoreFromSession).
func (s *Service) RestoreFromSession(session *models.Session) {
	s.RebuildScoresFromTransactions(session)
	session.RebuildIndexes()
}

// ResetScores zeroes every team's score in place, teams preserved
// (spec.md §4.3 "On scores:reset: zero scores in place").
func (s *Service) ResetScores(session *models.Session) {
	for i := range session.Scores {
		teamID := session.Scores[i].TeamID
		session.Scores[i] = models.NewTeamScore(teamID)
	}
	s.mu.Lock()
	s.recentTransactions = nil
	s.mu.Unlock()
	s.bus.Publish(EventScoresReset, nil)
}
