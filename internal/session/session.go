// Package session implements spec.md §4.3: the session service. It owns
// session.scores as the single source of truth (spec.md §5) by holding
// the current *models.Session behind one mutex and being the only path
// through which transaction.Service's mutating calls reach it — collapsing
// the source's session/transaction event-mirroring duet (itself an
// artifact of JS module-singleton isolation, the anti-pattern spec.md §9
// tells us to re-architect away from) into a single critical section.
// That single critical section is also what makes spec.md §5's
// "adjudication atomicity" requirement hold.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"alnorchestrator/internal/apperr"
	"alnorchestrator/internal/clock"
	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/idgen"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/store"
	"alnorchestrator/internal/transaction"
)

// Domain events this service publishes (spec.md §4.10 Broadcast layer
// names these as the session-originated broadcast sources).
const (
	EventSessionCreated  = "session:created"
	EventSessionUpdated  = "session:updated"
	EventSessionOvertime = "session:overtime"
)

// Option configures a Service at construction.
type Option func(*Service)

// WithIDGenerator overrides the session id source, for deterministic
// tests.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Service) { s.idgen = g }
}

// WithNow overrides the time source, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// WithOvertimeWarning sets the expected-duration warning threshold
// (spec.md §4.3 "a warning timer fires at configured expected-duration").
// Zero disables the warning.
func WithOvertimeWarning(d time.Duration) Option {
	return func(s *Service) { s.overtimeWarning = d }
}

// Service is the session lifecycle authority (spec.md §4.3).
type Service struct {
	store store.Store
	bus   *eventbus.Bus
	clock *clock.Clock
	txSvc *transaction.Service
	idgen idgen.Generator
	now   func() time.Time

	overtimeWarning time.Duration

	mu      sync.Mutex
	current *models.Session

	overtimeTimer *time.Timer
}

// New constructs a Service. clk is the game clock armed/paused/stopped by
// session status transitions; txSvc is the adjudicator whose mutating
// calls this service serializes under its own lock.
func New(st store.Store, bus *eventbus.Bus, clk *clock.Clock, txSvc *transaction.Service, opts ...Option) *Service {
	s := &Service{
		store: st,
		bus:   bus,
		clock: clk,
		txSvc: txSvc,
		idgen: idgen.Default,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Current returns the current session, or nil if none exists.
func (s *Service) Current() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CreateSession ends any current session, allocates a new one in active
// status with zero-state team scores, arms the clock, persists, and
// emits EventSessionCreated (spec.md §4.3 createSession).
func (s *Service) CreateSession(ctx context.Context, name string, teamIDs []string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status != models.SessionStatusEnded {
		s.endLocked(ctx)
	}

	now := s.now()
	sess := models.NewSession(s.idgen.NewID(), name, teamIDs, now)
	sess.Status = models.SessionStatusActive
	sess.GameStartTime = &now
	s.current = sess

	s.clock.Start(ctx)
	s.armOvertimeWarning()

	if err := s.persistCurrentLocked(ctx); err != nil {
		log.Printf("session: persisting new session: %v", err)
	}
	s.bus.Publish(EventSessionCreated, *sess)
	return sess, nil
}

// AddTeamToSession adds teamID mid-game (spec.md §4.3 addTeamToSession).
func (s *Service) AddTeamToSession(ctx context.Context, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	if err := s.current.AddTeam(teamID); err != nil {
		return apperr.Wrap(apperr.ClassConflict, "team already exists", err)
	}
	s.publishUpdatedLocked(ctx)
	return nil
}

// UpdateSessionStatus transitions status, cascading to the clock
// (spec.md §4.3 updateSessionStatus). Illegal transitions fail.
func (s *Service) UpdateSessionStatus(ctx context.Context, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	if !s.current.Status.CanTransitionTo(status) {
		return apperr.Wrap(apperr.ClassValidation, "illegal session status transition", models.ErrIllegalTransition)
	}

	switch status {
	case models.SessionStatusActive:
		if s.current.Status == models.SessionStatusSetup {
			now := s.now()
			s.current.GameStartTime = &now
			s.clock.Start(ctx)
		} else {
			s.clock.Resume()
		}
		s.armOvertimeWarning()
	case models.SessionStatusPaused:
		s.clock.Pause()
		s.disarmOvertimeWarning()
	case models.SessionStatusEnded:
		s.endLocked(ctx)
		return nil
	}

	s.current.Status = status
	s.publishUpdatedLocked(ctx)
	return nil
}

// EndSession completes the current session, persists, archives, and
// emits EventSessionUpdated with status=ended (spec.md §4.3 endSession).
func (s *Service) EndSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	s.endLocked(ctx)
	return nil
}

func (s *Service) endLocked(ctx context.Context) {
	ended := s.current
	now := s.now()
	ended.Status = models.SessionStatusEnded
	ended.EndTime = &now

	s.clock.Stop()
	s.disarmOvertimeWarning()

	if err := store.SaveJSON(ctx, s.store, store.SessionKey(ended.ID), ended); err != nil {
		log.Printf("session: persisting ended session: %v", err)
	}
	if err := store.SaveJSON(ctx, s.store, store.ArchiveKey(ended.ID), ended); err != nil {
		log.Printf("session: archiving session: %v", err)
	}
	if err := store.SaveJSON(ctx, s.store, store.BackupKey(ended.ID, now.Format(time.RFC3339)), ended); err != nil {
		log.Printf("session: backing up session: %v", err)
	}

	// Race protection: only clear "current" if it's still this object.
	if s.current == ended {
		if err := s.store.Delete(ctx, store.KeySessionCurrent); err != nil {
			log.Printf("session: clearing current session pointer: %v", err)
		}
		s.current = nil
	}
	s.bus.Publish(EventSessionUpdated, *ended)
}

// ProcessScan delegates to the transaction service for the duration of
// the session-wide lock held here, satisfying spec.md §5's adjudication
// atomicity requirement, then persists the session.
func (s *Service) ProcessScan(ctx context.Context, req models.ScanRequest) (*models.ScanResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, apperr.Wrap(apperr.ClassValidation, "no active session", models.ErrNoCurrentSession)
	}
	resp, err := s.txSvc.ProcessScan(ctx, s.current, req)
	if err != nil {
		return nil, err
	}
	if err := s.persistCurrentLocked(ctx); err != nil {
		log.Printf("session: persisting after scan: %v", err)
	}
	return resp, nil
}

// AdjustTeamScore delegates to the transaction service under lock
// (spec.md §4.6 adjustTeamScore called through the session).
func (s *Service) AdjustTeamScore(ctx context.Context, teamID string, delta int, reason, gm string) (*models.TeamScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	ts, err := s.txSvc.AdjustTeamScore(s.current, teamID, delta, reason, gm)
	if err != nil {
		return nil, err
	}
	if err := s.persistCurrentLocked(ctx); err != nil {
		log.Printf("session: persisting after adjustment: %v", err)
	}
	return ts, nil
}

// DeleteTransaction delegates to the transaction service under lock
// (spec.md §4.6 deleteTransaction).
func (s *Service) DeleteTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	removed, err := s.txSvc.DeleteTransaction(s.current, id)
	if err != nil {
		return nil, err
	}
	if err := s.persistCurrentLocked(ctx); err != nil {
		log.Printf("session: persisting after delete: %v", err)
	}
	return removed, nil
}

// ResetScores zeros every team's score in place (spec.md §4.3
// "On scores:reset").
func (s *Service) ResetScores(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	s.txSvc.ResetScores(s.current)
	return s.persistCurrentLocked(ctx)
}

// UpdateDevice upserts a DeviceSummary on the current session (spec.md
// §4.3 updateDevice).
func (s *Service) UpdateDevice(ctx context.Context, d models.DeviceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	s.current.UpsertDevice(d)
	return s.persistCurrentLocked(ctx)
}

// RemoveDevice deletes a DeviceSummary from the current session (spec.md
// §4.3 removeDevice).
func (s *Service) RemoveDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return apperr.Wrap(apperr.ClassNotFound, "no current session", models.ErrNoCurrentSession)
	}
	s.current.RemoveDevice(deviceID)
	return s.persistCurrentLocked(ctx)
}

// Restore loads session:current from the store, if any, and rebuilds the
// transaction service's derived indexes (spec.md §8 "Restart recovery").
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess models.Session
	found, err := store.LoadJSON(ctx, s.store, store.KeySessionCurrent, &sess)
	if err != nil {
		return apperr.Persistence(err)
	}
	if !found {
		return nil
	}
	sess.RebuildIndexes()
	s.txSvc.RestoreFromSession(&sess)
	s.current = &sess

	if sess.Status == models.SessionStatusActive {
		restoreState := sess.GameClock
		s.clock.Restore(ctx, restoreState)
		s.armOvertimeWarning()
	}
	return nil
}

func (s *Service) persistCurrentLocked(ctx context.Context) error {
	if s.current == nil {
		return nil
	}
	s.current.GameClock = s.clock.State()
	if err := s.current.Validate(); err != nil {
		return apperr.Wrap(apperr.ClassInternal, "session failed validation before persist", err)
	}
	if err := store.SaveJSON(ctx, s.store, store.SessionKey(s.current.ID), s.current); err != nil {
		return apperr.Persistence(err)
	}
	return store.SaveJSON(ctx, s.store, store.KeySessionCurrent, s.current)
}

func (s *Service) publishUpdatedLocked(ctx context.Context) {
	if err := s.persistCurrentLocked(ctx); err != nil {
		log.Printf("session: persisting update: %v", err)
	}
	s.bus.Publish(EventSessionUpdated, *s.current)
}

// armOvertimeWarning starts the session's own expected-duration warning
// timer, independent of the game clock's overtime (spec.md §9 open
// question: kept separate by design).
func (s *Service) armOvertimeWarning() {
	s.disarmOvertimeWarning()
	if s.overtimeWarning <= 0 {
		return
	}
	sess := s.current
	s.overtimeTimer = time.AfterFunc(s.overtimeWarning, func() {
		s.bus.Publish(EventSessionOvertime, *sess)
	})
}

func (s *Service) disarmOvertimeWarning() {
	if s.overtimeTimer != nil {
		s.overtimeTimer.Stop()
		s.overtimeTimer = nil
	}
}
