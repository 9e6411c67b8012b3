// Package clock implements spec.md §4.5: the single 1 Hz master tick
// source. Lifecycle is modeled on the teacher's internal/scheduler.Scheduler
// (context.CancelFunc + done chan struct{} + sync.Once start), generalized
// from a once-a-day ticker to a 1 Hz one, plus pause/resume semantics the
// scheduler never needed.
package clock

import (
	"context"
	"log"
	"sync"
	"time"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
)

const (
	// EventTick is published every second while the clock runs.
	EventTick = "gameclock:tick"
	// EventOvertime is published exactly once per overtime threshold
	// crossing, until Reset.
	EventOvertime = "gameclock:overtime"
)

// TickPayload is the payload of EventTick.
type TickPayload struct {
	Elapsed int `json:"elapsed"`
}

// OvertimePayload is the payload of EventOvertime.
type OvertimePayload struct {
	Elapsed          int `json:"elapsed"`
	ThresholdSeconds int `json:"threshold_seconds"`
}

// nowFunc is overridable in tests.
type nowFunc func() time.Time

// Clock is the master game-clock tick authority (spec.md §4.5).
type Clock struct {
	bus *eventbus.Bus
	now nowFunc

	overtimeThreshold time.Duration
	tickInterval      time.Duration

	mu            sync.Mutex
	status        models.ClockStatus
	gameStartTime time.Time
	pausedAt      time.Time
	totalPaused   time.Duration
	overtimeFired bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Clock at construction.
type Option func(*Clock)

// WithOvertimeThreshold sets the elapsed-seconds threshold past which
// EventOvertime fires once.
func WithOvertimeThreshold(d time.Duration) Option {
	return func(c *Clock) { c.overtimeThreshold = d }
}

// WithNow overrides the time source, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(c *Clock) { c.now = fn }
}

// WithTickInterval overrides the tick period (default 1s), for tests that
// want to observe several ticks without waiting real wall-clock seconds.
func WithTickInterval(d time.Duration) Option {
	return func(c *Clock) { c.tickInterval = d }
}

// New constructs a stopped Clock publishing onto bus.
func New(bus *eventbus.Bus, opts ...Option) *Clock {
	c := &Clock{
		bus:          bus,
		now:          func() time.Time { return time.Now().UTC() },
		status:       models.ClockStatusStopped,
		tickInterval: time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start arms the clock: gameStartTime=now, totalPausedMs=0, status=running,
// and begins emitting EventTick every second (spec.md §4.5).
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	c.gameStartTime = c.now()
	c.totalPaused = 0
	c.pausedAt = time.Time{}
	c.status = models.ClockStatusRunning
	c.overtimeFired = false
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)
}

func (c *Clock) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Clock) tick() {
	c.mu.Lock()
	if c.status != models.ClockStatusRunning {
		c.mu.Unlock()
		return
	}
	elapsed := c.elapsedLocked()
	overtimeNow := c.overtimeThreshold > 0 &&
		!c.overtimeFired &&
		time.Duration(elapsed)*time.Second >= c.overtimeThreshold
	if overtimeNow {
		c.overtimeFired = true
	}
	c.mu.Unlock()

	c.bus.Publish(EventTick, TickPayload{Elapsed: elapsed})
	if overtimeNow {
		log.Printf("game clock: overtime threshold reached at %ds", elapsed)
		c.bus.Publish(EventOvertime, OvertimePayload{
			Elapsed:          elapsed,
			ThresholdSeconds: int(c.overtimeThreshold / time.Second),
		})
	}
}

// Pause stops the tick and records pauseStart (spec.md §4.5).
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != models.ClockStatusRunning {
		return
	}
	c.pausedAt = c.now()
	c.status = models.ClockStatusPaused
}

// Resume adds (now - pauseStart) to totalPausedMs (spec.md §4.5).
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != models.ClockStatusPaused {
		return
	}
	c.totalPaused += c.now().Sub(c.pausedAt)
	c.pausedAt = time.Time{}
	c.status = models.ClockStatusRunning
}

// Stop halts the tick goroutine and marks the clock stopped.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.status = models.ClockStatusStopped
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// GetElapsed returns floor((now - gameStartTime - totalPausedMs)/1000),
// using pausedAt in place of now when paused (spec.md §4.5).
func (c *Clock) GetElapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *Clock) elapsedLocked() int {
	if c.gameStartTime.IsZero() {
		return 0
	}
	reference := c.now()
	if c.status == models.ClockStatusPaused && !c.pausedAt.IsZero() {
		reference = c.pausedAt
	}
	d := reference.Sub(c.gameStartTime) - c.totalPaused
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Status returns the current ClockStatus.
func (c *Clock) Status() models.ClockStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State snapshots the clock for persistence (spec.md §3 ClockState).
func (c *Clock) State() models.ClockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := models.ClockState{
		Status:        c.status,
		TotalPausedMs: c.totalPaused.Milliseconds(),
		OvertimeFired: c.overtimeFired,
	}
	if !c.gameStartTime.IsZero() {
		t := c.gameStartTime
		st.GameStartTime = &t
	}
	if !c.pausedAt.IsZero() {
		t := c.pausedAt
		st.PausedAt = &t
	}
	return st
}

// Restore re-enters running or paused state from persisted state
// (spec.md §4.5 restore), based on whether PausedAt is set, and resumes
// ticking if the clock was running.
func (c *Clock) Restore(ctx context.Context, st models.ClockState) {
	c.mu.Lock()
	c.status = st.Status
	c.totalPaused = time.Duration(st.TotalPausedMs) * time.Millisecond
	c.overtimeFired = st.OvertimeFired
	if st.GameStartTime != nil {
		c.gameStartTime = *st.GameStartTime
	}
	if st.PausedAt != nil {
		c.pausedAt = *st.PausedAt
		c.status = models.ClockStatusPaused
	} else if st.Status == models.ClockStatusRunning {
		c.status = models.ClockStatusRunning
	}
	running := c.status == models.ClockStatusRunning
	c.mu.Unlock()

	if running {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.done = make(chan struct{})
		go c.run(runCtx)
	}
}

// ResetOvertime clears the one-shot overtime-fired flag.
func (c *Clock) ResetOvertime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overtimeFired = false
}
