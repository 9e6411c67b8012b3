// Package aggregator implements spec.md §4.12: the state aggregator that
// composes the full sync:full snapshot sent to a newly-attached console
// and after an offline-queue drain. Grounded on the teacher's
// internal/server/sse.go initial-snapshot-then-stream pattern, generalized
// from one media-session-state shape to the five sources this project's
// aggregator composes.
package aggregator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/offline"
)

// MaxRecentTransactions is the spec.md §4.12 default cap ("most recent
// ≤ 100") used when no WithMaxRecentTransactions option overrides it.
const MaxRecentTransactions = 100

// SessionProvider is the narrow seam into internal/session.Service.
type SessionProvider interface {
	Current() *models.Session
}

// TransactionProvider is the narrow seam into internal/transaction.Service.
type TransactionProvider interface {
	RecentTransactions() []models.Transaction
}

// VideoProvider is the narrow seam into internal/video.Service.
type VideoProvider interface {
	Snapshot() models.VideoStatusSnapshot
}

// DeviceProvider is the narrow seam into internal/devices.Registry.
type DeviceProvider interface {
	Snapshot() []models.DeviceSummary
}

// OfflineProvider is the narrow seam into internal/offline.Service.
type OfflineProvider interface {
	IsOffline() bool
}

// Broadcaster is the narrow seam into internal/broadcast.Layer needed to
// push a sync:full after a drain completes (spec.md §4.12 "Triggered by
// ... offline:queue:processed").
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, data any)
}

// Option configures an Aggregator at construction.
type Option func(*Aggregator)

// WithNow overrides the time source, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(a *Aggregator) { a.now = fn }
}

// WithMaxRecentTransactions overrides how many recent transactions are
// included in a snapshot, sourced from the RECENT_TRANSACTIONS_COUNT
// config knob. n <= 0 leaves MaxRecentTransactions in effect.
func WithMaxRecentTransactions(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxRecent = n
		}
	}
}

// Aggregator composes on-demand full-state snapshots (spec.md §4.12).
type Aggregator struct {
	session   SessionProvider
	tx        TransactionProvider
	video     VideoProvider
	devices   DeviceProvider
	offline   OfflineProvider
	bcast     Broadcaster
	bus       *eventbus.Bus
	now       func() time.Time
	maxRecent int

	unsubscribe func()
}

// New constructs an Aggregator and subscribes it to offline:queue:processed
// so every drain ends with a sync:full broadcast.
func New(bus *eventbus.Bus, session SessionProvider, tx TransactionProvider, video VideoProvider, devices DeviceProvider, off OfflineProvider, bcast Broadcaster, opts ...Option) *Aggregator {
	a := &Aggregator{
		session:   session,
		tx:        tx,
		video:     video,
		devices:   devices,
		offline:   off,
		bcast:     bcast,
		bus:       bus,
		now:       func() time.Time { return time.Now().UTC() },
		maxRecent: MaxRecentTransactions,
	}
	for _, o := range opts {
		o(a)
	}
	a.unsubscribe = bus.Subscribe(offline.EventQueueProcessed, func(any) {
		snapshot, _ := a.Snapshot()
		a.bcast.Broadcast(context.Background(), "sync:full", snapshot)
	})
	return a
}

// Snapshot composes the full aggregator snapshot (spec.md §4.12) and a
// strong content-hash ETag for HTTP If-None-Match support. crypto/sha256
// is the one deliberately-stdlib dependency in this module (DESIGN.md):
// no ecosystem hashing library is better suited to a one-shot content
// digest than the standard library's.
func (a *Aggregator) Snapshot() (models.SyncFullSnapshot, string) {
	recent := a.tx.RecentTransactions()
	if len(recent) > a.maxRecent {
		recent = recent[:a.maxRecent]
	}

	current := a.session.Current()
	var scores []models.TeamScore
	if current != nil {
		scores = current.Scores
	}

	snapshot := models.SyncFullSnapshot{
		Session:            models.SessionSummaryFrom(current),
		Scores:             scores,
		RecentTransactions: recent,
		VideoStatus:        a.video.Snapshot(),
		Devices:            a.devices.Snapshot(),
		SystemStatus: models.SystemStatus{
			Orchestrator: "online",
			// No VLC driver is wired (spec.md §1 Non-goals); the knob
			// always reports disconnected rather than lying about a
			// connection that can never exist in this tree.
			VLC:     "disconnected",
			Offline: a.offline.IsOffline(),
		},
	}

	return snapshot, etagFor(snapshot)
}

func etagFor(snapshot models.SyncFullSnapshot) string {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(blob)
	return fmt.Sprintf(`"%s"`, hex.EncodeToString(sum[:]))
}

// Close unsubscribes from the bus.
func (a *Aggregator) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}
