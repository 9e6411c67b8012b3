// Package broadcast implements spec.md §4.10: the single place domain
// events get wrapped into the transport envelope {event, data, timestamp}
// and fanned out to connected GM consoles. Grounded on the teacher's
// internal/server/sse.go subscribe/unsubscribe-channel fan-out and
// internal/notifier.Notifier's concurrent per-channel dispatch, combined
// here with golang.org/x/sync/errgroup the way ManuGH-xg2g's
// internal/daemon/app.go bounds a set of concurrently-run goroutines.
package broadcast

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
)

// SendTimeout bounds how long one console's write may block a fan-out
// round (spec.md §5 "HTTP operations have per-request timeouts"; applied
// here to console socket writes by the same reasoning).
const SendTimeout = 5 * time.Second

// DefaultProgressThrottle is the minimum gap between forwarded
// video:progress broadcasts.
const DefaultProgressThrottle = 1 * time.Second

// ConsoleSink is the narrow seam into a connected console's transport —
// internal/console's websocket connections implement this, the same
// seam-via-interface trick internal/cue uses for VideoState/ClockSource.
type ConsoleSink interface {
	ID() string
	DeviceType() models.DeviceType
	Send(ctx context.Context, env models.EventEnvelope) error
}

// VideoSnapshotter is the narrow seam into internal/video.Service the
// layer needs to turn a bare video:* transition event into the full
// video:status payload consoles expect (spec.md §4.10 "Video: ... →
// broadcast video:status updates").
type VideoSnapshotter interface {
	Snapshot() models.VideoStatusSnapshot
}

// Option configures a Layer at construction.
type Option func(*Layer)

// WithNow overrides the time source, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(l *Layer) { l.now = fn }
}

// WithSendTimeout overrides the per-socket send timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(l *Layer) { l.sendTimeout = d }
}

// WithProgressThrottle overrides the minimum interval between forwarded
// video:progress updates (spec.md §4.10 "video:progress (throttled)").
func WithProgressThrottle(d time.Duration) Option {
	return func(l *Layer) { l.progressThrottle = d }
}

// Layer subscribes to every domain event this project emits and
// rebroadcasts it, wrapped, to every registered console (spec.md §4.10).
type Layer struct {
	bus   *eventbus.Bus
	video VideoSnapshotter
	now   func() time.Time

	sendTimeout      time.Duration
	progressThrottle time.Duration

	mu    sync.Mutex
	sinks map[string]ConsoleSink

	progressMu   sync.Mutex
	lastProgress time.Time

	unsubscribe []func()
}

// New constructs a Layer subscribed to every domain event this project
// emits, publishing onto bus and rebroadcasting through registered
// consoles. video supplies the full status snapshot that rides along
// with every video:status broadcast.
func New(bus *eventbus.Bus, video VideoSnapshotter, opts ...Option) *Layer {
	l := &Layer{
		bus:              bus,
		video:            video,
		now:              func() time.Time { return time.Now().UTC() },
		sendTimeout:      SendTimeout,
		progressThrottle: DefaultProgressThrottle,
		sinks:            make(map[string]ConsoleSink),
	}
	for _, o := range opts {
		o(l)
	}
	l.subscribeAll()
	return l
}

// Register adds sink to the fan-out set (called on console handshake
// success, spec.md §6 "on success server sends sync:full immediately" —
// the console package registers before requesting that snapshot).
func (l *Layer) Register(sink ConsoleSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks[sink.ID()] = sink
}

// Unregister removes sink from the fan-out set (console disconnect).
func (l *Layer) Unregister(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sinks, id)
}

// Unicast sends env to exactly the console with the given id, e.g.
// transaction:result / batch:ack (spec.md §4.10 Unicast paths).
func (l *Layer) Unicast(ctx context.Context, id string, event string, data any) {
	l.mu.Lock()
	sink, ok := l.sinks[id]
	l.mu.Unlock()
	if !ok {
		return
	}
	l.send(ctx, sink, event, data)
}

// Broadcast wraps event/data into an EventEnvelope and sends it to every
// registered console concurrently, bounded by an errgroup so one slow or
// dead socket cannot stall the others (spec.md §4.10).
func (l *Layer) Broadcast(ctx context.Context, event string, data any) {
	l.mu.Lock()
	sinks := make([]ConsoleSink, 0, len(l.sinks))
	for _, s := range l.sinks {
		sinks = append(sinks, s)
	}
	l.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range sinks {
		sink := sink
		g.Go(func() error {
			l.send(gctx, sink, event, data)
			return nil
		})
	}
	_ = g.Wait()
}

func (l *Layer) send(ctx context.Context, sink ConsoleSink, event string, data any) {
	env := models.NewEventEnvelope(event, data, l.now())
	sendCtx, cancel := context.WithTimeout(ctx, l.sendTimeout)
	defer cancel()
	if err := sink.Send(sendCtx, env); err != nil {
		log.Printf("broadcast: sending %s to console %s: %v", event, sink.ID(), err)
	}
}

// Close unsubscribes from the bus. Consoles registered at the time of
// Close are left as-is; callers are expected to have already torn down
// their sockets.
func (l *Layer) Close() {
	for _, unsub := range l.unsubscribe {
		unsub()
	}
}
