package console

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"alnorchestrator/internal/models"
)

// outboundBuffer bounds how many envelopes a slow console can lag behind.
// Once it is full, enqueue drops the new envelope and Send waits until its
// context ends (spec.md §4.10's per-socket send timeout protects the
// broadcaster; this protects the socket's own write goroutine from an
// unbounded backlog).
const outboundBuffer = 64

// conn adapts one gorilla websocket connection into a
// broadcast.ConsoleSink (spec.md §4.10's seam-via-interface).
type conn struct {
	ws         *websocket.Conn
	id         string
	deviceType models.DeviceType

	mu       sync.Mutex
	out      chan models.EventEnvelope
	closed   bool
	closeOne sync.Once
}

func newConn(ws *websocket.Conn, id string, deviceType models.DeviceType) *conn {
	return &conn{
		ws:         ws,
		id:         id,
		deviceType: deviceType,
		out:        make(chan models.EventEnvelope, outboundBuffer),
	}
}

func (c *conn) ID() string                   { return c.id }
func (c *conn) DeviceType() models.DeviceType { return c.deviceType }

// Send implements broadcast.ConsoleSink by enqueuing onto the write
// pump's channel; ctx's deadline is respected so a full buffer doesn't
// block the broadcaster past its own send timeout.
func (c *conn) Send(ctx context.Context, env models.EventEnvelope) error {
	select {
	case c.out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue is the non-blocking variant used for the initial sync:full push
// issued before the write pump might be fully scheduled.
func (c *conn) enqueue(env models.EventEnvelope) {
	select {
	case c.out <- env:
	default:
		log.Printf("console: dropping %s for device %s: outbound buffer full", env.Event, c.id)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				log.Printf("console: writing %s to device %s: %v", env.Event, c.id, err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) close() {
	c.closeOne.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.out)
		_ = c.ws.Close()
	})
}
