// Package console implements spec.md §6's persistent console protocol:
// a gorilla-websocket handler GM stations connect to, register into
// internal/devices and internal/broadcast, and exchange the event
// envelopes those packages define. Grounded on the teacher's
// internal/media/plex/websocket.go connection lifecycle (upgrade, read
// pump with deadline/pong handling, write pump with a ping ticker),
// adapted from a client dialer into a server-side accept handler.
package console

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"alnorchestrator/internal/broadcast"
	"alnorchestrator/internal/config"
	"alnorchestrator/internal/devices"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/offline"
	"alnorchestrator/internal/session"
	"alnorchestrator/internal/video"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Aggregator is the narrow seam into internal/aggregator.Aggregator.
type Aggregator interface {
	Snapshot() (models.SyncFullSnapshot, string)
}

// Catalog is the narrow seam into internal/catalog.Catalog.
type Catalog interface {
	Lookup(id string) (models.Token, bool)
}

// handshakeMessage is the client's first frame: {token, deviceId,
// deviceType, version}. Token is checked as the admin password via
// config.Config.VerifyAdminPassword.
type handshakeMessage struct {
	Token      string            `json:"token"`
	DeviceID   string            `json:"deviceId"`
	DeviceType models.DeviceType `json:"deviceType"`
	Version    string            `json:"version"`
}

// clientMessage is every subsequent client->server frame (spec.md §6
// "transaction:submit, gm:command, sync:request, batch:ack").
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler upgrades and serves GM console websocket connections.
type Handler struct {
	upgrader websocket.Upgrader

	cfg     *config.Config
	session *session.Service
	offline *offline.Service
	video   *video.Service
	catalog Catalog
	devices *devices.Registry
	bcast   *broadcast.Layer
	agg     Aggregator
}

// New constructs a Handler wiring every collaborator a console connection
// needs to handshake, receive sync:full, and dispatch gm:command/
// transaction:submit traffic.
func New(cfg *config.Config, sess *session.Service, off *offline.Service, vid *video.Service, cat Catalog, devs *devices.Registry, bcast *broadcast.Layer, agg Aggregator) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cfg:     cfg,
		session: sess,
		offline: off,
		video:   vid,
		catalog: cat,
		devices: devs,
		bcast:   bcast,
		agg:     agg,
	}
}

// ServeHTTP upgrades the request, performs the handshake, and — on
// success — registers the connection and runs its read/write pumps until
// either side closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("console: upgrade failed: %v", err)
		return
	}

	hs, err := h.readHandshake(ws)
	if err != nil {
		log.Printf("console: handshake failed: %v", err)
		_ = ws.Close()
		return
	}
	ok, err := h.cfg.VerifyAdminPassword(hs.Token)
	if err != nil || !ok {
		log.Printf("console: handshake rejected for device %s", hs.DeviceID)
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
		_ = ws.Close()
		return
	}
	if hs.DeviceType == models.DeviceTypeGM && h.cfg.MaxGMStations > 0 && h.gmStationCount() >= h.cfg.MaxGMStations {
		log.Printf("console: rejecting device %s: MAX_GM_STATIONS (%d) already connected", hs.DeviceID, h.cfg.MaxGMStations)
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "max GM stations connected"))
		_ = ws.Close()
		return
	}

	c := newConn(ws, hs.DeviceID, hs.DeviceType)
	h.devices.Connect(hs.DeviceID, hs.DeviceType)
	h.bcast.Register(c)
	go c.writePump()
	go h.readPump(c)

	snapshot, _ := h.agg.Snapshot()
	c.enqueue(models.NewEventEnvelope("sync:full", snapshot, time.Now().UTC()))
}

// gmStationCount reports how many GM-typed devices are currently
// connected, enforcing the MAX_GM_STATIONS config knob.
func (h *Handler) gmStationCount() int {
	count := 0
	for _, d := range h.devices.Snapshot() {
		if d.Connected && d.DeviceType == models.DeviceTypeGM {
			count++
		}
	}
	return count
}

func (h *Handler) readHandshake(ws *websocket.Conn) (handshakeMessage, error) {
	var hs handshakeMessage
	if err := ws.ReadJSON(&hs); err != nil {
		return hs, err
	}
	if hs.DeviceID == "" {
		hs.DeviceID = "console-" + time.Now().UTC().Format("150405.000000000")
	}
	if !hs.DeviceType.Valid() {
		hs.DeviceType = models.DeviceTypeGM
	}
	return hs, nil
}

func (h *Handler) readPump(c *conn) {
	defer func() {
		h.bcast.Unregister(c.id)
		h.devices.Disconnect(c.id, "socket closed")
		c.close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("console: device %s closed unexpectedly: %v", c.id, err)
			}
			return
		}
		h.dispatch(context.Background(), c, msg)
	}
}
