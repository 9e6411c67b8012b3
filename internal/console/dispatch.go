package console

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"alnorchestrator/internal/apperr"
	"alnorchestrator/internal/models"
)

// dispatch routes one client->server frame (spec.md §6 "transaction:submit,
// gm:command, sync:request, batch:ack").
func (h *Handler) dispatch(ctx context.Context, c *conn, msg clientMessage) {
	switch msg.Event {
	case "transaction:submit":
		h.handleTransactionSubmit(ctx, c, msg.Data)
	case "gm:command":
		h.handleGMCommand(ctx, c, msg.Data)
	case "sync:request":
		snapshot, _ := h.agg.Snapshot()
		c.enqueue(models.NewEventEnvelope("sync:full", snapshot, time.Now().UTC()))
	case "batch:ack":
		log.Printf("console: batch:ack received from device %s", c.id)
	default:
		log.Printf("console: unknown client event %q from device %s", msg.Event, c.id)
	}
}

func (h *Handler) handleTransactionSubmit(ctx context.Context, c *conn, data json.RawMessage) {
	var req models.ScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendResult(ctx, c, apperr.Validation("malformed transaction:submit payload"), nil)
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = c.id
	}
	if req.DeviceType == "" {
		req.DeviceType = c.deviceType
	}
	resp, err := h.session.ProcessScan(ctx, req)
	h.sendResult(ctx, c, err, resp)
}

func (h *Handler) sendResult(ctx context.Context, c *conn, err error, resp *models.ScanResponse) {
	if err != nil {
		h.bcast.Unicast(ctx, c.id, "transaction:result", map[string]string{"error": err.Error()})
		return
	}
	h.bcast.Unicast(ctx, c.id, "transaction:result", resp)
}

type gmCommand struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Handler) handleGMCommand(ctx context.Context, c *conn, data json.RawMessage) {
	var cmd gmCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Printf("console: malformed gm:command from device %s: %v", c.id, err)
		return
	}

	switch cmd.Command {
	case "create_session":
		var payload struct {
			Name  string   `json:"name"`
			Teams []string `json:"teams"`
		}
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			log.Printf("console: malformed create_session payload from device %s: %v", c.id, err)
			return
		}
		if _, err := h.session.CreateSession(ctx, payload.Name, payload.Teams); err != nil {
			log.Printf("console: create_session from device %s: %v", c.id, err)
		}
	case "update_session":
		var payload struct {
			Status models.SessionStatus `json:"status"`
		}
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			log.Printf("console: malformed update_session payload from device %s: %v", c.id, err)
			return
		}
		if err := h.session.UpdateSessionStatus(ctx, payload.Status); err != nil {
			log.Printf("console: update_session from device %s: %v", c.id, err)
		}
	case "reset":
		if h.session.Current() != nil {
			if err := h.session.EndSession(ctx); err != nil {
				log.Printf("console: reset from device %s: %v", c.id, err)
			}
		}
	case "video:control":
		h.handleVideoControl(cmd.Payload)
	default:
		log.Printf("console: unknown gm:command %q from device %s", cmd.Command, c.id)
	}
}

func (h *Handler) handleVideoControl(payload json.RawMessage) {
	var req struct {
		Action  string `json:"action"`
		TokenID string `json:"tokenId"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("console: malformed video:control payload: %v", err)
		return
	}

	switch req.Action {
	case "play":
		if req.TokenID == "" {
			_, status, loaded := h.video.GetCurrentVideo()
			if loaded && status == models.VideoStatusPaused {
				h.video.ResumeCurrent()
			}
			return
		}
		token, ok := h.catalog.Lookup(req.TokenID)
		if !ok || h.video.IsPlaying() {
			return
		}
		h.video.AddToQueue(token.ID, token.MediaAssets.Video, token.Duration)
	case "pause":
		h.video.PauseCurrent()
	case "stop":
		h.video.StopCurrent()
	case "skip":
		h.video.SkipCurrent()
	}
}
