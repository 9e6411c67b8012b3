package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"alnorchestrator/internal/apperr"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/offline"
)

// handleHealth is GET /health?deviceId=&type= (spec.md §6).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID != "" {
		deviceType := models.DeviceType(r.URL.Query().Get("type"))
		if !deviceType.Valid() {
			deviceType = models.DeviceTypePlayer
		}
		if !s.devices.Heartbeat(deviceID) {
			s.devices.Connect(deviceID, deviceType)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   Version,
		"uptime":    int(time.Since(s.startedAt).Seconds()),
		"timestamp": time.Now().UTC(),
	})
}

// handleState is GET /api/state (spec.md §6 "supports ETag/If-None-Match
// for 304").
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot, etag := s.agg.Snapshot()
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleScan is POST /api/scan — player-scanner submit, always accepted
// for content re-view, queued instead of processed while offline
// (spec.md §6).
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	if req.DeviceType == "" {
		req.DeviceType = models.DeviceTypePlayer
	}
	if !s.allow(req.DeviceID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	if s.offline.IsOffline() {
		item, ok := s.offline.EnqueuePlayerScan(r.Context(), req)
		if !ok {
			writeError(w, apperr.Unavailable("offline queue full"))
			return
		}
		writeJSON(w, http.StatusAccepted, models.ScanResponse{
			Status:        "queued",
			Message:       "recorded offline, will sync on reconnect",
			TransactionID: item.TransactionID,
		})
		return
	}

	resp, err := s.session.ProcessScan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScanBatch is POST /api/scan/batch — offline drain, idempotent by
// batchId (spec.md §6).
func (s *Server) handleScanBatch(w http.ResponseWriter, r *http.Request) {
	var req offline.BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	if req.BatchID == "" {
		writeError(w, apperr.Validation("batchId is required"))
		return
	}

	resp := s.offline.ProcessBatch(r.Context(), req)

	failed := 0
	for _, result := range resp.Results {
		if result.Status == "failed" {
			failed++
		}
	}

	for _, txReq := range req.Transactions {
		if txReq.DeviceID == "" {
			continue
		}
		s.bcast.Unicast(r.Context(), txReq.DeviceID, "batch:ack", map[string]string{
			"batch_id":       req.BatchID,
			"transaction_id": txReq.TransactionID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":        resp.BatchID,
		"processed_count": len(resp.Results) - failed,
		"total_count":     len(req.Transactions),
		"failed_count":    failed,
		"results":         resp.Results,
	})
}

// handleTransactionSubmit is POST /api/transaction/submit — admin/GM
// authoritative submit (spec.md §6).
func (s *Server) handleTransactionSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}
	if req.DeviceType == "" {
		req.DeviceType = models.DeviceTypeGM
	}
	if !s.allow(req.DeviceID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	resp, err := s.session.ProcessScan(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.DeviceID != "" {
		s.bcast.Unicast(r.Context(), req.DeviceID, "transaction:result", resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTransactionDelete is DELETE /api/transaction/:id — admin only
// (spec.md §6 "triggers deletion + rebuild").
func (s *Server) handleTransactionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.session.DeleteTransaction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, removed)
}

type videoControlRequest struct {
	Action  string `json:"action"`
	TokenID string `json:"tokenId"`
}

// handleVideoControl is POST /api/video/control — admin only (spec.md §6
// "409 on conflict, 404 on unknown token, 400 on missing tokenId when
// play cannot resume").
func (s *Server) handleVideoControl(w http.ResponseWriter, r *http.Request) {
	var req videoControlRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperr.Validation("malformed request body"))
		return
	}

	switch req.Action {
	case "play":
		s.handleVideoPlay(w, req.TokenID)
	case "pause":
		s.video.PauseCurrent()
		writeJSON(w, http.StatusOK, s.video.Snapshot())
	case "stop":
		s.video.StopCurrent()
		writeJSON(w, http.StatusOK, s.video.Snapshot())
	case "skip":
		s.video.SkipCurrent()
		writeJSON(w, http.StatusOK, s.video.Snapshot())
	default:
		writeError(w, apperr.Validation("unknown action"))
	}
}

func (s *Server) handleVideoPlay(w http.ResponseWriter, tokenID string) {
	if tokenID == "" {
		_, status, loaded := s.video.GetCurrentVideo()
		if !loaded || status != models.VideoStatusPaused {
			writeError(w, apperr.Validation("tokenId is required"))
			return
		}
		s.video.ResumeCurrent()
		writeJSON(w, http.StatusOK, s.video.Snapshot())
		return
	}

	token, ok := s.catalog.Lookup(tokenID)
	if !ok {
		writeError(w, apperr.NotFound("unknown token"))
		return
	}
	if s.video.IsPlaying() {
		writeError(w, apperr.Conflict("video already playing"))
		return
	}
	s.video.AddToQueue(token.ID, token.MediaAssets.Video, token.Duration)
	writeJSON(w, http.StatusOK, s.video.Snapshot())
}

// handleAdminReset is POST /api/admin/reset — ends sessions, clears
// state, disconnects sockets (spec.md §6).
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if s.session.Current() != nil {
		if err := s.session.EndSession(r.Context()); err != nil {
			writeError(w, err)
			return
		}
	}
	for _, d := range s.devices.Snapshot() {
		if d.Connected {
			s.devices.Disconnect(d.DeviceID, "admin reset")
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
