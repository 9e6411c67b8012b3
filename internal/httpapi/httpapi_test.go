package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alnorchestrator/internal/aggregator"
	"alnorchestrator/internal/broadcast"
	"alnorchestrator/internal/catalog"
	"alnorchestrator/internal/clock"
	"alnorchestrator/internal/config"
	"alnorchestrator/internal/devices"
	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/offline"
	"alnorchestrator/internal/session"
	"alnorchestrator/internal/store"
	"alnorchestrator/internal/transaction"
	"alnorchestrator/internal/video"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemory()
	bus := eventbus.New()
	clk := clock.New(bus)
	cat := catalog.New([]models.Token{
		{ID: "tok1", Value: 10, ValueRating: 1, MediaAssets: models.MediaAssets{Video: "clip1.mp4"}, Duration: 30},
	})
	txSvc := transaction.New(cat, bus)
	sessSvc := session.New(st, bus, clk, txSvc)
	vidSvc := video.New(bus)
	offSvc := offline.New(st, bus, sessSvc)
	devReg := devices.New(bus)
	bcast := broadcast.New(bus, vidSvc)
	agg := aggregator.New(bus, sessSvc, txSvc, vidSvc, devReg, offSvc, bcast)

	cfg := &config.Config{}
	hash, err := config.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	cfg.AdminPasswordHash = hash

	_, err = sessSvc.CreateSession(context.Background(), "Game Night", []string{"red", "blue"})
	require.NoError(t, err)

	return New(sessSvc, agg, offSvc, vidSvc, cat, devReg, bcast, cfg)
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, adminPassword string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(blob)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if adminPassword != "" {
		req.Header.Set("X-Admin-Password", adminPassword)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealth_RecordsHeartbeatForKnownDevice(t *testing.T) {
	srv := newTestServer(t)
	srv.devices.Connect("gm-1", models.DeviceTypeGM)

	start := time.Now()
	w := doRequest(t, srv, http.MethodGet, "/health?deviceId=gm-1&type=gm", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])

	snap := srv.devices.Snapshot()
	require.Len(t, snap, 1)
	require.False(t, snap[0].LastHeartbeat.Before(start))
}

func TestState_SupportsIfNoneMatch(t *testing.T) {
	srv := newTestServer(t)

	first := doRequest(t, srv, http.MethodGet, "/api/state", nil, "")
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("If-None-Match", etag)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotModified, w.Code)
}

func TestScan_AcceptsValidToken(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/scan", models.ScanRequest{
		TokenID: "tok1", DeviceID: "player-1", DeviceType: models.DeviceTypePlayer, TeamID: "red",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "accepted", resp.Status)
}

func TestVideoControl_RequiresAdminPassword(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/video/control", videoControlRequest{Action: "play", TokenID: "tok1"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVideoControl_PlayThenConflictOnSecondPlay(t *testing.T) {
	srv := newTestServer(t)
	const pw = "correct horse battery staple"

	w := doRequest(t, srv, http.MethodPost, "/api/video/control", videoControlRequest{Action: "play", TokenID: "tok1"}, pw)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/video/control", videoControlRequest{Action: "play", TokenID: "tok1"}, pw)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestVideoControl_UnknownTokenIs404(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/video/control", videoControlRequest{Action: "play", TokenID: "nope"}, "correct horse battery staple")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestVideoControl_MissingTokenIdOnColdPlayIs400(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodPost, "/api/video/control", videoControlRequest{Action: "play"}, "correct horse battery staple")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminReset_EndsSessionAndDisconnectsDevices(t *testing.T) {
	srv := newTestServer(t)
	srv.devices.Connect("gm-1", models.DeviceTypeGM)

	w := doRequest(t, srv, http.MethodPost, "/api/admin/reset", nil, "correct horse battery staple")
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, srv.session.Current())
	require.False(t, srv.devices.Snapshot()[0].Connected)
}
