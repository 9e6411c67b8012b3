package devices

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
)

func TestConnect_EmitsConnectedEvent(t *testing.T) {
	bus := eventbus.New()
	var got ConnectedPayload
	bus.Subscribe(EventConnected, func(data any) { got = data.(ConnectedPayload) })

	r := New(bus)
	d := r.Connect("gm1", models.DeviceTypeGM)

	require.True(t, d.Connected)
	require.Equal(t, "gm1", got.DeviceID)
	require.Equal(t, models.DeviceTypeGM, got.DeviceType)
}

func TestHeartbeat_UnknownDeviceReturnsFalse(t *testing.T) {
	r := New(eventbus.New())
	require.False(t, r.Heartbeat("ghost"))
}

func TestHeartbeat_UpdatesLastHeartbeat(t *testing.T) {
	var now time.Time
	r := New(eventbus.New(), WithNow(func() time.Time { return now }))

	now = time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	r.Connect("p1", models.DeviceTypePlayer)

	now = now.Add(5 * time.Second)
	require.True(t, r.Heartbeat("p1"))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, now, snap[0].LastHeartbeat)
}

func TestDisconnect_EmitsOnceAndIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	var fires int
	bus.Subscribe(EventDisconnected, func(any) { fires++ })

	r := New(bus)
	r.Connect("p1", models.DeviceTypePlayer)

	r.Disconnect("p1", "socket closed")
	r.Disconnect("p1", "socket closed")

	require.Equal(t, 1, fires, "disconnecting an already-disconnected device must not re-fire")
}

func TestDisconnect_UnknownDeviceIsNoop(t *testing.T) {
	bus := eventbus.New()
	var fires int
	bus.Subscribe(EventDisconnected, func(any) { fires++ })

	r := New(bus)
	r.Disconnect("ghost", "whatever")
	require.Equal(t, 0, fires)
}

func TestSnapshot_SortedByDeviceID(t *testing.T) {
	r := New(eventbus.New())
	r.Connect("zeta", models.DeviceTypeESP32)
	r.Connect("alpha", models.DeviceTypePlayer)
	r.Connect("mid", models.DeviceTypeGM)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []string{"alpha", "mid", "zeta"}, []string{snap[0].DeviceID, snap[1].DeviceID, snap[2].DeviceID})
}

func TestRestore_ReplacesWholesale(t *testing.T) {
	r := New(eventbus.New())
	r.Connect("stale", models.DeviceTypePlayer)

	r.Restore([]models.DeviceSummary{
		{DeviceID: "p1", DeviceType: models.DeviceTypePlayer, Connected: true},
	})

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "p1", snap[0].DeviceID)
}

func TestSweepTimeouts_DisconnectsStaleHTTPDevicesOnly(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	var disconnected []string
	bus.Subscribe(EventDisconnected, func(data any) {
		mu.Lock()
		defer mu.Unlock()
		disconnected = append(disconnected, data.(DisconnectedPayload).DeviceID)
	})

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	r := New(bus,
		WithNow(func() time.Time { return now }),
		WithMonitorInterval(10*time.Millisecond),
		WithHeartbeatTimeout(30*time.Second),
	)

	r.Connect("gm1", models.DeviceTypeGM)
	r.Connect("p1", models.DeviceTypePlayer)
	r.Heartbeat("gm1")
	r.Heartbeat("p1")

	now = now.Add(31 * time.Second)

	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1 && disconnected[0] == "p1"
	}, time.Second, 5*time.Millisecond, "only the player device should time out, GM is excluded from the sweep")
}

func TestStop_HaltsMonitorLoop(t *testing.T) {
	r := New(eventbus.New(), WithMonitorInterval(5*time.Millisecond))
	r.Start(context.Background())
	r.Stop()
}
