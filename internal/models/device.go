package models

import "time"

// DeviceSummary is the aggregator's per-console view (spec.md §4.11
// Device registry, §4.12 sync:full "devices" field).
type DeviceSummary struct {
	DeviceID      string     `json:"device_id"`
	DeviceType    DeviceType `json:"device_type"`
	Connected     bool       `json:"connected"`
	ConnectedAt   time.Time  `json:"connected_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}
