package models

import "time"

// OfflineQueueKind distinguishes the two FIFO queues of spec.md §4.8 by
// their queueId prefix ("scan_" vs. "gm_").
type OfflineQueueKind string

const (
	OfflineQueueKindPlayerScan     OfflineQueueKind = "scan"
	OfflineQueueKindGMTransaction  OfflineQueueKind = "gm"
)

// OfflineQueueItem is one queued entry (spec.md §3 OfflineQueueItem). The
// payload fields mirror a ScanRequest; TransactionID is pre-assigned at
// enqueue time so batch drains are idempotent.
type OfflineQueueItem struct {
	QueueID       string           `json:"queue_id"`
	Kind          OfflineQueueKind `json:"kind"`
	TransactionID string           `json:"transaction_id"`
	QueuedAt      time.Time        `json:"queued_at"`
	RetryCount    int              `json:"retry_count"`
	Payload       ScanRequest      `json:"payload"`
}
