// Package offline implements spec.md §4.8: two bounded FIFO queues that
// absorb scans made while disconnected, plus a singleflight-guarded drain
// and an idempotent batch-submission cache. Grounded on the teacher's
// internal/poller retry-queue-at-head pattern (retryQueue []retryEntry,
// maxRetryAttempts) generalized to two named queues instead of one, and
// on golang.org/x/sync/singleflight the way ManuGH-xg2g's HTTP layer
// collapses concurrent identical requests into one in-flight call.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/idgen"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/store"
)

// Domain events this service publishes (spec.md §4.8).
const (
	EventScanLogged     = "scan:logged"
	EventQueueProcessed = "offline:queue:processed"
)

// DefaultMaxQueueSize is maxQueueSize's default (spec.md §4.8).
const DefaultMaxQueueSize = 100

// SessionSubmitter is the narrow seam offline needs into the session
// service — submit a scan, and know whether a session currently exists —
// kept as a local interface rather than an import of package session, the
// same seam-via-interface trick internal/idgen uses for id generation.
type SessionSubmitter interface {
	ProcessScan(ctx context.Context, req models.ScanRequest) (*models.ScanResponse, error)
	Current() *models.Session
}

// ProcessResult reports one drained item's outcome.
type ProcessResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"` // "processed" | "failed"
}

// ProcessedPayload is the EventQueueProcessed payload.
type ProcessedPayload struct {
	QueueSize int             `json:"queue_size"`
	Results   []ProcessResult `json:"results"`
}

// BatchRequest is the idempotent batch-submission request shape
// (spec.md §4.8 "a HTTP surface accepts {batchId, transactions[]}").
type BatchRequest struct {
	BatchID      string              `json:"batch_id"`
	Transactions []models.ScanRequest `json:"transactions"`
}

// BatchResponse is cached by BatchID; re-submission with the same
// BatchID returns the cached value unchanged.
type BatchResponse struct {
	BatchID string          `json:"batch_id"`
	Results []ProcessResult `json:"results"`
}

// Option configures a Service at construction.
type Option func(*Service)

// WithMaxQueueSize overrides the per-queue capacity (default 100).
func WithMaxQueueSize(n int) Option {
	return func(s *Service) { s.maxQueueSize = n }
}

// WithIDGenerator overrides the queue/transaction id source, for
// deterministic tests.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Service) { s.idgen = g }
}

// WithNow overrides the time source, for deterministic tests.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// Service is the offline queue authority (spec.md §4.8).
type Service struct {
	store   store.Store
	bus     *eventbus.Bus
	session SessionSubmitter
	idgen   idgen.Generator
	now     func() time.Time

	maxQueueSize int

	mu             sync.Mutex
	playerScans    []models.OfflineQueueItem
	gmTransactions []models.OfflineQueueItem
	isOffline      bool

	sf singleflight.Group

	batchMu    sync.Mutex
	batchCache map[string]*BatchResponse
}

// New constructs a Service. sessionSubmitter may be nil; in that case the
// gmTransaction queue drains are deferred until one becomes available
// through a fresh Service (the composition root always supplies one).
func New(st store.Store, bus *eventbus.Bus, sessionSubmitter SessionSubmitter, opts ...Option) *Service {
	s := &Service{
		store:        st,
		bus:          bus,
		session:      sessionSubmitter,
		idgen:        idgen.Default,
		now:          func() time.Time { return time.Now().UTC() },
		maxQueueSize: DefaultMaxQueueSize,
		batchCache:   make(map[string]*BatchResponse),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnqueuePlayerScan enqueues a content-scan log. Returns (nil, false) if
// the queue is at capacity.
func (s *Service) EnqueuePlayerScan(ctx context.Context, req models.ScanRequest) (*models.OfflineQueueItem, bool) {
	return s.enqueue(ctx, models.OfflineQueueKindPlayerScan, req)
}

// EnqueueGMTransaction enqueues a scoring transaction made while offline.
// Returns (nil, false) if the queue is at capacity.
func (s *Service) EnqueueGMTransaction(ctx context.Context, req models.ScanRequest) (*models.OfflineQueueItem, bool) {
	return s.enqueue(ctx, models.OfflineQueueKindGMTransaction, req)
}

func (s *Service) enqueue(ctx context.Context, kind models.OfflineQueueKind, req models.ScanRequest) (*models.OfflineQueueItem, bool) {
	s.mu.Lock()
	queue := s.queueForLocked(kind)
	if len(*queue) >= s.maxQueueSize {
		s.mu.Unlock()
		log.Printf("offline: %s queue full (%d), dropping enqueue", kind, s.maxQueueSize)
		return nil, false
	}
	item := models.OfflineQueueItem{
		QueueID:       fmt.Sprintf("%s_%s", kind, s.idgen.NewID()),
		Kind:          kind,
		TransactionID: req.TransactionID,
		QueuedAt:      s.now(),
		Payload:       req,
	}
	if item.TransactionID == "" {
		item.TransactionID = s.idgen.NewID()
	}
	*queue = append(*queue, item)
	s.mu.Unlock()

	s.persist(ctx)
	return &item, true
}

func (s *Service) queueForLocked(kind models.OfflineQueueKind) *[]models.OfflineQueueItem {
	if kind == models.OfflineQueueKindPlayerScan {
		return &s.playerScans
	}
	return &s.gmTransactions
}

// IsOffline reports the last status set via SetOfflineStatus.
func (s *Service) IsOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOffline
}

// SetOfflineStatus only acts on a state change (spec.md §4.8); a
// true→false transition schedules a non-blocking drain.
func (s *Service) SetOfflineStatus(ctx context.Context, offline bool) {
	s.mu.Lock()
	changed := s.isOffline != offline
	s.isOffline = offline
	s.mu.Unlock()
	if !changed {
		return
	}
	if !offline {
		go s.ProcessQueue(ctx)
	}
}

// ProcessQueue drains both queues under a singleflight guard: a call that
// arrives while a drain is already running waits for and shares that
// drain's result rather than running a second one concurrently.
func (s *Service) ProcessQueue(ctx context.Context) ProcessedPayload {
	v, _, _ := s.sf.Do("drain", func() (any, error) {
		return s.drain(ctx), nil
	})
	return v.(ProcessedPayload)
}

func (s *Service) drain(ctx context.Context) ProcessedPayload {
	s.mu.Lock()
	empty := len(s.playerScans) == 0 && len(s.gmTransactions) == 0
	s.mu.Unlock()
	if empty {
		return ProcessedPayload{}
	}

	var results []ProcessResult

	s.mu.Lock()
	scans := s.playerScans
	s.playerScans = nil
	s.mu.Unlock()
	for _, item := range scans {
		results = append(results, ProcessResult{TransactionID: item.TransactionID, Status: "processed"})
		s.bus.Publish(EventScanLogged, item)
	}

	if s.session != nil && s.session.Current() != nil {
		s.mu.Lock()
		gms := s.gmTransactions
		s.gmTransactions = nil
		s.mu.Unlock()

		var retry []models.OfflineQueueItem
		for _, item := range gms {
			req := item.Payload
			req.TransactionID = item.TransactionID
			resp, err := s.session.ProcessScan(ctx, req)
			if err != nil {
				item.RetryCount++
				retry = append(retry, item)
				results = append(results, ProcessResult{TransactionID: item.TransactionID, Status: "failed"})
				log.Printf("offline: re-queuing gm transaction %s: %v", item.TransactionID, err)
				continue
			}
			results = append(results, ProcessResult{TransactionID: resp.TransactionID, Status: "processed"})
		}
		if len(retry) > 0 {
			s.mu.Lock()
			s.gmTransactions = append(retry, s.gmTransactions...)
			s.mu.Unlock()
		}
	}

	s.persist(ctx)

	payload := ProcessedPayload{QueueSize: s.QueueSize(), Results: results}
	s.bus.Publish(EventQueueProcessed, payload)
	return payload
}

// QueueSize is the combined length of both queues.
func (s *Service) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.playerScans) + len(s.gmTransactions)
}

// PlayerScanQueue returns a snapshot of the pending content-log queue.
func (s *Service) PlayerScanQueue() []models.OfflineQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OfflineQueueItem(nil), s.playerScans...)
}

// GMTransactionQueue returns a snapshot of the pending scoring queue.
func (s *Service) GMTransactionQueue() []models.OfflineQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OfflineQueueItem(nil), s.gmTransactions...)
}

// ProcessBatch is the idempotent batch endpoint (spec.md §4.8): a repeat
// call with the same BatchID returns the cached response and emits no new
// events.
func (s *Service) ProcessBatch(ctx context.Context, req BatchRequest) *BatchResponse {
	s.batchMu.Lock()
	if cached, ok := s.batchCache[req.BatchID]; ok {
		s.batchMu.Unlock()
		return cached
	}
	s.batchMu.Unlock()

	var results []ProcessResult
	for _, txReq := range req.Transactions {
		if s.session == nil || s.session.Current() == nil {
			results = append(results, ProcessResult{TransactionID: txReq.TransactionID, Status: "failed"})
			continue
		}
		resp, err := s.session.ProcessScan(ctx, txReq)
		if err != nil {
			results = append(results, ProcessResult{TransactionID: txReq.TransactionID, Status: "failed"})
			continue
		}
		results = append(results, ProcessResult{TransactionID: resp.TransactionID, Status: "processed"})
	}

	resp := &BatchResponse{BatchID: req.BatchID, Results: results}
	s.batchMu.Lock()
	s.batchCache[req.BatchID] = resp
	s.batchMu.Unlock()
	return resp
}

func (s *Service) persist(ctx context.Context) {
	s.mu.Lock()
	snapshot := queueSnapshot{
		PlayerScans:    append([]models.OfflineQueueItem(nil), s.playerScans...),
		GMTransactions: append([]models.OfflineQueueItem(nil), s.gmTransactions...),
	}
	s.mu.Unlock()
	if err := store.SaveJSON(ctx, s.store, store.KeyOfflineQueue, snapshot); err != nil {
		log.Printf("offline: persisting queue: %v", err)
	}
}

type queueSnapshot struct {
	PlayerScans    []models.OfflineQueueItem `json:"playerScans"`
	GMTransactions []models.OfflineQueueItem `json:"gmTransactions"`
}

// Restore loads the persisted queue snapshot, accepting and migrating a
// legacy bare-array payload into playerScans (spec.md §4.8).
func (s *Service) Restore(ctx context.Context) error {
	blob, err := s.store.Load(ctx, store.KeyOfflineQueue)
	if err != nil {
		return err
	}
	if blob == nil {
		return nil
	}

	var snapshot queueSnapshot
	if err := json.Unmarshal(blob, &snapshot); err == nil {
		s.mu.Lock()
		s.playerScans = snapshot.PlayerScans
		s.gmTransactions = snapshot.GMTransactions
		s.mu.Unlock()
		return nil
	}

	var legacy []models.OfflineQueueItem
	if err := json.Unmarshal(blob, &legacy); err != nil {
		return err
	}
	s.mu.Lock()
	s.playerScans = legacy
	s.mu.Unlock()
	return nil
}
