package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/tillpoint/posgo/internal/config"
	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/server"
)

// fakeStore is an in-memory Storage used to exercise the sync components
// without a database.
type fakeStore struct {
	mu gosync.Mutex

	txs       map[string]*models.OfflineTransaction
	logs      []models.SyncLogEntry
	conflicts map[string]*models.ConflictRecord
	cache     []models.CachedReferenceItem

	enqueueErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txs:       make(map[string]*models.OfflineTransaction),
		conflicts: make(map[string]*models.ConflictRecord),
	}
}

func (f *fakeStore) EnqueueTransaction(tx *models.OfflineTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	cp := *tx
	f.txs[tx.ID] = &cp
	return nil
}

func (f *fakeStore) GetTransaction(id string) (*models.OfflineTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction not found: %s", id)
	}
	cp := *tx
	return &cp, nil
}

func (f *fakeStore) ListByStatus(status models.TransactionStatus) ([]models.OfflineTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OfflineTransaction
	for _, tx := range f.txs {
		if tx.Status == status {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (f *fakeStore) NextEligible(now time.Time) ([]models.OfflineTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OfflineTransaction
	for _, tx := range f.txs {
		if tx.Status != models.TxStatusPending {
			continue
		}
		if tx.NextAttemptAt != nil && tx.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) UpdateTransactionStatus(id string, status models.TransactionStatus, lastError *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	tx.Status = status
	tx.LastError = lastError
	if status == models.TxStatusSynced {
		now := time.Now().UTC()
		tx.SyncedAt = &now
	}
	return nil
}

func (f *fakeStore) MarkAttempt(id string, nextAttemptAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	now := time.Now().UTC()
	tx.AttemptCount++
	tx.LastAttemptAt = &now
	tx.NextAttemptAt = nextAttemptAt
	return nil
}

func (f *fakeStore) SetServerSaleID(id, serverSaleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	tx.ServerSaleID = &serverSaleID
	return nil
}

func (f *fakeStore) UpdatePayload(id string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	tx.Payload = payload
	return nil
}

func (f *fakeStore) RequeueTransaction(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[id]
	if !ok {
		return fmt.Errorf("transaction not found: %s", id)
	}
	tx.Status = models.TxStatusPending
	tx.AttemptCount = 0
	tx.NextAttemptAt = nil
	tx.LastError = nil
	return nil
}

func (f *fakeStore) RecoverInFlight() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, tx := range f.txs {
		if tx.Status == models.TxStatusSyncing {
			tx.Status = models.TxStatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AppendSyncLog(entry *models.SyncLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.CreatedAt = time.Now().UTC()
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) ListSyncLog(transactionID string) ([]models.SyncLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SyncLogEntry
	for _, e := range f.logs {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertConflict(record *models.ConflictRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.conflicts {
		if existing.TransactionID == record.TransactionID &&
			existing.ResourceID == record.ResourceID &&
			existing.ResolutionStatus == models.ResolutionPending {
			delete(f.conflicts, existing.ID)
		}
	}
	cp := *record
	f.conflicts[record.ID] = &cp
	return nil
}

func (f *fakeStore) GetConflict(id string) (*models.ConflictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("conflict not found: %s", id)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) ListPendingConflicts() ([]models.ConflictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ConflictRecord
	for _, rec := range f.conflicts {
		if rec.ResolutionStatus == models.ResolutionPending {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) ResolveConflict(id string, status models.ResolutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.conflicts[id]
	if !ok {
		return fmt.Errorf("conflict not found: %s", id)
	}
	now := time.Now().UTC()
	rec.ResolutionStatus = status
	rec.ResolvedAt = &now
	return nil
}

func (f *fakeStore) CacheItems(items []models.CachedReferenceItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, item := range items {
		item.CachedAt = now
		replaced := false
		for i := range f.cache {
			if f.cache[i].Kind == item.Kind && f.cache[i].RemoteID == item.RemoteID {
				f.cache[i] = item
				replaced = true
				break
			}
		}
		if !replaced {
			f.cache = append(f.cache, item)
		}
	}
	return nil
}

func (f *fakeStore) SearchCache(kind models.CachedItemKind, query string, limit int) ([]models.CachedReferenceItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CachedReferenceItem
	for _, item := range f.cache {
		if item.Kind != kind {
			continue
		}
		if item.SKU == query || item.Barcode == query || item.Name == query || item.Phone == query {
			out = append(out, item)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) PurgeExpired(maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().UTC().Add(-maxAge)
	var kept []models.CachedReferenceItem
	var n int64
	for _, item := range f.cache {
		if item.CachedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, item)
	}
	f.cache = kept
	return n, nil
}

func (f *fakeStore) PruneSynced(retention time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) PruneSyncLog(maxAge time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) Stats() (*models.StoreStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.StoreStats{CachedCount: int64(len(f.cache))}
	for _, tx := range f.txs {
		switch tx.Status {
		case models.TxStatusPending:
			stats.PendingCount++
		case models.TxStatusSyncing:
			stats.SyncingCount++
		case models.TxStatusSynced:
			stats.SyncedCount++
		case models.TxStatusFailed, models.TxStatusAbandoned:
			stats.FailedCount++
		}
	}
	for _, rec := range f.conflicts {
		if rec.ResolutionStatus == models.ResolutionPending {
			stats.ConflictCount++
		}
	}
	return stats, nil
}

// fakeAPI is a scriptable ServerAPI
type fakeAPI struct {
	mu gosync.Mutex

	pingErr    error
	validateFn func(checks []server.ValidationCheck) ([]server.ValidationResult, error)
	createFn   func(idempotencyKey string, payload []byte) (string, error)
	searchFn   func(kind models.CachedItemKind, query string, page, pageSize int) ([]server.RemoteItem, bool, error)

	createKeys []string
	pingCount  int
}

func (f *fakeAPI) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCount++
	return f.pingErr
}

func (f *fakeAPI) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeAPI) ValidateSale(ctx context.Context, checks []server.ValidationCheck) ([]server.ValidationResult, error) {
	if f.validateFn != nil {
		return f.validateFn(checks)
	}
	results := make([]server.ValidationResult, 0, len(checks))
	for _, c := range checks {
		results = append(results, server.ValidationResult{ResourceID: c.ResourceID, Valid: true})
	}
	return results, nil
}

func (f *fakeAPI) CreateSale(ctx context.Context, idempotencyKey string, payload []byte) (string, error) {
	f.mu.Lock()
	f.createKeys = append(f.createKeys, idempotencyKey)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(idempotencyKey, payload)
	}
	return "S-" + idempotencyKey, nil
}

func (f *fakeAPI) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.createKeys))
	copy(out, f.createKeys)
	return out
}

func (f *fakeAPI) SearchProducts(ctx context.Context, query string, page, pageSize int) ([]server.RemoteItem, bool, error) {
	if f.searchFn != nil {
		return f.searchFn(models.CachedProduct, query, page, pageSize)
	}
	return nil, false, nil
}

func (f *fakeAPI) SearchCustomers(ctx context.Context, query string, page, pageSize int) ([]server.RemoteItem, bool, error) {
	if f.searchFn != nil {
		return f.searchFn(models.CachedCustomer, query, page, pageSize)
	}
	return nil, false, nil
}

// recordingNotifier captures emitted events
type recordingNotifier struct {
	mu     gosync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) seen(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// test wiring helpers

func testOfflineConfig() *config.OfflineConfig {
	return &config.OfflineConfig{
		AutoSyncEnabled:      false,
		AutoSyncInterval:     45,
		SyncOnStartup:        false,
		ProbeInterval:        15,
		DebounceMs:           2500,
		MaxAttempts:          5,
		BackoffBaseSec:       2,
		BackoffCapSec:        300,
		SyncedRetentionHours: 24,
		SyncLogRetentionDays: 14,
		CacheTTLDays:         7,
		CachePageSize:        100,
		CacheMaxPages:        10,
		CacheMaxResults:      25,
	}
}

// testMonitor returns a monitor pinned to the given state without probing
func testMonitor(online bool) *Monitor {
	m := NewMonitor(&fakeAPI{}, time.Hour, 0)
	m.state.Online = online
	m.state.LastTransitionAt = time.Now()
	return m
}

func queuedSale(id string, createdAt time.Time, lines ...models.SaleLine) *models.OfflineTransaction {
	draft := models.SaleDraft{
		TerminalID:    "terminal-test",
		PaymentMethod: "cash",
		Lines:         lines,
	}
	payload, _ := json.Marshal(draft)
	return &models.OfflineTransaction{
		ID:              id,
		TargetOperation: models.OpCreateSale,
		Payload:         payload,
		Status:          models.TxStatusPending,
		CreatedAt:       createdAt,
	}
}

func saleLine(productID string, qty, price float64) models.SaleLine {
	return models.SaleLine{ProductID: productID, Quantity: qty, UnitPrice: price}
}
