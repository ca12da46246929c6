package sync

import (
	"context"
	"time"

	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/server"
)

// ConnectivityState is the process-wide reachability snapshot. Single writer
// (the monitor), multi-reader.
type ConnectivityState struct {
	Online           bool      `json:"online"`
	LastTransitionAt time.Time `json:"lastTransitionAt"`
}

// Storage is the persistence contract required by the sync components.
// *store.Store implements it; tests substitute an in-memory fake.
type Storage interface {
	EnqueueTransaction(tx *models.OfflineTransaction) error
	GetTransaction(id string) (*models.OfflineTransaction, error)
	ListByStatus(status models.TransactionStatus) ([]models.OfflineTransaction, error)
	NextEligible(now time.Time) ([]models.OfflineTransaction, error)
	UpdateTransactionStatus(id string, status models.TransactionStatus, lastError *string) error
	MarkAttempt(id string, nextAttemptAt *time.Time) error
	SetServerSaleID(id, serverSaleID string) error
	UpdatePayload(id string, payload []byte) error
	RequeueTransaction(id string) error
	RecoverInFlight() (int64, error)

	AppendSyncLog(entry *models.SyncLogEntry) error
	ListSyncLog(transactionID string) ([]models.SyncLogEntry, error)

	UpsertConflict(record *models.ConflictRecord) error
	GetConflict(id string) (*models.ConflictRecord, error)
	ListPendingConflicts() ([]models.ConflictRecord, error)
	ResolveConflict(id string, status models.ResolutionStatus) error

	CacheItems(items []models.CachedReferenceItem) error
	SearchCache(kind models.CachedItemKind, query string, limit int) ([]models.CachedReferenceItem, error)
	PurgeExpired(maxAge time.Duration) (int64, error)
	PruneSynced(retention time.Duration) (int64, error)
	PruneSyncLog(maxAge time.Duration) (int64, error)

	Stats() (*models.StoreStats, error)
}

// ServerAPI is the central-server contract consumed by the engine, the
// interceptor and the cache manager. *server.Client implements it.
type ServerAPI interface {
	Ping(ctx context.Context) error
	ValidateSale(ctx context.Context, checks []server.ValidationCheck) ([]server.ValidationResult, error)
	CreateSale(ctx context.Context, idempotencyKey string, payload []byte) (string, error)
	SearchProducts(ctx context.Context, query string, page, pageSize int) ([]server.RemoteItem, bool, error)
	SearchCustomers(ctx context.Context, query string, page, pageSize int) ([]server.RemoteItem, bool, error)
}

// Notifier receives terminal-local events for the UI push channel
type Notifier interface {
	Notify(event string, data interface{})
}

// NopNotifier discards all events
type NopNotifier struct{}

// Notify implements Notifier
func (NopNotifier) Notify(string, interface{}) {}

// engineMessage is the closed set of messages handled by the engine worker.
// Keeping the variants sealed makes the dispatch exhaustively checkable.
type engineMessage interface {
	isEngineMessage()
}

// drainRequest asks the worker for one full pass over the queue
type drainRequest struct {
	reason string
}

// transactionQueued tells the worker a new transaction was enqueued
type transactionQueued struct {
	id string
}

// connectivityChanged carries a debounced online/offline transition
type connectivityChanged struct {
	online bool
}

func (drainRequest) isEngineMessage()        {}
func (transactionQueued) isEngineMessage()   {}
func (connectivityChanged) isEngineMessage() {}
