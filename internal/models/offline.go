package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JSONB type for PostgreSQL JSONB fields
type JSONB map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}

	result := make(JSONB)
	err := json.Unmarshal(bytes, &result)
	*j = result
	return err
}

// Value implements driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// TransactionStatus represents the lifecycle state of a queued transaction
type TransactionStatus string

const (
	TxStatusPending   TransactionStatus = "pending"
	TxStatusSyncing   TransactionStatus = "syncing"
	TxStatusSynced    TransactionStatus = "synced"
	TxStatusFailed    TransactionStatus = "failed"
	TxStatusConflict  TransactionStatus = "conflict"
	TxStatusAbandoned TransactionStatus = "abandoned"
)

// TargetOperation identifies which external write a queued transaction represents
type TargetOperation string

const (
	OpCreateSale TargetOperation = "create_sale"
)

// OfflineTransaction is one queued write operation. Its ID doubles as the
// idempotency key sent to the central server, so a retried submission after a
// network blip has at most one server-side effect.
type OfflineTransaction struct {
	ID              string            `gorm:"type:varchar(36);primaryKey" json:"id"`
	TargetOperation TargetOperation   `gorm:"type:varchar(50);not null" json:"targetOperation"`
	Payload         datatypes.JSON    `gorm:"type:jsonb" json:"payload"`
	Status          TransactionStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_tx_status" json:"status"`
	AttemptCount    int               `gorm:"default:0" json:"attemptCount"`
	LastError       *string           `gorm:"type:text" json:"lastError,omitempty"`
	NextAttemptAt   *time.Time        `json:"nextAttemptAt,omitempty"`
	LastAttemptAt   *time.Time        `json:"lastAttemptAt,omitempty"`
	SyncedAt        *time.Time        `json:"syncedAt,omitempty"`
	ServerSaleID    *string           `gorm:"type:varchar(255)" json:"serverSaleId,omitempty"`
	CreatedAt       time.Time         `gorm:"not null;index:idx_tx_created" json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// TableName specifies the table name
func (OfflineTransaction) TableName() string {
	return "offline_transactions"
}

// BeforeCreate hook
func (tx *OfflineTransaction) BeforeCreate(db *gorm.DB) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	return nil
}

// SyncLogEntry is an append-only audit record of one synchronization attempt.
// Entries are never mutated, only pruned by age.
type SyncLogEntry struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TransactionID string    `gorm:"type:varchar(36);not null;index:idx_log_tx" json:"transactionId"`
	Outcome       string    `gorm:"type:varchar(50);not null" json:"outcome"`
	Detail        string    `gorm:"type:text" json:"detail"`
	CreatedAt     time.Time `gorm:"not null;index:idx_log_created" json:"createdAt"`
}

// TableName specifies the table name
func (SyncLogEntry) TableName() string {
	return "sync_log_entries"
}

// ConflictKind classifies what the server found wrong during validation
type ConflictKind string

const (
	ConflictInsufficient    ConflictKind = "insufficient"
	ConflictResourceRemoved ConflictKind = "resource_removed"
	ConflictPriceChanged    ConflictKind = "price_changed"
)

// ResolutionStatus represents the status of a conflict record
type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionAbandoned ResolutionStatus = "abandoned"
)

// ConflictRecord is one unresolved discrepancy discovered during validation.
// One record per failing resource, keyed back to the queued transaction.
type ConflictRecord struct {
	ID               string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionID    string           `gorm:"type:varchar(36);not null;index:idx_conflict_tx" json:"transactionId"`
	ResourceID       string           `gorm:"type:varchar(255);not null" json:"resourceId"`
	Kind             ConflictKind     `gorm:"type:varchar(50);not null" json:"conflictKind"`
	ServerSnapshot   JSONB            `gorm:"type:jsonb" json:"serverSnapshot"`
	ResolutionStatus ResolutionStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_conflict_pending" json:"resolutionStatus"`
	ResolvedAt       *time.Time       `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time        `gorm:"not null" json:"createdAt"`
}

// TableName specifies the table name
func (ConflictRecord) TableName() string {
	return "conflict_records"
}

// CachedItemKind distinguishes cached lookup entity types
type CachedItemKind string

const (
	CachedProduct  CachedItemKind = "product"
	CachedCustomer CachedItemKind = "customer"
)

// CachedReferenceItem is a best-effort snapshot of a remote lookup entity.
// Never authoritative: availability is always re-checked server-side during sync.
type CachedReferenceItem struct {
	ID       uint           `gorm:"primaryKey" json:"id"`
	Kind     CachedItemKind `gorm:"type:varchar(20);not null;uniqueIndex:idx_cache_entity" json:"kind"`
	RemoteID string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_cache_entity" json:"remoteId"`
	SKU      string         `gorm:"type:varchar(100);index" json:"sku"`
	Barcode  string         `gorm:"type:varchar(100);index" json:"barcode"`
	Name     string         `gorm:"type:varchar(255);index" json:"name"`
	Phone    string         `gorm:"type:varchar(50);index" json:"phone"`
	Data     datatypes.JSON `gorm:"type:jsonb" json:"data"`
	CachedAt time.Time      `gorm:"not null;index:idx_cache_age" json:"cachedAt"`
}

// TableName specifies the table name
func (CachedReferenceItem) TableName() string {
	return "cached_reference_items"
}

// StoreStats aggregates queue counters for the status reporter
type StoreStats struct {
	PendingCount  int64 `json:"pendingCount"`
	SyncingCount  int64 `json:"syncingCount"`
	SyncedCount   int64 `json:"syncedCount"`
	FailedCount   int64 `json:"failedCount"`
	ConflictCount int64 `json:"conflictCount"`
	CachedCount   int64 `json:"cachedCount"`
}
