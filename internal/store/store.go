package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/tillpoint/posgo/internal/database"
	"github.com/tillpoint/posgo/internal/models"
	"gorm.io/gorm"
)

// ErrStorageUnavailable is returned when the local store cannot accept a
// write. The interceptor surfaces it to the caller instead of claiming an
// optimistic success: offline mode cannot be entered without a working store.
var ErrStorageUnavailable = errors.New("local store unavailable")

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// Store is the durable local persistence layer for the offline queue, the
// sync audit log, conflict records and the reference cache. All single-record
// mutations run inside a database transaction.
type Store struct {
	db *database.DB
}

// New creates a store over an open database connection
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// Migrate synchronizes the store's schema
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&models.OfflineTransaction{},
		&models.SyncLogEntry{},
		&models.ConflictRecord{},
		&models.CachedReferenceItem{},
	)
}

// EnqueueTransaction durably persists a new queued transaction
func (s *Store) EnqueueTransaction(tx *models.OfflineTransaction) error {
	if err := s.db.Create(tx).Error; err != nil {
		return wrap("enqueue", err)
	}
	return nil
}

// GetTransaction loads one transaction by id
func (s *Store) GetTransaction(id string) (*models.OfflineTransaction, error) {
	var tx models.OfflineTransaction
	err := s.db.First(&tx, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	if err != nil {
		return nil, wrap("get", err)
	}
	return &tx, nil
}

// ListByStatus returns transactions with the given status in creation order
func (s *Store) ListByStatus(status models.TransactionStatus) ([]models.OfflineTransaction, error) {
	var txs []models.OfflineTransaction
	err := s.db.Where("status = ?", status).
		Order("created_at ASC").
		Find(&txs).Error
	if err != nil {
		return nil, wrap("list_by_status", err)
	}
	return txs, nil
}

// NextEligible returns pending transactions whose backoff delay has elapsed,
// oldest first. Creation order preserves business ordering across one drain.
func (s *Store) NextEligible(now time.Time) ([]models.OfflineTransaction, error) {
	var txs []models.OfflineTransaction
	err := s.db.Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
		models.TxStatusPending, now).
		Order("created_at ASC").
		Find(&txs).Error
	if err != nil {
		return nil, wrap("next_eligible", err)
	}
	return txs, nil
}

// UpdateTransactionStatus atomically moves a transaction to a new status and
// records the failure detail if one is given
func (s *Store) UpdateTransactionStatus(id string, status models.TransactionStatus, lastError *string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":     status,
			"last_error": lastError,
		}
		if status == models.TxStatusSynced {
			now := time.Now().UTC()
			updates["synced_at"] = &now
		}
		return tx.Model(&models.OfflineTransaction{}).
			Where("id = ?", id).
			Updates(updates).Error
	})
	if err != nil {
		return wrap("update_status", err)
	}
	return nil
}

// MarkAttempt records one sync attempt: bumps the counter, stamps the attempt
// time and schedules the next eligible time for retryable failures
func (s *Store) MarkAttempt(id string, nextAttemptAt *time.Time) error {
	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&models.OfflineTransaction{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"attempt_count":   gorm.Expr("attempt_count + 1"),
				"last_attempt_at": &now,
				"next_attempt_at": nextAttemptAt,
			}).Error
	})
	if err != nil {
		return wrap("mark_attempt", err)
	}
	return nil
}

// SetServerSaleID records the canonical server identifier after a successful create
func (s *Store) SetServerSaleID(id, serverSaleID string) error {
	err := s.db.Model(&models.OfflineTransaction{}).
		Where("id = ?", id).
		Update("server_sale_id", serverSaleID).Error
	if err != nil {
		return wrap("set_server_sale_id", err)
	}
	return nil
}

// UpdatePayload replaces a transaction's payload (conflict resolution re-drive)
func (s *Store) UpdatePayload(id string, payload []byte) error {
	err := s.db.Model(&models.OfflineTransaction{}).
		Where("id = ?", id).
		Update("payload", payload).Error
	if err != nil {
		return wrap("update_payload", err)
	}
	return nil
}

// RequeueTransaction resets a transaction for a fresh sync cycle after a
// conflict decision adjusted it. Attempt bookkeeping starts over.
func (s *Store) RequeueTransaction(id string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&models.OfflineTransaction{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":          models.TxStatusPending,
				"attempt_count":   0,
				"next_attempt_at": nil,
				"last_error":      nil,
			}).Error
	})
	if err != nil {
		return wrap("requeue", err)
	}
	return nil
}

// RecoverInFlight resets transactions left in 'syncing' by a previous process
// to 'pending'. The create call reuses the idempotency id, so at-least-once
// redelivery is safe.
func (s *Store) RecoverInFlight() (int64, error) {
	res := s.db.Model(&models.OfflineTransaction{}).
		Where("status = ?", models.TxStatusSyncing).
		Update("status", models.TxStatusPending)
	if res.Error != nil {
		return 0, wrap("recover_in_flight", res.Error)
	}
	return res.RowsAffected, nil
}

// AppendSyncLog appends one audit record. Log entries are never mutated.
func (s *Store) AppendSyncLog(entry *models.SyncLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.db.Create(entry).Error; err != nil {
		return wrap("append_log", err)
	}
	return nil
}

// ListSyncLog returns the audit trail for one transaction, oldest first
func (s *Store) ListSyncLog(transactionID string) ([]models.SyncLogEntry, error) {
	var entries []models.SyncLogEntry
	err := s.db.Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, wrap("list_log", err)
	}
	return entries, nil
}

// UpsertConflict persists a conflict record, replacing an earlier pending
// record for the same transaction and resource
func (s *Store) UpsertConflict(record *models.ConflictRecord) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.ConflictRecord
		err := tx.Where("transaction_id = ? AND resource_id = ? AND resolution_status = ?",
			record.TransactionID, record.ResourceID, models.ResolutionPending).
			First(&existing).Error
		if err == nil {
			record.ID = existing.ID
			return tx.Save(record).Error
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return wrap("upsert_conflict", err)
	}
	return nil
}

// GetConflict loads one conflict record by id
func (s *Store) GetConflict(id string) (*models.ConflictRecord, error) {
	var rec models.ConflictRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("conflict %s not found", id)
	}
	if err != nil {
		return nil, wrap("get_conflict", err)
	}
	return &rec, nil
}

// ListPendingConflicts returns unresolved conflicts, oldest first
func (s *Store) ListPendingConflicts() ([]models.ConflictRecord, error) {
	var records []models.ConflictRecord
	err := s.db.Where("resolution_status = ?", models.ResolutionPending).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, wrap("list_conflicts", err)
	}
	return records, nil
}

// ResolveConflict moves a conflict record out of pending
func (s *Store) ResolveConflict(id string, status models.ResolutionStatus) error {
	now := time.Now().UTC()
	err := s.db.Model(&models.ConflictRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"resolution_status": status,
			"resolved_at":       &now,
		}).Error
	if err != nil {
		return wrap("resolve_conflict", err)
	}
	return nil
}

// CacheItems upserts reference cache snapshots
func (s *Store) CacheItems(items []models.CachedReferenceItem) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range items {
			items[i].CachedAt = now
			var existing models.CachedReferenceItem
			err := tx.Where("kind = ? AND remote_id = ?", items[i].Kind, items[i].RemoteID).
				First(&existing).Error
			if err == nil {
				items[i].ID = existing.ID
				if err := tx.Save(&items[i]).Error; err != nil {
					return err
				}
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrap("cache_items", err)
	}
	return nil
}

// SearchCache does a best-effort substring match over the cache's searchable
// fields. Results may be stale; callers filter by age.
func (s *Store) SearchCache(kind models.CachedItemKind, query string, limit int) ([]models.CachedReferenceItem, error) {
	var items []models.CachedReferenceItem
	pattern := "%" + query + "%"
	err := s.db.Where("kind = ?", kind).
		Where("sku ILIKE ? OR barcode = ? OR name ILIKE ? OR phone = ?",
			pattern, query, pattern, query).
		Order("cached_at DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, wrap("search_cache", err)
	}
	return items, nil
}

// PurgeExpired evicts cache entries older than maxAge
func (s *Store) PurgeExpired(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res := s.db.Where("cached_at < ?", cutoff).
		Delete(&models.CachedReferenceItem{})
	if res.Error != nil {
		return 0, wrap("purge_expired", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneSynced deletes synced transactions past the retention window
func (s *Store) PruneSynced(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res := s.db.Where("status = ? AND synced_at < ?", models.TxStatusSynced, cutoff).
		Delete(&models.OfflineTransaction{})
	if res.Error != nil {
		return 0, wrap("prune_synced", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneSyncLog deletes audit entries past the retention window
func (s *Store) PruneSyncLog(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res := s.db.Where("created_at < ?", cutoff).
		Delete(&models.SyncLogEntry{})
	if res.Error != nil {
		return 0, wrap("prune_log", res.Error)
	}
	return res.RowsAffected, nil
}

// DiscardFailed deletes a failed transaction after explicit user discard
func (s *Store) DiscardFailed(id string) error {
	res := s.db.Where("id = ? AND status IN ?", id,
		[]models.TransactionStatus{models.TxStatusFailed, models.TxStatusAbandoned}).
		Delete(&models.OfflineTransaction{})
	if res.Error != nil {
		return wrap("discard_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %s is not in a discardable state", id)
	}
	return nil
}

// Stats returns queue counters for the status reporter
func (s *Store) Stats() (*models.StoreStats, error) {
	stats := &models.StoreStats{}

	counts := []struct {
		status models.TransactionStatus
		out    *int64
	}{
		{models.TxStatusPending, &stats.PendingCount},
		{models.TxStatusSyncing, &stats.SyncingCount},
		{models.TxStatusSynced, &stats.SyncedCount},
	}
	for _, c := range counts {
		if err := s.db.Model(&models.OfflineTransaction{}).
			Where("status = ?", c.status).
			Count(c.out).Error; err != nil {
			return nil, wrap("stats", err)
		}
	}

	// Abandoned transactions are terminal failures as far as the UI is concerned
	if err := s.db.Model(&models.OfflineTransaction{}).
		Where("status IN ?", []models.TransactionStatus{models.TxStatusFailed, models.TxStatusAbandoned}).
		Count(&stats.FailedCount).Error; err != nil {
		return nil, wrap("stats", err)
	}

	if err := s.db.Model(&models.ConflictRecord{}).
		Where("resolution_status = ?", models.ResolutionPending).
		Count(&stats.ConflictCount).Error; err != nil {
		return nil, wrap("stats", err)
	}

	if err := s.db.Model(&models.CachedReferenceItem{}).
		Count(&stats.CachedCount).Error; err != nil {
		return nil, wrap("stats", err)
	}

	return stats, nil
}
