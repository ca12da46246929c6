package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tillpoint/posgo/internal/config"
	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/server"
)

// Engine drains the offline queue against the central server. At most one
// drain runs at a time; concurrent triggers (timer, reconnect, manual call)
// coalesce into at most one queued follow-up run.
type Engine struct {
	mu sync.RWMutex

	store    Storage
	api      ServerAPI
	cfg      *config.OfflineConfig
	monitor  *Monitor
	notifier Notifier

	isRunning  bool
	isSyncing  bool
	lastSyncAt time.Time

	stopChan chan struct{}
	msgChan  chan engineMessage
}

// NewEngine creates a sync engine
func NewEngine(st Storage, api ServerAPI, cfg *config.OfflineConfig, monitor *Monitor, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Engine{
		store:    st,
		api:      api,
		cfg:      cfg,
		monitor:  monitor,
		notifier: notifier,
		stopChan: make(chan struct{}),
		msgChan:  make(chan engineMessage, 16),
	}
}

// Start recovers in-flight state from a previous process and starts the
// worker, the reconnect listener and the periodic timer.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("sync engine already running")
	}
	e.isRunning = true
	e.mu.Unlock()

	log.Println("🔄 Sync Engine starting...")

	// Any transaction found 'syncing' belonged to a process that died
	// mid-drain. The create call reuses the idempotency id, so treating it
	// as pending again is safe.
	recovered, err := e.store.RecoverInFlight()
	if err != nil {
		return fmt.Errorf("failed to recover in-flight transactions: %w", err)
	}
	if recovered > 0 {
		log.Printf("🧹 Recovered %d in-flight transaction(s) to pending", recovered)
	}

	go e.worker()
	go e.reconnectListener()
	if e.cfg.AutoSyncEnabled {
		go e.autoSyncLoop()
	}

	if e.cfg.SyncOnStartup {
		e.SyncNow("startup")
	}

	log.Println("✅ Sync Engine started")
	return nil
}

// Stop stops the engine
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isRunning {
		return
	}
	log.Println("🛑 Stopping Sync Engine...")
	e.isRunning = false
	close(e.stopChan)
}

// SyncNow requests a drain. If one is already queued this is a no-op.
func (e *Engine) SyncNow(reason string) {
	select {
	case e.msgChan <- drainRequest{reason: reason}:
	default:
		// Worker backlog already holds requests; nothing to add
	}
}

// NotifyQueued tells the engine a transaction was just enqueued
func (e *Engine) NotifyQueued(id string) {
	select {
	case e.msgChan <- transactionQueued{id: id}:
	default:
	}
}

// IsSyncing reports whether a drain is in progress
func (e *Engine) IsSyncing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isSyncing
}

// LastSyncAt returns the completion time of the last drain
func (e *Engine) LastSyncAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSyncAt
}

// reconnectListener forwards debounced connectivity transitions to the worker
func (e *Engine) reconnectListener() {
	transitions := e.monitor.Subscribe()
	for {
		select {
		case online := <-transitions:
			select {
			case e.msgChan <- connectivityChanged{online: online}:
			default:
			}
		case <-e.stopChan:
			return
		}
	}
}

// autoSyncLoop periodically triggers a drain while online with a non-empty queue
func (e *Engine) autoSyncLoop() {
	ticker := time.NewTicker(time.Duration(e.cfg.AutoSyncInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.monitor.State().Online {
				continue
			}
			stats, err := e.store.Stats()
			if err != nil {
				log.Printf("⚠️ Auto-sync: stats unavailable: %v", err)
				continue
			}
			if stats.PendingCount > 0 {
				e.SyncNow("timer")
			}
		case <-e.stopChan:
			return
		}
	}
}

// worker serializes all drain executions
func (e *Engine) worker() {
	for {
		select {
		case msg := <-e.msgChan:
			switch m := msg.(type) {
			case drainRequest:
				e.runDrain(m.reason)
			case transactionQueued:
				if e.monitor.State().Online {
					e.runDrain("queued:" + m.id)
				}
			case connectivityChanged:
				if m.online {
					e.runDrain("reconnect")
				}
			}
		case <-e.stopChan:
			return
		}
	}
}

// runDrain executes one full queue pass and any coalesced follow-up
func (e *Engine) runDrain(reason string) {
	e.mu.Lock()
	e.isSyncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isSyncing = false
		e.lastSyncAt = time.Now()
		e.mu.Unlock()
		e.notifier.Notify("sync_finished", nil)
	}()

	start := time.Now()
	log.Printf("🔄 Drain started (%s)", reason)

	e.notifier.Notify("sync_started", nil)
	synced, conflicts, failed := e.drain()

	log.Printf("✅ Drain completed in %v: %d synced, %d conflicts, %d failed",
		time.Since(start), synced, conflicts, failed)

	e.housekeeping()
}

// drain processes all eligible transactions in creation order. One bad
// transaction never blocks the rest of the queue.
func (e *Engine) drain() (synced, conflicts, failed int) {
	txs, err := e.store.NextEligible(time.Now().UTC())
	if err != nil {
		log.Printf("⚠️ Drain aborted: %v", err)
		return
	}

	for i := range txs {
		switch e.processTransaction(&txs[i]) {
		case models.TxStatusSynced:
			synced++
		case models.TxStatusConflict:
			conflicts++
		case models.TxStatusFailed:
			failed++
		}
	}
	return
}

// processTransaction runs the per-transaction state machine and returns the
// resulting status
func (e *Engine) processTransaction(tx *models.OfflineTransaction) models.TransactionStatus {
	if err := e.store.UpdateTransactionStatus(tx.ID, models.TxStatusSyncing, nil); err != nil {
		log.Printf("⚠️ Could not mark %s syncing: %v", tx.ID, err)
		return models.TxStatusPending
	}
	e.appendLog(tx.ID, "started", "")

	checks, decodeErr := validationChecks(tx)
	if decodeErr != nil {
		// Undecodable payload can never succeed server-side
		return e.reject(tx, fmt.Sprintf("payload decode failed: %v", decodeErr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if len(checks) > 0 {
		results, err := e.api.ValidateSale(ctx, checks)
		if err != nil {
			return e.dispatchError(tx, "validate", err)
		}
		if failing := failingResults(results); len(failing) > 0 {
			return e.conflict(tx, failing)
		}
	}

	serverSaleID, err := e.api.CreateSale(ctx, tx.ID, tx.Payload)
	if err != nil {
		return e.dispatchError(tx, "create", err)
	}

	if err := e.store.SetServerSaleID(tx.ID, serverSaleID); err != nil {
		log.Printf("⚠️ Could not record server sale id for %s: %v", tx.ID, err)
	}
	if err := e.store.UpdateTransactionStatus(tx.ID, models.TxStatusSynced, nil); err != nil {
		log.Printf("⚠️ Could not mark %s synced: %v", tx.ID, err)
		return models.TxStatusPending
	}
	e.appendLog(tx.ID, "synced", "server sale "+serverSaleID)
	e.notifier.Notify("transaction_synced", map[string]string{
		"transaction_id": tx.ID,
		"server_sale_id": serverSaleID,
	})
	return models.TxStatusSynced
}

// dispatchError maps a server error onto the transaction state machine
func (e *Engine) dispatchError(tx *models.OfflineTransaction, op string, err error) models.TransactionStatus {
	var netErr *server.NetworkError
	var bizErr *server.BusinessRejection
	var valErr *server.ValidationConflict

	switch {
	case errors.As(err, &valErr):
		return e.conflict(tx, conflictsFromError(valErr))
	case errors.As(err, &bizErr):
		return e.reject(tx, bizErr.Error())
	case errors.As(err, &netErr):
		return e.retryLater(tx, op, netErr)
	default:
		// Treat unknown errors as transient rather than losing the sale
		return e.retryLater(tx, op, err)
	}
}

// conflict records one ConflictRecord per failing resource and parks the
// transaction for human resolution
func (e *Engine) conflict(tx *models.OfflineTransaction, resources []server.ResourceConflict) models.TransactionStatus {
	for _, rc := range resources {
		record := &models.ConflictRecord{
			ID:               newID(),
			TransactionID:    tx.ID,
			ResourceID:       rc.ResourceID,
			Kind:             conflictKind(rc),
			ServerSnapshot:   snapshotWithAvailability(rc),
			ResolutionStatus: models.ResolutionPending,
			CreatedAt:        time.Now().UTC(),
		}
		if err := e.store.UpsertConflict(record); err != nil {
			log.Printf("⚠️ Could not persist conflict for %s/%s: %v", tx.ID, rc.ResourceID, err)
		}
	}

	detail := fmt.Sprintf("%d resource(s) in conflict", len(resources))
	if err := e.store.UpdateTransactionStatus(tx.ID, models.TxStatusConflict, &detail); err != nil {
		log.Printf("⚠️ Could not mark %s conflict: %v", tx.ID, err)
		return models.TxStatusPending
	}
	e.appendLog(tx.ID, "conflict", detail)
	e.notifier.Notify("transaction_conflict", map[string]interface{}{
		"transaction_id": tx.ID,
		"resources":      len(resources),
	})
	return models.TxStatusConflict
}

// reject marks a transaction permanently failed; no automatic retry
func (e *Engine) reject(tx *models.OfflineTransaction, detail string) models.TransactionStatus {
	if err := e.store.UpdateTransactionStatus(tx.ID, models.TxStatusFailed, &detail); err != nil {
		log.Printf("⚠️ Could not mark %s failed: %v", tx.ID, err)
		return models.TxStatusPending
	}
	e.appendLog(tx.ID, "rejected", detail)
	e.notifier.Notify("transaction_failed", map[string]string{"transaction_id": tx.ID})
	return models.TxStatusFailed
}

// retryLater handles a transport failure: leave pending with backoff while
// the attempt budget lasts, mark failed once it is exhausted
func (e *Engine) retryLater(tx *models.OfflineTransaction, op string, cause error) models.TransactionStatus {
	attempt := tx.AttemptCount + 1
	detail := fmt.Sprintf("%s: %v", op, cause)

	if attempt >= e.cfg.MaxAttempts {
		if err := e.store.MarkAttempt(tx.ID, nil); err != nil {
			log.Printf("⚠️ Could not record attempt for %s: %v", tx.ID, err)
		}
		e.appendLog(tx.ID, "exhausted", detail)
		return e.reject(tx, fmt.Sprintf("retries exhausted after %d attempts: %v", attempt, cause))
	}

	delay := backoffDelay(e.cfg.BackoffBase(), e.cfg.BackoffCap(), attempt)
	next := time.Now().UTC().Add(delay)
	if err := e.store.MarkAttempt(tx.ID, &next); err != nil {
		log.Printf("⚠️ Could not record attempt for %s: %v", tx.ID, err)
	}
	if err := e.store.UpdateTransactionStatus(tx.ID, models.TxStatusPending, &detail); err != nil {
		log.Printf("⚠️ Could not return %s to pending: %v", tx.ID, err)
	}
	e.appendLog(tx.ID, "retry_scheduled", fmt.Sprintf("attempt %d, next in %v: %v", attempt, delay, cause))
	return models.TxStatusPending
}

// housekeeping prunes aged records after a drain
func (e *Engine) housekeeping() {
	retention := time.Duration(e.cfg.SyncedRetentionHours) * time.Hour
	if n, err := e.store.PruneSynced(retention); err == nil && n > 0 {
		log.Printf("🧹 Pruned %d synced transaction(s)", n)
	}

	logAge := time.Duration(e.cfg.SyncLogRetentionDays) * 24 * time.Hour
	if n, err := e.store.PruneSyncLog(logAge); err == nil && n > 0 {
		log.Printf("🧹 Pruned %d sync log entrie(s)", n)
	}

	if n, err := e.store.PurgeExpired(e.cfg.CacheTTL()); err == nil && n > 0 {
		log.Printf("🧹 Evicted %d expired cache item(s)", n)
	}
}

// appendLog writes one audit record, tolerating log failures
func (e *Engine) appendLog(txID, outcome, detail string) {
	err := e.store.AppendSyncLog(&models.SyncLogEntry{
		TransactionID: txID,
		Outcome:       outcome,
		Detail:        detail,
	})
	if err != nil {
		log.Printf("⚠️ Could not append sync log for %s: %v", txID, err)
	}
}

// backoffDelay computes min(2^attempt * base, maxDelay) for attempt >= 1
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		return maxDelay
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// validationChecks extracts the resource references of a queued sale
func validationChecks(tx *models.OfflineTransaction) ([]server.ValidationCheck, error) {
	var draft models.SaleDraft
	if err := json.Unmarshal(tx.Payload, &draft); err != nil {
		return nil, err
	}

	checks := make([]server.ValidationCheck, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		checks = append(checks, server.ValidationCheck{
			TransactionID:     tx.ID,
			ResourceID:        line.ProductID,
			RequestedQuantity: line.Quantity,
		})
	}
	return checks, nil
}

// failingResults converts invalid validation results to resource conflicts
func failingResults(results []server.ValidationResult) []server.ResourceConflict {
	var failing []server.ResourceConflict
	for _, r := range results {
		if r.Valid {
			continue
		}
		failing = append(failing, server.ResourceConflict{
			ResourceID:        r.ResourceID,
			Kind:              models.ConflictKind(r.ConflictKind),
			AvailableQuantity: r.AvailableQuantity,
			Snapshot:          r.Snapshot,
		})
	}
	return failing
}

// conflictsFromError unwraps the 409 resource detail
func conflictsFromError(err *server.ValidationConflict) []server.ResourceConflict {
	return err.Resources
}

// conflictKind normalizes the server's conflict tag
func conflictKind(rc server.ResourceConflict) models.ConflictKind {
	switch rc.Kind {
	case models.ConflictInsufficient, models.ConflictResourceRemoved, models.ConflictPriceChanged:
		return rc.Kind
	default:
		return models.ConflictInsufficient
	}
}

// snapshotWithAvailability folds the reported availability into the snapshot
func snapshotWithAvailability(rc server.ResourceConflict) models.JSONB {
	snapshot := models.JSONB{}
	for k, v := range rc.Snapshot {
		snapshot[k] = v
	}
	if rc.AvailableQuantity != nil {
		snapshot["available_quantity"] = *rc.AvailableQuantity
	}
	return snapshot
}
