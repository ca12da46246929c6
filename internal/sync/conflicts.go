package sync

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/tillpoint/posgo/internal/models"
)

// ResolutionAction is the closed set of decisions a user can take on a conflict
type ResolutionAction string

const (
	ActionRetryAdjusted ResolutionAction = "retry_adjusted"
	ActionDropLine      ResolutionAction = "drop_line"
	ActionAbandon       ResolutionAction = "abandon"
)

// Decision carries one user decision for one conflict record
type Decision struct {
	Action          ResolutionAction `json:"action"`
	AdjustedPayload json.RawMessage  `json:"adjustedPayload,omitempty"`
}

// ConflictGroup bundles a transaction with its unresolved conflicts for
// UI presentation
type ConflictGroup struct {
	Transaction models.OfflineTransaction `json:"transaction"`
	Conflicts   []models.ConflictRecord   `json:"conflicts"`
}

// ConflictManager is the bookkeeping and re-drive mechanism for conflicts.
// It never auto-resolves: every record waits for an explicit decision.
type ConflictManager struct {
	store    Storage
	engine   *Engine
	notifier Notifier
}

// NewConflictManager creates a conflict resolution manager
func NewConflictManager(st Storage, engine *Engine, notifier Notifier) *ConflictManager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ConflictManager{
		store:    st,
		engine:   engine,
		notifier: notifier,
	}
}

// ListPending returns unresolved conflicts grouped by transaction
func (m *ConflictManager) ListPending() ([]ConflictGroup, error) {
	records, err := m.store.ListPendingConflicts()
	if err != nil {
		return nil, err
	}

	groups := make([]ConflictGroup, 0)
	index := make(map[string]int)

	for _, rec := range records {
		pos, ok := index[rec.TransactionID]
		if !ok {
			tx, err := m.store.GetTransaction(rec.TransactionID)
			if err != nil {
				log.Printf("⚠️ Conflict %s references missing transaction %s", rec.ID, rec.TransactionID)
				continue
			}
			groups = append(groups, ConflictGroup{Transaction: *tx})
			pos = len(groups) - 1
			index[rec.TransactionID] = pos
		}
		groups[pos].Conflicts = append(groups[pos].Conflicts, rec)
	}

	return groups, nil
}

// Resolve applies a user decision to one conflict record and, unless the
// transaction is abandoned, re-drives it through the sync engine.
func (m *ConflictManager) Resolve(conflictID string, decision Decision) error {
	record, err := m.store.GetConflict(conflictID)
	if err != nil {
		return err
	}
	if record.ResolutionStatus != models.ResolutionPending {
		return fmt.Errorf("conflict %s is already %s", conflictID, record.ResolutionStatus)
	}

	// No quantity adjustment can bring back a removed resource
	if record.Kind == models.ConflictResourceRemoved && decision.Action == ActionRetryAdjusted {
		return fmt.Errorf("conflict %s: resource was removed server-side, drop the line or abandon", conflictID)
	}

	tx, err := m.store.GetTransaction(record.TransactionID)
	if err != nil {
		return err
	}

	switch decision.Action {
	case ActionRetryAdjusted:
		return m.retryAdjusted(record, tx, decision.AdjustedPayload)
	case ActionDropLine:
		return m.dropLine(record, tx)
	case ActionAbandon:
		return m.abandon(record, tx)
	default:
		return fmt.Errorf("unknown resolution action: %q", decision.Action)
	}
}

// retryAdjusted replaces the payload and requeues the transaction
func (m *ConflictManager) retryAdjusted(record *models.ConflictRecord, tx *models.OfflineTransaction, payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("retry_adjusted requires an adjusted payload")
	}
	var draft models.SaleDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return fmt.Errorf("adjusted payload is not a valid sale draft: %w", err)
	}
	if len(draft.Lines) == 0 {
		return fmt.Errorf("adjusted payload has no line items, abandon the transaction instead")
	}

	if err := m.store.UpdatePayload(tx.ID, payload); err != nil {
		return err
	}
	return m.requeue(record, tx)
}

// dropLine removes the conflicting line from the payload and requeues. If
// the conflicting line was the only one, the sale is abandoned instead.
func (m *ConflictManager) dropLine(record *models.ConflictRecord, tx *models.OfflineTransaction) error {
	var draft models.SaleDraft
	if err := json.Unmarshal(tx.Payload, &draft); err != nil {
		return fmt.Errorf("failed to decode payload of %s: %w", tx.ID, err)
	}

	adjusted := draft.WithoutLine(record.ResourceID)
	if len(adjusted.Lines) == len(draft.Lines) {
		return fmt.Errorf("transaction %s has no line for resource %s", tx.ID, record.ResourceID)
	}
	if len(adjusted.Lines) == 0 {
		log.Printf("⚠️ Dropping the last line of %s, abandoning the sale", tx.ID)
		return m.abandon(record, tx)
	}

	payload, err := json.Marshal(adjusted)
	if err != nil {
		return fmt.Errorf("failed to encode adjusted payload: %w", err)
	}
	if err := m.store.UpdatePayload(tx.ID, payload); err != nil {
		return err
	}
	return m.requeue(record, tx)
}

// requeue marks the conflict resolved and makes the transaction eligible for
// the next drain pass
func (m *ConflictManager) requeue(record *models.ConflictRecord, tx *models.OfflineTransaction) error {
	if err := m.store.ResolveConflict(record.ID, models.ResolutionResolved); err != nil {
		return err
	}
	if err := m.store.RequeueTransaction(tx.ID); err != nil {
		return err
	}

	log.Printf("🔁 Conflict %s resolved, transaction %s requeued", record.ID, tx.ID)
	m.notifier.Notify("conflict_resolved", map[string]string{
		"conflict_id":    record.ID,
		"transaction_id": tx.ID,
	})
	m.engine.SyncNow("conflict_resolved")
	return nil
}

// abandon terminates the transaction and abandons all of its pending
// conflicts. The caller owns reversing any optimistic local effect.
func (m *ConflictManager) abandon(record *models.ConflictRecord, tx *models.OfflineTransaction) error {
	detail := "abandoned by user after conflict"
	if err := m.store.UpdateTransactionStatus(tx.ID, models.TxStatusAbandoned, &detail); err != nil {
		return err
	}

	pending, err := m.store.ListPendingConflicts()
	if err != nil {
		return err
	}
	// Abandoning the transaction abandons every pending conflict it owns,
	// including the record the decision arrived on
	for _, rec := range pending {
		if rec.TransactionID != tx.ID {
			continue
		}
		if err := m.store.ResolveConflict(rec.ID, models.ResolutionAbandoned); err != nil {
			return err
		}
	}

	log.Printf("🗑️ Transaction %s abandoned", tx.ID)
	m.notifier.Notify("transaction_abandoned", map[string]string{"transaction_id": tx.ID})
	return nil
}
