package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/server"
)

// ResultSource indicates where a sale result came from
type ResultSource string

const (
	SourceServer ResultSource = "server"
	SourceQueued ResultSource = "queued"
	SourceCache  ResultSource = "cache"
)

// SaleResult is what the write path hands back to the UI. A queued result is
// optimistic: the sale id is the local transaction id until sync replaces it
// with the canonical server identifier.
type SaleResult struct {
	Source        ResultSource `json:"source"`
	SaleID        string       `json:"saleId"`
	TransactionID string       `json:"transactionId"`
	Total         float64      `json:"total"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Interceptor sits in front of the create-sale write path. When the terminal
// is offline, or the direct call fails with a network-class error, it durably
// queues the operation and returns an optimistic local result. Business
// rejections and storage failures are surfaced, never swallowed.
type Interceptor struct {
	store    Storage
	api      ServerAPI
	monitor  *Monitor
	engine   *Engine
	notifier Notifier
}

// NewInterceptor creates an offline interceptor
func NewInterceptor(st Storage, api ServerAPI, monitor *Monitor, engine *Engine, notifier Notifier) *Interceptor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Interceptor{
		store:    st,
		api:      api,
		monitor:  monitor,
		engine:   engine,
		notifier: notifier,
	}
}

// CreateSale attempts the sale directly when online and falls back to the
// durable queue on network failure. After it returns without error, the sale
// is either persisted server-side or durably queued — never held in memory only.
func (i *Interceptor) CreateSale(ctx context.Context, draft models.SaleDraft) (*SaleResult, error) {
	if len(draft.Lines) == 0 {
		return nil, fmt.Errorf("sale draft has no line items")
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale draft: %w", err)
	}

	// The idempotency id is fixed before the first network attempt so a
	// retry after a blind success cannot create a second sale.
	id := newID()

	if i.monitor.State().Online {
		serverSaleID, err := i.api.CreateSale(ctx, id, payload)
		if err == nil {
			return &SaleResult{
				Source:        SourceServer,
				SaleID:        serverSaleID,
				TransactionID: id,
				Total:         draft.Total(),
				CreatedAt:     time.Now().UTC(),
			}, nil
		}

		var netErr *server.NetworkError
		if !errors.As(err, &netErr) {
			// Business-logic rejection or live conflict: not interceptable
			return nil, err
		}

		log.Printf("⚠️ Direct sale failed on the wire, queueing offline: %v", err)
		i.monitor.Recheck()
	}

	return i.enqueue(id, payload, draft)
}

// enqueue durably stores the transaction and returns the optimistic result
func (i *Interceptor) enqueue(id string, payload []byte, draft models.SaleDraft) (*SaleResult, error) {
	tx := &models.OfflineTransaction{
		ID:              id,
		TargetOperation: models.OpCreateSale,
		Payload:         payload,
		Status:          models.TxStatusPending,
		CreatedAt:       time.Now().UTC(),
	}

	if err := i.store.EnqueueTransaction(tx); err != nil {
		// Without a durable queue there is no offline mode: fail loudly
		return nil, err
	}

	log.Printf("📥 Sale queued offline: %s (%d line items)", id, len(draft.Lines))
	i.notifier.Notify("transaction_queued", map[string]interface{}{
		"transaction_id": id,
		"total":          draft.Total(),
	})
	i.engine.NotifyQueued(id)

	return &SaleResult{
		Source:        SourceQueued,
		SaleID:        id,
		TransactionID: id,
		Total:         draft.Total(),
		CreatedAt:     tx.CreatedAt,
	}, nil
}
