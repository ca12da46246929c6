package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/tillpoint/posgo/internal/models"
	"github.com/tillpoint/posgo/internal/server"
	"github.com/tillpoint/posgo/internal/store"
)

func newTestInterceptor(st Storage, api ServerAPI, online bool) (*Interceptor, *recordingNotifier) {
	notifier := &recordingNotifier{}
	monitor := testMonitor(online)
	engine := NewEngine(st, api, testOfflineConfig(), monitor, notifier)
	return NewInterceptor(st, api, monitor, engine, notifier), notifier
}

func testDraft(lines ...models.SaleLine) models.SaleDraft {
	return models.SaleDraft{
		TerminalID:    "terminal-test",
		PaymentMethod: "cash",
		Lines:         lines,
	}
}

func TestOnlineSaleGoesDirect(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{}
	api.createFn = func(key string, payload []byte) (string, error) {
		return "S-42", nil
	}
	ic, _ := newTestInterceptor(st, api, true)

	result, err := ic.CreateSale(context.Background(), testDraft(saleLine("p-1", 2, 9.5)))
	if err != nil {
		t.Fatalf("Failed to create sale: %v", err)
	}

	if result.Source != SourceServer {
		t.Errorf("Expected server source, got %s", result.Source)
	}
	if result.SaleID != "S-42" {
		t.Errorf("Expected canonical sale id, got %s", result.SaleID)
	}
	if result.Total != 19.0 {
		t.Errorf("Expected total 19.0, got %v", result.Total)
	}

	// Direct success leaves nothing in the queue
	pending, _ := st.ListByStatus(models.TxStatusPending)
	if len(pending) != 0 {
		t.Errorf("Expected empty queue after direct success, got %d", len(pending))
	}
}

func TestOfflineSaleIsQueued(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{}
	ic, notifier := newTestInterceptor(st, api, false)

	result, err := ic.CreateSale(context.Background(), testDraft(saleLine("p-1", 1, 5)))
	if err != nil {
		t.Fatalf("Failed to queue sale: %v", err)
	}

	if result.Source != SourceQueued {
		t.Errorf("Expected queued source, got %s", result.Source)
	}
	if result.SaleID != result.TransactionID {
		t.Error("Expected the optimistic sale id to be the local transaction id")
	}
	if len(api.keys()) != 0 {
		t.Error("Expected no network attempt while offline")
	}

	tx, err := st.GetTransaction(result.TransactionID)
	if err != nil {
		t.Fatalf("Expected a durable queue entry: %v", err)
	}
	if tx.Status != models.TxStatusPending {
		t.Errorf("Expected pending, got %s", tx.Status)
	}
	if tx.TargetOperation != models.OpCreateSale {
		t.Errorf("Unexpected target operation %s", tx.TargetOperation)
	}
	if !notifier.seen("transaction_queued") {
		t.Error("Expected a transaction_queued event")
	}
}

func TestNetworkFailureFallsBackToQueue(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{}
	api.createFn = func(key string, payload []byte) (string, error) {
		return "", &server.NetworkError{Op: "create_sale", Err: fmt.Errorf("broken pipe")}
	}
	ic, _ := newTestInterceptor(st, api, true)

	result, err := ic.CreateSale(context.Background(), testDraft(saleLine("p-1", 1, 5)))
	if err != nil {
		t.Fatalf("Expected fallback to queue, got error: %v", err)
	}
	if result.Source != SourceQueued {
		t.Fatalf("Expected queued source, got %s", result.Source)
	}

	// The failed direct attempt already consumed the idempotency id, so the
	// queued transaction must reuse it
	keys := api.keys()
	if len(keys) != 1 {
		t.Fatalf("Expected exactly one direct attempt, got %d", len(keys))
	}
	if keys[0] != result.TransactionID {
		t.Errorf("Expected queued id %s to match the attempted key %s", result.TransactionID, keys[0])
	}

	if _, err := st.GetTransaction(result.TransactionID); err != nil {
		t.Errorf("Expected the sale durably queued: %v", err)
	}
}

func TestBusinessRejectionIsNotIntercepted(t *testing.T) {
	st := newFakeStore()
	api := &fakeAPI{}
	api.createFn = func(key string, payload []byte) (string, error) {
		return "", &server.BusinessRejection{StatusCode: 422, Message: "invalid payment method"}
	}
	ic, _ := newTestInterceptor(st, api, true)

	_, err := ic.CreateSale(context.Background(), testDraft(saleLine("p-1", 1, 5)))
	if err == nil {
		t.Fatal("Expected the rejection surfaced to the caller")
	}

	pending, _ := st.ListByStatus(models.TxStatusPending)
	if len(pending) != 0 {
		t.Errorf("Expected nothing queued on a business rejection, got %d", len(pending))
	}
}

func TestStorageFailureSurfaces(t *testing.T) {
	st := newFakeStore()
	st.enqueueErr = store.ErrStorageUnavailable
	api := &fakeAPI{}
	ic, _ := newTestInterceptor(st, api, false)

	_, err := ic.CreateSale(context.Background(), testDraft(saleLine("p-1", 1, 5)))
	if err == nil {
		t.Fatal("Expected a loud failure when the local store is unavailable")
	}
}

func TestEmptyDraftRejected(t *testing.T) {
	st := newFakeStore()
	ic, _ := newTestInterceptor(st, &fakeAPI{}, false)

	if _, err := ic.CreateSale(context.Background(), testDraft()); err == nil {
		t.Fatal("Expected an error for a draft without line items")
	}
}
