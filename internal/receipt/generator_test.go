package receipt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillpoint/posgo/internal/models"
)

func testTransaction(t *testing.T, status models.TransactionStatus) *models.OfflineTransaction {
	t.Helper()

	payload, err := json.Marshal(models.SaleDraft{
		TerminalID:    "terminal-test",
		PaymentMethod: "card",
		Lines: []models.SaleLine{
			{ProductID: "p-1", Name: "Espresso", Quantity: 2, UnitPrice: 2.50},
			{ProductID: "p-2", SKU: "CRO-01", Quantity: 1, UnitPrice: 1.80},
		},
	})
	require.NoError(t, err)

	return &models.OfflineTransaction{
		ID:              "tx-receipt",
		TargetOperation: models.OpCreateSale,
		Payload:         payload,
		Status:          status,
		CreatedAt:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestFromTransactionMarksProvisional(t *testing.T) {
	rec, err := FromTransaction(testTransaction(t, models.TxStatusPending), "Test Store")
	require.NoError(t, err)

	assert.True(t, rec.Provisional)
	assert.Equal(t, "tx-receipt", rec.TransactionID)
	assert.Equal(t, 6.80, rec.Draft.Total())
}

func TestFromTransactionSyncedIsFinal(t *testing.T) {
	tx := testTransaction(t, models.TxStatusSynced)
	saleID := "S-500"
	tx.ServerSaleID = &saleID

	rec, err := FromTransaction(tx, "Test Store")
	require.NoError(t, err)

	assert.False(t, rec.Provisional)
	assert.Equal(t, "S-500", rec.ServerSaleID)
}

func TestFromTransactionBadPayload(t *testing.T) {
	tx := testTransaction(t, models.TxStatusPending)
	tx.Payload = []byte("not json")

	_, err := FromTransaction(tx, "Test Store")
	assert.Error(t, err)
}

func TestGenerateProducesPDF(t *testing.T) {
	rec, err := FromTransaction(testTransaction(t, models.TxStatusPending), "Test Store")
	require.NoError(t, err)

	pdf, err := Generate(rec)
	require.NoError(t, err)

	require.Greater(t, len(pdf), 4)
	assert.Equal(t, "%PDF", string(pdf[:4]))
}
