package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
	"github.com/tillpoint/posgo/internal/models"
)

// Receipt holds everything the PDF needs about one sale
type Receipt struct {
	TransactionID string
	ServerSaleID  string
	Draft         models.SaleDraft
	CreatedAt     time.Time
	Provisional   bool // queued offline, awaiting sync
	StoreName     string
}

// FromTransaction builds a receipt from a queued transaction
func FromTransaction(tx *models.OfflineTransaction, storeName string) (*Receipt, error) {
	var draft models.SaleDraft
	if err := json.Unmarshal(tx.Payload, &draft); err != nil {
		return nil, fmt.Errorf("failed to decode sale payload: %w", err)
	}

	r := &Receipt{
		TransactionID: tx.ID,
		Draft:         draft,
		CreatedAt:     tx.CreatedAt,
		Provisional:   tx.Status != models.TxStatusSynced,
		StoreName:     storeName,
	}
	if tx.ServerSaleID != nil {
		r.ServerSaleID = *tx.ServerSaleID
	}
	return r, nil
}

// Generate renders the receipt as a PDF. The QR code carries the transaction
// id so a provisional receipt can be matched to the synced sale later.
func Generate(r *Receipt) ([]byte, error) {
	// 80mm thermal-style page, tall enough for a long sale
	height := 120.0 + float64(len(r.Draft.Lines))*6.0
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "mm",
		Size:    gofpdf.SizeType{Wd: 80, Ht: height},
	})
	pdf.SetMargins(6, 8, 6)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	// Header
	pdf.SetFont("Arial", "B", 12)
	name := r.StoreName
	if name == "" {
		name = "POS TERMINAL"
	}
	pdf.CellFormat(68, 6, name, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(68, 4, r.CreatedAt.Format("2006-01-02 15:04:05"), "", 1, "C", false, 0, "")

	saleRef := r.ServerSaleID
	if saleRef == "" {
		saleRef = r.TransactionID
	}
	pdf.CellFormat(68, 4, "Sale "+saleRef, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	// Line items
	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(34, 4, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(10, 4, "Qty", "B", 0, "R", false, 0, "")
	pdf.CellFormat(12, 4, "Price", "B", 0, "R", false, 0, "")
	pdf.CellFormat(12, 4, "Total", "B", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 8)
	for _, line := range r.Draft.Lines {
		label := line.Name
		if label == "" {
			label = line.SKU
		}
		if label == "" {
			label = line.ProductID
		}
		if len(label) > 22 {
			label = label[:22]
		}
		pdf.CellFormat(34, 5, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(10, 5, fmt.Sprintf("%.0f", line.Quantity), "", 0, "R", false, 0, "")
		pdf.CellFormat(12, 5, fmt.Sprintf("%.2f", line.UnitPrice), "", 0, "R", false, 0, "")
		pdf.CellFormat(12, 5, fmt.Sprintf("%.2f", line.Quantity*line.UnitPrice), "", 1, "R", false, 0, "")
	}

	// Total
	pdf.Ln(1)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(44, 6, "TOTAL", "T", 0, "L", false, 0, "")
	pdf.CellFormat(24, 6, fmt.Sprintf("%.2f", r.Draft.Total()), "T", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(68, 4, "Paid: "+r.Draft.PaymentMethod, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	// QR code of the transaction id
	qrPNG, err := qrcode.Encode(r.TransactionID, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("txqr", opts, bytes.NewReader(qrPNG))
	qrX := (80.0 - 24.0) / 2
	pdf.ImageOptions("txqr", qrX, pdf.GetY(), 24, 24, false, opts, 0, "")
	pdf.SetY(pdf.GetY() + 26)

	if r.Provisional {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetTextColor(180, 0, 0)
		pdf.CellFormat(68, 5, "PROVISIONAL - AWAITING SYNC", "", 1, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt PDF: %w", err)
	}
	return buf.Bytes(), nil
}
