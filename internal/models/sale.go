package models

// SaleLine is one line item of a sale draft
type SaleLine struct {
	ProductID string  `json:"product_id"`
	SKU       string  `json:"sku,omitempty"`
	Name      string  `json:"name,omitempty"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// SaleDraft is the business payload of a create-sale operation. The queue
// treats it as opaque JSON; it is decoded only where a resolution decision or
// a receipt needs the line structure.
type SaleDraft struct {
	TerminalID    string     `json:"terminal_id"`
	CustomerID    string     `json:"customer_id,omitempty"`
	PaymentMethod string     `json:"payment_method"`
	Lines         []SaleLine `json:"lines"`
}

// Total returns the draft's total amount
func (d SaleDraft) Total() float64 {
	var total float64
	for _, line := range d.Lines {
		total += line.Quantity * line.UnitPrice
	}
	return total
}

// WithoutLine returns a copy of the draft with the given product removed
func (d SaleDraft) WithoutLine(productID string) SaleDraft {
	out := d
	out.Lines = make([]SaleLine, 0, len(d.Lines))
	for _, line := range d.Lines {
		if line.ProductID != productID {
			out.Lines = append(out.Lines, line)
		}
	}
	return out
}
