package source

import "github.com/shopspring/decimal"

// Row is one order as observed in the sheet during a poll cycle.
// It is an immutable snapshot; the engine never persists rows.
type Row struct {
	OrderID     string
	Name        string
	PhoneRaw    string
	WhatsappRaw string
	// Status is free text in the seller's locale; the message resolver owns
	// the mapping to canonical categories.
	Status         string
	ProductName    string
	TrackingNumber string

	// TotalPrice is optional; HasPrice distinguishes "0" from "absent".
	TotalPrice decimal.Decimal
	HasPrice   bool
}

// Unprocessable reports a malformed row that carries nothing to act on:
// no order id, no name and neither phone field.
func (r Row) Unprocessable() bool {
	return r.OrderID == "" && r.Name == "" && r.PhoneRaw == "" && r.WhatsappRaw == ""
}
