package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReceivableStatus is the lifecycle of a boleto.
type ReceivableStatus string

const (
	ReceivablePending    ReceivableStatus = "pending"    // awaiting remittance file
	ReceivableRegistered ReceivableStatus = "registered" // accepted by the bank API
	ReceivablePrinted    ReceivableStatus = "printed"
	ReceivableSent       ReceivableStatus = "sent" // included in a remittance file
	ReceivablePaid       ReceivableStatus = "paid"
	ReceivableError      ReceivableStatus = "error"
)

// Settled reports whether the receivable already reached the bank.
func (s ReceivableStatus) Settled() bool {
	switch s {
	case ReceivableRegistered, ReceivablePrinted, ReceivableSent, ReceivablePaid:
		return true
	}
	return false
}

// Receivable is the payable instrument (boleto) originated for an authorized document.
type Receivable struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ContractID       uint      `gorm:"not null;uniqueIndex:idx_receivable_cycle" json:"contract_id"`
	CycleDate        time.Time `gorm:"not null;uniqueIndex:idx_receivable_cycle" json:"cycle_date"`
	DocumentID       *uint     `gorm:"index" json:"document_id,omitempty"`
	BillingAccountID uint      `gorm:"not null;index" json:"billing_account_id"`
	ClientID         uint      `gorm:"not null" json:"client_id"`

	// Amounts
	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Discount     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"discount"`
	InterestRate decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"interest_rate"`
	FineRate     decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"fine_rate"`
	IssuedAt     time.Time       `gorm:"not null" json:"issued_at"`
	DueDate      time.Time       `gorm:"not null" json:"due_date"`

	// Bank data
	OurNumber      string `gorm:"size:20;index" json:"our_number,omitempty"` // nosso número
	Barcode        string `gorm:"size:44" json:"barcode,omitempty"`
	DigitableLine  string `gorm:"size:47" json:"digitable_line,omitempty"`
	RemittanceFile string `gorm:"size:64;index" json:"remittance_file,omitempty"`
	RawResponse    string `gorm:"type:text" json:"-"`

	// Settlement
	PaidAt     *time.Time          `json:"paid_at,omitempty"`
	PaidAmount decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"paid_amount"`

	Status    ReceivableStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	LastError string           `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Payable is the amount charged on the boleto.
func (r Receivable) Payable() decimal.Decimal {
	return r.Amount.Sub(r.Discount)
}
