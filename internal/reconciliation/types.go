package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a boleto credit from the Pagamentos sheet
type Payment struct {
	Row       int             // sheet row, for reporting
	Date      time.Time       // Data do crédito - column A
	OurNumber string          // Nosso número, digits only - column B
	Amount    decimal.Decimal // Valor pago - column C
	Payer     string          // Pagador - column D
}

// Outcome is the result of matching one payment.
type Outcome string

const (
	OutcomePaid        Outcome = "paid"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeUnderpaid   Outcome = "underpaid"   // credit below the boleto amount, left open
	OutcomeNotRemitted Outcome = "not_remitted" // boleto never reached the bank
	OutcomeUnknown     Outcome = "unknown"      // no receivable with this nosso número
	OutcomeFailed      Outcome = "failed"
)

// Match pairs a payment with the receivable it settled, if any.
type Match struct {
	Payment      Payment `json:"payment"`
	ReceivableID uint    `json:"receivable_id,omitempty"`
	Outcome      Outcome `json:"outcome"`
	Detail       string  `json:"detail,omitempty"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Matches []Match `json:"matches"`
	Skipped int     `json:"skipped_rows"`
}

// Count returns the matches with outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, m := range r.Matches {
		if m.Outcome == o {
			n++
		}
	}
	return n
}

// Received sums the payments that settled a receivable.
func (r *Report) Received() decimal.Decimal {
	sum := decimal.Zero
	for _, m := range r.Matches {
		if m.Outcome == OutcomePaid {
			sum = sum.Add(m.Payment.Amount)
		}
	}
	return sum
}
