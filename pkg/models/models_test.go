package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDocumentStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to DocumentStatus
		want     bool
	}{
		{StatusBuilt, StatusSigned, true},
		{StatusSigned, StatusAuthorized, true},
		{StatusTransmitted, StatusRejected, true},
		{StatusError, StatusAuthorized, true},
		{StatusAuthorized, StatusCancelled, true},
		{StatusAuthorized, StatusError, false},
		{StatusRejected, StatusAuthorized, false},
		{StatusCancelled, StatusAuthorized, false},
		{StatusBuilt, StatusAuthorized, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDocumentStatusPredicates(t *testing.T) {
	for _, s := range []DocumentStatus{StatusAuthorized, StatusRejected, StatusCancelled} {
		if !s.IsFinal() || s.IsRetryable() {
			t.Errorf("%s should be final and not retryable", s)
		}
	}
	for _, s := range []DocumentStatus{StatusSigned, StatusTransmitted, StatusError} {
		if s.IsFinal() || !s.IsRetryable() {
			t.Errorf("%s should be retryable", s)
		}
	}
	if DocumentStatus("lost").Valid() {
		t.Errorf("unknown status reported valid")
	}
}

func TestContractBilling(t *testing.T) {
	next := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	c := ServiceContract{
		Quantity:        decimal.NewFromInt(2),
		InstallationFee: decimal.RequireFromString("150.00"),
		IsActive:        true,
		NextEmission:    &next,
	}

	if !c.BilledQuantity().Equal(decimal.NewFromInt(2)) {
		t.Errorf("billed quantity = %s", c.BilledQuantity())
	}
	half := decimal.RequireFromString("0.5")
	c.ProRataQuantity = &half
	if !c.BilledQuantity().Equal(half) {
		t.Errorf("pro-rata quantity ignored: %s", c.BilledQuantity())
	}

	if !c.HasPendingInstallation() {
		t.Errorf("installation fee should be pending")
	}
	c.InstallationPaid = true
	if c.HasPendingInstallation() {
		t.Errorf("paid installation still pending")
	}

	if c.IsDue(next.AddDate(0, 0, -1)) {
		t.Errorf("contract due before its next emission")
	}
	if !c.IsDue(next) {
		t.Errorf("contract not due on its next emission")
	}
	c.IsActive = false
	if c.IsDue(next) {
		t.Errorf("inactive contract reported due")
	}
}

func TestReceivablePayable(t *testing.T) {
	r := Receivable{Amount: decimal.RequireFromString("99.90"), Discount: decimal.RequireFromString("9.90")}
	if !r.Payable().Equal(decimal.NewFromInt(90)) {
		t.Errorf("payable = %s", r.Payable())
	}
	if ReceivablePending.Settled() || ReceivableError.Settled() {
		t.Errorf("unsent receivables reported settled")
	}
	if !ReceivableSent.Settled() || !ReceivablePaid.Settled() {
		t.Errorf("sent receivables not settled")
	}
}

func TestJobDone(t *testing.T) {
	j := EmissionJob{Total: 3, Processed: 2}
	if j.Done() {
		t.Errorf("job done with pending items")
	}
	j.Processed = 3
	if !j.Done() {
		t.Errorf("job not done")
	}
}
