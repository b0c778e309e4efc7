// Package receivable originates boletos for authorized fiscal documents and
// hands them to the bank, either online through a REST API or offline through
// CNAB 240 remittance files.
package receivable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nfcom/internal/calendar"
	"nfcom/internal/logger"
	"nfcom/internal/store"
	"nfcom/pkg/models"
)

// Repository is the persistence used by the Generator.
type Repository interface {
	BillingAccount(ctx context.Context, id uint) (*models.BillingAccount, error)
	Client(ctx context.Context, id uint) (*models.Client, error)
	ReceivableForCycle(ctx context.Context, contractID uint, cycle time.Time) (*models.Receivable, error)
	SaveReceivable(ctx context.Context, r *models.Receivable) error
}

// Generator derives one receivable per authorized (contract, cycle).
type Generator struct {
	repo     Repository
	gateways *Registry
	log      zerolog.Logger
}

// NewGenerator creates a Generator dispatching to the gateways in registry.
func NewGenerator(repo Repository, registry *Registry) *Generator {
	return &Generator{repo: repo, gateways: registry, log: logger.WithComponent("receivable")}
}

// Generate creates and registers the receivable of an authorized document.
// A receivable that already reached the bank, or is prepared for remittance,
// is returned unchanged. A receivable left in error is registered again.
func (g *Generator) Generate(ctx context.Context, doc *models.FiscalDocument, contract *models.ServiceContract) (*models.Receivable, error) {
	const op = "Generate"

	if doc.Status != models.StatusAuthorized {
		return nil, fmt.Errorf("%s: document %d is %s: %w", op, doc.ID, doc.Status, ErrNotAuthorized)
	}
	if contract.BillingAccountID == nil {
		return nil, fmt.Errorf("%s: contract %d: %w", op, contract.ID, ErrNoBillingAccount)
	}

	existing, err := g.repo.ReceivableForCycle(ctx, doc.ContractID, doc.CycleDate)
	switch {
	case err == nil && (existing.Status.Settled() || (existing.Status == models.ReceivablePending && existing.Barcode != "")):
		g.log.Debug().Uint("receivable_id", existing.ID).Str("status", string(existing.Status)).Msg("Receivable already originated")
		return existing, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account, err := g.repo.BillingAccount(ctx, *contract.BillingAccountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payer, err := g.repo.Client(ctx, doc.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	gateway, err := g.gateways.For(account.Mode)
	if err != nil {
		return nil, fmt.Errorf("%s: account %d: %w", op, account.ID, err)
	}

	r := existing
	if r == nil {
		r = newReceivable(doc, contract, account)
		// the row claims the (contract, cycle) slot before the bank sees it
		if err := g.repo.SaveReceivable(ctx, r); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := gateway.Register(ctx, *account, *payer, r); err != nil {
		r.Status = models.ReceivableError
		r.LastError = err.Error()
		if saveErr := g.repo.SaveReceivable(ctx, r); saveErr != nil {
			g.log.Error().Err(saveErr).Uint("receivable_id", r.ID).Msg("Failed to record receivable error")
		}
		return r, fmt.Errorf("%s: %w", op, err)
	}
	if err := g.repo.SaveReceivable(ctx, r); err != nil {
		return r, fmt.Errorf("%s: %w", op, err)
	}

	g.log.Info().
		Uint("receivable_id", r.ID).
		Uint("document_id", doc.ID).
		Str("amount", r.Amount.StringFixed(2)).
		Time("due_date", r.DueDate).
		Str("status", string(r.Status)).
		Msg("Receivable originated")
	return r, nil
}

func newReceivable(doc *models.FiscalDocument, contract *models.ServiceContract, account *models.BillingAccount) *models.Receivable {
	due := doc.DueDate
	if due.IsZero() {
		due = calendar.DueDate(doc.IssuedAt, contract.DueDay)
	}
	docID := doc.ID
	return &models.Receivable{
		ContractID:       doc.ContractID,
		CycleDate:        doc.CycleDate,
		DocumentID:       &docID,
		BillingAccountID: account.ID,
		ClientID:         doc.ClientID,
		Amount:           doc.Total,
		Discount:         decimal.Zero,
		InterestRate:     account.InterestRate,
		FineRate:         account.FineRate,
		IssuedAt:         doc.IssuedAt,
		DueDate:          due,
		Status:           models.ReceivablePending,
	}
}
