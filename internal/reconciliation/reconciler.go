// Package reconciliation settles boletos from the bank credits listed in the
// Pagamentos sheet: each credit is matched to its receivable by nosso número
// and the receivable is marked paid.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nfcom/internal/logger"
	"nfcom/internal/store"
	"nfcom/pkg/models"
)

// ourNumberWidth is the zero-padded width of locally assigned nosso número values.
const ourNumberWidth = 11

// Repository is the persistence used by the Reconciler.
type Repository interface {
	ReceivablesByOurNumber(ctx context.Context, ourNumbers []string) ([]models.Receivable, error)
	MarkPaid(ctx context.Context, id uint, amount decimal.Decimal, at time.Time) error
}

// Reconciler matches payments to receivables.
type Reconciler struct {
	repo Repository
	log  zerolog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{repo: repo, log: logger.WithComponent("reconciliation")}
}

// Reconcile settles every payment it can match. Payments below the boleto
// amount leave the receivable open. A failure on one payment does not stop
// the others.
func (r *Reconciler) Reconcile(ctx context.Context, payments []Payment) (*Report, error) {
	const op = "Reconcile"

	keys := make([]string, 0, 2*len(payments))
	for _, p := range payments {
		keys = append(keys, p.OurNumber, padOurNumber(p.OurNumber))
	}
	found, err := r.repo.ReceivablesByOurNumber(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	byNumber := make(map[string]*models.Receivable, len(found))
	for i := range found {
		byNumber[found[i].OurNumber] = &found[i]
	}

	report := &Report{}
	for _, p := range payments {
		if ctx.Err() != nil {
			break
		}
		rec := byNumber[p.OurNumber]
		if rec == nil {
			rec = byNumber[padOurNumber(p.OurNumber)]
		}
		m := r.settle(ctx, p, rec)
		report.Matches = append(report.Matches, m)
	}

	r.log.Info().
		Int("payments", len(payments)).
		Int("paid", report.Count(OutcomePaid)).
		Int("unknown", report.Count(OutcomeUnknown)).
		Int("underpaid", report.Count(OutcomeUnderpaid)).
		Str("received", report.Received().StringFixed(2)).
		Msg("Reconciliation finished")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s: interrupted: %w", op, err)
	}
	return report, nil
}

func (r *Reconciler) settle(ctx context.Context, p Payment, rec *models.Receivable) Match {
	m := Match{Payment: p}
	log := r.log.With().Str("our_number", p.OurNumber).Int("row", p.Row).Logger()

	if rec == nil {
		m.Outcome = OutcomeUnknown
		log.Warn().Msg("No receivable for payment")
		return m
	}
	m.ReceivableID = rec.ID

	switch rec.Status {
	case models.ReceivablePaid:
		m.Outcome = OutcomeAlreadyPaid
		return m
	case models.ReceivablePending, models.ReceivableError:
		m.Outcome = OutcomeNotRemitted
		m.Detail = "boleto is " + string(rec.Status)
		log.Warn().Str("status", string(rec.Status)).Msg("Payment for a boleto the bank never received")
		return m
	}

	if p.Amount.LessThan(rec.Payable()) {
		m.Outcome = OutcomeUnderpaid
		m.Detail = fmt.Sprintf("paid %s of %s", p.Amount.StringFixed(2), rec.Payable().StringFixed(2))
		log.Warn().Str("detail", m.Detail).Msg("Underpaid boleto left open")
		return m
	}

	if err := r.repo.MarkPaid(ctx, rec.ID, p.Amount, p.Date); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			m.Outcome = OutcomeAlreadyPaid
			return m
		}
		m.Outcome = OutcomeFailed
		m.Detail = err.Error()
		log.Error().Err(err).Msg("Failed to mark receivable paid")
		return m
	}
	rec.Status = models.ReceivablePaid
	m.Outcome = OutcomePaid
	return m
}

func padOurNumber(n string) string {
	if len(n) >= ourNumberWidth {
		return n
	}
	return strings.Repeat("0", ourNumberWidth-len(n)) + n
}
