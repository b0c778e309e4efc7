package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"nfcom/pkg/models"
)

// ReceivableForCycle loads the receivable of a (contract, cycle) pair.
func (s *Store) ReceivableForCycle(ctx context.Context, contractID uint, cycle time.Time) (*models.Receivable, error) {
	var r models.Receivable
	err := s.withContext(ctx).Where("contract_id = ? AND cycle_date = ?", contractID, cycle).First(&r).Error
	if err != nil {
		return nil, fmt.Errorf("ReceivableForCycle %d: %w", contractID, notFound(err))
	}
	return &r, nil
}

// SaveReceivable inserts or updates a receivable. The unique (contract, cycle)
// index rejects a second receivable for the same cycle.
func (s *Store) SaveReceivable(ctx context.Context, r *models.Receivable) error {
	if err := s.withContext(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("SaveReceivable: %w", err)
	}
	return nil
}

// PendingReceivables lists receivables of an account waiting for a
// remittance file.
func (s *Store) PendingReceivables(ctx context.Context, accountID uint) ([]models.Receivable, error) {
	var out []models.Receivable
	err := s.withContext(ctx).
		Where("billing_account_id = ? AND status = ? AND (remittance_file IS NULL OR remittance_file = '')", accountID, models.ReceivablePending).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("PendingReceivables %d: %w", accountID, err)
	}
	return out, nil
}

// MarkRemitted flags receivables as sent in a remittance file.
func (s *Store) MarkRemitted(ctx context.Context, ids []uint, file string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.withContext(ctx).Model(&models.Receivable{}).
		Where("id IN ? AND status = ?", ids, models.ReceivablePending).
		Updates(map[string]interface{}{"status": models.ReceivableSent, "remittance_file": file}).Error
	if err != nil {
		return fmt.Errorf("MarkRemitted: %w", err)
	}
	return nil
}

// NextOurNumber allocates the next nosso número of a billing account.
func (s *Store) NextOurNumber(ctx context.Context, accountID uint) (int64, error) {
	return s.nextAccountSequence(ctx, accountID, "our_number_seq")
}

// NextRemittanceSequence allocates the next remittance file number (NSA).
func (s *Store) NextRemittanceSequence(ctx context.Context, accountID uint) (int64, error) {
	return s.nextAccountSequence(ctx, accountID, "remittance_seq")
}

func (s *Store) nextAccountSequence(ctx context.Context, accountID uint, column string) (int64, error) {
	var next int64
	err := s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BillingAccount{}).
			Where("id = ?", accountID).
			UpdateColumn(column, gorm.Expr(column+" + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.BillingAccount{}).
			Select(column).
			Where("id = ?", accountID).
			Scan(&next).Error
	})
	if err != nil {
		return 0, fmt.Errorf("next %s %d: %w", column, accountID, err)
	}
	return next, nil
}

// ReceivablesByOurNumber loads the receivables carrying any of the given
// nosso número values.
func (s *Store) ReceivablesByOurNumber(ctx context.Context, ourNumbers []string) ([]models.Receivable, error) {
	if len(ourNumbers) == 0 {
		return nil, nil
	}
	var out []models.Receivable
	if err := s.withContext(ctx).Where("our_number IN ?", ourNumbers).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("ReceivablesByOurNumber: %w", err)
	}
	return out, nil
}

// MarkPaid settles a receivable that reached the bank. A receivable already
// paid, or never sent to the bank, is left alone and reported as stale.
func (s *Store) MarkPaid(ctx context.Context, id uint, amount decimal.Decimal, at time.Time) error {
	res := s.withContext(ctx).Model(&models.Receivable{}).
		Where("id = ? AND status IN ?", id, []models.ReceivableStatus{
			models.ReceivableRegistered, models.ReceivablePrinted, models.ReceivableSent,
		}).
		Updates(map[string]interface{}{
			"status":      models.ReceivablePaid,
			"paid_at":     at,
			"paid_amount": amount,
		})
	if res.Error != nil {
		return fmt.Errorf("MarkPaid %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("MarkPaid %d: %w", id, ErrStaleState)
	}
	return nil
}
