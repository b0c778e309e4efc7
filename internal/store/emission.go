package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"nfcom/pkg/models"
)

// DueContracts returns active contracts whose cursor falls on or before the
// calendar day of runDate, oldest first.
func (s *Store) DueContracts(ctx context.Context, runDate time.Time, limit int) ([]models.ServiceContract, error) {
	var contracts []models.ServiceContract
	q := s.withContext(ctx).
		Where("is_active = ? AND next_emission IS NOT NULL AND next_emission < ?", true, models.DayAfter(runDate)).
		Order("next_emission ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&contracts).Error; err != nil {
		return nil, fmt.Errorf("DueContracts: %w", err)
	}
	return contracts, nil
}

// RecordContractError stores the reason the last emission attempt of a
// contract failed. An empty message clears it.
func (s *Store) RecordContractError(ctx context.Context, contractID uint, msg string) error {
	err := s.withContext(ctx).
		Model(&models.ServiceContract{}).
		Where("id = ?", contractID).
		Update("last_error", msg).Error
	if err != nil {
		return fmt.Errorf("RecordContractError %d: %w", contractID, err)
	}
	return nil
}

// EmissionTx is the unit of work that numbers, persists and books one
// document. Every method runs on the transaction's connection.
type EmissionTx struct {
	db *gorm.DB
}

// Emit runs fn in a transaction. Any error rolls back the cycle claim, the
// number allocation and the cursor advance together.
func (s *Store) Emit(ctx context.Context, fn func(tx *EmissionTx) error) error {
	return s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&EmissionTx{db: tx})
	})
}

// Lock takes a transaction-scoped advisory lock on the contract. It is a no-op
// outside PostgreSQL.
func (t *EmissionTx) Lock(contractID uint) error {
	if t.db.Dialector.Name() != DriverPostgres {
		return nil
	}
	if err := t.db.Exec("SELECT pg_advisory_xact_lock(?)", int64(contractID)).Error; err != nil {
		return fmt.Errorf("Lock %d: %w", contractID, err)
	}
	return nil
}

// ClaimCycle inserts the idempotency marker of a (contract, cycle) pair. It
// returns ErrAlreadyEmitted when the pair was claimed before.
func (t *EmissionTx) ClaimCycle(contractID uint, cycle time.Time) error {
	marker := models.EmissionCycle{ContractID: contractID, CycleDate: cycle}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
	if res.Error != nil {
		return fmt.Errorf("ClaimCycle %d: %w", contractID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyEmitted
	}
	return nil
}

// NextNumber allocates the next document number of a company series.
func (t *EmissionTx) NextNumber(companyID uint, series int) (int64, error) {
	const op = "NextNumber"

	seed := models.DocumentSequence{CompanyID: companyID, Series: series}
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return 0, fmt.Errorf("%s: seed: %w", op, err)
	}
	res := t.db.Model(&models.DocumentSequence{}).
		Where("company_id = ? AND series = ?", companyID, series).
		UpdateColumn("last_number", gorm.Expr("last_number + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("%s: increment: %w", op, res.Error)
	}

	var seq models.DocumentSequence
	if err := t.db.Where("company_id = ? AND series = ?", companyID, series).Take(&seq).Error; err != nil {
		return 0, fmt.Errorf("%s: read: %w", op, err)
	}
	return seq.LastNumber, nil
}

// CreateDocument persists a document with its items.
func (t *EmissionTx) CreateDocument(doc *models.FiscalDocument) error {
	if err := t.db.Create(doc).Error; err != nil {
		return fmt.Errorf("CreateDocument: %w", err)
	}
	return nil
}

// CursorAdvance describes the contract changes booked with an emission.
type CursorAdvance struct {
	ContractID uint
	Current    time.Time // next_emission as stored
	Cycle      time.Time // calendar day of Current, becomes last_emission
	Next       time.Time

	// InstallationBilled marks the one-time fee as charged.
	InstallationBilled bool
}

// AdvanceCursor moves next_emission forward, conditional on it still being
// a.Current (a.Cycle when Current is zero). It clears the one-cycle
// pro-ration and the last error.
func (t *EmissionTx) AdvanceCursor(a CursorAdvance) error {
	updates := map[string]interface{}{
		"last_emission":     a.Cycle,
		"next_emission":     a.Next,
		"pro_rata_quantity": nil,
		"last_error":        "",
	}
	if a.InstallationBilled {
		updates["installation_paid"] = true
	}
	current := a.Current
	if current.IsZero() {
		current = a.Cycle
	}
	res := t.db.Model(&models.ServiceContract{}).
		Where("id = ? AND next_emission = ?", a.ContractID, current).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("AdvanceCursor %d: %w", a.ContractID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("AdvanceCursor %d: %w", a.ContractID, ErrStaleState)
	}
	return nil
}
