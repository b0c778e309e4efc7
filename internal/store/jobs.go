package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"nfcom/pkg/models"
)

// CreateJob persists a notification job with its items.
func (s *Store) CreateJob(ctx context.Context, job *models.EmissionJob) error {
	if err := s.withContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("CreateJob: %w", err)
	}
	return nil
}

// Job loads a notification job with its items.
func (s *Store) Job(ctx context.Context, id string) (*models.EmissionJob, error) {
	var job models.EmissionJob
	err := s.withContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).First(&job, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("Job %s: %w", id, notFound(err))
	}
	return &job, nil
}

// RecordJobDelivery stores one item outcome and bumps the job counters in the
// same transaction. Counter increments are single statements, so concurrent
// callers never lose an update.
func (s *Store) RecordJobDelivery(ctx context.Context, item *models.EmissionJobItem) error {
	const op = "RecordJobDelivery"

	counter := "failures"
	if item.Status == models.DeliverySent {
		counter = "successes"
	}
	err := s.withContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.EmissionJobItem{}).
			Where("id = ? AND status = ?", item.ID, models.DeliveryPending).
			Updates(map[string]interface{}{"status": item.Status, "error": item.Error})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}
		return tx.Model(&models.EmissionJob{}).
			Where("id = ?", item.JobID).
			UpdateColumns(map[string]interface{}{
				"processed": gorm.Expr("processed + 1"),
				counter:     gorm.Expr(counter + " + 1"),
			}).Error
	})
	if err != nil {
		return fmt.Errorf("%s %s/%d: %w", op, item.JobID, item.ID, err)
	}
	return nil
}

// CompleteJob marks a job completed once every item was processed.
func (s *Store) CompleteJob(ctx context.Context, id string, at time.Time) error {
	res := s.withContext(ctx).Model(&models.EmissionJob{}).
		Where("id = ? AND processed = total", id).
		Updates(map[string]interface{}{"status": models.JobCompleted, "finished_at": at})
	if res.Error != nil {
		return fmt.Errorf("CompleteJob %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("CompleteJob %s: %w", id, ErrStaleState)
	}
	return nil
}
