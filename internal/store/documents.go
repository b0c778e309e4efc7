package store

import (
	"context"
	"fmt"
	"time"

	"nfcom/pkg/models"
)

// Document loads a fiscal document with its items.
func (s *Store) Document(ctx context.Context, id uint) (*models.FiscalDocument, error) {
	var doc models.FiscalDocument
	if err := s.withContext(ctx).Preload("Items").First(&doc, id).Error; err != nil {
		return nil, fmt.Errorf("Document %d: %w", id, notFound(err))
	}
	return &doc, nil
}

// DocumentByKey loads a fiscal document by access key.
func (s *Store) DocumentByKey(ctx context.Context, accessKey string) (*models.FiscalDocument, error) {
	var doc models.FiscalDocument
	err := s.withContext(ctx).Preload("Items").Where("access_key = ?", accessKey).First(&doc).Error
	if err != nil {
		return nil, fmt.Errorf("DocumentByKey %s: %w", accessKey, notFound(err))
	}
	return &doc, nil
}

// DocumentForCycle loads the document of a (contract, cycle) pair.
func (s *Store) DocumentForCycle(ctx context.Context, contractID uint, cycle time.Time) (*models.FiscalDocument, error) {
	var doc models.FiscalDocument
	err := s.withContext(ctx).Preload("Items").
		Where("contract_id = ? AND cycle_date = ?", contractID, cycle).
		First(&doc).Error
	if err != nil {
		return nil, fmt.Errorf("DocumentForCycle %d: %w", contractID, notFound(err))
	}
	return &doc, nil
}

// DocumentsByIDs loads documents in id order. Unknown ids are skipped.
func (s *Store) DocumentsByIDs(ctx context.Context, ids []uint) ([]models.FiscalDocument, error) {
	var docs []models.FiscalDocument
	if len(ids) == 0 {
		return docs, nil
	}
	if err := s.withContext(ctx).Where("id IN ?", ids).Order("id").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("DocumentsByIDs: %w", err)
	}
	return docs, nil
}

// DocumentsByStatus lists documents in a status, oldest first. Unresolved
// documents stay reachable for manual intervention this way.
func (s *Store) DocumentsByStatus(ctx context.Context, status models.DocumentStatus, limit int) ([]models.FiscalDocument, error) {
	var docs []models.FiscalDocument
	q := s.withContext(ctx).Where("status = ?", status).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("DocumentsByStatus %s: %w", status, err)
	}
	return docs, nil
}

// UndeliveredSince lists authorized documents issued at or after since whose
// notification is still pending or failed.
func (s *Store) UndeliveredSince(ctx context.Context, since time.Time, limit int) ([]models.FiscalDocument, error) {
	var docs []models.FiscalDocument
	q := s.withContext(ctx).
		Where("status = ? AND delivery_status <> ? AND issued_at >= ?", models.StatusAuthorized, models.DeliverySent, since).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("UndeliveredSince: %w", err)
	}
	return docs, nil
}

// UpdateDocumentStatus writes the authority state of doc, conditional on the
// stored status still being from. Writing the same status again is allowed so
// attempts and errors can be recorded between retries.
func (s *Store) UpdateDocumentStatus(ctx context.Context, doc *models.FiscalDocument, from models.DocumentStatus) error {
	const op = "UpdateDocumentStatus"

	if doc.Status != from && !from.CanTransition(doc.Status) {
		return fmt.Errorf("%s %d: %s -> %s: %w", op, doc.ID, from, doc.Status, ErrInvalidTransition)
	}
	res := s.withContext(ctx).
		Model(&models.FiscalDocument{}).
		Where("id = ? AND status = ?", doc.ID, from).
		Updates(map[string]interface{}{
			"status":            doc.Status,
			"authority_code":    doc.AuthorityCode,
			"authority_message": doc.AuthorityMessage,
			"protocol":          doc.Protocol,
			"attempts":          doc.Attempts,
			"last_error":        doc.LastError,
		})
	if res.Error != nil {
		return fmt.Errorf("%s %d: %w", op, doc.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", op, doc.ID, ErrStaleState)
	}
	return nil
}

// RecordDocumentDelivery stores the notification outcome of a document.
func (s *Store) RecordDocumentDelivery(ctx context.Context, docID uint, status models.DeliveryStatus, errText string, at time.Time) error {
	updates := map[string]interface{}{
		"delivery_status": status,
		"delivery_error":  errText,
	}
	if status == models.DeliverySent {
		updates["delivered_at"] = at
	}
	err := s.withContext(ctx).Model(&models.FiscalDocument{}).Where("id = ?", docID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("RecordDocumentDelivery %d: %w", docID, err)
	}
	return nil
}

// CountByStatus returns the number of documents per status.
func (s *Store) CountByStatus(ctx context.Context) (map[models.DocumentStatus]int64, error) {
	var rows []struct {
		Status models.DocumentStatus
		N      int64
	}
	err := s.withContext(ctx).Model(&models.FiscalDocument{}).
		Select("status, count(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("CountByStatus: %w", err)
	}
	out := make(map[models.DocumentStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
