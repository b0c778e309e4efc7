package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"nfcom/internal/document"
	"nfcom/internal/notifier"
	"nfcom/internal/receivable"
	"nfcom/internal/scheduler"
	"nfcom/internal/sefaz"
	"nfcom/internal/signer"
	"nfcom/internal/store"
)

var errMissingSheet = errors.New("--report needs GOOGLE_SHEET_URL")

// handlePipelineError provides user-friendly messages for pipeline failures
func handlePipelineError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Pipeline step failed")

	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("interrupted; documents already submitted were kept and can be retried with 'nfcom retry --status error'")
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("timed out: %w", err)
	case errors.Is(err, store.ErrEmptyDSN):
		return fmt.Errorf("DATABASE_DSN is not set")
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("record not found: %w", err)
	case errors.Is(err, signer.ErrExpired):
		return fmt.Errorf("the company certificate has expired. Import a new A1 certificate with 'nfcom certificate import'")
	case errors.Is(err, signer.ErrCertificate):
		return fmt.Errorf("the company certificate could not be loaded. Check CERT_ENCRYPTION_KEY and the stored bundle: %w", err)
	case errors.Is(err, document.ErrValidation):
		return fmt.Errorf("the document failed validation; fix the catalog data: %w", err)
	case errors.Is(err, sefaz.ErrTransient):
		return fmt.Errorf("SEFAZ is unreachable or timing out; try again later: %w", err)
	case errors.Is(err, sefaz.ErrRejected):
		return fmt.Errorf("SEFAZ rejected the request: %w", err)
	case errors.Is(err, scheduler.ErrNotRetryable):
		return fmt.Errorf("only signed, transmitted and error documents can be retried")
	case errors.Is(err, notifier.ErrNoDocuments):
		return fmt.Errorf("no documents to notify")
	case errors.Is(err, receivable.ErrGateway):
		return fmt.Errorf("the bank gateway failed: %w", err)
	default:
		return err
	}
}
