package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"nfcom/internal/sefaz"
	"nfcom/pkg/models"
)

func (s *Scheduler) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1)), ctx)
}

// transmit submits a signed document within the retry budget and persists the
// outcome. Calls to the authority run detached from ctx so a stop request
// never abandons a submission in flight; ctx only prevents further attempts.
func (s *Scheduler) transmit(ctx context.Context, cert tls.Certificate, doc *models.FiscalDocument, res *Result) {
	detached := context.WithoutCancel(ctx)
	log := s.log.With().Uint("document_id", doc.ID).Str("access_key", doc.AccessKey).Logger()

	from := doc.Status
	if from != models.StatusTransmitted {
		doc.Status = models.StatusTransmitted
		if err := s.store.UpdateDocumentStatus(detached, doc, from); err != nil {
			doc.Status = from
			log.Error().Err(err).Msg("Failed to mark document as transmitted")
			res.Outcome = OutcomeFailed
			res.Message = err.Error()
			return
		}
	}

	var (
		reply   *sefaz.Result
		lastErr error
		tries   int
	)
	send := func() error {
		tries++
		// only transient failures are retried, and the submission that failed
		// may still have reached the authority
		if tries > 1 {
			r, err := s.transmitter.Query(detached, cert, doc.AccessKey)
			switch {
			case err == nil:
				log.Info().Str("cstat", r.Code).Int("attempt", tries).Msg("Earlier submission was received, not resending")
				reply, lastErr = r, nil
				return nil
			case sefaz.IsTransient(err):
				reply, lastErr = nil, err
				return err
			case !errors.Is(err, sefaz.ErrNotFound):
				reply, lastErr = r, err
				return backoff.Permanent(err)
			}
		}
		r, err := s.transmitter.Send(detached, cert, []byte(doc.SignedXML))
		reply, lastErr = r, err
		if err == nil || sefaz.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", tries).Dur("retry_in", wait).Msg("Transmission failed, retrying")
	}
	_ = backoff.RetryNotify(send, s.retryPolicy(ctx), notify)

	doc.Attempts += tries
	res.Attempts = doc.Attempts
	s.apply(doc, reply, lastErr, res)

	if err := s.store.UpdateDocumentStatus(detached, doc, models.StatusTransmitted); err != nil {
		log.Error().Err(err).Str("status", string(doc.Status)).Msg("Failed to persist transmission outcome")
		res.Outcome = OutcomeFailed
		res.Message = err.Error()
		return
	}

	ev := log.Info()
	if res.Outcome != OutcomeAuthorized {
		ev = log.Warn()
	}
	ev.Str("cstat", doc.AuthorityCode).
		Str("status", string(doc.Status)).
		Int("attempts", tries).
		Str("reason", res.Message).
		Msg("Transmission finished")
}

// apply maps the last authority answer onto the document and the result.
func (s *Scheduler) apply(doc *models.FiscalDocument, reply *sefaz.Result, err error, res *Result) {
	var (
		rejection    *sefaz.BusinessRejection
		unclassified *sefaz.UnclassifiedResponse
	)
	switch {
	case err == nil && reply != nil:
		doc.Status = models.StatusAuthorized
		doc.AuthorityCode = reply.Code
		doc.AuthorityMessage = reply.Message
		doc.Protocol = reply.Protocol
		doc.LastError = ""
		res.Outcome = OutcomeAuthorized
		res.Message = reply.Message
	case errors.As(err, &rejection):
		doc.Status = models.StatusRejected
		doc.AuthorityCode = rejection.Code
		doc.AuthorityMessage = rejection.Message
		doc.LastError = rejection.Message
		res.Outcome = OutcomeRejected
		res.Message = rejection.Message
	case errors.As(err, &unclassified):
		s.log.Error().
			Uint("document_id", doc.ID).
			Str("cstat", unclassified.Code).
			Int("http_status", unclassified.StatusCode).
			Str("body", unclassified.Body).
			Msg("Unclassified authority response")
		doc.Status = models.StatusError
		doc.AuthorityCode = unclassified.Code
		doc.AuthorityMessage = unclassified.Message
		doc.LastError = err.Error()
		res.Outcome = OutcomeError
		res.Message = err.Error()
	default:
		if err == nil {
			err = errors.New("no answer from the authority")
		}
		doc.Status = models.StatusError
		doc.LastError = err.Error()
		res.Outcome = OutcomeError
		res.Message = err.Error()
	}
	res.Code = doc.AuthorityCode
}

// Retry re-attempts documents left signed, transmitted or in error. Documents
// that may have reached the authority are first looked up by access key, so an
// ambiguous timeout never produces a second submission.
func (s *Scheduler) Retry(ctx context.Context, ids []uint) (*RunReport, error) {
	const op = "Retry"

	report := &RunReport{RunDate: s.now(), StartedAt: s.now()}
	docs, err := s.store.DocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for i := range docs {
		if ctx.Err() != nil {
			break
		}
		report.add(s.retryDocument(ctx, &docs[i]))
	}
	report.finish(s.now())

	s.log.Info().
		Int("requested", len(ids)).
		Int("found", len(docs)).
		Int("authorized", report.Count(OutcomeAuthorized)).
		Int("errors", report.Count(OutcomeError)).
		Msg("Retry finished")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s: interrupted: %w", op, err)
	}
	return report, nil
}

// RetryStatus retries up to limit documents currently in status.
func (s *Scheduler) RetryStatus(ctx context.Context, status models.DocumentStatus, limit int) (*RunReport, error) {
	if !status.IsRetryable() {
		return nil, fmt.Errorf("RetryStatus: %w: %s", ErrNotRetryable, status)
	}
	docs, err := s.store.DocumentsByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("RetryStatus: %w", err)
	}
	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return s.Retry(ctx, ids)
}

func (s *Scheduler) retryDocument(ctx context.Context, doc *models.FiscalDocument) Result {
	res := Result{
		ContractID: doc.ContractID,
		CycleDate:  doc.CycleDate,
		DocumentID: doc.ID,
		Number:     doc.Number,
		AccessKey:  doc.AccessKey,
		Total:      doc.Total,
		Attempts:   doc.Attempts,
	}
	if !doc.Status.IsRetryable() {
		res.Outcome = OutcomeSkipped
		res.Message = fmt.Sprintf("document is %s", doc.Status)
		return res
	}

	unlock := s.locks.Lock(cycleKey(doc.ContractID, doc.CycleDate))
	defer unlock()

	creds, err := s.loader.Load(ctx, doc.CompanyID)
	if err != nil {
		res.Outcome = certificateOutcome(err)
		res.Message = err.Error()
		return res
	}
	contract, err := s.store.Contract(ctx, doc.ContractID)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Message = err.Error()
		return res
	}

	if doc.Status != models.StatusSigned {
		resend, ok := s.reconcile(ctx, creds.TLS(), doc, &res)
		if !ok {
			return res
		}
		if !resend {
			s.afterAuthorization(ctx, doc, contract, &res)
			return res
		}
	}

	s.transmit(ctx, creds.TLS(), doc, &res)
	if res.Outcome == OutcomeAuthorized {
		s.afterAuthorization(ctx, doc, contract, &res)
	}
	return res
}

// reconcile asks the authority about a document that may already have been
// received. It reports whether the document must be sent again, and ok=false
// when the retry has to stop here.
func (s *Scheduler) reconcile(ctx context.Context, cert tls.Certificate, doc *models.FiscalDocument, res *Result) (resend, ok bool) {
	log := s.log.With().Uint("document_id", doc.ID).Str("access_key", doc.AccessKey).Logger()

	reply, err := s.transmitter.Query(context.WithoutCancel(ctx), cert, doc.AccessKey)
	switch {
	case errors.Is(err, sefaz.ErrNotFound):
		log.Info().Msg("Authority has no record of the document, resending")
		return true, true
	case err != nil:
		// the outcome of the earlier submission is still unknown
		log.Warn().Err(err).Msg("Status query failed")
		res.Outcome = OutcomeError
		res.Message = err.Error()
		return false, false
	}

	from := doc.Status
	doc.Status = models.StatusAuthorized
	doc.AuthorityCode = reply.Code
	doc.AuthorityMessage = reply.Message
	if reply.Protocol != "" {
		doc.Protocol = reply.Protocol
	}
	doc.LastError = ""
	if err := s.store.UpdateDocumentStatus(context.WithoutCancel(ctx), doc, from); err != nil {
		log.Error().Err(err).Msg("Failed to persist authorization found by query")
		res.Outcome = OutcomeFailed
		res.Message = err.Error()
		return false, false
	}
	log.Info().Str("cstat", reply.Code).Msg("Document was already authorized")
	res.Outcome = OutcomeAuthorized
	res.Code = reply.Code
	res.Message = reply.Message
	return false, true
}
