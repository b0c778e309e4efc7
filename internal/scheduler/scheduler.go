// Package scheduler runs the recurring emission pass: it finds the contracts
// whose billing cursor is due, builds, numbers and signs one document per
// cycle, transmits it to the authority and hands authorized documents to the
// receivable generator.
//
// The unit of work for one cycle is a single database transaction that claims
// the (contract, cycle) pair, allocates the document number, persists the
// signed document and advances the cursor. Transmission happens after commit,
// so a crash between the two leaves a signed document that Retry picks up.
package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"nfcom/internal/calendar"
	"nfcom/internal/document"
	"nfcom/internal/logger"
	"nfcom/internal/sefaz"
	"nfcom/internal/signer"
	"nfcom/internal/store"
	"nfcom/pkg/models"
)

// ErrNotRetryable is returned by RetryStatus for statuses Retry never touches.
var ErrNotRetryable = errors.New("status is not retryable")

// Config holds scheduler settings.
type Config struct {
	// Environment is stamped on every built document.
	Environment int

	// BatchSize caps the contracts selected per pass. Zero means no cap.
	BatchSize int

	// Workers bounds the contracts processed concurrently. Default: 4.
	Workers int

	// MaxAttempts is the transmission budget per document, first try included.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the exponential wait between
	// attempts. Defaults: 2s and 30s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// DryRun builds and validates without numbering, signing or transmitting.
	DryRun bool
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = 30 * time.Second
	}
}

// Credentials sign documents and authenticate the transmission of one company.
type Credentials interface {
	Sign(doc *models.FiscalDocument, in document.Input) error
	TLS() tls.Certificate
}

// CredentialLoader resolves the credentials of a company.
type CredentialLoader interface {
	Load(ctx context.Context, companyID uint) (Credentials, error)
}

type signerLoader struct {
	s *signer.Signer
}

func (l signerLoader) Load(ctx context.Context, companyID uint) (Credentials, error) {
	creds, err := l.s.Load(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// FromSigner adapts a *signer.Signer to CredentialLoader.
func FromSigner(s *signer.Signer) CredentialLoader {
	return signerLoader{s: s}
}

// Transmitter submits signed documents and queries their state.
type Transmitter interface {
	Send(ctx context.Context, cert tls.Certificate, signedXML []byte) (*sefaz.Result, error)
	Query(ctx context.Context, cert tls.Certificate, accessKey string) (*sefaz.Result, error)
}

// ReceivableGenerator originates the receivable of an authorized document.
type ReceivableGenerator interface {
	Generate(ctx context.Context, doc *models.FiscalDocument, contract *models.ServiceContract) (*models.Receivable, error)
}

// Publisher announces authorized documents to downstream consumers.
type Publisher interface {
	PublishDocument(ctx context.Context, doc *models.FiscalDocument) error
}

// Archiver keeps a copy of the signed XML.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Option configures optional collaborators.
type Option func(*Scheduler)

// WithReceivables hands authorized documents to g.
func WithReceivables(g ReceivableGenerator) Option {
	return func(s *Scheduler) { s.receivables = g }
}

// WithPublisher publishes an event per authorized document.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// WithArchive stores the signed XML of authorized documents.
func WithArchive(a Archiver) Option {
	return func(s *Scheduler) { s.archive = a }
}

// WithClock overrides the emission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler drives emission passes.
type Scheduler struct {
	cfg         Config
	store       *store.Store
	loader      CredentialLoader
	transmitter Transmitter
	receivables ReceivableGenerator
	publisher   Publisher
	archive     Archiver
	locks       *keyedMutex
	now         func() time.Time
	log         zerolog.Logger
}

// New creates a Scheduler.
func New(cfg Config, st *store.Store, loader CredentialLoader, transmitter Transmitter, opts ...Option) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:         cfg,
		store:       st,
		loader:      loader,
		transmitter: transmitter,
		locks:       newKeyedMutex(),
		now:         time.Now,
		log:         logger.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one pass over the contracts due on runDate. Each contract
// emits at most its current cycle; contracts several cycles behind catch up
// over consecutive passes. After ctx is cancelled no further contract is
// started, and in-flight transmissions are allowed to finish.
func (s *Scheduler) Run(ctx context.Context, runDate time.Time) (*RunReport, error) {
	const op = "Run"

	runDate = calendar.Date(runDate)
	report := &RunReport{RunDate: runDate, StartedAt: s.now()}

	contracts, err := s.store.DueContracts(ctx, runDate, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info().
		Time("run_date", runDate).
		Int("due", len(contracts)).
		Bool("dry_run", s.cfg.DryRun).
		Msg("Starting emission pass")

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range contracts {
		if ctx.Err() != nil {
			break
		}
		contract := contracts[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			report.add(s.processContract(ctx, contract, runDate))
			return nil
		})
	}
	_ = g.Wait()
	report.finish(s.now())

	s.log.Info().
		Int("authorized", report.Count(OutcomeAuthorized)).
		Int("rejected", report.Count(OutcomeRejected)).
		Int("errors", report.Count(OutcomeError)).
		Int("invalid", report.Count(OutcomeInvalid)).
		Int("skipped", report.Count(OutcomeSkipped)).
		Str("billed", report.Billed().StringFixed(2)).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Emission pass finished")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s: interrupted: %w", op, err)
	}
	return report, nil
}

func cycleKey(contractID uint, cycle time.Time) string {
	return fmt.Sprintf("%d:%s", contractID, cycle.Format("2006-01-02"))
}

func (s *Scheduler) processContract(ctx context.Context, due models.ServiceContract, runDate time.Time) Result {
	cycle := calendar.Date(*due.NextEmission)
	res := Result{ContractID: due.ID, CycleDate: cycle}
	log := s.log.With().Uint("contract_id", due.ID).Time("cycle", cycle).Logger()

	unlock := s.locks.Lock(cycleKey(due.ID, cycle))
	defer unlock()

	// another worker or process may have moved the cursor since selection
	contract, err := s.store.Contract(ctx, due.ID)
	if err != nil {
		return s.fail(ctx, res, OutcomeFailed, err)
	}
	if !contract.IsDue(runDate) || !calendar.Date(*contract.NextEmission).Equal(cycle) {
		res.Outcome = OutcomeSkipped
		res.Message = "billing cursor moved"
		return res
	}

	in, err := s.input(ctx, contract, cycle)
	if err != nil {
		return s.fail(ctx, res, OutcomeFailed, err)
	}
	doc, err := document.Build(in)
	if err != nil {
		log.Warn().Err(err).Msg("Contract data does not produce a valid document")
		return s.fail(ctx, res, OutcomeInvalid, err)
	}
	res.Total = doc.Total
	if s.cfg.DryRun {
		res.Outcome = OutcomeValidated
		return res
	}

	creds, err := s.loader.Load(ctx, contract.CompanyID)
	if err != nil {
		log.Error().Err(err).Msg("Certificate unavailable")
		return s.fail(ctx, res, certificateOutcome(err), err)
	}

	err = s.store.Emit(ctx, func(tx *store.EmissionTx) error {
		if err := tx.Lock(contract.ID); err != nil {
			return err
		}
		if err := tx.ClaimCycle(contract.ID, cycle); err != nil {
			return err
		}
		number, err := tx.NextNumber(contract.CompanyID, doc.Series)
		if err != nil {
			return err
		}
		doc.Number = number
		if err := creds.Sign(doc, in); err != nil {
			return err
		}
		if err := tx.CreateDocument(doc); err != nil {
			return err
		}
		return tx.AdvanceCursor(store.CursorAdvance{
			ContractID:         contract.ID,
			Current:            *contract.NextEmission,
			Cycle:              cycle,
			Next:               calendar.NextCycle(cycle, contract.RecurrenceMonths, contract.BillingDay),
			InstallationBilled: contract.HasPendingInstallation(),
		})
	})
	switch {
	case errors.Is(err, store.ErrAlreadyEmitted):
		log.Warn().Err(err).Msg("Cycle already emitted, skipping")
		res.Outcome = OutcomeSkipped
		res.Message = err.Error()
		return res
	case errors.Is(err, store.ErrStaleState):
		// the cycle was free but the cursor did not match: nothing was booked
		log.Error().Err(err).Msg("Billing cursor could not be advanced")
		return s.fail(ctx, res, OutcomeFailed, err)
	case err != nil:
		log.Error().Err(err).Msg("Emission transaction rolled back")
		return s.fail(ctx, res, certificateOutcome(err), err)
	}

	res.DocumentID = doc.ID
	res.Number = doc.Number
	res.AccessKey = doc.AccessKey
	log.Info().
		Str("access_key", doc.AccessKey).
		Int64("number", doc.Number).
		Str("total", doc.Total.StringFixed(2)).
		Msg("Document signed")

	s.transmit(ctx, creds.TLS(), doc, &res)
	if res.Outcome == OutcomeAuthorized {
		s.afterAuthorization(ctx, doc, contract, &res)
	}
	return res
}

func certificateOutcome(err error) Outcome {
	if errors.Is(err, signer.ErrCertificate) {
		return OutcomeCertificate
	}
	return OutcomeFailed
}

// fail records err on the contract, leaving its cursor where it was.
func (s *Scheduler) fail(ctx context.Context, res Result, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Message = err.Error()
	if rerr := s.store.RecordContractError(context.WithoutCancel(ctx), res.ContractID, err.Error()); rerr != nil {
		s.log.Error().Err(rerr).Uint("contract_id", res.ContractID).Msg("Failed to record contract error")
	}
	return res
}

func (s *Scheduler) input(ctx context.Context, contract *models.ServiceContract, cycle time.Time) (document.Input, error) {
	company, err := s.store.Company(ctx, contract.CompanyID)
	if err != nil {
		return document.Input{}, err
	}
	client, err := s.store.Client(ctx, contract.ClientID)
	if err != nil {
		return document.Input{}, err
	}
	service, err := s.store.Service(ctx, contract.ServiceID)
	if err != nil {
		return document.Input{}, err
	}
	return document.Input{
		Contract:    *contract,
		Service:     *service,
		Company:     *company,
		Client:      *client,
		CycleDate:   cycle,
		IssuedAt:    s.now(),
		Environment: s.cfg.Environment,
	}, nil
}

// ArchiveKey is the object key of an authorized document's XML.
func ArchiveKey(doc *models.FiscalDocument) string {
	return fmt.Sprintf("nfcom/%s/%s/%s-nfcom.xml", doc.IssuerCNPJ, doc.IssuedAt.Format("200601"), doc.AccessKey)
}

// afterAuthorization runs the follow-ups of an authorized document. Their
// failures are logged against the document and never undo the authorization.
func (s *Scheduler) afterAuthorization(ctx context.Context, doc *models.FiscalDocument, contract *models.ServiceContract, res *Result) {
	log := s.log.With().Uint("document_id", doc.ID).Str("access_key", doc.AccessKey).Logger()

	if s.receivables != nil {
		r, err := s.receivables.Generate(ctx, doc, contract)
		if err != nil {
			log.Error().Err(err).Msg("Receivable generation failed")
		} else {
			res.ReceivableID = r.ID
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishDocument(ctx, doc); err != nil {
			log.Error().Err(err).Msg("Failed to publish document event")
		}
	}
	if s.archive != nil {
		if err := s.archive.Put(ctx, ArchiveKey(doc), []byte(doc.SignedXML), "application/xml"); err != nil {
			log.Error().Err(err).Msg("Failed to archive signed XML")
		}
	}
}
