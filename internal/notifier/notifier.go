// Package notifier delivers authorized documents to customers in batches.
//
// A batch is an EmissionJob: one item per requested document, delivered
// concurrently by a bounded pool. Item outcomes and job counters are written
// one delivery at a time, so the counters always add up to the items.
package notifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"nfcom/internal/calendar"
	"nfcom/internal/logger"
	"nfcom/internal/store"
	"nfcom/pkg/models"
)

var (
	// ErrNoDocuments is returned when a job is requested for an empty list.
	ErrNoDocuments = errors.New("no documents to notify")

	// ErrNotDeliverable is recorded on items whose document cannot be sent.
	ErrNotDeliverable = errors.New("document cannot be delivered")
)

const (
	defaultSubject = `NFCom {{.Number}} - {{.CompanyName}}`
	defaultBody    = `Olá {{.ClientName}},

Sua fatura de {{.Competence}} no valor de R$ {{.Total}} vence em {{.DueDate}}.

Chave de acesso: {{.AccessKey}}
Protocolo de autorização: {{.Protocol}}

O XML da nota fiscal segue em anexo.
`
)

// Attachment is a file sent with the message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// Message is one customer notification.
type Message struct {
	JobID       string       `json:"job_id"`
	DocumentID  uint         `json:"document_id"`
	AccessKey   string       `json:"access_key"`
	To          string       `json:"to"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
}

// Deliverer hands a message to the delivery channel.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// DeliveredPublisher is told about every successful delivery.
type DeliveredPublisher interface {
	PublishDelivered(ctx context.Context, doc *models.FiscalDocument) error
}

// Config holds notifier settings.
type Config struct {
	// Workers bounds concurrent deliveries. Default: 4.
	Workers int

	// RetryWait spaces the retries of a failed outcome write. Default: 200ms.
	RetryWait time.Duration

	// Subject and Body are text/template sources rendered per document.
	Subject string
	Body    string
}

// Notifier runs notification jobs.
type Notifier struct {
	store     *store.Store
	deliverer Deliverer
	events    DeliveredPublisher
	workers   int
	subject   *template.Template
	body      *template.Template
	now       func() time.Time
	retryWait time.Duration
	log       zerolog.Logger

	// mu serializes item and counter writes of concurrent deliveries
	mu sync.Mutex
	wg sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Notifier)

// WithEvents publishes a delivered event per successful item.
func WithEvents(p DeliveredPublisher) Option {
	return func(n *Notifier) { n.events = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// New creates a Notifier. It fails when a template does not parse.
func New(cfg Config, st *store.Store, d Deliverer, opts ...Option) (*Notifier, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if cfg.Body == "" {
		cfg.Body = defaultBody
	}
	subject, err := template.New("subject").Option("missingkey=error").Parse(cfg.Subject)
	if err != nil {
		return nil, fmt.Errorf("New: subject template: %w", err)
	}
	body, err := template.New("body").Option("missingkey=error").Parse(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("New: body template: %w", err)
	}

	n := &Notifier{
		store:     st,
		deliverer: d,
		workers:   cfg.Workers,
		subject:   subject,
		body:      body,
		now:       time.Now,
		retryWait: cfg.RetryWait,
		log:       logger.WithComponent("notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Run creates a job for documentIDs, delivers every item and returns the
// completed job.
func (n *Notifier) Run(ctx context.Context, documentIDs []uint) (*models.EmissionJob, error) {
	job, docs, err := n.create(ctx, documentIDs)
	if err != nil {
		return nil, err
	}
	if err := n.process(ctx, job, docs); err != nil {
		return job, err
	}
	return n.store.Job(context.WithoutCancel(ctx), job.ID)
}

// Start creates the job and delivers it in the background. Progress is read
// back with store.Job; Wait blocks until every started job finished.
func (n *Notifier) Start(ctx context.Context, documentIDs []uint) (*models.EmissionJob, error) {
	job, docs, err := n.create(ctx, documentIDs)
	if err != nil {
		return nil, err
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.process(context.WithoutCancel(ctx), job, docs); err != nil {
			n.log.Error().Err(err).Str("job_id", job.ID).Msg("Notification job failed")
		}
	}()
	return job, nil
}

// Wait blocks until background jobs finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) create(ctx context.Context, ids []uint) (*models.EmissionJob, map[uint]*models.FiscalDocument, error) {
	const op = "create"

	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil, ErrNoDocuments
	}
	found, err := n.store.DocumentsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	docs := make(map[uint]*models.FiscalDocument, len(found))
	for i := range found {
		docs[found[i].ID] = &found[i]
	}

	job := &models.EmissionJob{
		ID:        uuid.NewString(),
		Total:     len(ids),
		Status:    models.JobRunning,
		StartedAt: n.now().UTC(),
	}
	for _, id := range ids {
		job.Items = append(job.Items, models.EmissionJobItem{DocumentID: id, Status: models.DeliveryPending})
	}
	if err := n.store.CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	n.log.Info().Str("job_id", job.ID).Int("total", job.Total).Int("found", len(found)).Msg("Notification job created")
	return job, docs, nil
}

func (n *Notifier) process(ctx context.Context, job *models.EmissionJob, docs map[uint]*models.FiscalDocument) error {
	const op = "process"
	log := n.log.With().Str("job_id", job.ID).Logger()

	var (
		g          errgroup.Group
		pendingMu  sync.Mutex
		unrecorded []*models.EmissionJobItem
	)
	g.SetLimit(n.workers)
	for i := range job.Items {
		if ctx.Err() != nil {
			break
		}
		item := &job.Items[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			doc := docs[item.DocumentID]
			err := n.deliver(ctx, job.ID, doc)
			if !n.record(ctx, item, doc, err) {
				pendingMu.Lock()
				unrecorded = append(unrecorded, item)
				pendingMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// outcomes whose write failed get one more round once the pool drained,
	// otherwise processed never reaches total
	for _, item := range unrecorded {
		if err := n.writeItem(ctx, item); err != nil {
			log.Error().Err(err).Uint("document_id", item.DocumentID).Msg("Job item outcome lost")
		}
	}

	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("Notification job interrupted")
		return fmt.Errorf("%s %s: interrupted: %w", op, job.ID, err)
	}
	if err := n.store.CompleteJob(ctx, job.ID, n.now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info().Msg("Notification job completed")
	return nil
}

func (n *Notifier) deliver(ctx context.Context, jobID string, doc *models.FiscalDocument) error {
	if doc == nil {
		return fmt.Errorf("%w: not found", ErrNotDeliverable)
	}
	if doc.Status != models.StatusAuthorized {
		return fmt.Errorf("%w: document %d is %s", ErrNotDeliverable, doc.ID, doc.Status)
	}
	msg, err := n.compose(ctx, jobID, doc)
	if err != nil {
		return err
	}
	return n.deliverer.Deliver(ctx, msg)
}

// record writes the item outcome, the job counters and the document delivery
// fields of one delivery. It reports false when the item outcome could not be
// written.
func (n *Notifier) record(ctx context.Context, item *models.EmissionJobItem, doc *models.FiscalDocument, err error) bool {
	ctx = context.WithoutCancel(ctx)
	at := n.now().UTC()
	log := n.log.With().Str("job_id", item.JobID).Uint("document_id", item.DocumentID).Logger()

	status := models.DeliverySent
	errText := ""
	if err != nil {
		status = models.DeliveryFailed
		errText = err.Error()
		log.Warn().Err(err).Msg("Delivery failed")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	item.Status = status
	item.Error = errText
	recorded := true
	if rerr := n.writeItem(ctx, item); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to record job item")
		recorded = false
	}
	if doc == nil {
		return recorded
	}
	if rerr := n.store.RecordDocumentDelivery(ctx, doc.ID, status, errText, at); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to record document delivery")
	}
	if err == nil && n.events != nil {
		if perr := n.events.PublishDelivered(ctx, doc); perr != nil {
			log.Error().Err(perr).Msg("Failed to publish delivered event")
		}
	}
	return recorded
}

// writeItem stores an item outcome, retrying transient database failures. An
// item that is no longer pending was already counted.
func (n *Notifier) writeItem(ctx context.Context, item *models.EmissionJobItem) error {
	write := func() error {
		err := n.store.RecordJobDelivery(context.WithoutCancel(ctx), item)
		if errors.Is(err, store.ErrStaleState) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(write, backoff.WithMaxRetries(backoff.NewConstantBackOff(n.retryWait), 2))
	if errors.Is(err, store.ErrStaleState) {
		return nil
	}
	return err
}

type messageData struct {
	CompanyName string
	ClientName  string
	Series      int
	Number      int64
	AccessKey   string
	Protocol    string
	Total       string
	DueDate     string
	Competence  string
}

func (n *Notifier) compose(ctx context.Context, jobID string, doc *models.FiscalDocument) (Message, error) {
	const op = "compose"

	client, err := n.store.Client(ctx, doc.ClientID)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}
	if client.Email == "" {
		return Message{}, fmt.Errorf("%w: client %d has no e-mail address", ErrNotDeliverable, client.ID)
	}
	company, err := n.store.Company(ctx, doc.CompanyID)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", op, err)
	}

	data := messageData{
		CompanyName: company.Name,
		ClientName:  client.Name,
		Series:      doc.Series,
		Number:      doc.Number,
		AccessKey:   doc.AccessKey,
		Protocol:    doc.Protocol,
		Total:       doc.Total.StringFixed(2),
		DueDate:     doc.DueDate.Format("02/01/2006"),
		Competence:  calendar.Date(doc.CycleDate).Format("01/2006"),
	}
	var subject, body bytes.Buffer
	if err := n.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("%s: subject: %w", op, err)
	}
	if err := n.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("%s: body: %w", op, err)
	}

	return Message{
		JobID:      jobID,
		DocumentID: doc.ID,
		AccessKey:  doc.AccessKey,
		To:         client.Email,
		Subject:    subject.String(),
		Body:       body.String(),
		Attachments: []Attachment{{
			Name:        doc.AccessKey + "-nfcom.xml",
			ContentType: "application/xml",
			Content:     []byte(doc.SignedXML),
		}},
	}, nil
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
