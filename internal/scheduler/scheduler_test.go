package scheduler_test

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"nfcom/internal/document"
	"nfcom/internal/receivable"
	"nfcom/internal/scheduler"
	"nfcom/internal/sefaz"
	"nfcom/internal/signer"
	"nfcom/internal/store"
	"nfcom/internal/store/storetest"
	"nfcom/pkg/models"
)

// fakeCredentials numbers and renders the document without a real signature.
type fakeCredentials struct{}

func (fakeCredentials) Sign(doc *models.FiscalDocument, in document.Input) error {
	if err := document.AssignAccessKey(doc, in.Company); err != nil {
		return err
	}
	xml, err := document.RenderXML(doc, in)
	if err != nil {
		return err
	}
	doc.SignedXML = string(xml)
	doc.Status = models.StatusSigned
	return nil
}

func (fakeCredentials) TLS() tls.Certificate { return tls.Certificate{} }

type fakeLoader struct{ err error }

func (l fakeLoader) Load(ctx context.Context, companyID uint) (scheduler.Credentials, error) {
	if l.err != nil {
		return nil, l.err
	}
	return fakeCredentials{}, nil
}

type reply struct {
	res *sefaz.Result
	err error
}

var (
	authorized = reply{res: &sefaz.Result{
		Code: "100", Message: "Autorizado o uso da NFCom", Protocol: "3432500000012345", Outcome: sefaz.OutcomeAuthorized,
	}}
	timeout  = reply{err: &sefaz.TransientTransportError{Op: "Send", Err: context.DeadlineExceeded}}
	notFound = reply{
		res: &sefaz.Result{Code: "217", Message: "Rejeição: NFCom não consta na base de dados da SEFAZ"},
		err: sefaz.ErrNotFound,
	}
)

func rejected(code, reason string) reply {
	return reply{
		res: &sefaz.Result{Code: code, Message: reason, Outcome: sefaz.OutcomeRejected},
		err: &sefaz.BusinessRejection{Code: code, Message: reason},
	}
}

// scriptedTransmitter answers from a script; the last entry repeats.
type scriptedTransmitter struct {
	mu      sync.Mutex
	sends   []reply
	queries []reply
	sent    int
	queried int
	onSend  func()
}

func next(script []reply, n int) reply {
	if len(script) == 0 {
		return reply{err: errors.New("unscripted call")}
	}
	if n < len(script) {
		return script[n]
	}
	return script[len(script)-1]
}

func (s *scriptedTransmitter) Send(ctx context.Context, cert tls.Certificate, signedXML []byte) (*sefaz.Result, error) {
	s.mu.Lock()
	r := next(s.sends, s.sent)
	s.sent++
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if !strings.Contains(string(signedXML), "<infNFCom") {
		return nil, errors.New("not a document")
	}
	return r.res, r.err
}

func (s *scriptedTransmitter) Query(ctx context.Context, cert tls.Certificate, accessKey string) (*sefaz.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := next(s.queries, s.queried)
	s.queried++
	return r.res, r.err
}

func (s *scriptedTransmitter) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.queried
}

type recorder struct {
	mu        sync.Mutex
	published []string
	archived  map[string][]byte
}

func (r *recorder) PublishDocument(ctx context.Context, doc *models.FiscalDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, doc.AccessKey)
	return nil
}

func (r *recorder) Put(ctx context.Context, key string, body []byte, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.archived == nil {
		r.archived = make(map[string][]byte)
	}
	r.archived[key] = body
	return nil
}

var clock = func() time.Time { return time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC) }

func testConfig() scheduler.Config {
	return scheduler.Config{
		Environment:    models.EnvironmentHomologation,
		Workers:        2,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func newScheduler(s *store.Store, tr scheduler.Transmitter, opts ...scheduler.Option) *scheduler.Scheduler {
	return newSchedulerWith(testConfig(), s, fakeLoader{}, tr, opts...)
}

func newSchedulerWith(cfg scheduler.Config, s *store.Store, loader scheduler.CredentialLoader, tr scheduler.Transmitter, opts ...scheduler.Option) *scheduler.Scheduler {
	opts = append([]scheduler.Option{scheduler.WithClock(clock)}, opts...)
	return scheduler.New(cfg, s, loader, tr, opts...)
}

func reload(t *testing.T, s *store.Store, id uint) *models.ServiceContract {
	t.Helper()
	c, err := s.Contract(context.Background(), id)
	if err != nil {
		t.Fatalf("Contract: %v", err)
	}
	return c
}

func countDocuments(t *testing.T, s *store.Store) int64 {
	t.Helper()
	var n int64
	if err := s.DB().Model(&models.FiscalDocument{}).Count(&n).Error; err != nil {
		t.Fatalf("count documents: %v", err)
	}
	return n
}

func TestRunEmitsAuthorizesAndOriginatesReceivable(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s, storetest.WithInstallationFee("150.00"))
	ctx := context.Background()

	tr := &scriptedTransmitter{sends: []reply{authorized}}
	rec := &recorder{}
	gen := receivable.NewGenerator(s, receivable.NewRegistry().
		Add(models.BankModeRemittance, receivable.NewRemittanceGateway(s)))
	sched := newScheduler(s, tr,
		scheduler.WithReceivables(gen), scheduler.WithPublisher(rec), scheduler.WithArchive(rec))

	report, err := sched.Run(ctx, storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %+v", report.Results)
	}
	res := report.Results[0]
	if res.Outcome != scheduler.OutcomeAuthorized || res.Number != 1 || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !report.Billed().Equal(decimal.RequireFromString("249.90")) {
		t.Fatalf("billed = %s, want 249.90", report.Billed())
	}

	doc, err := s.Document(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Status != models.StatusAuthorized || doc.Protocol != "3432500000012345" || doc.AuthorityCode != "100" {
		t.Fatalf("document not authorized: %+v", doc)
	}
	if len(doc.Items) != 2 || !document.ValidAccessKey(doc.AccessKey) {
		t.Fatalf("unexpected document shape: %d items, key %s", len(doc.Items), doc.AccessKey)
	}

	c := reload(t, s, f.Contract.ID)
	if !c.NextEmission.Equal(time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("next emission = %s", c.NextEmission)
	}
	if c.LastEmission == nil || !c.LastEmission.Equal(storetest.Cycle) || !c.InstallationPaid {
		t.Fatalf("cursor not booked: %+v", c)
	}

	r, err := s.ReceivableForCycle(ctx, f.Contract.ID, storetest.Cycle)
	if err != nil {
		t.Fatalf("ReceivableForCycle: %v", err)
	}
	if r.ID != res.ReceivableID || !r.Amount.Equal(decimal.RequireFromString("249.90")) || r.Barcode == "" {
		t.Fatalf("unexpected receivable %+v", r)
	}

	if len(rec.published) != 1 || rec.published[0] != doc.AccessKey {
		t.Fatalf("published = %v", rec.published)
	}
	if body, ok := rec.archived[scheduler.ArchiveKey(doc)]; !ok || string(body) != doc.SignedXML {
		t.Fatalf("signed xml not archived: %v", rec.archived)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s)
	ctx := context.Background()
	tr := &scriptedTransmitter{sends: []reply{authorized}}
	sched := newScheduler(s, tr)

	if _, err := sched.Run(ctx, storetest.Cycle); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	report, err := sched.Run(ctx, storetest.Cycle)
	if err != nil || len(report.Results) != 0 {
		t.Fatalf("second Run = %+v, %v", report, err)
	}

	// even with the cursor pushed back, the cycle is claimed only once
	if err := s.DB().Model(&models.ServiceContract{}).Where("id = ?", f.Contract.ID).
		Update("next_emission", storetest.Cycle).Error; err != nil {
		t.Fatalf("reset cursor: %v", err)
	}
	report, err = sched.Run(ctx, storetest.Cycle)
	if err != nil {
		t.Fatalf("third Run: %v", err)
	}
	if report.Count(scheduler.OutcomeSkipped) != 1 {
		t.Fatalf("expected a skipped cycle, got %+v", report.Results)
	}
	if n := countDocuments(t, s); n != 1 {
		t.Fatalf("%d documents, want 1", n)
	}
	if sent, _ := tr.counts(); sent != 1 {
		t.Fatalf("%d submissions, want 1", sent)
	}
}

func TestRunExhaustsTransientBudget(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s)
	ctx := context.Background()

	cfg := testConfig()
	cfg.MaxAttempts = 2
	tr := &scriptedTransmitter{sends: []reply{timeout, timeout, timeout}, queries: []reply{notFound}}
	gen := receivable.NewGenerator(s, receivable.NewRegistry().
		Add(models.BankModeRemittance, receivable.NewRemittanceGateway(s)))
	sched := newSchedulerWith(cfg, s, fakeLoader{}, tr, scheduler.WithReceivables(gen))

	report, err := sched.Run(ctx, storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != scheduler.OutcomeError || res.Attempts != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if sent, queried := tr.counts(); sent != 2 || queried != 1 {
		t.Fatalf("%d submissions and %d queries, want 2 and 1", sent, queried)
	}

	doc, _ := s.Document(ctx, res.DocumentID)
	if doc.Status != models.StatusError || doc.Attempts != 2 || !strings.Contains(doc.LastError, "deadline") {
		t.Fatalf("unexpected document %+v", doc)
	}
	// the document exists and is numbered, so the cycle is booked
	if c := reload(t, s, f.Contract.ID); !c.NextEmission.After(storetest.Cycle) {
		t.Fatalf("cursor not advanced: %s", c.NextEmission)
	}
	if _, err := s.ReceivableForCycle(ctx, f.Contract.ID, storetest.Cycle); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("receivable created for an unauthorized document: %v", err)
	}
}

func TestRunQueriesBeforeResending(t *testing.T) {
	t.Run("earlier submission received", func(t *testing.T) {
		s := storetest.New(t)
		storetest.Seed(t, s)
		tr := &scriptedTransmitter{
			sends:   []reply{timeout, rejected("539", "Rejeição: Duplicidade de NFCom")},
			queries: []reply{authorized},
		}
		report, err := newScheduler(s, tr).Run(context.Background(), storetest.Cycle)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		res := report.Results[0]
		if res.Outcome != scheduler.OutcomeAuthorized || res.Attempts != 2 {
			t.Fatalf("unexpected result %+v", res)
		}
		if sent, queried := tr.counts(); sent != 1 || queried != 1 {
			t.Fatalf("sent %d, queried %d: a received document must not be resent", sent, queried)
		}
		doc, _ := s.Document(context.Background(), res.DocumentID)
		if doc.Status != models.StatusAuthorized || doc.Protocol != "3432500000012345" {
			t.Fatalf("unexpected document %+v", doc)
		}
	})

	t.Run("query unavailable, then unknown", func(t *testing.T) {
		s := storetest.New(t)
		storetest.Seed(t, s)
		tr := &scriptedTransmitter{
			sends:   []reply{timeout, authorized},
			queries: []reply{timeout, notFound},
		}
		report, err := newScheduler(s, tr).Run(context.Background(), storetest.Cycle)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res := report.Results[0]; res.Outcome != scheduler.OutcomeAuthorized || res.Attempts != 3 {
			t.Fatalf("unexpected result %+v", res)
		}
		if sent, queried := tr.counts(); sent != 2 || queried != 2 {
			t.Fatalf("sent %d, queried %d", sent, queried)
		}
	})
}

func TestRunRecordsRejectionReason(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s)
	const reason = "Rejeição: CFOP de operação incompatível com o cClass"

	tr := &scriptedTransmitter{sends: []reply{rejected("328", reason)}}
	report, err := newScheduler(s, tr).Run(context.Background(), storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != scheduler.OutcomeRejected || res.Message != reason || res.Code != "328" {
		t.Fatalf("unexpected result %+v", res)
	}
	doc, _ := s.Document(context.Background(), res.DocumentID)
	if doc.Status != models.StatusRejected || doc.AuthorityMessage != reason {
		t.Fatalf("rejection not stored literally: %+v", doc)
	}
	if sent, _ := tr.counts(); sent != 1 {
		t.Fatalf("rejections must not be retried, %d submissions", sent)
	}
}

func TestRunNeverAuthorizesUnclassifiedAnswers(t *testing.T) {
	s := storetest.New(t)
	storetest.Seed(t, s)

	tr := &scriptedTransmitter{sends: []reply{{err: &sefaz.UnclassifiedResponse{
		Code: "999", Message: "Rejeição: Erro não catalogado", StatusCode: 200, Body: "<retNFCom/>",
	}}}}
	report, err := newScheduler(s, tr).Run(context.Background(), storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != scheduler.OutcomeError {
		t.Fatalf("unexpected result %+v", res)
	}
	doc, _ := s.Document(context.Background(), res.DocumentID)
	if doc.Status != models.StatusError || doc.AuthorityCode != "999" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestRunKeepsCursorOnFailure(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		s := storetest.New(t)
		f := storetest.Seed(t, s)
		if err := s.DB().Model(&models.Client{}).Where("id = ?", f.Client.ID).
			Update("document", "11111111111").Error; err != nil {
			t.Fatalf("corrupt client: %v", err)
		}
		tr := &scriptedTransmitter{sends: []reply{authorized}}

		report, err := newScheduler(s, tr).Run(context.Background(), storetest.Cycle)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if report.Results[0].Outcome != scheduler.OutcomeInvalid {
			t.Fatalf("unexpected result %+v", report.Results[0])
		}
		c := reload(t, s, f.Contract.ID)
		if !c.NextEmission.Equal(storetest.Cycle) || !strings.Contains(c.LastError, "recipient") {
			t.Fatalf("contract = next %s, error %q", c.NextEmission, c.LastError)
		}
		if n := countDocuments(t, s); n != 0 {
			t.Fatalf("%d documents created", n)
		}
	})

	t.Run("certificate", func(t *testing.T) {
		s := storetest.New(t)
		f := storetest.Seed(t, s)
		loader := fakeLoader{err: &signer.CertificateError{Op: "Load", CompanyID: f.Company.ID, Err: signer.ErrExpired}}
		tr := &scriptedTransmitter{sends: []reply{authorized}}

		report, err := newSchedulerWith(testConfig(), s, loader, tr).Run(context.Background(), storetest.Cycle)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if report.Results[0].Outcome != scheduler.OutcomeCertificate {
			t.Fatalf("unexpected result %+v", report.Results[0])
		}
		c := reload(t, s, f.Contract.ID)
		if !c.NextEmission.Equal(storetest.Cycle) || !strings.Contains(c.LastError, "expired") {
			t.Fatalf("contract = next %s, error %q", c.NextEmission, c.LastError)
		}
		if sent, _ := tr.counts(); sent != 0 {
			t.Fatalf("transmitted without a certificate")
		}
	})
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s)
	cfg := testConfig()
	cfg.DryRun = true
	tr := &scriptedTransmitter{sends: []reply{authorized}}

	report, err := newSchedulerWith(cfg, s, fakeLoader{}, tr).Run(context.Background(), storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Results[0].Outcome != scheduler.OutcomeValidated || !report.Results[0].Total.Equal(decimal.RequireFromString("99.90")) {
		t.Fatalf("unexpected result %+v", report.Results[0])
	}
	if c := reload(t, s, f.Contract.ID); !c.NextEmission.Equal(storetest.Cycle) {
		t.Fatalf("dry run moved the cursor")
	}
	if n := countDocuments(t, s); n != 0 {
		t.Fatalf("dry run created %d documents", n)
	}
}

func TestRunCatchesUpOneCyclePerPass(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s, storetest.WithNextEmission(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	sched := newScheduler(s, &scriptedTransmitter{sends: []reply{authorized}})
	runDate := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)

	want := []time.Time{
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	for i, cycle := range want {
		report, err := sched.Run(ctx, runDate)
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if len(report.Results) != 1 || !report.Results[0].CycleDate.Equal(cycle) || report.Results[0].Number != int64(i+1) {
			t.Fatalf("pass %d: %+v", i, report.Results)
		}
	}

	report, _ := sched.Run(ctx, runDate)
	if len(report.Results) != 0 {
		t.Fatalf("nothing should be due after catching up: %+v", report.Results)
	}
	if c := reload(t, s, f.Contract.ID); !c.NextEmission.Equal(time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("next emission = %s", c.NextEmission)
	}
}

func TestRunAdvancesCursorByOnePeriod(t *testing.T) {
	s := storetest.New(t)
	cursor := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	// billing day 5 must not pull the cursor back to the 5th
	f := storetest.Seed(t, s, storetest.WithNextEmission(cursor))

	report, err := newScheduler(s, &scriptedTransmitter{sends: []reply{authorized}}).Run(context.Background(), cursor)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Results[0].Outcome != scheduler.OutcomeAuthorized {
		t.Fatalf("unexpected result %+v", report.Results[0])
	}
	if c := reload(t, s, f.Contract.ID); !c.NextEmission.Equal(time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("next emission = %s, want 2025-02-15", c.NextEmission)
	}
}

func TestRunBillsCursorWithTimeOfDay(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s, storetest.WithNextEmission(storetest.Cycle.Add(8*time.Hour)))

	report, err := newScheduler(s, &scriptedTransmitter{sends: []reply{authorized}}).Run(context.Background(), storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Outcome != scheduler.OutcomeAuthorized {
		t.Fatalf("unexpected results %+v", report.Results)
	}
	if !report.Results[0].CycleDate.Equal(storetest.Cycle) {
		t.Fatalf("cycle = %s", report.Results[0].CycleDate)
	}
	c := reload(t, s, f.Contract.ID)
	if !c.NextEmission.Equal(time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)) || !c.LastEmission.Equal(storetest.Cycle) {
		t.Fatalf("cursor = last %s, next %s", c.LastEmission, c.NextEmission)
	}
	if n := countDocuments(t, s); n != 1 {
		t.Fatalf("%d documents, want 1", n)
	}
}

// cursorMovingLoader moves the billing cursor after the contract was selected.
type cursorMovingLoader struct {
	s          *store.Store
	contractID uint
	to         time.Time
}

func (l cursorMovingLoader) Load(ctx context.Context, companyID uint) (scheduler.Credentials, error) {
	err := l.s.DB().Model(&models.ServiceContract{}).
		Where("id = ?", l.contractID).
		Update("next_emission", l.to).Error
	if err != nil {
		return nil, err
	}
	return fakeCredentials{}, nil
}

func TestRunReportsUnmatchedCursor(t *testing.T) {
	s := storetest.New(t)
	f := storetest.Seed(t, s)
	ctx := context.Background()

	loader := cursorMovingLoader{s: s, contractID: f.Contract.ID, to: storetest.Cycle.Add(time.Hour)}
	tr := &scriptedTransmitter{sends: []reply{authorized}}
	report, err := newSchedulerWith(testConfig(), s, loader, tr).Run(ctx, storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := report.Results[0]
	if res.Outcome != scheduler.OutcomeFailed || !strings.Contains(res.Message, "row changed") {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := countDocuments(t, s); n != 0 {
		t.Fatalf("%d documents kept after a rolled back emission", n)
	}
	if c := reload(t, s, f.Contract.ID); c.LastError == "" {
		t.Fatalf("contract error not recorded")
	}

	// the cycle claim was rolled back, so the next pass bills it
	again, err := newScheduler(s, tr).Run(ctx, storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if again.Results[0].Outcome != scheduler.OutcomeAuthorized {
		t.Fatalf("unexpected result %+v", again.Results[0])
	}
	if c := reload(t, s, f.Contract.ID); c.LastError != "" {
		t.Fatalf("contract error not cleared: %q", c.LastError)
	}
}

func TestRunNumbersConcurrentContracts(t *testing.T) {
	s := storetest.New(t)
	for i := 0; i < 5; i++ {
		storetest.Seed(t, s)
	}
	cfg := testConfig()
	cfg.Workers = 3

	report, err := newSchedulerWith(cfg, s, fakeLoader{}, &scriptedTransmitter{sends: []reply{authorized}}).
		Run(context.Background(), storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Count(scheduler.OutcomeAuthorized) != 5 {
		t.Fatalf("unexpected results %+v", report.Results)
	}
	seen := map[int64]bool{}
	for _, r := range report.Results {
		if seen[r.Number] || r.Number < 1 || r.Number > 5 {
			t.Fatalf("number %d duplicated or out of range", r.Number)
		}
		seen[r.Number] = true
	}
}

func TestRunStopsStartingContractsAfterCancel(t *testing.T) {
	s := storetest.New(t)
	for i := 0; i < 3; i++ {
		storetest.Seed(t, s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Workers = 1
	tr := &scriptedTransmitter{sends: []reply{authorized}, onSend: cancel}

	report, err := newSchedulerWith(cfg, s, fakeLoader{}, tr).Run(ctx, storetest.Cycle)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Outcome != scheduler.OutcomeAuthorized {
		t.Fatalf("the in-flight submission must complete alone: %+v", report.Results)
	}
	doc, _ := s.Document(context.Background(), report.Results[0].DocumentID)
	if doc.Status != models.StatusAuthorized {
		t.Fatalf("document status %s", doc.Status)
	}
}

// failedEmission leaves one document in error after an exhausted budget.
func failedEmission(t *testing.T, s *store.Store) *models.FiscalDocument {
	t.Helper()
	cfg := testConfig()
	cfg.MaxAttempts = 1
	report, err := newSchedulerWith(cfg, s, fakeLoader{}, &scriptedTransmitter{sends: []reply{timeout}}).
		Run(context.Background(), storetest.Cycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, err := s.Document(context.Background(), report.Results[0].DocumentID)
	if err != nil || doc.Status != models.StatusError {
		t.Fatalf("expected a document in error, got %+v, %v", doc, err)
	}
	return doc
}

func TestRetry(t *testing.T) {
	t.Run("already authorized at the authority", func(t *testing.T) {
		s := storetest.New(t)
		f := storetest.Seed(t, s)
		doc := failedEmission(t, s)

		tr := &scriptedTransmitter{sends: []reply{authorized}, queries: []reply{authorized}}
		gen := receivable.NewGenerator(s, receivable.NewRegistry().
			Add(models.BankModeRemittance, receivable.NewRemittanceGateway(s)))
		report, err := newScheduler(s, tr, scheduler.WithReceivables(gen)).Retry(context.Background(), []uint{doc.ID})
		if err != nil {
			t.Fatalf("Retry: %v", err)
		}
		if report.Results[0].Outcome != scheduler.OutcomeAuthorized {
			t.Fatalf("unexpected result %+v", report.Results[0])
		}
		if sent, queried := tr.counts(); sent != 0 || queried != 1 {
			t.Fatalf("sent %d, queried %d: a found document must not be resent", sent, queried)
		}
		if _, err := s.ReceivableForCycle(context.Background(), f.Contract.ID, storetest.Cycle); err != nil {
			t.Fatalf("receivable missing: %v", err)
		}
	})

	t.Run("unknown at the authority", func(t *testing.T) {
		s := storetest.New(t)
		storetest.Seed(t, s)
		doc := failedEmission(t, s)

		tr := &scriptedTransmitter{sends: []reply{authorized}, queries: []reply{notFound}}
		report, err := newScheduler(s, tr).Retry(context.Background(), []uint{doc.ID})
		if err != nil {
			t.Fatalf("Retry: %v", err)
		}
		res := report.Results[0]
		if res.Outcome != scheduler.OutcomeAuthorized || res.Attempts != 2 {
			t.Fatalf("unexpected result %+v", res)
		}
		stored, _ := s.Document(context.Background(), doc.ID)
		if stored.Status != models.StatusAuthorized || stored.LastError != "" {
			t.Fatalf("unexpected document %+v", stored)
		}
	})

	t.Run("query fails", func(t *testing.T) {
		s := storetest.New(t)
		storetest.Seed(t, s)
		doc := failedEmission(t, s)

		tr := &scriptedTransmitter{sends: []reply{authorized}, queries: []reply{timeout}}
		report, _ := newScheduler(s, tr).Retry(context.Background(), []uint{doc.ID})
		if report.Results[0].Outcome != scheduler.OutcomeError {
			t.Fatalf("unexpected result %+v", report.Results[0])
		}
		if sent, _ := tr.counts(); sent != 0 {
			t.Fatalf("resent while the earlier outcome is unknown")
		}
	})

	t.Run("final documents are skipped", func(t *testing.T) {
		s := storetest.New(t)
		storetest.Seed(t, s)
		report, _ := newScheduler(s, &scriptedTransmitter{sends: []reply{authorized}}).Run(context.Background(), storetest.Cycle)

		tr := &scriptedTransmitter{sends: []reply{authorized}, queries: []reply{authorized}}
		again, err := newScheduler(s, tr).Retry(context.Background(), []uint{report.Results[0].DocumentID})
		if err != nil || again.Results[0].Outcome != scheduler.OutcomeSkipped {
			t.Fatalf("Retry = %+v, %v", again.Results, err)
		}
	})

	t.Run("by status", func(t *testing.T) {
		s := storetest.New(t)
		storetest.Seed(t, s)
		failedEmission(t, s)

		tr := &scriptedTransmitter{sends: []reply{authorized}, queries: []reply{notFound}}
		report, err := newScheduler(s, tr).RetryStatus(context.Background(), models.StatusError, 10)
		if err != nil || report.Count(scheduler.OutcomeAuthorized) != 1 {
			t.Fatalf("RetryStatus = %+v, %v", report, err)
		}
		if _, err := newScheduler(s, tr).RetryStatus(context.Background(), models.StatusAuthorized, 10); err == nil {
			t.Fatalf("authorized documents must not be retryable")
		}
	})
}
