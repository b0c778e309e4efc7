package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"nfcom/internal/api"
	"nfcom/internal/notifier"
	"nfcom/internal/scheduler"
	"nfcom/internal/store"
	"nfcom/internal/store/storetest"
	"nfcom/pkg/models"
)

type fakeEmissions struct {
	runDate   time.Time
	retried   []uint
	status    models.DocumentStatus
	interrupt bool
}

func (f *fakeEmissions) Run(ctx context.Context, runDate time.Time) (*scheduler.RunReport, error) {
	f.runDate = runDate
	report := &scheduler.RunReport{RunDate: runDate, Results: []scheduler.Result{
		{ContractID: 1, Outcome: scheduler.OutcomeAuthorized, Total: decimal.RequireFromString("99.90")},
	}}
	if f.interrupt {
		return report, context.Canceled
	}
	return report, nil
}

func (f *fakeEmissions) Retry(ctx context.Context, ids []uint) (*scheduler.RunReport, error) {
	f.retried = ids
	return &scheduler.RunReport{}, nil
}

func (f *fakeEmissions) RetryStatus(ctx context.Context, status models.DocumentStatus, limit int) (*scheduler.RunReport, error) {
	if !status.IsRetryable() {
		return nil, scheduler.ErrNotRetryable
	}
	f.status = status
	return &scheduler.RunReport{}, nil
}

type fakeNotifications struct{}

func (fakeNotifications) Start(ctx context.Context, ids []uint) (*models.EmissionJob, error) {
	if len(ids) == 0 {
		return nil, notifier.ErrNoDocuments
	}
	return &models.EmissionJob{ID: uuid.NewString(), Total: len(ids), Status: models.JobRunning}, nil
}

func newServer(t *testing.T) (*api.Server, *fakeEmissions, *store.Store) {
	t.Helper()
	s := storetest.New(t)
	em := &fakeEmissions{}
	return api.New(em, fakeNotifications{}, s), em, s
}

func do(t *testing.T, srv *api.Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newServer(t)
	rec := do(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestRunEmission(t *testing.T) {
	srv, em, _ := newServer(t)

	rec := do(t, srv, http.MethodPost, "/emissions/run", `{"date":"2025-03-05"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !em.runDate.Equal(time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("run date %v", em.runDate)
	}
	var report scheduler.RunReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Results) != 1 || report.Results[0].Outcome != scheduler.OutcomeAuthorized {
		t.Fatalf("unexpected report %+v", report.Results)
	}

	if rec := do(t, srv, http.MethodPost, "/emissions/run", `{"date":"05/03/2025"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date accepted: %d", rec.Code)
	}

	em.interrupt = true
	if rec := do(t, srv, http.MethodPost, "/emissions/run", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("interrupted pass returned %d", rec.Code)
	}
}

func TestRetryDocuments(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"by ids", `{"document_ids":[3,4]}`, http.StatusOK},
		{"by status", `{"status":"error"}`, http.StatusOK},
		{"not retryable", `{"status":"authorized"}`, http.StatusBadRequest},
		{"unknown status", `{"status":"lost"}`, http.StatusBadRequest},
		{"both", `{"document_ids":[1],"status":"error"}`, http.StatusBadRequest},
		{"neither", `{}`, http.StatusBadRequest},
		{"malformed", `{"document_ids":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newServer(t)
			rec := do(t, srv, http.MethodPost, "/documents/retry", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestListDocuments(t *testing.T) {
	srv, _, s := newServer(t)
	f := storetest.Seed(t, s)
	doc := &models.FiscalDocument{
		CompanyID: f.Company.ID, ContractID: f.Contract.ID, ClientID: f.Client.ID,
		CycleDate: storetest.Cycle, Series: 1, Number: 1, Environment: models.EnvironmentHomologation,
		IssuerCNPJ: f.Company.CNPJ, RecipientDocument: f.Client.Document, IssuedAt: storetest.Cycle,
		Total: decimal.RequireFromString("99.90"), Status: models.StatusError, LastError: "timeout",
		DeliveryStatus: models.DeliveryPending,
	}
	if err := s.Emit(context.Background(), func(tx *store.EmissionTx) error { return tx.CreateDocument(doc) }); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	rec := do(t, srv, http.MethodGet, "/documents?status=error", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Documents []models.FiscalDocument `json:"documents"`
		Count     int                     `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Documents[0].LastError != "timeout" {
		t.Fatalf("unexpected body %+v", body)
	}

	if rec := do(t, srv, http.MethodGet, "/documents", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing status accepted: %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/documents?status=error&limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit accepted: %d", rec.Code)
	}
}

func TestNotificationJobs(t *testing.T) {
	srv, _, s := newServer(t)

	rec := do(t, srv, http.MethodPost, "/notifications/jobs", `{"document_ids":[1,2]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/notifications/jobs/") {
		t.Fatalf("location header %q", rec.Header().Get("Location"))
	}

	if rec := do(t, srv, http.MethodPost, "/notifications/jobs", `{"document_ids":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty job accepted: %d", rec.Code)
	}

	job := &models.EmissionJob{ID: uuid.NewString(), Total: 1, Processed: 1, Successes: 1, Status: models.JobCompleted}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	rec = do(t, srv, http.MethodGet, "/notifications/jobs/"+job.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got models.EmissionJob
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != models.JobCompleted || got.Successes != 1 {
		t.Fatalf("unexpected job %+v", got)
	}

	if rec := do(t, srv, http.MethodGet, "/notifications/jobs/"+uuid.NewString(), ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job returned %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/notifications/jobs/42", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed job id returned %d", rec.Code)
	}
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	srv := api.New(&fakeEmissions{}, fakeNotifications{}, brokenDocuments{})
	rec := do(t, srv, http.MethodGet, "/documents/counts", "")
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "disk") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

type brokenDocuments struct{}

func (brokenDocuments) DocumentsByStatus(context.Context, models.DocumentStatus, int) ([]models.FiscalDocument, error) {
	return nil, errors.New("disk full")
}

func (brokenDocuments) CountByStatus(context.Context) (map[models.DocumentStatus]int64, error) {
	return nil, errors.New("disk full")
}

func (brokenDocuments) Job(context.Context, string) (*models.EmissionJob, error) {
	return nil, errors.New("disk full")
}
