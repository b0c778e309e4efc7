package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the result of processing one contract or document.
type Outcome string

const (
	OutcomeAuthorized  Outcome = "authorized"
	OutcomeRejected    Outcome = "rejected"
	OutcomeError       Outcome = "error"       // transmission failed, document kept for retry
	OutcomeInvalid     Outcome = "invalid"     // validation failed, cursor not advanced
	OutcomeCertificate Outcome = "certificate" // certificate unusable, cursor not advanced
	OutcomeFailed      Outcome = "failed"      // lookup or persistence failure, cursor not advanced
	OutcomeSkipped     Outcome = "skipped"     // cycle already emitted or not retryable
	OutcomeValidated   Outcome = "validated"   // dry run
)

// Result describes one contract cycle or retried document.
type Result struct {
	ContractID   uint            `json:"contract_id"`
	CycleDate    time.Time       `json:"cycle_date"`
	DocumentID   uint            `json:"document_id,omitempty"`
	Number       int64           `json:"number,omitempty"`
	AccessKey    string          `json:"access_key,omitempty"`
	Total        decimal.Decimal `json:"total"`
	Outcome      Outcome         `json:"outcome"`
	Code         string          `json:"code,omitempty"`
	Message      string          `json:"message,omitempty"`
	Attempts     int             `json:"attempts,omitempty"`
	ReceivableID uint            `json:"receivable_id,omitempty"`
}

// RunReport collects the results of one pass.
type RunReport struct {
	RunDate    time.Time `json:"run_date"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`

	mu sync.Mutex
}

func (r *RunReport) add(res Result) {
	r.mu.Lock()
	r.Results = append(r.Results, res)
	r.mu.Unlock()
}

func (r *RunReport) finish(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = at
	sort.SliceStable(r.Results, func(i, j int) bool {
		if r.Results[i].ContractID != r.Results[j].ContractID {
			return r.Results[i].ContractID < r.Results[j].ContractID
		}
		return r.Results[i].CycleDate.Before(r.Results[j].CycleDate)
	})
}

// Count returns the number of results with the given outcome.
func (r *RunReport) Count(o Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Billed sums the totals of authorized documents.
func (r *RunReport) Billed() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, res := range r.Results {
		if res.Outcome == OutcomeAuthorized {
			sum = sum.Add(res.Total)
		}
	}
	return sum
}
