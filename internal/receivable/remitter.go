package receivable

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nfcom/internal/logger"
	"nfcom/pkg/models"
)

// RemittanceStore is the persistence used by the Remitter.
type RemittanceStore interface {
	BillingAccount(ctx context.Context, id uint) (*models.BillingAccount, error)
	Company(ctx context.Context, id uint) (*models.Company, error)
	Client(ctx context.Context, id uint) (*models.Client, error)
	PendingReceivables(ctx context.Context, accountID uint) ([]models.Receivable, error)
	NextRemittanceSequence(ctx context.Context, accountID uint) (int64, error)
	MarkRemitted(ctx context.Context, ids []uint, file string) error
}

// Archiver keeps a copy of generated files.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Remitter writes CNAB 240 files for receivables prepared by the
// RemittanceGateway.
type Remitter struct {
	store   RemittanceStore
	dir     string
	archive Archiver
	now     func() time.Time
	log     zerolog.Logger
}

// NewRemitter creates a Remitter writing into dir. archive may be nil.
func NewRemitter(store RemittanceStore, dir string, archive Archiver) *Remitter {
	return &Remitter{
		store:   store,
		dir:     dir,
		archive: archive,
		now:     time.Now,
		log:     logger.WithComponent("remittance"),
	}
}

// RemittanceResult summarizes a generated file.
type RemittanceResult struct {
	File     string
	Path     string
	Sequence int64
	Count    int
	Total    decimal.Decimal
}

// Generate writes one file with every pending receivable of the account and
// marks them sent. With nothing pending no file is written and Count is zero.
func (m *Remitter) Generate(ctx context.Context, accountID uint) (*RemittanceResult, error) {
	const op = "Remitter.Generate"

	account, err := m.store.BillingAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if account.Mode != models.BankModeRemittance {
		return nil, fmt.Errorf("%s: account %d uses %q: %w", op, accountID, account.Mode, ErrUnsupportedMode)
	}
	pending, err := m.store.PendingReceivables(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(pending) == 0 {
		return &RemittanceResult{Total: decimal.Zero}, nil
	}
	company, err := m.store.Company(ctx, account.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	items := make([]RemittanceItem, 0, len(pending))
	ids := make([]uint, 0, len(pending))
	for _, r := range pending {
		if r.Barcode == "" {
			m.log.Warn().Uint("receivable_id", r.ID).Msg("Skipping receivable without barcode")
			continue
		}
		payer, err := m.store.Client(ctx, r.ClientID)
		if err != nil {
			return nil, fmt.Errorf("%s: receivable %d: %w", op, r.ID, err)
		}
		items = append(items, RemittanceItem{Receivable: r, Payer: *payer})
		ids = append(ids, r.ID)
	}
	if len(items) == 0 {
		return &RemittanceResult{Total: decimal.Zero}, nil
	}

	seq, err := m.store.NextRemittanceSequence(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := m.now()
	rem := Remittance{Company: *company, Account: *account, Sequence: seq, CreatedAt: now, Items: items}

	var buf bytes.Buffer
	if err := WriteRemittance(&buf, rem); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	name := RemittanceFileName(accountID, seq, now)
	path := filepath.Join(m.dir, name)
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("%s: write %s: %w", op, path, err)
	}

	if m.archive != nil {
		key := fmt.Sprintf("remittances/%s/%s", company.CNPJ, name)
		if err := m.archive.Put(ctx, key, buf.Bytes(), "text/plain"); err != nil {
			// the local file is authoritative; archiving is best effort
			m.log.Error().Err(err).Str("key", key).Msg("Failed to archive remittance file")
		}
	}

	if err := m.store.MarkRemitted(ctx, ids, name); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &RemittanceResult{File: name, Path: path, Sequence: seq, Count: len(items), Total: rem.Total()}
	m.log.Info().
		Str("file", name).
		Int("count", res.Count).
		Str("total", res.Total.StringFixed(2)).
		Msg("Remittance file written")
	return res, nil
}

// RemittanceFileName is CB<account><DDMM><NSA>.REM.
func RemittanceFileName(accountID uint, seq int64, at time.Time) string {
	return fmt.Sprintf("CB%03d%s%04d.REM", accountID, at.Format("0201"), seq%10000)
}
