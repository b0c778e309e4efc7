package receivable

import (
	"context"
	"fmt"
	"strconv"

	"nfcom/pkg/models"
)

// Gateway registers a receivable with a bank. On success the receivable
// carries its bank identifiers and status.
type Gateway interface {
	Register(ctx context.Context, account models.BillingAccount, payer models.Client, r *models.Receivable) error
}

// Registry selects the gateway for a billing account's integration mode.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Add binds a gateway to a mode, replacing any previous one.
func (r *Registry) Add(mode string, gw Gateway) *Registry {
	r.gateways[mode] = gw
	return r
}

// For returns the gateway bound to mode.
func (r *Registry) For(mode string) (Gateway, error) {
	gw, ok := r.gateways[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	return gw, nil
}

// OurNumberAllocator hands out nosso número values per billing account.
type OurNumberAllocator interface {
	NextOurNumber(ctx context.Context, accountID uint) (int64, error)
}

// freeFieldLayouts maps bank codes to their 25 digit barcode free field.
var freeFieldLayouts = map[string]func(a models.BillingAccount, ourNumber string) (string, error){
	"237": func(a models.BillingAccount, ourNumber string) (string, error) {
		return BradescoFreeField(a.Agency, a.Portfolio, ourNumber, a.Account)
	},
}

// RemittanceGateway prepares boletos locally for the next CNAB 240 file: it
// assigns our number and computes barcode and digitable line. The receivable
// stays pending until a remittance file includes it.
type RemittanceGateway struct {
	numbers OurNumberAllocator
}

// NewRemittanceGateway creates a file based gateway.
func NewRemittanceGateway(numbers OurNumberAllocator) *RemittanceGateway {
	return &RemittanceGateway{numbers: numbers}
}

// Register implements Gateway.
func (g *RemittanceGateway) Register(ctx context.Context, account models.BillingAccount, _ models.Client, r *models.Receivable) error {
	const op = "RemittanceGateway.Register"

	layout, ok := freeFieldLayouts[account.BankCode]
	if !ok {
		return fmt.Errorf("%s: %w: no free field layout for bank %s", op, ErrInvalidBoleto, account.BankCode)
	}

	if r.OurNumber == "" {
		n, err := g.numbers.NextOurNumber(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		r.OurNumber = leftPad(strconv.FormatInt(n, 10), 11, '0')
	}

	free, err := layout(account, r.OurNumber)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	barcode, err := Barcode(BarcodeFields{
		BankCode:  account.BankCode,
		Due:       r.DueDate,
		Amount:    r.Payable(),
		FreeField: free,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	line, err := DigitableLine(barcode)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r.Barcode = barcode
	r.DigitableLine = line
	r.Status = models.ReceivablePending
	r.LastError = ""
	return nil
}
