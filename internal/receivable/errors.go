package receivable

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized is returned for documents the authority has not authorized.
	ErrNotAuthorized = errors.New("document is not authorized")

	// ErrNoBillingAccount is returned for contracts without a bank account.
	ErrNoBillingAccount = errors.New("contract has no billing account")

	// ErrUnsupportedMode is returned for a billing account mode with no gateway.
	ErrUnsupportedMode = errors.New("unsupported bank integration mode")

	// ErrInvalidBoleto is returned when barcode inputs do not fit the layout.
	ErrInvalidBoleto = errors.New("invalid boleto data")

	// ErrGateway is matched by GatewayError.
	ErrGateway = errors.New("bank gateway failure")
)

// GatewayError describes a failed bank registration.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("receivable: %s: bank answered HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("receivable: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error { return e.Err }

// Is matches ErrGateway.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }
