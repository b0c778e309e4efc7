package signer

import (
	"errors"
	"fmt"
)

var (
	// ErrCertificate is matched by every CertificateError. Certificate problems are
	// not retried automatically.
	ErrCertificate = errors.New("certificate error")

	// ErrBundleNotFound is returned when no bundle is stored for the company.
	ErrBundleNotFound = errors.New("certificate bundle not found")

	// ErrBundleCorrupt is returned when the encrypted bundle cannot be decrypted
	// with the configured key or is truncated.
	ErrBundleCorrupt = errors.New("certificate bundle cannot be decrypted")

	// ErrWrongPassword is returned when the PKCS#12 password does not open the bundle.
	ErrWrongPassword = errors.New("certificate password rejected")

	// ErrExpired is returned when the certificate is past its NotAfter date.
	ErrExpired = errors.New("certificate expired")

	// ErrNotYetValid is returned when the certificate is before its NotBefore date.
	ErrNotYetValid = errors.New("certificate not yet valid")

	// ErrUnsupportedKey is returned for non RSA private keys.
	ErrUnsupportedKey = errors.New("certificate key is not RSA")

	// ErrInvalidKey is returned when the process-wide encryption key is malformed.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
)

// CertificateError reports why a company's certificate could not be used.
type CertificateError struct {
	// Op is the operation that failed (e.g., "Load", "Sign").
	Op string

	CompanyID uint

	// Err is the underlying error, usually one of the sentinels above.
	Err error
}

// Error implements the error interface.
func (e *CertificateError) Error() string {
	return fmt.Sprintf("signer: %s failed for company %d: %v", e.Op, e.CompanyID, e.Err)
}

// Unwrap returns the underlying error.
func (e *CertificateError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCertificate) hold in addition to the wrapped chain.
func (e *CertificateError) Is(target error) bool {
	return target == ErrCertificate
}

func certificateError(op string, companyID uint, err error) error {
	var certErr *CertificateError
	if errors.As(err, &certErr) {
		return err
	}
	return &CertificateError{Op: op, CompanyID: companyID, Err: err}
}
