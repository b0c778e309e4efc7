// Package signer loads company certificates and applies the XML digital
// signature required on NFCom documents.
//
// Certificate bundles are PKCS#12 (A1) files encrypted at rest with a single
// process-wide AES-256-GCM key. A bundle is decrypted for one operation only:
// Load returns short-lived Credentials that the caller uses to sign and to open
// the mutual TLS connection, and then drops.
//
// Signatures follow the NFCom layout:
//   - enveloped XMLDSig over infNFCom, referenced as #NFCom<access key>
//   - inclusive canonicalization (C14N 1.0)
//   - RSA-SHA1 signature and SHA-1 digest
//   - the Signature element appended to the NFCom root
package signer

import (
	"context"
	"crypto/rsa"
	_ "crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
	dsig "github.com/russellhaering/goxmldsig"
	"golang.org/x/crypto/pkcs12"
	"nfcom/internal/document"
	"nfcom/internal/logger"
	"nfcom/pkg/models"
)

type decodeFunc func(pfx []byte, password string) (interface{}, *x509.Certificate, error)

// Signer resolves company credentials.
type Signer struct {
	source BundleSource
	key    []byte
	decode decodeFunc
	now    func() time.Time
	log    zerolog.Logger
}

// New creates a Signer. key is the process-wide bundle encryption key.
func New(source BundleSource, key []byte) (*Signer, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return &Signer{
		source: source,
		key:    key,
		decode: pkcs12.Decode,
		now:    time.Now,
		log:    logger.WithComponent("signer"),
	}, nil
}

// Credentials is a decrypted certificate, valid for the operation that loaded it.
type Credentials struct {
	CompanyID uint
	Leaf      *x509.Certificate
	tls       tls.Certificate
}

// TLS returns the client certificate for mutual TLS.
func (c *Credentials) TLS() tls.Certificate {
	return c.tls
}

// Load fetches, decrypts and checks the certificate of a company. Every failure
// is a *CertificateError.
func (s *Signer) Load(ctx context.Context, companyID uint) (*Credentials, error) {
	const op = "Load"

	bundle, err := s.source.Bundle(ctx, companyID)
	if err != nil {
		return nil, certificateError(op, companyID, err)
	}
	if bundle == nil || len(bundle.Encrypted) == 0 {
		return nil, certificateError(op, companyID, ErrBundleNotFound)
	}

	pfx, err := Decrypt(s.key, bundle.Encrypted)
	if err != nil {
		return nil, certificateError(op, companyID, err)
	}

	key, leaf, err := s.decode(pfx, bundle.Password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, certificateError(op, companyID, ErrWrongPassword)
		}
		return nil, certificateError(op, companyID, fmt.Errorf("%w: %v", ErrBundleCorrupt, err))
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, certificateError(op, companyID, ErrUnsupportedKey)
	}

	now := s.now()
	switch {
	case now.Before(leaf.NotBefore):
		return nil, certificateError(op, companyID, fmt.Errorf("%w: valid from %s", ErrNotYetValid, leaf.NotBefore.Format(time.RFC3339)))
	case now.After(leaf.NotAfter):
		return nil, certificateError(op, companyID, fmt.Errorf("%w: on %s", ErrExpired, leaf.NotAfter.Format(time.RFC3339)))
	}

	if days := leaf.NotAfter.Sub(now).Hours() / 24; days < 30 {
		s.log.Warn().
			Uint("company_id", companyID).
			Time("not_after", leaf.NotAfter).
			Msg("Certificate expires in less than 30 days")
	}

	return &Credentials{
		CompanyID: companyID,
		Leaf:      leaf,
		tls: tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  rsaKey,
			Leaf:        leaf,
		},
	}, nil
}

// TLSCertificate loads the company's client certificate.
func (s *Signer) TLSCertificate(ctx context.Context, companyID uint) (tls.Certificate, error) {
	creds, err := s.Load(ctx, companyID)
	if err != nil {
		return tls.Certificate{}, err
	}
	return creds.TLS(), nil
}

// Sign assigns the access key of a numbered document, renders its XML and signs
// it. On success doc carries the signed XML and status signed.
func (c *Credentials) Sign(doc *models.FiscalDocument, in document.Input) error {
	const op = "Sign"

	if err := document.AssignAccessKey(doc, in.Company); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	unsigned, err := document.RenderXML(doc, in)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	signed, err := SignXML(unsigned, c.tls)
	if err != nil {
		return certificateError(op, c.CompanyID, err)
	}

	doc.SignedXML = string(signed)
	doc.Status = models.StatusSigned
	return nil
}

// SignXML appends an enveloped signature over infNFCom to the NFCom root.
func SignXML(unsigned []byte, cert tls.Certificate) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(unsigned); err != nil {
		return nil, fmt.Errorf("SignXML: parse: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("SignXML: empty document")
	}
	inf := root.FindElement("./infNFCom")
	if inf == nil {
		return nil, errors.New("SignXML: infNFCom not found")
	}
	// canonical form of the detached element must carry the inherited namespace
	if inf.SelectAttr("xmlns") == nil {
		inf.CreateAttr("xmlns", root.SelectAttrValue("xmlns", document.Namespace))
	}

	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(cert))
	ctx.IdAttribute = "Id"
	ctx.Prefix = ""
	ctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()
	if err := ctx.SetSignatureMethod(dsig.RSASHA1SignatureMethod); err != nil {
		return nil, fmt.Errorf("SignXML: %w", err)
	}

	sig, err := ctx.ConstructSignature(inf, true)
	if err != nil {
		return nil, fmt.Errorf("SignXML: %w", err)
	}
	root.AddChild(sig)

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("SignXML: write: %w", err)
	}
	return out, nil
}
