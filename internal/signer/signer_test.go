package signer

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/pkcs12"
	"nfcom/internal/document"
	"nfcom/pkg/models"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

// pemBundle stands in for a PKCS#12 file: a PEM key followed by a PEM certificate.
func pemBundle(t *testing.T, notBefore, notAfter time.Time) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "PROVEDOR EXEMPLO LTDA:11222333000181"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	var buf bytes.Buffer
	_ = pem.Encode(&buf, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	return buf.Bytes()
}

func pemDecode(data []byte, password string) (interface{}, *x509.Certificate, error) {
	if password != "secret" {
		return nil, nil, pkcs12.ErrIncorrectPassword
	}
	keyBlock, rest := pem.Decode(data)
	certBlock, _ := pem.Decode(rest)
	if keyBlock == nil || certBlock == nil {
		return nil, nil, errors.New("not a bundle")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

type staticSource struct {
	bundle *Bundle
	calls  atomic.Int32
}

func (s *staticSource) Bundle(ctx context.Context, companyID uint) (*Bundle, error) {
	s.calls.Add(1)
	if s.bundle == nil {
		return nil, ErrBundleNotFound
	}
	return s.bundle, nil
}

func newTestSigner(t *testing.T, plain []byte, password string) *Signer {
	t.Helper()
	sealed, err := Encrypt(testKey, plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	s, err := New(&staticSource{bundle: &Bundle{Encrypted: sealed, Password: password}}, testKey)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.decode = pemDecode
	return s
}

func testInput() document.Input {
	d := decimal.RequireFromString
	return document.Input{
		Contract: models.ServiceContract{
			ID: 7, ClientID: 3, UnitPrice: d("99.90"), Quantity: d("1"),
			RecurrenceMonths: 1, DueDay: 10, Status: models.ContractActive, IsActive: true,
		},
		Service: models.Service{
			Code: "FIBRA", Name: "Internet Fibra", ClassCode: "0100101", CFOP: "5307", Unit: 4,
			ICMSCST: "00", ICMSRate: d("18"), PISRate: d("0.65"), COFINSRate: d("3"),
		},
		Company: models.Company{
			ID: 1, CNPJ: "11222333000181", IE: "0960012345", Name: "Provedor Exemplo Ltda",
			TaxRegime: 3, UF: "RS", CityCode: "4314902", StateCode: 43, Series: 1,
		},
		Client: models.Client{
			ID: 3, Document: "52998224725", Name: "Maria Souza", UF: "RS", CityCode: "4314902",
		},
		CycleDate:   time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		IssuedAt:    time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC),
		Environment: models.EnvironmentHomologation,
	}
}

func TestLoadAndSign(t *testing.T) {
	now := time.Now()
	s := newTestSigner(t, pemBundle(t, now.Add(-time.Hour), now.Add(365*24*time.Hour)), "secret")

	creds, err := s.Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	in := testInput()
	doc, err := document.Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	doc.Number = 42
	if err := creds.Sign(doc, in); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if doc.Status != models.StatusSigned || !document.ValidAccessKey(doc.AccessKey) {
		t.Fatalf("unexpected document state: %s %s", doc.Status, doc.AccessKey)
	}

	x := etree.NewDocument()
	if err := x.ReadFromString(doc.SignedXML); err != nil {
		t.Fatalf("signed xml does not parse: %v", err)
	}
	sig := x.Root().SelectElement("Signature")
	if sig == nil {
		t.Fatalf("Signature is not a child of the NFCom root:\n%s", doc.SignedXML)
	}
	ref := sig.FindElement("./SignedInfo/Reference")
	if ref == nil || ref.SelectAttrValue("URI", "") != "#NFCom"+doc.AccessKey {
		t.Fatalf("unexpected reference: %v", ref)
	}
	method := sig.FindElement("./SignedInfo/SignatureMethod")
	if method.SelectAttrValue("Algorithm", "") != "http://www.w3.org/2000/09/xmldsig#rsa-sha1" {
		t.Fatalf("unexpected signature method %s", method.SelectAttrValue("Algorithm", ""))
	}
	cert := sig.FindElement("./KeyInfo/X509Data/X509Certificate")
	if cert == nil || cert.Text() != base64.StdEncoding.EncodeToString(creds.Leaf.Raw) {
		t.Fatalf("certificate not embedded")
	}
	if v := sig.FindElement("./SignatureValue"); v == nil || v.Text() == "" {
		t.Fatalf("empty signature value")
	}
}

func TestLoadRejectsValidityWindow(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		from, to time.Time
		want     error
	}{
		{"expired", now.Add(-48 * time.Hour), now.Add(-24 * time.Hour), ErrExpired},
		{"not yet valid", now.Add(24 * time.Hour), now.Add(48 * time.Hour), ErrNotYetValid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := newTestSigner(t, pemBundle(t, c.from, c.to), "secret")
			_, err := s.Load(context.Background(), 1)
			if !errors.Is(err, ErrCertificate) || !errors.Is(err, c.want) {
				t.Fatalf("expected %v certificate error, got %v", c.want, err)
			}
		})
	}
}

func TestLoadFailures(t *testing.T) {
	now := time.Now()
	plain := pemBundle(t, now.Add(-time.Hour), now.Add(time.Hour*24*90))

	t.Run("wrong password", func(t *testing.T) {
		s := newTestSigner(t, plain, "nope")
		if _, err := s.Load(context.Background(), 1); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("expected ErrWrongPassword, got %v", err)
		}
	})

	t.Run("wrong encryption key", func(t *testing.T) {
		s := newTestSigner(t, plain, "secret")
		s.key = bytes.Repeat([]byte{0x01}, 32)
		if _, err := s.Load(context.Background(), 1); !errors.Is(err, ErrBundleCorrupt) {
			t.Fatalf("expected ErrBundleCorrupt, got %v", err)
		}
	})

	t.Run("missing bundle", func(t *testing.T) {
		s, _ := New(&staticSource{}, testKey)
		_, err := s.Load(context.Background(), 9)
		var certErr *CertificateError
		if !errors.As(err, &certErr) || certErr.CompanyID != 9 || !errors.Is(err, ErrBundleNotFound) {
			t.Fatalf("expected certificate error for company 9, got %v", err)
		}
	})

	t.Run("not pkcs12", func(t *testing.T) {
		sealed, _ := Encrypt(testKey, []byte("definitely not a pfx"))
		s, _ := New(&staticSource{bundle: &Bundle{Encrypted: sealed, Password: "x"}}, testKey)
		if _, err := s.Load(context.Background(), 1); !errors.Is(err, ErrCertificate) {
			t.Fatalf("expected certificate error, got %v", err)
		}
	})
}

func TestCachedSource(t *testing.T) {
	inner := &staticSource{bundle: &Bundle{Encrypted: []byte{1}}}
	c := NewCachedSource(inner, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := c.Bundle(context.Background(), 1); err != nil {
			t.Fatalf("Bundle: %v", err)
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Fatalf("inner called %d times, want 1", got)
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.Bundle(context.Background(), 1)
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("expired entry not reloaded, calls = %d", got)
	}

	c.Invalidate(1)
	_, _ = c.Bundle(context.Background(), 1)
	if got := inner.calls.Load(); got != 3 {
		t.Fatalf("invalidated entry not reloaded, calls = %d", got)
	}
}

func TestParseKey(t *testing.T) {
	if _, err := ParseKey(hex.EncodeToString(testKey)); err != nil {
		t.Fatalf("hex key: %v", err)
	}
	if _, err := ParseKey(base64.StdEncoding.EncodeToString(testKey)); err != nil {
		t.Fatalf("base64 key: %v", err)
	}
	if _, err := ParseKey("short"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
