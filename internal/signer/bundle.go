package signer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/singleflight"
)

// Bundle is the encrypted PKCS#12 material of a company plus its password.
type Bundle struct {
	Encrypted []byte
	Password  string
}

// BundleSource retrieves encrypted bundles by company.
type BundleSource interface {
	Bundle(ctx context.Context, companyID uint) (*Bundle, error)
}

// ParseKey accepts the process-wide key as 64 hex characters or base64 of 32 bytes.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, ErrInvalidKey
}

// Encrypt seals a plaintext bundle as nonce || AES-256-GCM ciphertext.
func Encrypt(key, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("Encrypt: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt opens a bundle produced by Encrypt.
func Decrypt(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrBundleCorrupt
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrBundleCorrupt
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// CachedSource keeps encrypted bundles for ttl. Plaintext is never cached.
type CachedSource struct {
	inner BundleSource
	ttl   time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	cache map[uint]*cacheEntry
	group singleflight.Group
}

type cacheEntry struct {
	bundle    *Bundle
	expiresAt time.Time
}

// NewCachedSource wraps a source with a TTL cache. A zero ttl disables caching.
func NewCachedSource(inner BundleSource, ttl time.Duration) *CachedSource {
	return &CachedSource{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[uint]*cacheEntry),
	}
}

// Bundle returns the cached bundle or loads it once for concurrent callers.
func (c *CachedSource) Bundle(ctx context.Context, companyID uint) (*Bundle, error) {
	if c.ttl <= 0 {
		return c.inner.Bundle(ctx, companyID)
	}

	c.mu.RLock()
	entry, ok := c.cache[companyID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.bundle, nil
	}

	v, err, _ := c.group.Do(fmt.Sprint(companyID), func() (interface{}, error) {
		b, err := c.inner.Bundle(ctx, companyID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[companyID] = &cacheEntry{bundle: b, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Bundle), nil
}

// Invalidate drops a company's bundle, e.g. after a certificate upload.
func (c *CachedSource) Invalidate(companyID uint) {
	c.mu.Lock()
	delete(c.cache, companyID)
	c.mu.Unlock()
}

// ObjectGetter is the subset of the S3 client used to fetch bundles.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads bundles from object storage at <prefix><companyID>.pfx.enc.
// Passwords, and bundles missing from the bucket, come from fallback.
type S3Source struct {
	client   ObjectGetter
	bucket   string
	prefix   string
	fallback BundleSource
}

// NewS3Source creates an S3 backed bundle source.
func NewS3Source(client ObjectGetter, bucket, prefix string, fallback BundleSource) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix, fallback: fallback}
}

// Bundle implements BundleSource.
func (s *S3Source) Bundle(ctx context.Context, companyID uint) (*Bundle, error) {
	const op = "S3Source.Bundle"

	base, err := s.fallback.Bundle(ctx, companyID)
	if err != nil && !errors.Is(err, ErrBundleNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fmt.Sprintf("%s%d.pfx.enc", s.prefix, companyID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) && base != nil && len(base.Encrypted) > 0 {
			return base, nil
		}
		if errors.As(err, &noKey) {
			return nil, ErrBundleNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read: %w", op, err)
	}
	b := &Bundle{Encrypted: data}
	if base != nil {
		b.Password = base.Password
	}
	return b, nil
}
