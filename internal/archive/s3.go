// Package archive stores copies of emitted artifacts (signed XML, remittance
// files) in an S3 bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"nfcom/internal/logger"
)

// ErrEmptyKey is returned when Put is called without an object key.
var ErrEmptyKey = errors.New("archive: object key is empty")

// ObjectPutter is the subset of *s3.Client the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes objects under an optional prefix of one bucket.
type S3Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	log    zerolog.Logger
}

// New creates an archive on top of an existing client.
func New(client ObjectPutter, bucket, prefix string) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    logger.WithComponent("archive"),
	}
}

// NewS3Client loads the default AWS configuration for region.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewS3Client: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Put uploads body under key. An empty content type is guessed from the key's
// extension, then from the body.
func (a *S3Archive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	const op = "Put"

	if key == "" {
		return ErrEmptyKey
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(key))
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	full := path.Join(a.prefix, key)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, full, err)
	}
	a.log.Debug().Str("bucket", a.bucket).Str("key", full).Int("bytes", len(body)).Msg("Object archived")
	return nil
}
