package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestPut(t *testing.T) {
	p := &fakePutter{}
	a := New(p, "fiscal", "prod")

	if err := a.Put(context.Background(), "nfcom/11222333000181/202503/KEY-nfcom.xml", []byte("<NFCom/>"), "application/xml"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if aws.ToString(p.input.Bucket) != "fiscal" || aws.ToString(p.input.Key) != "prod/nfcom/11222333000181/202503/KEY-nfcom.xml" {
		t.Fatalf("unexpected target %s/%s", aws.ToString(p.input.Bucket), aws.ToString(p.input.Key))
	}
	if string(p.body) != "<NFCom/>" || aws.ToString(p.input.ContentType) != "application/xml" {
		t.Fatalf("unexpected object %q (%s)", p.body, aws.ToString(p.input.ContentType))
	}
}

func TestPutGuessesContentType(t *testing.T) {
	p := &fakePutter{}
	if err := New(p, "b", "").Put(context.Background(), "remittances/CB0010503", []byte("01234"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ct := aws.ToString(p.input.ContentType); ct != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestPutErrors(t *testing.T) {
	if err := New(&fakePutter{}, "b", "").Put(context.Background(), "", nil, ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	boom := errors.New("access denied")
	if err := New(&fakePutter{err: boom}, "b", "").Put(context.Background(), "k.xml", []byte("x"), ""); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
