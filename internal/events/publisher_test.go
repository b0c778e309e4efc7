package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"nfcom/pkg/models"
)

// fakeWriter records messages written.
type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishDocument(t *testing.T) {
	fw := &fakeWriter{}
	p := NewPublisherWithWriter(fw)
	p.now = func() time.Time { return time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC) }

	doc := &models.FiscalDocument{
		ID: 9, CompanyID: 1, ContractID: 7, AccessKey: "43250311222333000181620010000001231012345673",
		Series: 1, Number: 123, Protocol: "3432500000012345", Status: models.StatusAuthorized,
		Total:     decimal.RequireFromString("249.90"),
		CycleDate: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		DueDate:   time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	if err := p.PublishDocument(context.Background(), doc); err != nil {
		t.Fatalf("PublishDocument: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != doc.AccessKey {
		t.Fatalf("key = %s", msg.Key)
	}

	var ev DocumentEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		t.Fatalf("value is not json: %v", err)
	}
	if ev.Type != TypeAuthorized || ev.Number != 123 || ev.DueDate != "2025-03-10" || !ev.Total.Equal(doc.Total) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewPublisherWithWriter(&fakeWriter{err: boom})
	err := p.PublishDelivered(context.Background(), &models.FiscalDocument{AccessKey: "K"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}
