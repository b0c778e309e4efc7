// Package events publishes fiscal document events to Kafka, keyed by access
// key so every event of a document lands on the same partition.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	skafka "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"nfcom/internal/logger"
	"nfcom/pkg/models"
)

// Event types.
const (
	TypeAuthorized = "nfcom.authorized"
	TypeDelivered  = "nfcom.delivered"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// DocumentEvent is the message value.
type DocumentEvent struct {
	Type        string          `json:"type"`
	DocumentID  uint            `json:"document_id"`
	CompanyID   uint            `json:"company_id"`
	ContractID  uint            `json:"contract_id"`
	ClientID    uint            `json:"client_id"`
	AccessKey   string          `json:"access_key"`
	Series      int             `json:"series"`
	Number      int64           `json:"number"`
	Protocol    string          `json:"protocol,omitempty"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	CycleDate   string          `json:"cycle_date"`
	DueDate     string          `json:"due_date"`
	Environment int             `json:"environment"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewDocumentEvent describes doc as an event of the given type.
func NewDocumentEvent(eventType string, doc *models.FiscalDocument, at time.Time) DocumentEvent {
	return DocumentEvent{
		Type:        eventType,
		DocumentID:  doc.ID,
		CompanyID:   doc.CompanyID,
		ContractID:  doc.ContractID,
		ClientID:    doc.ClientID,
		AccessKey:   doc.AccessKey,
		Series:      doc.Series,
		Number:      doc.Number,
		Protocol:    doc.Protocol,
		Status:      string(doc.Status),
		Total:       doc.Total,
		CycleDate:   doc.CycleDate.Format("2006-01-02"),
		DueDate:     doc.DueDate.Format("2006-01-02"),
		Environment: doc.Environment,
		OccurredAt:  at.UTC(),
	}
}

// Publisher writes document events to one topic.
type Publisher struct {
	writer Writer
	now    func() time.Time
	log    zerolog.Logger
}

// NewPublisher connects a writer to broker and topic.
func NewPublisher(broker, topic string) *Publisher {
	return NewPublisherWithWriter(&skafka.Writer{
		Addr:         skafka.TCP(broker),
		Topic:        topic,
		Balancer:     &skafka.LeastBytes{},
		RequiredAcks: skafka.RequireAll,
	})
}

// NewPublisherWithWriter allows injecting a test writer.
func NewPublisherWithWriter(w Writer) *Publisher {
	return &Publisher{writer: w, now: time.Now, log: logger.WithComponent("events")}
}

// PublishDocument announces an authorized document.
func (p *Publisher) PublishDocument(ctx context.Context, doc *models.FiscalDocument) error {
	return p.Publish(ctx, NewDocumentEvent(TypeAuthorized, doc, p.now()))
}

// PublishDelivered announces that the customer was notified of a document.
func (p *Publisher) PublishDelivered(ctx context.Context, doc *models.FiscalDocument) error {
	return p.Publish(ctx, NewDocumentEvent(TypeDelivered, doc, p.now()))
}

// Publish writes ev keyed by its access key.
func (p *Publisher) Publish(ctx context.Context, ev DocumentEvent) error {
	const op = "Publish"

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	msg := skafka.Message{
		Key:     []byte(ev.AccessKey),
		Value:   value,
		Headers: []skafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("access_key", ev.AccessKey).Str("type", ev.Type).Msg("Kafka write failed")
		return fmt.Errorf("%s %s: %w", op, ev.AccessKey, err)
	}
	p.log.Debug().Str("access_key", ev.AccessKey).Str("type", ev.Type).Msg("Event published")
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
