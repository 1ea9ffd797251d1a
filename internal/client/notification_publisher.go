package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
)

// StreamPublisher is the transport used by NotificationPublisher.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
}

// NotificationPublisher publishes invoice audit events to NATS JetStream for
// downstream consumers (notifications, ERP sync, analytics).
//
// Subject convention: events.ap.invoice.<event_type>
// Message ids are <invoice_id>:<seq>, so a retried commit never duplicates
// an event within the stream's de-duplication window.
type NotificationPublisher struct {
	nats StreamPublisher
	log  *logger.Logger
}

// InvoiceEventMessage is the JSON schema published to NATS.
type InvoiceEventMessage struct {
	EventType     string         `json:"event_type"`
	InvoiceID     string         `json:"invoice_id"`
	Sequence      int            `json:"sequence"`
	InvoiceStatus string         `json:"invoice_status"`
	Vendor        string         `json:"vendor,omitempty"`
	Amount        float64        `json:"amount,omitempty"`
	Actor         string         `json:"actor"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	AISummary     string         `json:"ai_summary,omitempty"`
	OccurredAt    string         `json:"occurred_at"`
}

// NewNotificationPublisher creates a publisher. A nil transport makes every
// publish a no-op.
func NewNotificationPublisher(nats StreamPublisher, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishAuditEvents publishes events, which must be the tail of
// state.AuditTrail. Every event is attempted; the first error is returned.
func (p *NotificationPublisher) PublishAuditEvents(ctx context.Context, state *domain.WorkflowState, events []domain.AuditEvent) error {
	if p.nats == nil || len(events) == 0 {
		return nil
	}

	firstSeq := len(state.AuditTrail) - len(events)
	if firstSeq < 0 {
		firstSeq = 0
	}

	var firstErr error
	for i, ev := range events {
		msg := InvoiceEventMessage{
			EventType:     string(ev.EventType),
			InvoiceID:     state.InvoiceID,
			Sequence:      firstSeq + i,
			InvoiceStatus: string(state.InvoiceStatus),
			Actor:         ev.Actor,
			Title:         ev.Title,
			Description:   ev.Description,
			Details:       ev.Details,
			AISummary:     ev.AISummary,
			OccurredAt:    ev.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if state.Invoice != nil {
			msg.Vendor = state.Invoice.Vendor
			msg.Amount = state.Invoice.Amount
		}

		data, err := json.Marshal(&msg)
		if err != nil {
			p.log.Warn().Err(err).Str("event_type", msg.EventType).Msg("notification: failed to marshal event")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		subject := fmt.Sprintf("%s.%s", SubjectPrefix, ev.EventType)
		msgID := fmt.Sprintf("%s:%d", state.InvoiceID, msg.Sequence)
		if err := p.nats.Publish(ctx, subject, data, msgID); err != nil {
			p.log.Warn().Err(err).
				Str("subject", subject).
				Str("invoice_id", state.InvoiceID).
				Msg("notification: failed to publish NATS event")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		p.log.Debug().
			Str("subject", subject).
			Str("invoice_id", state.InvoiceID).
			Int("sequence", msg.Sequence).
			Msg("notification: event published")
	}
	return firstErr
}
