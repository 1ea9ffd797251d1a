package domain

import (
	"strings"
	"time"
)

// EventKind is the closed set of audit event types.
type EventKind string

const (
	EventInvoiceReceived    EventKind = "invoice_received"
	EventAIProcessing       EventKind = "ai_processing"
	EventValidationComplete EventKind = "validation_complete"
	EventApprovalRouted     EventKind = "approval_routed"
	EventApprovalDecision   EventKind = "approval_decision"
	EventPaymentInitiated   EventKind = "payment_initiated"
	EventPaymentComplete    EventKind = "payment_complete"
	EventPaymentRejected    EventKind = "payment_rejected"
	EventPaymentFailed      EventKind = "payment_failed"
)

// Actor identities.
const (
	ActorSystem     = "system"
	ActorIngestion  = "ai:ingestion"
	ActorValidation = "ai:validation"
	ActorApproval   = "ai:approval"
	ActorPayment    = "ai:payment"
	ActorExpiry     = "system:expiry"

	HumanPrefix = "human:"
)

// HumanActor returns the actor string for a human identity, adding the
// prefix when it is missing.
func HumanActor(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, HumanPrefix) {
		return id
	}
	return HumanPrefix + id
}

// AuditEvent is one immutable entry of an invoice's history.
type AuditEvent struct {
	EventType   EventKind      `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Actor       string         `json:"actor"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	AISummary   string         `json:"ai_summary,omitempty"`
}

// AuditTrail is the append-only event log of one invoice.
type AuditTrail []AuditEvent

// minEventGap keeps timestamps strictly increasing when two events share a
// clock reading.
const minEventGap = time.Microsecond

// Append adds events in order. A timestamp not after the previous event is
// moved forward so the trail stays strictly increasing.
func (t *AuditTrail) Append(events ...AuditEvent) {
	for _, ev := range events {
		if n := len(*t); n > 0 {
			last := (*t)[n-1].Timestamp
			if !ev.Timestamp.After(last) {
				ev.Timestamp = last.Add(minEventGap)
			}
		}
		*t = append(*t, ev)
	}
}

// Last returns the newest event, or nil for an empty trail.
func (t AuditTrail) Last() *AuditEvent {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// Kinds lists the event types in order.
func (t AuditTrail) Kinds() []EventKind {
	out := make([]EventKind, len(t))
	for i, ev := range t {
		out[i] = ev.EventType
	}
	return out
}
