package domain

import (
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

// InvoiceStatus is the lifecycle position of one invoice.
type InvoiceStatus string

const (
	StatusUploaded         InvoiceStatus = "UPLOADED"
	StatusIngesting        InvoiceStatus = "INGESTING"
	StatusValidating       InvoiceStatus = "VALIDATING"
	StatusInbox            InvoiceStatus = "INBOX"
	StatusValidationFailed InvoiceStatus = "VALIDATION_FAILED"
	StatusAutoApproved     InvoiceStatus = "AUTO_APPROVED"
	StatusAutoRejected     InvoiceStatus = "AUTO_REJECTED"
	StatusPendingApproval  InvoiceStatus = "PENDING_APPROVAL"
	StatusApproved         InvoiceStatus = "APPROVED"
	StatusRejected         InvoiceStatus = "REJECTED"
	StatusReadyToPay       InvoiceStatus = "READY_TO_PAY"
	StatusPaying           InvoiceStatus = "PAYING"
	StatusPaid             InvoiceStatus = "PAID"
	StatusPaymentFailed    InvoiceStatus = "PAYMENT_FAILED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []InvoiceStatus{
	StatusUploaded, StatusIngesting, StatusValidating, StatusInbox, StatusValidationFailed,
	StatusAutoApproved, StatusAutoRejected, StatusPendingApproval, StatusApproved, StatusRejected,
	StatusReadyToPay, StatusPaying, StatusPaid, StatusPaymentFailed,
}

// transitions is the only source of legal status changes.
var transitions = map[InvoiceStatus][]InvoiceStatus{
	StatusUploaded:        {StatusIngesting},
	StatusIngesting:       {StatusValidating},
	StatusValidating:      {StatusInbox, StatusValidationFailed},
	StatusInbox:           {StatusAutoApproved, StatusAutoRejected, StatusPendingApproval},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusPaying},
	StatusAutoApproved:    {StatusPaying},
	StatusReadyToPay:      {StatusPaying},
	StatusPaying:          {StatusPaid, StatusPaymentFailed},
}

var terminalStatuses = map[InvoiceStatus]bool{
	StatusValidationFailed: true,
	StatusAutoRejected:     true,
	StatusRejected:         true,
	StatusPaid:             true,
	StatusPaymentFailed:    true,
}

var approvedEquivalent = map[InvoiceStatus]bool{
	StatusApproved:     true,
	StatusReadyToPay:   true,
	StatusAutoApproved: true,
	StatusPaying:       true,
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal successors of s.
func (s InvoiceStatus) NextStatuses() []InvoiceStatus {
	next := transitions[s]
	out := make([]InvoiceStatus, len(next))
	copy(out, next)
	return out
}

func (s InvoiceStatus) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal is true when no further transition is possible.
func (s InvoiceStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsApprovedEquivalent is true for statuses that already imply payment approval.
func (s InvoiceStatus) IsApprovedEquivalent() bool {
	return approvedEquivalent[s]
}

// IsPayable is true for statuses ExecutePayment may start from.
func (s InvoiceStatus) IsPayable() bool {
	return CanTransition(s, StatusPaying)
}

func (s InvoiceStatus) String() string {
	return string(s)
}

// TransitionTo moves the state to the given status. An illegal edge returns
// an INVALID_TRANSITION error and leaves the state unchanged.
func (w *WorkflowState) TransitionTo(to InvoiceStatus, at time.Time) error {
	if !CanTransition(w.InvoiceStatus, to) {
		return errors.InvalidTransition(string(w.InvoiceStatus), string(to))
	}
	w.InvoiceStatus = to
	w.UpdatedAt = at
	return nil
}

// Require returns INVALID_TRANSITION unless the state is in one of the given
// statuses. Used as the precondition check before a stage runs.
func (w *WorkflowState) Require(target InvoiceStatus, allowed ...InvoiceStatus) error {
	for _, s := range allowed {
		if w.InvoiceStatus == s {
			return nil
		}
	}
	return errors.InvalidTransition(string(w.InvoiceStatus), string(target))
}
