package domain

import (
	"encoding/json"
	"time"
)

// Stage names recorded in WorkflowState.CurrentStage.
const (
	StageIngestion        = "ingestion"
	StageValidation       = "validation"
	StageApproval         = "approval"
	StagePayment          = "payment"
	StageAwaitingDecision = "awaiting_decision"
	StageDone             = "done"
)

// RunStatus is the coarse progress of an invoice.
type RunStatus string

const (
	RunProcessing       RunStatus = "processing"
	RunAwaitingDecision RunStatus = "awaiting_decision"
	RunCompleted        RunStatus = "completed"
	RunFailed           RunStatus = "failed"
	RunRejected         RunStatus = "rejected"
)

// WorkflowState is the per-invoice aggregate persisted between stages.
type WorkflowState struct {
	InvoiceID string `json:"invoice_id"`
	Version   int64  `json:"version"`

	RawInput   RawInput           `json:"raw_input"`
	Invoice    *InvoiceRecord     `json:"invoice,omitempty"`
	Validation *ValidationOutcome `json:"validation,omitempty"`
	Approval   *ApprovalDecision  `json:"approval,omitempty"`
	Payment    *PaymentOutcome    `json:"payment,omitempty"`

	InvoiceStatus InvoiceStatus `json:"invoice_status"`
	CurrentStage  string        `json:"current_stage"`
	RunStatus     RunStatus     `json:"run_status"`
	Error         *string       `json:"error"`

	ApprovedBy      *string    `json:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at"`
	RejectedBy      *string    `json:"rejected_by"`
	RejectedAt      *time.Time `json:"rejected_at"`
	RejectionReason *string    `json:"rejection_reason"`
	DecisionNotes   *string    `json:"decision_notes,omitempty"`

	AuditTrail AuditTrail `json:"audit_trail"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates the state for a freshly uploaded invoice.
func NewWorkflowState(invoiceID string, input RawInput, now time.Time) *WorkflowState {
	return &WorkflowState{
		InvoiceID:     invoiceID,
		RawInput:      input,
		InvoiceStatus: StatusUploaded,
		CurrentStage:  StageIngestion,
		RunStatus:     RunProcessing,
		AuditTrail:    AuditTrail{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetError records a human-readable failure.
func (w *WorkflowState) SetError(msg string) {
	w.Error = &msg
}

// Clone deep-copies the state through its JSON form. Repositories hand out
// clones so callers never share mutable state.
func (w *WorkflowState) Clone() (*WorkflowState, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	out := &WorkflowState{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListFilter narrows a state listing. Zero values match everything.
type ListFilter struct {
	Status        InvoiceStatus
	UpdatedBefore time.Time
	Limit         int
}

// Matches reports whether the state passes the filter, ignoring Limit.
func (f ListFilter) Matches(s *WorkflowState) bool {
	if f.Status != "" && s.InvoiceStatus != f.Status {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}
