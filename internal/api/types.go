package api

import "github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"

// UploadRequest submits extracted invoice text.
type UploadRequest struct {
	Text           string `json:"text"`
	SourceType     string `json:"source_type,omitempty"`
	SourcePath     string `json:"source_path,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// BatchUploadRequest submits several invoices at once.
type BatchUploadRequest struct {
	Invoices []UploadRequest `json:"invoices"`
}

// BatchResult is the outcome of one batch entry, in request order.
type BatchResult struct {
	InvoiceID     string               `json:"invoice_id,omitempty"`
	InvoiceStatus domain.InvoiceStatus `json:"invoice_status,omitempty"`
	Error         string               `json:"error,omitempty"`
}

type BatchUploadResponse struct {
	Results []BatchResult `json:"results"`
}

type GetInvoiceRequest struct {
	InvoiceID string `json:"invoice_id"`
}

type ListInvoicesRequest struct {
	Status domain.InvoiceStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

type ListInvoicesResponse struct {
	Invoices []*domain.WorkflowState `json:"invoices"`
	Total    int                     `json:"total"`
}

type RouteRequest struct {
	InvoiceID string `json:"invoice_id"`
}

type ApproveRequest struct {
	InvoiceID  string `json:"invoice_id"`
	ApprovedBy string `json:"approved_by"`
	Notes      string `json:"notes,omitempty"`
}

type RejectRequest struct {
	InvoiceID  string `json:"invoice_id"`
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
}

type PayRequest struct {
	InvoiceID string `json:"invoice_id"`
}

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
