package handler

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/api"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/service"
)

// GRPCHandler implements the InvoicePipelineService gRPC interface
type GRPCHandler struct {
	pipeline Pipeline
	log      *logger.Logger
}

var _ api.InvoicePipelineServer = (*GRPCHandler)(nil)

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(pipeline Pipeline, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		pipeline: pipeline,
		log:      log.Component("grpc"),
	}
}

// Upload ingests and validates a new invoice
func (h *GRPCHandler) Upload(ctx context.Context, req *api.UploadRequest) (*domain.WorkflowState, error) {
	h.log.Info().
		Str("source_type", req.SourceType).
		Int("text_length", len(req.Text)).
		Msg("gRPC Upload called")

	state, err := h.pipeline.Upload(ctx, toUploadRequest(*req))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to upload invoice")
		return nil, mapErrorToGRPC(err)
	}
	return state, nil
}

// GetInvoice retrieves an invoice by ID
func (h *GRPCHandler) GetInvoice(ctx context.Context, req *api.GetInvoiceRequest) (*domain.WorkflowState, error) {
	if strings.TrimSpace(req.InvoiceID) == "" {
		return nil, status.Error(codes.InvalidArgument, "invoice_id is required")
	}

	state, err := h.pipeline.Get(ctx, req.InvoiceID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return state, nil
}

// ListInvoices lists invoices, optionally filtered by status
func (h *GRPCHandler) ListInvoices(ctx context.Context, req *api.ListInvoicesRequest) (*api.ListInvoicesResponse, error) {
	if req.Status != "" && !req.Status.IsValid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
	}

	states, err := h.pipeline.List(ctx, domain.ListFilter{Status: req.Status, Limit: req.Limit})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list invoices")
		return nil, mapErrorToGRPC(err)
	}
	if states == nil {
		states = []*domain.WorkflowState{}
	}
	return &api.ListInvoicesResponse{Invoices: states, Total: len(states)}, nil
}

// RouteToApproval triages an INBOX invoice
func (h *GRPCHandler) RouteToApproval(ctx context.Context, req *api.RouteRequest) (*domain.WorkflowState, error) {
	h.log.Info().Str("invoice_id", req.InvoiceID).Msg("gRPC RouteToApproval called")

	state, err := h.pipeline.RouteToApproval(ctx, req.InvoiceID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return state, nil
}

// Approve records a human approval
func (h *GRPCHandler) Approve(ctx context.Context, req *api.ApproveRequest) (*domain.WorkflowState, error) {
	h.log.Info().
		Str("invoice_id", req.InvoiceID).
		Str("approved_by", req.ApprovedBy).
		Msg("gRPC Approve called")

	state, err := h.pipeline.Approve(ctx, service.ApproveRequest{
		InvoiceID:  req.InvoiceID,
		ApprovedBy: req.ApprovedBy,
		Notes:      req.Notes,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return state, nil
}

// Reject records a human rejection
func (h *GRPCHandler) Reject(ctx context.Context, req *api.RejectRequest) (*domain.WorkflowState, error) {
	h.log.Info().
		Str("invoice_id", req.InvoiceID).
		Str("rejected_by", req.RejectedBy).
		Msg("gRPC Reject called")

	state, err := h.pipeline.Reject(ctx, service.RejectRequest{
		InvoiceID:  req.InvoiceID,
		RejectedBy: req.RejectedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return state, nil
}

// ExecutePayment pays an approved invoice
func (h *GRPCHandler) ExecutePayment(ctx context.Context, req *api.PayRequest) (*domain.WorkflowState, error) {
	h.log.Info().Str("invoice_id", req.InvoiceID).Msg("gRPC ExecutePayment called")

	state, err := h.pipeline.ExecutePayment(ctx, req.InvoiceID)
	if err != nil {
		h.log.Error().Err(err).Str("invoice_id", req.InvoiceID).Msg("Failed to execute payment")
		return nil, mapErrorToGRPC(err)
	}
	return state, nil
}

// Helper functions

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeAlreadyExists:
		return status.Error(codes.AlreadyExists, msg)
	case errors.ErrCodeInvalidTransition:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeUnavailable:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}
