package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/api"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/service"
)

// maxUploadBytes caps request bodies; invoice text is small.
const maxUploadBytes = 4 << 20

// Pipeline is the orchestrator surface the handlers call.
type Pipeline interface {
	Upload(ctx context.Context, req service.UploadRequest) (*domain.WorkflowState, error)
	UploadBatch(ctx context.Context, reqs []service.UploadRequest) []service.BatchItem
	Get(ctx context.Context, invoiceID string) (*domain.WorkflowState, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error)
	RouteToApproval(ctx context.Context, invoiceID string) (*domain.WorkflowState, error)
	Approve(ctx context.Context, req service.ApproveRequest) (*domain.WorkflowState, error)
	Reject(ctx context.Context, req service.RejectRequest) (*domain.WorkflowState, error)
	ExecutePayment(ctx context.Context, invoiceID string) (*domain.WorkflowState, error)
}

// MasterData backs the vendor and inventory read endpoints.
type MasterData interface {
	ListVendors(ctx context.Context) ([]domain.VendorProfile, error)
	VendorStats(ctx context.Context) (*domain.VendorStats, error)
	AllItems(ctx context.Context) ([]domain.InventoryItem, error)
}

// AuditLog reads a persisted audit log. When unset the trail embedded in
// the workflow state is served.
type AuditLog interface {
	GetByInvoiceID(ctx context.Context, invoiceID string) (domain.AuditTrail, error)
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	pipeline Pipeline
	master   MasterData
	audit    AuditLog
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler. audit may be nil.
func NewHTTPHandler(pipeline Pipeline, master MasterData, audit AuditLog, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		pipeline: pipeline,
		master:   master,
		audit:    audit,
		log:      log.Component("http"),
	}
}

// Routes registers every endpoint on mux.
func (h *HTTPHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)

	mux.HandleFunc("/api/v1/invoices", h.ListInvoices)
	mux.HandleFunc("/api/v1/invoices/upload", h.UploadInvoice)
	mux.HandleFunc("/api/v1/invoices/upload/stream", h.UploadInvoiceStream)
	mux.HandleFunc("/api/v1/invoices/batch", h.UploadBatch)
	mux.HandleFunc("/api/v1/invoices/get", h.GetInvoice)
	mux.HandleFunc("/api/v1/invoices/audit", h.GetAuditTrail)
	mux.HandleFunc("/api/v1/invoices/route", h.RouteToApproval)
	mux.HandleFunc("/api/v1/invoices/approve", h.ApproveInvoice)
	mux.HandleFunc("/api/v1/invoices/reject", h.RejectInvoice)
	mux.HandleFunc("/api/v1/invoices/pay", h.ExecutePayment)

	mux.HandleFunc("/api/v1/vendors", h.ListVendors)
	mux.HandleFunc("/api/v1/vendors/stats", h.VendorStats)
	mux.HandleFunc("/api/v1/inventory", h.ListInventory)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Uploads ──────────────────────────────────────────────────────────────────

// UploadInvoice handles upload HTTP requests
func (h *HTTPHandler) UploadInvoice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	req, ok := h.decodeUpload(w, r)
	if !ok {
		return
	}

	state, err := h.pipeline.Upload(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// UploadInvoiceStream runs an upload and streams progress as Server-Sent
// Events. The last event is "complete" with the final state, or "error".
func (h *HTTPHandler) UploadInvoiceStream(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, errors.New(errors.ErrCodeInternal, "streaming is not supported"))
		return
	}

	req, ok := h.decodeUpload(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Upload calls the sink on this goroutine, so writes are serialised.
	ctx := service.WithProgress(r.Context(), func(ev service.ProgressEvent) {
		writeSSE(w, string(ev.Type), ev)
		flusher.Flush()
	})

	state, err := h.pipeline.Upload(ctx, req)
	if err != nil {
		h.log.Warn().Err(err).Msg("Streamed upload failed")
		writeSSE(w, "error", api.ErrorResponse{Error: string(errors.CodeOf(err)), Message: err.Error()})
	} else {
		writeSSE(w, "complete", state)
	}
	flusher.Flush()
}

// UploadBatch handles batch upload HTTP requests
func (h *HTTPHandler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req api.BatchUploadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Invoices) == 0 {
		h.writeError(w, errors.InvalidInput("invoices", "at least one invoice is required"))
		return
	}

	reqs := make([]service.UploadRequest, len(req.Invoices))
	for i, in := range req.Invoices {
		reqs[i] = toUploadRequest(in)
	}

	items := h.pipeline.UploadBatch(r.Context(), reqs)
	resp := api.BatchUploadResponse{Results: make([]api.BatchResult, len(items))}
	for i, item := range items {
		if item.Err != nil {
			resp.Results[i] = api.BatchResult{Error: item.Err.Error()}
			continue
		}
		resp.Results[i] = api.BatchResult{
			InvoiceID:     item.State.InvoiceID,
			InvoiceStatus: item.State.InvoiceStatus,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) decodeUpload(w http.ResponseWriter, r *http.Request) (service.UploadRequest, bool) {
	var in api.UploadRequest
	if !h.decode(w, r, &in) {
		return service.UploadRequest{}, false
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		in.IdempotencyKey = key
	}
	return toUploadRequest(in), true
}

func toUploadRequest(in api.UploadRequest) service.UploadRequest {
	return service.UploadRequest{
		Text:           in.Text,
		SourceType:     in.SourceType,
		SourcePath:     in.SourcePath,
		IdempotencyKey: in.IdempotencyKey,
	}
}

// ── Reads ────────────────────────────────────────────────────────────────────

// ListInvoices handles list invoices HTTP requests
func (h *HTTPHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	filter := domain.ListFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.InvoiceStatus(strings.ToUpper(status))
		if !filter.Status.IsValid() {
			h.writeError(w, errors.InvalidInput("status", fmt.Sprintf("unknown status %q", status)))
			return
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			h.writeError(w, errors.InvalidInput("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	states, err := h.pipeline.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if states == nil {
		states = []*domain.WorkflowState{}
	}
	writeJSON(w, http.StatusOK, api.ListInvoicesResponse{Invoices: states, Total: len(states)})
}

// GetInvoice handles get invoice HTTP requests
func (h *HTTPHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	invoiceID, ok := h.queryID(w, r)
	if !ok {
		return
	}

	state, err := h.pipeline.Get(r.Context(), invoiceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GetAuditTrail returns the audit events of one invoice, oldest first.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	invoiceID, ok := h.queryID(w, r)
	if !ok {
		return
	}

	state, err := h.pipeline.Get(r.Context(), invoiceID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	trail := state.AuditTrail
	if h.audit != nil {
		if trail, err = h.audit.GetByInvoiceID(r.Context(), invoiceID); err != nil {
			h.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoice_id":  invoiceID,
		"audit_trail": trail,
	})
}

// ── Decisions ────────────────────────────────────────────────────────────────

// RouteToApproval handles route HTTP requests
func (h *HTTPHandler) RouteToApproval(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req api.RouteRequest
	if !h.decode(w, r, &req) || !h.requireID(w, req.InvoiceID) {
		return
	}

	state, err := h.pipeline.RouteToApproval(r.Context(), req.InvoiceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ApproveInvoice handles approve invoice HTTP requests
func (h *HTTPHandler) ApproveInvoice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req api.ApproveRequest
	if !h.decode(w, r, &req) || !h.requireID(w, req.InvoiceID) {
		return
	}

	state, err := h.pipeline.Approve(r.Context(), service.ApproveRequest{
		InvoiceID:  req.InvoiceID,
		ApprovedBy: req.ApprovedBy,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// RejectInvoice handles reject invoice HTTP requests
func (h *HTTPHandler) RejectInvoice(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req api.RejectRequest
	if !h.decode(w, r, &req) || !h.requireID(w, req.InvoiceID) {
		return
	}

	state, err := h.pipeline.Reject(r.Context(), service.RejectRequest{
		InvoiceID:  req.InvoiceID,
		RejectedBy: req.RejectedBy,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ExecutePayment handles pay HTTP requests
func (h *HTTPHandler) ExecutePayment(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req api.PayRequest
	if !h.decode(w, r, &req) || !h.requireID(w, req.InvoiceID) {
		return
	}

	state, err := h.pipeline.ExecutePayment(r.Context(), req.InvoiceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ── Master data ──────────────────────────────────────────────────────────────

func (h *HTTPHandler) ListVendors(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	vendors, err := h.master.ListVendors(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendors": vendors, "total": len(vendors)})
}

func (h *HTTPHandler) VendorStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := h.master.VendorStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	items, err := h.master.AllItems(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) queryID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	return id, h.requireID(w, id)
}

func (h *HTTPHandler) requireID(w http.ResponseWriter, id string) bool {
	if strings.TrimSpace(id) == "" {
		h.writeError(w, errors.InvalidInput("invoice_id", "invoice id is required"))
		return false
	}
	return true
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidTransition, errors.ErrCodeConflict, errors.ErrCodeAlreadyExists:
		return http.StatusConflict
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	resp := api.ErrorResponse{Error: string(errors.CodeOf(err)), Message: err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
