package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/service"
)

// stubPipeline keeps states in a map and applies the minimum of each
// operation needed to exercise the transports.
type stubPipeline struct {
	mu      sync.Mutex
	states  map[string]*domain.WorkflowState
	uploads []service.UploadRequest
	nextID  int
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{states: make(map[string]*domain.WorkflowState)}
}

func (s *stubPipeline) add(id string, status domain.InvoiceStatus) *domain.WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	st := domain.NewWorkflowState(id, domain.RawInput{Text: "invoice", SourceType: domain.SourceText}, now)
	st.InvoiceStatus = status
	st.AuditTrail.Append(domain.AuditEvent{EventType: domain.EventInvoiceReceived, Timestamp: now, Actor: domain.ActorSystem, Title: "Invoice Received"})
	s.states[id] = st
	return st
}

func (s *stubPipeline) Upload(_ context.Context, req service.UploadRequest) (*domain.WorkflowState, error) {
	if req.Text == "" {
		return nil, errors.InvalidInput("text", "invoice text is required")
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, req)
	s.nextID++
	id := fmt.Sprintf("inv-%d", s.nextID)
	s.mu.Unlock()

	st := s.add(id, domain.StatusInbox)
	return st, nil
}

func (s *stubPipeline) UploadBatch(ctx context.Context, reqs []service.UploadRequest) []service.BatchItem {
	out := make([]service.BatchItem, len(reqs))
	for i, req := range reqs {
		st, err := s.Upload(ctx, req)
		out[i] = service.BatchItem{State: st, Err: err}
	}
	return out
}

func (s *stubPipeline) Get(_ context.Context, id string) (*domain.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return nil, errors.NotFound("invoice", id)
	}
	return st, nil
}

func (s *stubPipeline) List(_ context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.WorkflowState
	for _, st := range s.states {
		if filter.Matches(st) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *stubPipeline) move(id string, from, to domain.InvoiceStatus) (*domain.WorkflowState, error) {
	st, err := s.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.InvoiceStatus != from {
		return nil, errors.InvalidTransition(string(st.InvoiceStatus), string(to))
	}
	st.InvoiceStatus = to
	return st, nil
}

func (s *stubPipeline) RouteToApproval(_ context.Context, id string) (*domain.WorkflowState, error) {
	return s.move(id, domain.StatusInbox, domain.StatusPendingApproval)
}

func (s *stubPipeline) Approve(_ context.Context, req service.ApproveRequest) (*domain.WorkflowState, error) {
	if req.ApprovedBy == "" {
		return nil, errors.InvalidInput("approved_by", "approver identity is required")
	}
	return s.move(req.InvoiceID, domain.StatusPendingApproval, domain.StatusApproved)
}

func (s *stubPipeline) Reject(_ context.Context, req service.RejectRequest) (*domain.WorkflowState, error) {
	return s.move(req.InvoiceID, domain.StatusPendingApproval, domain.StatusRejected)
}

func (s *stubPipeline) ExecutePayment(_ context.Context, id string) (*domain.WorkflowState, error) {
	if id == "inv-busy" {
		return nil, errors.Conflict("invoice inv-busy was modified concurrently")
	}
	return s.move(id, domain.StatusApproved, domain.StatusPaid)
}

type stubMasterData struct{}

func (stubMasterData) ListVendors(context.Context) ([]domain.VendorProfile, error) {
	return []domain.VendorProfile{{VendorID: "VND-001", Name: "Widgets Inc.", Status: domain.VendorActive}}, nil
}

func (stubMasterData) VendorStats(context.Context) (*domain.VendorStats, error) {
	return &domain.VendorStats{TotalVendors: 1, Compliant: 1}, nil
}

func (stubMasterData) AllItems(context.Context) ([]domain.InventoryItem, error) {
	return []domain.InventoryItem{{Item: "WidgetA", Stock: 15, UnitPrice: 100}}, nil
}
