package service

import (
	"context"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
)

// InventoryLookup reads the stock catalog.
type InventoryLookup interface {
	// StockOf returns the item with the exact name, or nil when there is none.
	StockOf(ctx context.Context, name string) (*domain.InventoryItem, error)
	AllItems(ctx context.Context) ([]domain.InventoryItem, error)
}

// VendorDirectory resolves a vendor name or alias to its master record.
// Lookup skips inactive vendors but returns suspended ones, and returns
// nil, nil when nothing matches.
type VendorDirectory interface {
	Lookup(ctx context.Context, nameOrAlias string) (*domain.VendorProfile, error)
}

// PurchaseOrderLookup finds purchase orders for three-way matching. Both
// methods return nil, nil when nothing matches.
type PurchaseOrderLookup interface {
	GetPurchaseOrder(ctx context.Context, poNumber string) (*domain.PurchaseOrder, error)
	FindMatchingPO(ctx context.Context, vendorID string, amount, tolerance float64) (*domain.PurchaseOrder, error)
}

// PaymentResponse is the gateway's answer to one payment.
type PaymentResponse struct {
	Success       bool
	TransactionID string
	Error         string
}

// PaymentGateway executes payments. A declined payment is a response with
// Success false; err is reserved for infrastructure failures.
type PaymentGateway interface {
	Pay(ctx context.Context, vendor string, amount float64) (*PaymentResponse, error)
}

// StateRepository persists one WorkflowState per invoice.
type StateRepository interface {
	// Get returns a copy of the state, or NOT_FOUND.
	Get(ctx context.Context, invoiceID string) (*domain.WorkflowState, error)
	// Put stores a new state at version 1, or returns ALREADY_EXISTS.
	Put(ctx context.Context, state *domain.WorkflowState) error
	// CompareAndSwap replaces the stored state when its version equals
	// expectedVersion and sets state.Version to expectedVersion+1. A
	// mismatch returns CONFLICT.
	CompareAndSwap(ctx context.Context, state *domain.WorkflowState, expectedVersion int64) error
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error)
}

// IdempotencyStore maps client upload keys to invoice ids.
type IdempotencyStore interface {
	// Claim binds key to invoiceID. When the key is already bound it returns
	// the existing id with claimed false.
	Claim(ctx context.Context, key, invoiceID string) (existingID string, claimed bool, err error)
}

// EventPublisher fans audit events out to downstream consumers.
type EventPublisher interface {
	PublishAuditEvents(ctx context.Context, state *domain.WorkflowState, events []domain.AuditEvent) error
}
