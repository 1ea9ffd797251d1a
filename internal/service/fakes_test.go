package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

// scriptedOracle answers by request purpose. Purposes without a script fail
// as unavailable.
type scriptedOracle struct {
	mu      sync.Mutex
	scripts map[string][]string
	calls   map[string]int
}

func newScriptedOracle() *scriptedOracle {
	return &scriptedOracle{scripts: map[string][]string{}, calls: map[string]int{}}
}

// on queues responses for a purpose. The last one repeats.
func (o *scriptedOracle) on(purpose string, responses ...string) *scriptedOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts[purpose] = append(o.scripts[purpose], responses...)
	return o
}

func (o *scriptedOracle) count(purpose string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[purpose]
}

func (o *scriptedOracle) Complete(_ context.Context, req oracle.Request) oracle.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.calls[req.Purpose]
	o.calls[req.Purpose]++

	script := o.scripts[req.Purpose]
	if len(script) == 0 {
		return oracle.Fail(oracle.KindTransport, "no script for "+req.Purpose, nil)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	content, err := oracle.CleanJSON(script[n])
	if err != nil {
		return oracle.Result{Err: err}
	}
	return oracle.Ok(content)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type fakeInventory struct {
	items []domain.InventoryItem
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{items: []domain.InventoryItem{
		{Item: "WidgetA", Stock: 15, UnitPrice: 100},
		{Item: "WidgetB", Stock: 10, UnitPrice: 150},
		{Item: "GadgetX", Stock: 5, UnitPrice: 500},
		{Item: "FakeItem", Stock: 0, UnitPrice: 999},
	}}
}

func (f *fakeInventory) StockOf(_ context.Context, name string) (*domain.InventoryItem, error) {
	for _, item := range f.items {
		if item.Item == name {
			found := item
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeInventory) AllItems(context.Context) ([]domain.InventoryItem, error) {
	return append([]domain.InventoryItem(nil), f.items...), nil
}

type fakeVendors struct {
	vendors []domain.VendorProfile
	err     error
}

func newFakeVendors() *fakeVendors {
	return &fakeVendors{vendors: []domain.VendorProfile{
		{
			VendorID:         "VND-001",
			Name:             "Widgets Inc.",
			Aliases:          []string{"Widgets", "Widgets Inc"},
			Phone:            domain.StringPtr("(555) 123-4567"),
			Email:            domain.StringPtr("ap@widgets-inc.com"),
			Address:          domain.StringPtr("1234 Innovation Drive, Suite 500"),
			City:             domain.StringPtr("San Francisco"),
			State:            domain.StringPtr("CA"),
			ZipCode:          domain.StringPtr("94105"),
			PaymentTerms:     domain.StringPtr("Net 30"),
			ComplianceStatus: "complete",
			RiskLevel:        "low",
			Status:           domain.VendorActive,
		},
		{
			VendorID:         "VND-003",
			Name:             "Fraudster LLC",
			Aliases:          []string{"Fraudster"},
			Email:            domain.StringPtr("unknown@suspicious.biz"),
			PaymentTerms:     domain.StringPtr("Due on receipt"),
			ComplianceStatus: "incomplete",
			RiskLevel:        "high",
			Status:           domain.VendorSuspended,
		},
	}}
}

func (f *fakeVendors) Lookup(_ context.Context, name string) (*domain.VendorProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, v := range f.vendors {
		if strings.EqualFold(v.Name, name) {
			found := v
			return &found, nil
		}
		for _, alias := range v.Aliases {
			if strings.EqualFold(alias, name) {
				found := v
				return &found, nil
			}
		}
	}
	return nil, nil
}

type fakeOrders struct {
	orders []domain.PurchaseOrder
}

func (f *fakeOrders) GetPurchaseOrder(_ context.Context, poNumber string) (*domain.PurchaseOrder, error) {
	for _, po := range f.orders {
		if po.PONumber == poNumber {
			found := po
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) FindMatchingPO(_ context.Context, vendorID string, amount, tolerance float64) (*domain.PurchaseOrder, error) {
	for _, po := range f.orders {
		if po.VendorID == vendorID && withinTolerance(amount, po.TotalAmount, tolerance) {
			found := po
			return &found, nil
		}
	}
	return nil, nil
}

// fakeGateway approves everything unless decline is set. When release is
// non-nil each Pay blocks until it receives.
type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	decline string
	release chan struct{}
	entered chan struct{}
}

func (g *fakeGateway) Pay(ctx context.Context, vendor string, amount float64) (*PaymentResponse, error) {
	g.mu.Lock()
	g.calls++
	decline, release, entered := g.decline, g.release, g.entered
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if decline != "" {
		return &PaymentResponse{Success: false, Error: decline}, nil
	}
	return &PaymentResponse{Success: true, TransactionID: "TXN-20260115-ABCD1234"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeStates is an in-memory StateRepository with version checks. putErr
// fails the next Put and is then cleared.
type fakeStates struct {
	mu     sync.Mutex
	states map[string]*domain.WorkflowState
	putErr error
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: map[string]*domain.WorkflowState{}}
}

func (f *fakeStates) Get(_ context.Context, id string) (*domain.WorkflowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[id]
	if !ok {
		return nil, errors.NotFound("invoice", id)
	}
	return s.Clone()
}

func (f *fakeStates) Put(_ context.Context, state *domain.WorkflowState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.putErr; err != nil {
		f.putErr = nil
		return err
	}
	if _, ok := f.states[state.InvoiceID]; ok {
		return errors.AlreadyExists("invoice", state.InvoiceID)
	}
	state.Version = 1
	stored, err := state.Clone()
	if err != nil {
		return err
	}
	f.states[state.InvoiceID] = stored
	return nil
}

func (f *fakeStates) CompareAndSwap(_ context.Context, state *domain.WorkflowState, expected int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.states[state.InvoiceID]
	if !ok {
		return errors.NotFound("invoice", state.InvoiceID)
	}
	if current.Version != expected {
		return errors.Conflict("version mismatch")
	}
	state.Version = expected + 1
	stored, err := state.Clone()
	if err != nil {
		return err
	}
	f.states[state.InvoiceID] = stored
	return nil
}

func (f *fakeStates) List(_ context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WorkflowState
	for _, s := range f.states {
		if filter.Matches(s) {
			c, err := s.Clone()
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStates) failNextPut(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putErr = err
}

// set overwrites a stored state, used to stage fixtures.
func (f *fakeStates) set(state *domain.WorkflowState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, _ := state.Clone()
	f.states[state.InvoiceID] = stored
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeIdempotency) Claim(_ context.Context, key, invoiceID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]string{}
	}
	if existing, ok := f.keys[key]; ok {
		return existing, false, nil
	}
	f.keys[key] = invoiceID
	return invoiceID, true, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (p *fakePublisher) PublishAuditEvents(_ context.Context, _ *domain.WorkflowState, events []domain.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *fakePublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.EventType
	}
	return out
}
