package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

// MemoryStateRepository keeps WorkflowStates in process. Stored values are
// deep copies, so callers never share state with the store.
type MemoryStateRepository struct {
	mu     sync.RWMutex
	states map[string]*domain.WorkflowState
}

// NewMemoryStateRepository creates an empty store.
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{states: make(map[string]*domain.WorkflowState)}
}

func (r *MemoryStateRepository) Get(_ context.Context, invoiceID string) (*domain.WorkflowState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[invoiceID]
	if !ok {
		return nil, errors.NotFound("invoice", invoiceID)
	}
	return cloneState(state)
}

// Put stores a new state at version 1.
func (r *MemoryStateRepository) Put(_ context.Context, state *domain.WorkflowState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.states[state.InvoiceID]; ok {
		return errors.AlreadyExists("invoice", state.InvoiceID)
	}
	state.Version = 1
	stored, err := cloneState(state)
	if err != nil {
		return err
	}
	r.states[state.InvoiceID] = stored
	return nil
}

// CompareAndSwap replaces the stored state if its version is expectedVersion.
func (r *MemoryStateRepository) CompareAndSwap(_ context.Context, state *domain.WorkflowState, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.states[state.InvoiceID]
	if !ok {
		return errors.NotFound("invoice", state.InvoiceID)
	}
	if current.Version != expectedVersion {
		return errors.Newf(errors.ErrCodeConflict,
			"invoice %s was modified concurrently (expected version %d, found %d)",
			state.InvoiceID, expectedVersion, current.Version)
	}

	next := expectedVersion + 1
	stored, err := cloneState(state)
	if err != nil {
		return err
	}
	stored.Version = next
	r.states[state.InvoiceID] = stored
	state.Version = next
	return nil
}

// List returns matching states, oldest first.
func (r *MemoryStateRepository) List(_ context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.WorkflowState, 0, len(r.states))
	for _, state := range r.states {
		if !filter.Matches(state) {
			continue
		}
		c, err := cloneState(state)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].InvoiceID < out[j].InvoiceID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func cloneState(state *domain.WorkflowState) (*domain.WorkflowState, error) {
	c, err := state.Clone()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to copy workflow state")
	}
	return c, nil
}
