package domain

import (
	"testing"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

func TestTransitionGraph(t *testing.T) {
	legal := map[[2]InvoiceStatus]bool{}
	for _, edge := range [][2]InvoiceStatus{
		{StatusUploaded, StatusIngesting},
		{StatusIngesting, StatusValidating},
		{StatusValidating, StatusInbox},
		{StatusValidating, StatusValidationFailed},
		{StatusInbox, StatusAutoApproved},
		{StatusInbox, StatusAutoRejected},
		{StatusInbox, StatusPendingApproval},
		{StatusPendingApproval, StatusApproved},
		{StatusPendingApproval, StatusRejected},
		{StatusApproved, StatusPaying},
		{StatusAutoApproved, StatusPaying},
		{StatusReadyToPay, StatusPaying},
		{StatusPaying, StatusPaid},
		{StatusPaying, StatusPaymentFailed},
	} {
		legal[edge] = true
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := legal[[2]InvoiceStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionToRejectsIllegalEdge(t *testing.T) {
	created := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	state := NewWorkflowState("inv-1", RawInput{Text: "x"}, created)

	err := state.TransitionTo(StatusPaid, created.Add(time.Minute))
	if !errors.IsCode(err, errors.ErrCodeInvalidTransition) {
		t.Fatalf("TransitionTo(PAID) error = %v, want INVALID_TRANSITION", err)
	}
	if state.InvoiceStatus != StatusUploaded {
		t.Errorf("InvoiceStatus = %s, want unchanged UPLOADED", state.InvoiceStatus)
	}
	if !state.UpdatedAt.Equal(created) {
		t.Errorf("UpdatedAt changed on rejected transition")
	}
}

func TestTransitionToWalksHappyPath(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	state := NewWorkflowState("inv-2", RawInput{Text: "x"}, now)

	path := []InvoiceStatus{StatusIngesting, StatusValidating, StatusInbox, StatusAutoApproved, StatusPaying, StatusPaid}
	for _, next := range path {
		if err := state.TransitionTo(next, now); err != nil {
			t.Fatalf("TransitionTo(%s): %v", next, err)
		}
	}
	if !state.InvoiceStatus.IsTerminal() {
		t.Errorf("PAID should be terminal")
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []InvoiceStatus{StatusApproved, StatusAutoApproved, StatusReadyToPay} {
		if !s.IsPayable() {
			t.Errorf("%s should be payable", s)
		}
	}
	if StatusPaying.IsPayable() {
		t.Error("PAYING must not be payable again")
	}
	if !StatusPaying.IsApprovedEquivalent() {
		t.Error("PAYING counts as approved")
	}
	if StatusPendingApproval.IsApprovedEquivalent() {
		t.Error("PENDING_APPROVAL is not approved")
	}
	if InvoiceStatus("SHIPPED").IsValid() {
		t.Error("unknown status reported valid")
	}
}

func TestRequire(t *testing.T) {
	state := NewWorkflowState("inv-3", RawInput{Text: "x"}, time.Now())
	state.InvoiceStatus = StatusInbox

	if err := state.Require(StatusPendingApproval, StatusInbox); err != nil {
		t.Errorf("Require from INBOX: %v", err)
	}
	err := state.Require(StatusApproved, StatusPendingApproval)
	if !errors.IsCode(err, errors.ErrCodeInvalidTransition) {
		t.Errorf("Require error = %v, want INVALID_TRANSITION", err)
	}
}
