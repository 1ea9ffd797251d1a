package service

import (
	"context"
	"strings"
	"testing"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
)

func validOutcome() domain.ValidationOutcome {
	return domain.ValidationOutcome{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
		InventoryCheck: map[string]domain.ItemCheck{
			"WidgetA": {Requested: 2, InStock: 15, Available: true, Variance: 13},
		},
	}
}

func invalidOutcome(errs ...string) domain.ValidationOutcome {
	o := validOutcome()
	o.IsValid = false
	o.Errors = errs
	return o
}

func TestTriage(t *testing.T) {
	cfg := DefaultTriageConfig()
	suspended := validOutcome()
	suspended.Vendor = &domain.VendorProfile{VendorID: "VND-003", Name: "Fraudster LLC", Status: domain.VendorSuspended}

	shortage := validOutcome()
	shortage.InventoryCheck["GadgetX"] = domain.ItemCheck{Requested: 105, InStock: 5, Variance: -100}

	tests := []struct {
		name     string
		amount   float64
		outcome  domain.ValidationOutcome
		route    domain.Route
		approved bool
		risk     float64
		review   bool
	}{
		{"suspended vendor overrides everything", 500, suspended, domain.RouteAutoReject, false, 1.0, false},
		{"critical shortage", 50000, shortage, domain.RouteAutoReject, false, 1.0, false},
		{"invalid under threshold", 500, invalidOutcome("DUE_DATE: missing"), domain.RouteAutoReject, false, 0.3, false},
		{"invalid over threshold", 12000, invalidOutcome("DUE_DATE: missing", "INVENTORY: short"), domain.RouteToHuman, false, 0.6, true},
		{"valid at threshold", 10000, validOutcome(), domain.RouteToHuman, true, 0, true},
		{"valid under threshold", 9999.99, validOutcome(), domain.RouteAutoApprove, true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := domain.InvoiceRecord{Vendor: "Some Vendor", Amount: tt.amount}
			d := Triage(rec, tt.outcome, cfg)

			if d.Route != tt.route {
				t.Errorf("Route = %s, want %s (reason %q)", d.Route, tt.route, d.Reason)
			}
			if d.Approved != tt.approved {
				t.Errorf("Approved = %v, want %v", d.Approved, tt.approved)
			}
			if d.RiskScore != tt.risk {
				t.Errorf("RiskScore = %v, want %v", d.RiskScore, tt.risk)
			}
			if d.RequiresReview != tt.review {
				t.Errorf("RequiresReview = %v, want %v", d.RequiresReview, tt.review)
			}
			if len(d.ReasoningChain) == 0 {
				t.Error("ReasoningChain is empty")
			}
		})
	}
}

func TestTriageRiskScoreCaps(t *testing.T) {
	outcome := invalidOutcome("A", "B", "C", "D", "E")
	d := Triage(domain.InvoiceRecord{Vendor: "V", Amount: 20000}, outcome, DefaultTriageConfig())
	if d.RiskScore != 0.9 {
		t.Errorf("RiskScore = %v, want 0.9", d.RiskScore)
	}
}

func TestTriageCriticalFlagsAreSorted(t *testing.T) {
	outcome := validOutcome()
	outcome.InventoryCheck["Zeta"] = domain.ItemCheck{Requested: 200, InStock: 0, Variance: -200}
	outcome.InventoryCheck["Alpha"] = domain.ItemCheck{Requested: 150, InStock: 0, Variance: -150}

	d := Triage(domain.InvoiceRecord{Vendor: "V", Amount: 100}, outcome, DefaultTriageConfig())
	if len(d.CriticalFlags) != 2 {
		t.Fatalf("CriticalFlags = %v, want 2", d.CriticalFlags)
	}
	if !strings.Contains(d.CriticalFlags[0], "Alpha") || !strings.Contains(d.CriticalFlags[1], "Zeta") {
		t.Errorf("CriticalFlags = %v, want Alpha before Zeta", d.CriticalFlags)
	}
}

func TestTriageExecutiveNote(t *testing.T) {
	d := Triage(domain.InvoiceRecord{Vendor: "V", Amount: 60000}, validOutcome(), DefaultTriageConfig())
	if !strings.Contains(d.Reason, "Executive approval") {
		t.Errorf("Reason = %q, want executive note", d.Reason)
	}
}

func TestApprovalStageNarrativeDoesNotChangeRoute(t *testing.T) {
	o := newScriptedOracle().on("approval_narrative", `{"summary": "Looks routine."}`)
	stage := NewApprovalStage(o, DefaultTriageConfig(), logger.Nop())

	res := stage.Run(context.Background(), domain.InvoiceRecord{Vendor: "V", Amount: 200}, validOutcome())
	if res.Decision.Route != domain.RouteAutoApprove {
		t.Errorf("Route = %s, want auto_approve", res.Decision.Route)
	}
	if res.Decision.Narrative != "Looks routine." {
		t.Errorf("Narrative = %q", res.Decision.Narrative)
	}
	if res.Decision.DecidedAt == nil {
		t.Error("DecidedAt not set")
	}
	if len(res.Events) != 1 || res.Events[0].EventType != domain.EventApprovalDecision {
		t.Errorf("Events = %+v, want one approval_decision", res.Events)
	}
}

func TestApprovalStageRoutedEvent(t *testing.T) {
	stage := NewApprovalStage(newScriptedOracle(), DefaultTriageConfig(), logger.Nop())

	res := stage.Run(context.Background(), domain.InvoiceRecord{Vendor: "V", Amount: 15000}, validOutcome())
	if res.Events[0].EventType != domain.EventApprovalRouted {
		t.Errorf("EventType = %s, want approval_routed", res.Events[0].EventType)
	}
	if NextStage(res.Decision) != domain.StageAwaitingDecision {
		t.Errorf("NextStage = %s, want awaiting_decision", NextStage(res.Decision))
	}
}
