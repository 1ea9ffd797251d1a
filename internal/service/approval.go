package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

// TriageConfig holds the routing thresholds.
type TriageConfig struct {
	// AmountThreshold is the amount at or above which a human must approve.
	AmountThreshold float64
	// ExecutiveThreshold only adds a note to the reason.
	ExecutiveThreshold float64
	// CriticalVariance is the stock variance at or below which an invoice
	// is rejected outright.
	CriticalVariance float64
}

// DefaultTriageConfig returns the standard thresholds.
func DefaultTriageConfig() TriageConfig {
	return TriageConfig{AmountThreshold: 10000, ExecutiveThreshold: 50000, CriticalVariance: -100}
}

// Triage decides the route for a validated invoice. It makes no external
// calls; DecidedAt is left for the caller.
func Triage(rec domain.InvoiceRecord, outcome domain.ValidationOutcome, cfg TriageConfig) domain.ApprovalDecision {
	decision := domain.ApprovalDecision{
		RedFlags:         []string{},
		CriticalFlags:    criticalFlags(rec, outcome, cfg),
		ValidationErrors: append([]string{}, outcome.Errors...),
		DecidedBy:        domain.ActorApproval,
	}
	threshold := formatWholeMoney(cfg.AmountThreshold)

	if len(decision.CriticalFlags) > 0 {
		decision.Route = domain.RouteAutoReject
		decision.RiskScore = 1.0
		decision.Reason = fmt.Sprintf("Auto-rejected: %s.", strings.Join(decision.CriticalFlags, "; "))
		decision.ReasoningChain = []string{
			fmt.Sprintf("Step 1 - Critical Check: %d critical flag(s) found: %s", len(decision.CriticalFlags), strings.Join(decision.CriticalFlags, "; ")),
			"Step 2 - Outcome: AUTO-REJECT (critical override, amount and validation not considered)",
		}
		decision.RedFlags = append(append(decision.RedFlags, decision.CriticalFlags...), outcome.Errors...)
		return decision
	}

	errCount := len(outcome.Errors)
	decision.RiskScore = math.Round(math.Min(0.3*float64(errCount), 0.9)*100) / 100
	decision.RedFlags = append(decision.RedFlags, outcome.Errors...)
	overThreshold := rec.Amount >= cfg.AmountThreshold
	amount := formatMoney(rec.Amount)

	chain := []string{"Step 1 - Critical Check: No critical flags"}
	if outcome.IsValid {
		chain = append(chain, "Step 2 - Validation Check: PASSED")
	} else {
		chain = append(chain, fmt.Sprintf("Step 2 - Validation Check: FAILED with %d error(s)", errCount))
	}
	if overThreshold {
		chain = append(chain, fmt.Sprintf("Step 3 - Amount Check: %s >= %s threshold, human approval required", amount, threshold))
	} else {
		chain = append(chain, fmt.Sprintf("Step 3 - Amount Check: %s < %s threshold", amount, threshold))
	}

	switch {
	case !outcome.IsValid && !overThreshold:
		decision.Route = domain.RouteAutoReject
		decision.Reason = fmt.Sprintf("Rejected: Validation failed with %d error(s).", errCount)
		chain = append(chain, "Step 4 - Outcome: AUTO-REJECT")
	case !outcome.IsValid:
		decision.Route = domain.RouteToHuman
		decision.Reason = fmt.Sprintf("Validation failed with %d error(s); amount %s requires human review (≥%s).", errCount, amount, threshold)
		chain = append(chain, "Step 4 - Outcome: ROUTE TO HUMAN (failed validation, high value)")
	case overThreshold:
		decision.Route = domain.RouteToHuman
		decision.Approved = true
		decision.Reason = fmt.Sprintf("Amount %s requires human approval (≥%s).", amount, threshold)
		if cfg.ExecutiveThreshold > 0 && rec.Amount >= cfg.ExecutiveThreshold {
			decision.Reason += fmt.Sprintf(" Executive approval required (≥%s).", formatWholeMoney(cfg.ExecutiveThreshold))
		}
		chain = append(chain, "Step 4 - Outcome: ROUTE TO HUMAN (recommend approval)")
	default:
		decision.Route = domain.RouteAutoApprove
		decision.Approved = true
		decision.Reason = fmt.Sprintf("Auto-approved: %s is under %s with no red flags.", amount, threshold)
		chain = append(chain, "Step 4 - Outcome: AUTO-APPROVE")
	}

	decision.RequiresReview = decision.Route == domain.RouteToHuman
	decision.ReasoningChain = chain
	return decision
}

func criticalFlags(rec domain.InvoiceRecord, outcome domain.ValidationOutcome, cfg TriageConfig) []string {
	flags := []string{}

	suspended := outcome.Vendor != nil && outcome.Vendor.IsSuspended()
	if !suspended && rec.VendorStatus != nil {
		suspended = strings.EqualFold(*rec.VendorStatus, domain.VendorSuspended)
	}
	if suspended {
		flags = append(flags, fmt.Sprintf("CRITICAL: Vendor %s is suspended", rec.Vendor))
	}

	names := make([]string, 0, len(outcome.InventoryCheck))
	for name := range outcome.InventoryCheck {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := outcome.InventoryCheck[name]
		if float64(check.Variance) <= cfg.CriticalVariance {
			flags = append(flags, fmt.Sprintf("CRITICAL: %s short by %d units (requested %d, in stock %d)",
				name, -check.Variance, check.Requested, check.InStock))
		}
	}
	return flags
}

// NextStage is the stage an invoice moves to after triage.
func NextStage(d domain.ApprovalDecision) string {
	if d.Route == domain.RouteAutoApprove {
		return domain.StagePayment
	}
	return domain.StageAwaitingDecision
}

const approvalNarrativePrompt = `You are an accounts payable reviewer assistant. Given an invoice and the routing decision already made, write a short narrative (at most three sentences) a human approver can read at a glance. Do not change or question the routing decision.

Return a JSON object: {"summary": string}`

// ApprovalStage runs triage and optionally adds a reviewer narrative.
type ApprovalStage struct {
	oracle oracle.Oracle
	cfg    TriageConfig
	log    *logger.Logger
	now    func() time.Time
}

// NewApprovalStage creates the approval stage.
func NewApprovalStage(o oracle.Oracle, cfg TriageConfig, log *logger.Logger) *ApprovalStage {
	return &ApprovalStage{oracle: o, cfg: cfg, log: log, now: time.Now}
}

// ApprovalResult is the decision plus the events it produced.
type ApprovalResult struct {
	Decision domain.ApprovalDecision
	Events   []domain.AuditEvent
}

// Run triages the invoice. The narrative is best effort and never affects
// the route.
func (s *ApprovalStage) Run(ctx context.Context, rec domain.InvoiceRecord, outcome domain.ValidationOutcome) *ApprovalResult {
	decision := Triage(rec, outcome, s.cfg)
	decidedAt := s.now().UTC()
	decision.DecidedAt = &decidedAt
	decision.Narrative = s.narrative(ctx, rec, decision)

	s.log.Info().
		Str("vendor", rec.Vendor).
		Float64("amount", rec.Amount).
		Str("route", string(decision.Route)).
		Float64("risk_score", decision.RiskScore).
		Int("critical_flags", len(decision.CriticalFlags)).
		Msg("Invoice triaged")

	return &ApprovalResult{Decision: decision, Events: []domain.AuditEvent{s.decisionEvent(rec, decision)}}
}

func (s *ApprovalStage) narrative(ctx context.Context, rec domain.InvoiceRecord, d domain.ApprovalDecision) string {
	user := fmt.Sprintf("Vendor: %s\nAmount: %s\nRoute: %s\nRisk score: %.2f\nReason: %s\nRed flags: %s",
		rec.Vendor, formatMoney(rec.Amount), d.Route, d.RiskScore, d.Reason, joinOrNone(d.RedFlags))
	res := s.oracle.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: oracle.RoleSystem, Content: approvalNarrativePrompt},
			{Role: oracle.RoleUser, Content: user},
		},
		JSONOnly:  true,
		MaxTokens: 300,
		Purpose:   "approval_narrative",
	})
	var out struct {
		Summary string `json:"summary"`
	}
	if err := res.Decode(&out); err != nil {
		s.log.Debug().Err(err).Msg("Approval narrative skipped")
		return ""
	}
	return strings.TrimSpace(out.Summary)
}

func (s *ApprovalStage) decisionEvent(rec domain.InvoiceRecord, d domain.ApprovalDecision) domain.AuditEvent {
	kind := domain.EventApprovalDecision
	var title string
	switch d.Route {
	case domain.RouteAutoApprove:
		title = "Invoice Auto-Approved"
	case domain.RouteAutoReject:
		title = "Invoice Auto-Rejected"
	default:
		kind = domain.EventApprovalRouted
		title = "Routed for Human Approval"
	}
	ev := newEvent(kind, domain.ActorApproval, title, d.Reason, *d.DecidedAt, map[string]any{
		"route":          string(d.Route),
		"approved":       d.Approved,
		"risk_score":     d.RiskScore,
		"red_flags":      d.RedFlags,
		"critical_flags": d.CriticalFlags,
		"amount":         rec.Amount,
	})
	ev.AISummary = d.Narrative
	return ev
}

func joinOrNone(list []string) string {
	if len(list) == 0 {
		return "None"
	}
	return strings.Join(list, "; ")
}
