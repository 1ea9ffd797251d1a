package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

const errNotApproved = "not approved"

const rejectionAnalysisPrompt = `You are an accounts payable system analyzing why an invoice payment was blocked.

Given the invoice data, approval decision and validation result, write a clear, professional audit log entry explaining why payment was rejected.

INVOICE DATA:
- Vendor: %s
- Amount: %s
- Invoice Number: %s
- Due Date: %s

APPROVAL DECISION:
- Approved: %t
- Reason: %s
- Risk Score: %.2f
- Red Flags: %s

VALIDATION RESULT:
- Valid: %t
- Errors: %s
- Warnings: %s

Return a JSON object:
{"title": "brief title, at most 50 characters", "description": "1-2 sentences on why payment was blocked", "details": {"primary_reason": string, "contributing_factors": [string], "recommendation": string}, "severity": "critical" | "high" | "medium" | "low"}

Be specific and actionable and reference the data provided.`

// PaymentStage pays approved invoices and explains blocked ones.
type PaymentStage struct {
	oracle  oracle.Oracle
	gateway PaymentGateway
	log     *logger.Logger
	now     func() time.Time
}

// NewPaymentStage creates the payment stage.
func NewPaymentStage(o oracle.Oracle, gateway PaymentGateway, log *logger.Logger) *PaymentStage {
	return &PaymentStage{oracle: o, gateway: gateway, log: log, now: time.Now}
}

// PaymentResult is the payment outcome plus the events it produced.
// Narrative is set only for a denied payment.
type PaymentResult struct {
	Outcome   domain.PaymentOutcome
	Narrative *domain.RejectionNarrative
	Events    []domain.AuditEvent
}

// ApprovalSource reports whether the state carries payment approval and, if
// so, where it came from.
func ApprovalSource(state *domain.WorkflowState) (string, bool) {
	if approvedBy := domain.Deref(state.ApprovedBy); strings.HasPrefix(approvedBy, domain.HumanPrefix) {
		return fmt.Sprintf("Human (%s)", strings.TrimPrefix(approvedBy, domain.HumanPrefix)), true
	}
	if d := state.Approval; d != nil && d.Approved && d.Route == domain.RouteAutoApprove {
		return "AI Auto-Approved", true
	}
	if state.InvoiceStatus.IsApprovedEquivalent() {
		return fmt.Sprintf("Status: %s", state.InvoiceStatus), true
	}
	return "", false
}

// Run pays the invoice if the state is approved. It does not modify state.
func (s *PaymentStage) Run(ctx context.Context, state *domain.WorkflowState) *PaymentResult {
	rec := domain.InvoiceRecord{Vendor: "Unknown", InvoiceNumber: "Unknown"}
	if state.Invoice != nil {
		rec = *state.Invoice
	}

	source, approved := ApprovalSource(state)
	if !approved {
		return s.deny(ctx, state, rec)
	}

	base := map[string]any{
		"vendor":         rec.Vendor,
		"amount":         rec.Amount,
		"invoice_number": rec.InvoiceNumber,
	}
	events := []domain.AuditEvent{newEvent(domain.EventPaymentInitiated, domain.ActorPayment,
		"Payment Processing Started",
		fmt.Sprintf("Initiating payment of %s to %s. Approved by: %s", formatMoney(rec.Amount), rec.Vendor, source),
		s.now(), withDetails(base, map[string]any{"approval_source": source}))}

	resp, err := s.gateway.Pay(ctx, rec.Vendor, rec.Amount)
	if err == nil && resp == nil {
		err = fmt.Errorf("payment gateway returned no response")
	}
	if err != nil || !resp.Success {
		var msg string
		if err != nil {
			msg = err.Error()
		} else {
			msg = resp.Error
		}
		s.log.Warn().Str("invoice_id", state.InvoiceID).Str("vendor", rec.Vendor).Str("error", msg).Msg("Payment failed")
		events = append(events, newEvent(domain.EventPaymentFailed, domain.ActorPayment,
			"Payment Failed",
			fmt.Sprintf("Payment to %s failed: %s", rec.Vendor, msg),
			s.now(), withDetails(base, map[string]any{"error": msg})))
		return &PaymentResult{
			Outcome: domain.PaymentOutcome{Success: false, Error: &msg},
			Events:  events,
		}
	}

	txn := resp.TransactionID
	s.log.Info().Str("invoice_id", state.InvoiceID).Str("transaction_id", txn).Float64("amount", rec.Amount).Msg("Payment completed")
	events = append(events, newEvent(domain.EventPaymentComplete, domain.ActorPayment,
		"Payment Completed Successfully",
		fmt.Sprintf("Payment of %s to %s completed. Transaction ID: %s", formatMoney(rec.Amount), rec.Vendor, txn),
		s.now(), withDetails(base, map[string]any{"transaction_id": txn})))
	return &PaymentResult{
		Outcome: domain.PaymentOutcome{Success: true, TransactionID: &txn},
		Events:  events,
	}
}

func (s *PaymentStage) deny(ctx context.Context, state *domain.WorkflowState, rec domain.InvoiceRecord) *PaymentResult {
	decision := domain.ApprovalDecision{Reason: "See approval decision for details."}
	if state.Approval != nil {
		decision = *state.Approval
	}
	validation := domain.ValidationOutcome{}
	if state.Validation != nil {
		validation = *state.Validation
	}

	narrative := s.analyzeRejection(ctx, rec, decision, validation)

	details := map[string]any{
		"primary_reason":       narrative.Details.PrimaryReason,
		"contributing_factors": narrative.Details.ContributingFactors,
		"recommendation":       narrative.Details.Recommendation,
		"vendor":               rec.Vendor,
		"amount":               rec.Amount,
		"invoice_number":       rec.InvoiceNumber,
		"approval_reason":      decision.Reason,
		"risk_score":           decision.RiskScore,
		"severity":             narrative.Severity,
	}
	ev := newEvent(domain.EventPaymentRejected, domain.ActorPayment, narrative.Title, narrative.Description, s.now(), details)
	ev.AISummary = narrative.Description

	s.log.Warn().Str("invoice_id", state.InvoiceID).Str("severity", narrative.Severity).Msg("Payment blocked: invoice not approved")

	msg := errNotApproved
	return &PaymentResult{
		Outcome:   domain.PaymentOutcome{Success: false, Error: &msg, Denied: true},
		Narrative: &narrative,
		Events:    []domain.AuditEvent{ev},
	}
}

func (s *PaymentStage) analyzeRejection(ctx context.Context, rec domain.InvoiceRecord, d domain.ApprovalDecision, v domain.ValidationOutcome) domain.RejectionNarrative {
	dueDate := "Not specified"
	if !domain.IsBlank(rec.DueDate) {
		dueDate = *rec.DueDate
	}
	prompt := fmt.Sprintf(rejectionAnalysisPrompt,
		rec.Vendor, formatMoney(rec.Amount), rec.InvoiceNumber, dueDate,
		d.Approved, d.Reason, d.RiskScore, joinOrNone(d.RedFlags),
		v.IsValid, joinOrNone(v.Errors), joinOrNone(v.Warnings))

	res := s.oracle.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: oracle.RoleSystem, Content: "You are an AP audit system. Generate clear, professional audit logs."},
			{Role: oracle.RoleUser, Content: prompt},
		},
		JSONOnly:  true,
		MaxTokens: 500,
		Purpose:   "rejection_analysis",
	})

	var n domain.RejectionNarrative
	if err := res.Decode(&n); err != nil || strings.TrimSpace(n.Title) == "" {
		return fallbackNarrative(rec, d)
	}
	if n.Severity == "" {
		n.Severity = severityFor(d.RiskScore)
	}
	if n.Details.ContributingFactors == nil {
		n.Details.ContributingFactors = []string{}
	}
	return n
}

func fallbackNarrative(rec domain.InvoiceRecord, d domain.ApprovalDecision) domain.RejectionNarrative {
	reason := d.Reason
	if reason == "" {
		reason = "See approval decision for details."
	}
	primary := d.Reason
	if primary == "" {
		primary = "Invoice not approved"
	}
	factors := append([]string{}, d.RedFlags...)
	return domain.RejectionNarrative{
		Title:       "Payment Rejected",
		Description: fmt.Sprintf("Invoice from %s was not approved for payment. %s", rec.Vendor, reason),
		Details: domain.RejectionDetails{
			PrimaryReason:       primary,
			ContributingFactors: factors,
			Recommendation:      "Review the approval decision and address any issues before resubmitting.",
		},
		Severity: severityFor(d.RiskScore),
	}
}

func severityFor(risk float64) string {
	if risk > 0.5 {
		return "high"
	}
	return "medium"
}

func withDetails(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
