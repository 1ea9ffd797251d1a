package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

const (
	RulesSourceOracle        = "oracle"
	RulesSourceDeterministic = "deterministic"
)

const validationSystemPrompt = `You are an invoice validation system for an enterprise accounts payable workflow.

Analyze the invoice against inventory availability and business rules and decide whether it is valid for approval.

## Output schema
Return a JSON object with exactly these fields:
- "is_valid": boolean. True only if ALL rules pass.
- "errors": array of strings. Issues that BLOCK approval.
- "warnings": array of strings. Non-blocking concerns.

## Rules (all must pass)
1. INVENTORY: every requested item is available (in_stock >= requested).
2. DUE_DATE: present and valid.
3. AMOUNT: positive.
4. VENDOR: non-empty and not "UNKNOWN".

## Messages
- Prefix each message with the rule name, e.g. "INVENTORY: WidgetX, requested 20 but only 5 in stock".
- Include item names, quantities and values.

## Warnings
- Amount above the high-value threshold.
- Due date within 3 days.
- Vendor name with unusual characters.

Warnings never affect is_valid. When in doubt, flag as an error.

## Example
INPUT:
Vendor: Unknown Vendor, Amount: $15,000.00, Due Date: null, Items: WidgetX:20
Inventory: WidgetX requested=20 in_stock=5 INSUFFICIENT

OUTPUT:
{"is_valid": false, "errors": ["INVENTORY: WidgetX, requested 20 units but only 5 in stock", "DUE_DATE: Missing or invalid due date"], "warnings": ["AMOUNT: Invoice exceeds $10,000 threshold ($15,000)"]}`

// ValidationConfig holds the validation thresholds.
type ValidationConfig struct {
	AmountThreshold float64
	POTolerance     float64
	MaxTokens       int
}

// ValidationStage checks an invoice against master data and business rules
// and corrects fields that extraction got wrong.
type ValidationStage struct {
	oracle    oracle.Oracle
	inventory InventoryLookup
	vendors   VendorDirectory
	orders    PurchaseOrderLookup
	cfg       ValidationConfig
	log       *logger.Logger
	now       func() time.Time
}

// NewValidationStage creates the validation stage. orders may be nil, which
// disables purchase-order matching.
func NewValidationStage(
	o oracle.Oracle,
	inventory InventoryLookup,
	vendors VendorDirectory,
	orders PurchaseOrderLookup,
	cfg ValidationConfig,
	log *logger.Logger,
) *ValidationStage {
	if cfg.AmountThreshold <= 0 {
		cfg.AmountThreshold = 10000
	}
	if cfg.POTolerance <= 0 {
		cfg.POTolerance = 0.05
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	return &ValidationStage{
		oracle:    o,
		inventory: inventory,
		vendors:   vendors,
		orders:    orders,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// ValidationResult is the outcome plus the corrected record.
type ValidationResult struct {
	Outcome domain.ValidationOutcome
	Invoice domain.InvoiceRecord
	Events  []domain.AuditEvent
}

// unexplainedRulesFailure stands in when the oracle fails an invoice
// without naming a rule.
const unexplainedRulesFailure = "RULES: Rule check did not pass and gave no reason"

type ruleVerdict struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Run validates rec. The input record is not modified. An error means a
// collaborator failed and no verdict could be reached.
func (s *ValidationStage) Run(ctx context.Context, rec domain.InvoiceRecord) (*ValidationResult, error) {
	inv := rec.Clone()
	outcome := domain.ValidationOutcome{
		Errors:      []string{},
		Warnings:    []string{},
		Corrections: map[string]domain.Correction{},
	}

	// 1. vendor master
	vendor, err := s.enrichFromVendor(ctx, &inv, &outcome)
	if err != nil {
		return nil, err
	}

	// 2. payment terms
	terms := checkPaymentTerms(inv.PaymentTerms, inv.InvoiceDate, inv.DueDate)
	if terms.NeedsCorrection {
		if terms.Corrected != "" {
			outcome.Corrections["payment_terms"] = domain.Correction{
				Original:       cloneStr(inv.PaymentTerms),
				Corrected:      terms.Corrected,
				Reason:         terms.Reason,
				Source:         domain.SourceDateInference,
				CalculatedDays: terms.Days,
			}
			inv.PaymentTerms = domain.StringPtr(terms.Corrected)
		} else {
			outcome.Warnings = append(outcome.Warnings, "PAYMENT_TERMS: "+terms.Reason)
		}
	}

	// 3. line items
	report, err := s.matchInventory(ctx, inv.Items)
	if err != nil {
		return nil, err
	}
	outcome.InventoryCheck = report.Checks

	// 4. rules
	verdict, source := s.evaluateRules(ctx, &inv, report)
	outcome.RulesSource = source
	outcome.Errors = append(outcome.Errors, verdict.Errors...)
	outcome.Warnings = append(verdict.Warnings, outcome.Warnings...)

	if len(outcome.Corrections) > 0 {
		outcome.Warnings = appendUnique(outcome.Warnings,
			fmt.Sprintf("CORRECTIONS: %d field(s) were auto-corrected by validation", len(outcome.Corrections)))
	}

	// 5. vendor status
	if vendor != nil {
		if vendor.IsSuspended() {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("VENDOR: %s (%s) is suspended", vendor.Name, vendor.VendorID))
		}
		if !vendor.ComplianceComplete() {
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("COMPLIANCE: %s compliance status is %s", vendor.Name, vendor.ComplianceStatus))
		}
	}

	// 6. purchase order
	s.matchPurchaseOrder(ctx, &inv, vendor, &outcome)

	outcome.IsValid = len(outcome.Errors) == 0

	s.log.Info().
		Str("vendor", inv.Vendor).
		Bool("is_valid", outcome.IsValid).
		Int("errors", len(outcome.Errors)).
		Int("warnings", len(outcome.Warnings)).
		Int("corrections", len(outcome.Corrections)).
		Str("rules_source", outcome.RulesSource).
		Msg("Invoice validated")

	return &ValidationResult{
		Outcome: outcome,
		Invoice: inv,
		Events:  []domain.AuditEvent{s.completedEvent(&inv, &outcome)},
	}, nil
}

func (s *ValidationStage) enrichFromVendor(ctx context.Context, inv *domain.InvoiceRecord, outcome *domain.ValidationOutcome) (*domain.VendorProfile, error) {
	if !inv.HasKnownVendor() {
		return nil, nil
	}
	vendor, err := s.vendors.Lookup(ctx, inv.Vendor)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "vendor lookup failed")
	}
	if vendor == nil {
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("VENDOR: %s not found in vendor master", inv.Vendor))
		return nil, nil
	}
	outcome.Vendor = vendor

	reason := fmt.Sprintf("Backfilled from vendor master record %s", vendor.VendorID)
	backfill := func(key string, field **string, value *string) {
		if !domain.IsBlank(*field) || domain.IsBlank(value) {
			return
		}
		outcome.Corrections[key] = domain.Correction{
			Original:  cloneStr(*field),
			Corrected: *value,
			Reason:    reason,
			Source:    domain.SourceVendorMaster,
		}
		*field = domain.StringPtr(*value)
	}
	backfill("bill_from.phone", &inv.BillFrom.Phone, vendor.Phone)
	backfill("bill_from.email", &inv.BillFrom.Email, vendor.Email)
	backfill("bill_from.address", &inv.BillFrom.Address, vendor.FullAddress())
	backfill("payment_terms", &inv.PaymentTerms, vendor.PaymentTerms)

	inv.VendorID = domain.StringPtr(vendor.VendorID)
	inv.VendorStatus = domain.StringPtr(vendor.Status)
	inv.VendorRiskLevel = domain.StringPtr(vendor.RiskLevel)
	return vendor, nil
}

func (s *ValidationStage) evaluateRules(ctx context.Context, inv *domain.InvoiceRecord, report *inventoryReport) (ruleVerdict, string) {
	res := s.oracle.Complete(ctx, oracle.Request{
		Messages: []oracle.Message{
			{Role: oracle.RoleSystem, Content: validationSystemPrompt},
			{Role: oracle.RoleUser, Content: validationUserPrompt(inv, report)},
		},
		JSONOnly:  true,
		MaxTokens: s.cfg.MaxTokens,
		Purpose:   "validation_rules",
	})

	var verdict ruleVerdict
	source := RulesSourceOracle
	if oerr := res.Decode(&verdict); oerr != nil {
		s.log.Warn().Err(oerr).Msg("Rule reasoning unavailable; using deterministic rules")
		verdict = s.deterministicRules(inv, report)
		source = RulesSourceDeterministic
	}
	if !verdict.IsValid && len(verdict.Errors) == 0 {
		verdict.Errors = []string{unexplainedRulesFailure}
	}

	// A positive amount satisfies the amount rule; anything else the
	// oracle says about it is advisory.
	if inv.Amount > 0 {
		kept := verdict.Errors[:0:0]
		for _, e := range verdict.Errors {
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(e)), "AMOUNT:") {
				verdict.Warnings = append(verdict.Warnings, e)
				continue
			}
			kept = append(kept, e)
		}
		verdict.Errors = kept
	}

	if inv.Amount > s.cfg.AmountThreshold && !hasPrefix(verdict.Warnings, "AMOUNT:") {
		verdict.Warnings = append(verdict.Warnings, s.highValueWarning(inv.Amount))
	}
	if verdict.Errors == nil {
		verdict.Errors = []string{}
	}
	if verdict.Warnings == nil {
		verdict.Warnings = []string{}
	}
	return verdict, source
}

func (s *ValidationStage) deterministicRules(inv *domain.InvoiceRecord, report *inventoryReport) ruleVerdict {
	v := ruleVerdict{Errors: []string{}, Warnings: []string{}}
	for _, name := range report.Names {
		check := report.Checks[name]
		if !check.Available {
			v.Errors = append(v.Errors, fmt.Sprintf("INVENTORY: %s, requested %d but only %d in stock", name, check.Requested, check.InStock))
		}
	}
	if domain.IsBlank(inv.DueDate) {
		v.Errors = append(v.Errors, "DUE_DATE: Missing or invalid due date")
	}
	if inv.Amount <= 0 {
		v.Errors = append(v.Errors, fmt.Sprintf("AMOUNT: Invalid amount ($%.2f)", inv.Amount))
	}
	if !inv.HasKnownVendor() {
		v.Errors = append(v.Errors, "VENDOR: Missing or unknown vendor")
	}
	v.IsValid = len(v.Errors) == 0
	return v
}

func (s *ValidationStage) highValueWarning(amount float64) string {
	return fmt.Sprintf("AMOUNT: High-value invoice (%s exceeds %s)", formatMoney(amount), formatWholeMoney(s.cfg.AmountThreshold))
}

func validationUserPrompt(inv *domain.InvoiceRecord, report *inventoryReport) string {
	var items []string
	for _, item := range inv.Items {
		items = append(items, fmt.Sprintf("%s:%d", item.Name, item.Quantity))
	}
	itemSummary := "None"
	if len(items) > 0 {
		itemSummary = strings.Join(items, ", ")
	}

	var stock []string
	for _, name := range report.Names {
		c := report.Checks[name]
		status := "AVAILABLE"
		if !c.Available {
			status = "INSUFFICIENT"
		}
		line := fmt.Sprintf("- %s: requested=%d, in_stock=%d, status=%s", name, c.Requested, c.InStock, status)
		if c.MatchedName != "" && c.MatchedName != name {
			line += fmt.Sprintf(" (matched catalog item %s)", c.MatchedName)
		}
		stock = append(stock, line)
	}
	stockSummary := "No inventory data available."
	if len(stock) > 0 {
		stockSummary = strings.Join(stock, "\n")
	}

	dueDate := "null (missing)"
	if !domain.IsBlank(inv.DueDate) {
		dueDate = *inv.DueDate
	}

	return fmt.Sprintf(`Validate this invoice:

INVOICE DATA:
- Vendor: %s
- Amount: %s
- Due Date: %s
- Items: %s

INVENTORY CHECK RESULTS:
%s

Analyze against the validation rules and return your assessment.`, inv.Vendor, formatMoney(inv.Amount), dueDate, itemSummary, stockSummary)
}

func (s *ValidationStage) matchPurchaseOrder(ctx context.Context, inv *domain.InvoiceRecord, vendor *domain.VendorProfile, outcome *domain.ValidationOutcome) {
	if s.orders == nil {
		return
	}

	if !domain.IsBlank(inv.PONumber) {
		poNumber := strings.TrimSpace(*inv.PONumber)
		po, err := s.orders.GetPurchaseOrder(ctx, poNumber)
		if err != nil {
			s.log.Warn().Err(err).Str("po_number", poNumber).Msg("Purchase order lookup failed")
			return
		}
		if po == nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("PO: %s not found", poNumber))
			return
		}
		within := withinTolerance(inv.Amount, po.TotalAmount, s.cfg.POTolerance)
		outcome.PurchaseOrder = &domain.PurchaseOrderMatch{
			PONumber:    po.PONumber,
			VendorID:    po.VendorID,
			TotalAmount: po.TotalAmount,
			Matched:     "referenced",
			WithinRange: within,
		}
		if vendor != nil && po.VendorID != vendor.VendorID {
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("PO: %s belongs to vendor %s, not %s", po.PONumber, po.VendorID, vendor.VendorID))
		}
		if !within {
			outcome.Warnings = append(outcome.Warnings,
				fmt.Sprintf("PO: Invoice amount %s differs from %s total %s by more than %.0f%%",
					formatMoney(inv.Amount), po.PONumber, formatMoney(po.TotalAmount), s.cfg.POTolerance*100))
		}
		return
	}

	if vendor == nil || inv.Amount <= 0 {
		return
	}
	po, err := s.orders.FindMatchingPO(ctx, vendor.VendorID, inv.Amount, s.cfg.POTolerance)
	if err != nil {
		s.log.Warn().Err(err).Str("vendor_id", vendor.VendorID).Msg("Purchase order match failed")
		return
	}
	if po != nil {
		outcome.PurchaseOrder = &domain.PurchaseOrderMatch{
			PONumber:    po.PONumber,
			VendorID:    po.VendorID,
			TotalAmount: po.TotalAmount,
			Matched:     "amount_tolerance",
			WithinRange: true,
		}
	}
}

// withinTolerance reports |amount - total| <= total * tolerance.
func withinTolerance(amount, total, tolerance float64) bool {
	a := decimal.NewFromFloat(amount)
	t := decimal.NewFromFloat(total)
	limit := t.Mul(decimal.NewFromFloat(tolerance)).Abs()
	return a.Sub(t).Abs().LessThanOrEqual(limit)
}

func (s *ValidationStage) completedEvent(inv *domain.InvoiceRecord, outcome *domain.ValidationOutcome) domain.AuditEvent {
	title := "Validation Passed"
	desc := fmt.Sprintf("Invoice from %s passed validation", inv.Vendor)
	if !outcome.IsValid {
		title = "Validation Failed"
		desc = fmt.Sprintf("Invoice from %s failed validation with %d error(s)", inv.Vendor, len(outcome.Errors))
	}
	details := map[string]any{
		"is_valid":     outcome.IsValid,
		"errors":       outcome.Errors,
		"warnings":     outcome.Warnings,
		"corrections":  len(outcome.Corrections),
		"rules_source": outcome.RulesSource,
	}
	if outcome.Vendor != nil {
		details["vendor_id"] = outcome.Vendor.VendorID
	}
	if outcome.PurchaseOrder != nil {
		details["po_number"] = outcome.PurchaseOrder.PONumber
	}
	return newEvent(domain.EventValidationComplete, domain.ActorValidation, title, desc, s.now(), details)
}

func formatWholeMoney(v float64) string {
	return strings.TrimSuffix(formatMoney(v), ".00")
}

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
