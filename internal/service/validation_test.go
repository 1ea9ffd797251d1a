package service

import (
	"context"
	stderrors "errors"
	"slices"
	"strings"
	"testing"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

const passingRules = `{"is_valid": true, "errors": [], "warnings": []}`

func newTestValidation(o oracle.Oracle, orders PurchaseOrderLookup) *ValidationStage {
	return NewValidationStage(o, newFakeInventory(), newFakeVendors(), orders, ValidationConfig{}, logger.Nop())
}

func widgetsInvoice() domain.InvoiceRecord {
	return domain.InvoiceRecord{
		InvoiceNumber: "INV-1001",
		InvoiceDate:   domain.StringPtr("2026-01-15"),
		DueDate:       domain.StringPtr("2026-02-14"),
		Amount:        200,
		Currency:      "USD",
		PaymentTerms:  domain.StringPtr("Net 30"),
		Vendor:        "Widgets Inc.",
		BillFrom:      domain.ContactInfo{Name: domain.StringPtr("Widgets Inc.")},
		Items:         []domain.LineItem{{Name: "WidgetA", Description: "WidgetA", Quantity: 2, UnitPrice: 100, Amount: 200}},
	}
}

func TestValidationEnrichesFromVendorMaster(t *testing.T) {
	stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), nil)
	in := widgetsInvoice()

	res, err := stage.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Outcome.IsValid {
		t.Fatalf("IsValid = false, errors %v", res.Outcome.Errors)
	}
	for _, key := range []string{"bill_from.phone", "bill_from.email", "bill_from.address"} {
		c, ok := res.Outcome.Corrections[key]
		if !ok {
			t.Errorf("missing correction %s", key)
			continue
		}
		if c.Source != domain.SourceVendorMaster || c.Original != nil {
			t.Errorf("correction %s = %+v", key, c)
		}
	}
	if got := domain.Deref(res.Invoice.BillFrom.Address); got != "1234 Innovation Drive, Suite 500, San Francisco, CA, 94105" {
		t.Errorf("address = %q", got)
	}
	if domain.Deref(res.Invoice.VendorID) != "VND-001" {
		t.Errorf("VendorID = %q", domain.Deref(res.Invoice.VendorID))
	}
	if !hasPrefix(res.Outcome.Warnings, "CORRECTIONS:") {
		t.Errorf("Warnings = %v, want CORRECTIONS summary", res.Outcome.Warnings)
	}
	if in.BillFrom.Phone != nil {
		t.Error("input record was modified")
	}
	if res.Outcome.RulesSource != RulesSourceOracle {
		t.Errorf("RulesSource = %s", res.Outcome.RulesSource)
	}
}

func TestValidationIsIdempotent(t *testing.T) {
	stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), nil)

	first, err := stage.Run(context.Background(), widgetsInvoice())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := stage.Run(context.Background(), first.Invoice)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(second.Outcome.Corrections) != 0 {
		t.Errorf("second run corrections = %v, want none", second.Outcome.Corrections)
	}
	if domain.Deref(second.Invoice.BillFrom.Phone) != domain.Deref(first.Invoice.BillFrom.Phone) {
		t.Error("second run changed the record")
	}
}

func TestValidationInfersPaymentTerms(t *testing.T) {
	stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), nil)
	in := widgetsInvoice()
	in.Vendor = "Acme Unlisted"
	in.PaymentTerms = domain.StringPtr("Payment is due by the due date listed above")

	res, err := stage.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c, ok := res.Outcome.Corrections["payment_terms"]
	if !ok {
		t.Fatalf("no payment_terms correction; warnings %v", res.Outcome.Warnings)
	}
	if c.Corrected != "Net 30" || c.CalculatedDays != 30 || c.Source != domain.SourceDateInference {
		t.Errorf("correction = %+v", c)
	}
	if domain.Deref(res.Invoice.PaymentTerms) != "Net 30" {
		t.Errorf("PaymentTerms = %q", domain.Deref(res.Invoice.PaymentTerms))
	}
	if !hasPrefix(res.Outcome.Warnings, "VENDOR: Acme Unlisted not found") {
		t.Errorf("Warnings = %v, want vendor not found", res.Outcome.Warnings)
	}
}

func TestValidationTermsWithoutDatesWarns(t *testing.T) {
	stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), nil)
	in := widgetsInvoice()
	in.Vendor = "Acme Unlisted"
	in.PaymentTerms = nil
	in.InvoiceDate = nil

	res, err := stage.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := res.Outcome.Corrections["payment_terms"]; ok {
		t.Error("payment_terms corrected without an invoice date")
	}
	if !hasPrefix(res.Outcome.Warnings, "PAYMENT_TERMS:") {
		t.Errorf("Warnings = %v, want PAYMENT_TERMS warning", res.Outcome.Warnings)
	}
}

func TestValidationDeterministicFallback(t *testing.T) {
	stage := newTestValidation(oracle.Disabled{}, nil)
	in := widgetsInvoice()
	in.DueDate = nil
	in.Items = []domain.LineItem{{Name: "FakeItem", Quantity: 1}}

	res, err := stage.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome.RulesSource != RulesSourceDeterministic {
		t.Errorf("RulesSource = %s, want deterministic", res.Outcome.RulesSource)
	}
	if res.Outcome.IsValid {
		t.Error("IsValid = true, want false")
	}
	if !hasPrefix(res.Outcome.Errors, "INVENTORY: FakeItem") || !hasPrefix(res.Outcome.Errors, "DUE_DATE:") {
		t.Errorf("Errors = %v", res.Outcome.Errors)
	}
	if check := res.Outcome.InventoryCheck["FakeItem"]; check.Available || check.Variance != -1 {
		t.Errorf("FakeItem check = %+v", check)
	}
}

func TestValidationDemotesAmountErrors(t *testing.T) {
	o := newScriptedOracle().on("validation_rules",
		`{"is_valid": false, "errors": ["AMOUNT: unusually round total"], "warnings": []}`)
	stage := newTestValidation(o, nil)

	res, err := stage.Run(context.Background(), widgetsInvoice())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Outcome.IsValid || len(res.Outcome.Errors) != 0 {
		t.Errorf("outcome = valid %v errors %v, want valid", res.Outcome.IsValid, res.Outcome.Errors)
	}
	if !hasPrefix(res.Outcome.Warnings, "AMOUNT: unusually round total") {
		t.Errorf("Warnings = %v", res.Outcome.Warnings)
	}
}

func TestValidationHonoursOracleVerdict(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantValid bool
		wantError string
	}{
		{"pass", passingRules, true, ""},
		{"fail without reasons", `{"is_valid": false, "errors": [], "warnings": []}`, false, unexplainedRulesFailure},
		{"verdict missing", `{"errors": [], "warnings": []}`, false, unexplainedRulesFailure},
		{"fail with reason", `{"is_valid": false, "errors": ["DUE_DATE: Due date precedes invoice date"]}`, false, "DUE_DATE: Due date precedes invoice date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := newTestValidation(newScriptedOracle().on("validation_rules", tt.response), nil)

			res, err := stage.Run(context.Background(), widgetsInvoice())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Outcome.IsValid != tt.wantValid {
				t.Errorf("IsValid = %v, want %v (errors %v)", res.Outcome.IsValid, tt.wantValid, res.Outcome.Errors)
			}
			if tt.wantError != "" && !slices.Contains(res.Outcome.Errors, tt.wantError) {
				t.Errorf("Errors = %v, want %q", res.Outcome.Errors, tt.wantError)
			}
		})
	}
}

func TestValidationSuspendedVendor(t *testing.T) {
	stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), nil)
	in := widgetsInvoice()
	in.Vendor = "Fraudster"

	res, err := stage.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome.IsValid {
		t.Error("IsValid = true for suspended vendor")
	}
	if !hasPrefix(res.Outcome.Errors, "VENDOR: Fraudster LLC (VND-003) is suspended") {
		t.Errorf("Errors = %v", res.Outcome.Errors)
	}
	if !hasPrefix(res.Outcome.Warnings, "COMPLIANCE:") {
		t.Errorf("Warnings = %v, want COMPLIANCE", res.Outcome.Warnings)
	}
	if domain.Deref(res.Invoice.VendorStatus) != domain.VendorSuspended {
		t.Errorf("VendorStatus = %q", domain.Deref(res.Invoice.VendorStatus))
	}
}

func TestValidationCatalogMatching(t *testing.T) {
	o := newScriptedOracle().
		on("validation_rules", passingRules).
		on("item_matching", `{"matches": [
			{"invoice_item": "Widget-A (blue)", "catalog_item": "widgeta", "confidence": 88},
			{"invoice_item": "Sprocket", "catalog_item": "SprocketPro", "confidence": 70}
		]}`)
	stage := newTestValidation(o, nil)
	in := widgetsInvoice()
	in.Items = []domain.LineItem{
		{Name: "Widget-A (blue)", Quantity: 3},
		{Name: "Sprocket", Quantity: 1},
	}

	res, err := stage.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	matched := res.Outcome.InventoryCheck["Widget-A (blue)"]
	if matched.MatchedName != "WidgetA" || matched.InStock != 15 || matched.MatchConfidence != 88 || !matched.Available {
		t.Errorf("matched check = %+v", matched)
	}
	invented := res.Outcome.InventoryCheck["Sprocket"]
	if invented.MatchedName != "" || invented.Available {
		t.Errorf("invented catalog name accepted: %+v", invented)
	}
}

func TestValidationPurchaseOrderMatching(t *testing.T) {
	orders := &fakeOrders{orders: []domain.PurchaseOrder{
		{PONumber: "PO-2026-001", VendorID: "VND-001", TotalAmount: 5000, Status: "open"},
	}}

	t.Run("referenced within tolerance", func(t *testing.T) {
		stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), orders)
		in := widgetsInvoice()
		in.Amount = 5100
		in.PONumber = domain.StringPtr("PO-2026-001")

		res, err := stage.Run(context.Background(), in)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		po := res.Outcome.PurchaseOrder
		if po == nil || po.Matched != "referenced" || !po.WithinRange {
			t.Errorf("PurchaseOrder = %+v", po)
		}
	})

	t.Run("referenced outside tolerance", func(t *testing.T) {
		stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), orders)
		in := widgetsInvoice()
		in.Amount = 6000
		in.PONumber = domain.StringPtr("PO-2026-001")

		res, err := stage.Run(context.Background(), in)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Outcome.PurchaseOrder == nil || res.Outcome.PurchaseOrder.WithinRange {
			t.Errorf("PurchaseOrder = %+v, want out of range", res.Outcome.PurchaseOrder)
		}
		if !hasPrefix(res.Outcome.Warnings, "PO: Invoice amount") {
			t.Errorf("Warnings = %v", res.Outcome.Warnings)
		}
		if !res.Outcome.IsValid {
			t.Error("PO mismatch made the invoice invalid")
		}
	})

	t.Run("matched by amount", func(t *testing.T) {
		stage := newTestValidation(newScriptedOracle().on("validation_rules", passingRules), orders)
		in := widgetsInvoice()
		in.Amount = 4900

		res, err := stage.Run(context.Background(), in)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if po := res.Outcome.PurchaseOrder; po == nil || po.Matched != "amount_tolerance" {
			t.Errorf("PurchaseOrder = %+v", po)
		}
	})
}

func TestValidationVendorLookupFailure(t *testing.T) {
	vendors := newFakeVendors()
	vendors.err = stderrors.New("connection refused")
	stage := NewValidationStage(oracle.Disabled{}, newFakeInventory(), vendors, nil, ValidationConfig{}, logger.Nop())

	_, err := stage.Run(context.Background(), widgetsInvoice())
	if !errors.IsCode(err, errors.ErrCodeUnavailable) {
		t.Errorf("error = %v, want UNAVAILABLE", err)
	}
}

func TestCheckPaymentTerms(t *testing.T) {
	inv, due := domain.StringPtr("January 15, 2026"), domain.StringPtr("2026-03-16")
	tests := []struct {
		terms     *string
		corrected string
		needs     bool
	}{
		{domain.StringPtr("Net 45"), "", false},
		{domain.StringPtr("2/10 Net 30"), "", false},
		{domain.StringPtr("Due on receipt"), "", false},
		{nil, "Net 60", true},
		{domain.StringPtr("Thank you for your business"), "Net 60", true},
	}
	for _, tt := range tests {
		got := checkPaymentTerms(tt.terms, inv, due)
		if got.NeedsCorrection != tt.needs || got.Corrected != tt.corrected {
			t.Errorf("checkPaymentTerms(%q) = %+v, want needs %v corrected %q",
				domain.Deref(tt.terms), got, tt.needs, tt.corrected)
		}
		if tt.needs && !strings.Contains(got.Reason, "Inferred") {
			t.Errorf("Reason = %q, want inference note", got.Reason)
		}
	}
}
