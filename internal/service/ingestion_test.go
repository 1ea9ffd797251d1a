package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/oracle"
)

const sampleInvoiceText = `INVOICE INV-1001
Widgets Inc.
Date: 2026-01-15  Due: 2026-02-14
WidgetA x 2 @ $100.00
Total: $200.00`

func fullExtraction(vendor string, confidence int) string {
	return mustJSON(map[string]any{
		"invoice_number": "INV-1001",
		"invoice_date":   "2026-01-15",
		"due_date":       "2026-02-14",
		"amount":         200,
		"currency":       "usd",
		"payment_terms":  "Net 30",
		"vendor":         vendor,
		"bill_from":      map[string]any{"name": vendor},
		"items": []map[string]any{
			{"name": "WidgetA", "quantity": 2, "unit_price": 100, "amount": 200},
		},
		"confidence": confidence,
		"flags":      []string{},
	})
}

func TestFlexNumber(t *testing.T) {
	tests := []struct {
		raw   string
		want  float64
		isSet bool
	}{
		{`15000`, 15000, true},
		{`"$15,000.00"`, 15000, true},
		{`"5.000,00"`, 5000, true},
		{`"12,5"`, 12.5, true},
		{`"USD 250"`, 250, true},
		{`null`, 0, false},
		{`"n/a"`, 0, false},
		{`true`, 0, false},
	}
	for _, tt := range tests {
		var n flexNumber
		if err := json.Unmarshal([]byte(tt.raw), &n); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.raw, err)
		}
		if n.Set != tt.isSet || n.Value != tt.want {
			t.Errorf("Unmarshal(%s) = {%v %v}, want {%v %v}", tt.raw, n.Value, n.Set, tt.want, tt.isSet)
		}
	}
}

func TestScoreExtraction(t *testing.T) {
	var full Extraction
	if err := json.Unmarshal([]byte(fullExtraction("Widgets Inc.", 80)), &full); err != nil {
		t.Fatal(err)
	}
	if got := ScoreExtraction(full); got != 125 {
		t.Errorf("ScoreExtraction(full) = %d, want 125", got)
	}

	var unknown Extraction
	if err := json.Unmarshal([]byte(`{"vendor": "UNKNOWN", "confidence": 30}`), &unknown); err != nil {
		t.Fatal(err)
	}
	if got := ScoreExtraction(unknown); got != 30 {
		t.Errorf("ScoreExtraction(unknown vendor) = %d, want 30", got)
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	var e Extraction
	if err := json.Unmarshal([]byte(`{"amount": -50, "items": [{"name": "WidgetA", "quantity": -2}]}`), &e); err != nil {
		t.Fatal(err)
	}
	rec := Normalize(e, domain.RawInput{Text: "raw"})

	if rec.Vendor != domain.UnknownValue || rec.InvoiceNumber != domain.UnknownValue {
		t.Errorf("vendor/invoice number = %q/%q, want UNKNOWN", rec.Vendor, rec.InvoiceNumber)
	}
	if rec.Currency != domain.DefaultCurrency {
		t.Errorf("Currency = %q, want USD", rec.Currency)
	}
	if rec.Confidence != 50 {
		t.Errorf("Confidence = %d, want 50", rec.Confidence)
	}
	if rec.Amount != 0 || rec.Items[0].Quantity != 0 {
		t.Errorf("negative values not clamped: amount %v, quantity %d", rec.Amount, rec.Items[0].Quantity)
	}
	if len(rec.Flags) != 1 || rec.Flags[0] != flagNegativeClamped {
		t.Errorf("Flags = %v, want [%s]", rec.Flags, flagNegativeClamped)
	}
	if rec.SourceType != domain.SourceText {
		t.Errorf("SourceType = %q, want text", rec.SourceType)
	}
}

func TestNormalizeBoundsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		confidence int
		quantity   int
		flags      []string
	}{
		{"confidence above range", `{"confidence": 250, "items": [{"name": "WidgetA", "quantity": 2}]}`, 100, 2, nil},
		{"confidence below range", `{"confidence": -30, "items": [{"name": "WidgetA", "quantity": 2}]}`, 0, 2, nil},
		{"fractional confidence", `{"confidence": "87.6", "items": [{"name": "WidgetA", "quantity": 2}]}`, 88, 2, nil},
		{"huge quantity", `{"confidence": 90, "items": [{"name": "WidgetA", "quantity": 1e30}]}`, 90, maxLineQuantity, []string{flagQuantityCapped}},
		{"negative quantity", `{"confidence": 90, "items": [{"name": "WidgetA", "quantity": -4}]}`, 90, 0, []string{flagNegativeClamped}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Extraction
			if err := json.Unmarshal([]byte(tt.raw), &e); err != nil {
				t.Fatal(err)
			}
			rec := Normalize(e, domain.RawInput{Text: "raw"})

			if rec.Confidence != tt.confidence {
				t.Errorf("Confidence = %d, want %d", rec.Confidence, tt.confidence)
			}
			if rec.Items[0].Quantity != tt.quantity {
				t.Errorf("Quantity = %d, want %d", rec.Items[0].Quantity, tt.quantity)
			}
			if fmt.Sprint(rec.Flags) != fmt.Sprint(append([]string{}, tt.flags...)) {
				t.Errorf("Flags = %v, want %v", rec.Flags, tt.flags)
			}
		})
	}

	var inflated Extraction
	if err := json.Unmarshal([]byte(`{"vendor": "UNKNOWN", "confidence": 250}`), &inflated); err != nil {
		t.Fatal(err)
	}
	if got := ScoreExtraction(inflated); got != 100 {
		t.Errorf("ScoreExtraction(confidence 250) = %d, want 100", got)
	}
}

func TestNeedsRetry(t *testing.T) {
	const (
		longWithDigits = sampleInvoiceText
		longNoDigits   = "Widgets Incorporated thanks you for your business"
		shortNoDigits  = "Widgets Inc sends thanks!"
	)
	tests := []struct {
		name string
		raw  string
		text string
		want bool
	}{
		{"complete extraction", `{"vendor": "Widgets Inc.", "amount": 200, "confidence": 90}`, longWithDigits, false},
		{"low confidence", `{"vendor": "Widgets Inc.", "amount": 200, "confidence": 40}`, longWithDigits, true},
		{"low confidence on trivial input", `{"vendor": "Widgets Inc.", "amount": 200, "confidence": 40}`, "hi", false},
		{"two critical flags", `{"vendor": "Widgets Inc.", "amount": 200, "confidence": 90, "flags": ["missing_vendor_address", "unparseable_total"]}`, shortNoDigits, true},
		{"one critical flag", `{"vendor": "Widgets Inc.", "amount": 200, "confidence": 90, "flags": ["missing_amount"]}`, shortNoDigits, false},
		{"two critical flags on trivial input", `{"vendor": "Widgets Inc.", "amount": 200, "confidence": 90, "flags": ["missing_vendor", "missing_amount"]}`, "hi there", false},
		{"vendor and amount default", `{"vendor": "UNKNOWN", "amount": 0, "confidence": 90}`, shortNoDigits, true},
		{"vendor and amount default on trivial input", `{"vendor": "UNKNOWN", "amount": 0, "confidence": 90}`, "n/a", false},
		{"vendor default with substantial text", `{"vendor": "UNKNOWN", "amount": 200, "confidence": 90}`, longNoDigits, true},
		{"vendor default with short text", `{"vendor": "UNKNOWN", "amount": 200, "confidence": 90}`, shortNoDigits, false},
		{"amount default with digits", `{"vendor": "Widgets Inc.", "amount": 0, "confidence": 90}`, "Total 200", true},
		{"amount default without digits", `{"vendor": "Widgets Inc.", "confidence": 90}`, longNoDigits, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Extraction
			if err := json.Unmarshal([]byte(tt.raw), &e); err != nil {
				t.Fatal(err)
			}
			if got := needsRetry(e, tt.text); got != tt.want {
				t.Errorf("needsRetry = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIngestionSkipsRetryForCompleteExtraction(t *testing.T) {
	o := newScriptedOracle().on("extraction", fullExtraction("Widgets Inc.", 95))
	stage := NewIngestionStage(o, 0, logger.Nop())

	res, err := stage.Run(context.Background(), domain.RawInput{Text: sampleInvoiceText})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RetryAttempted {
		t.Error("RetryAttempted = true, want false")
	}
	if o.count("extraction_retry") != 0 {
		t.Error("retry call made for a complete extraction")
	}
	if res.Invoice.Vendor != "Widgets Inc." || res.Invoice.Amount != 200 || res.Invoice.Currency != "USD" {
		t.Errorf("Invoice = %+v", res.Invoice)
	}
	if len(res.Events) != 1 || res.Events[0].EventType != domain.EventAIProcessing {
		t.Errorf("Events = %+v, want one ai_processing event", res.Events)
	}
}

func TestIngestionRetryReplacesOnlyWhenBetter(t *testing.T) {
	tests := []struct {
		name       string
		retry      string
		wantVendor string
		improved   bool
	}{
		{"better retry wins", fullExtraction("Beta Co", 90), "Beta Co", true},
		{"tie keeps original", fullExtraction("Beta Co", 40), "Alpha Co", false},
		{"worse retry ignored", `{"confidence": 10}`, "Alpha Co", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newScriptedOracle().
				on("extraction", fullExtraction("Alpha Co", 40)).
				on("extraction_retry", tt.retry)
			stage := NewIngestionStage(o, 0, logger.Nop())

			res, err := stage.Run(context.Background(), domain.RawInput{Text: sampleInvoiceText})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.RetryAttempted {
				t.Fatal("RetryAttempted = false, want true")
			}
			if res.Invoice.Vendor != tt.wantVendor {
				t.Errorf("Vendor = %q, want %q", res.Invoice.Vendor, tt.wantVendor)
			}
			if res.RetryImproved != tt.improved {
				t.Errorf("RetryImproved = %v, want %v", res.RetryImproved, tt.improved)
			}
		})
	}
}

func TestIngestionRetryFailureKeepsFirstAttempt(t *testing.T) {
	o := newScriptedOracle().on("extraction", fullExtraction("Alpha Co", 40))
	stage := NewIngestionStage(o, 0, logger.Nop())

	res, err := stage.Run(context.Background(), domain.RawInput{Text: sampleInvoiceText})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if o.count("extraction_retry") != 1 {
		t.Errorf("retry calls = %d, want 1", o.count("extraction_retry"))
	}
	if res.Invoice.Vendor != "Alpha Co" {
		t.Errorf("Vendor = %q, want Alpha Co", res.Invoice.Vendor)
	}
}

func TestIngestionFailure(t *testing.T) {
	tests := []struct {
		name   string
		oracle oracle.Oracle
		kind   oracle.Kind
	}{
		{"malformed", newScriptedOracle().on("extraction", "I cannot read this invoice."), oracle.KindMalformed},
		{"unavailable", oracle.Disabled{}, oracle.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := NewIngestionStage(tt.oracle, 0, logger.Nop())
			res, err := stage.Run(context.Background(), domain.RawInput{Text: sampleInvoiceText})

			var ierr *IngestionError
			if !stderrors.As(err, &ierr) {
				t.Fatalf("error = %v, want *IngestionError", err)
			}
			if ierr.Cause == nil || ierr.Cause.Kind != tt.kind {
				t.Errorf("Cause = %v, want kind %s", ierr.Cause, tt.kind)
			}
			if res == nil || len(res.Events) != 1 || res.Events[0].Title != "Extraction Failed" {
				t.Errorf("result = %+v, want one Extraction Failed event", res)
			}
			if res.Invoice != nil {
				t.Error("Invoice set on failure")
			}
		})
	}
}
