package service

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
)

// flexNumber accepts a JSON number, a numeric string such as "$15,000" or
// "5.000,00", or null. Anything else leaves it unset.
type flexNumber struct {
	Value float64
	Set   bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	*n = flexNumber{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if v, ok := parseLooseNumber(s); ok {
			n.Value, n.Set = v, true
		}
		return nil
	}
	if v, err := strconv.ParseFloat(string(data), 64); err == nil {
		n.Value, n.Set = v, true
	}
	return nil
}

func (n flexNumber) or(def float64) float64 {
	if !n.Set {
		return def
	}
	return n.Value
}

// parseLooseNumber strips currency symbols and separators from s.
func parseLooseNumber(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', ' ', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	s = strings.TrimPrefix(strings.ToUpper(s), "USD")
	if s == "" {
		return 0, false
	}

	comma := strings.LastIndexByte(s, ',')
	dot := strings.LastIndexByte(s, '.')
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		// 5.000,00
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot < 0 && len(s)-comma-1 != 3:
		// 12,5
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// flexString accepts a JSON string or number. Null and other shapes leave it
// unset.
type flexString struct {
	Value string
	Set   bool
}

func (s *flexString) UnmarshalJSON(data []byte) error {
	*s = flexString{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err == nil {
			s.Value, s.Set = v, true
		}
		return nil
	}
	if _, err := strconv.ParseFloat(string(data), 64); err == nil {
		s.Value, s.Set = string(data), true
	}
	return nil
}

// present is true for a non-blank value.
func (s flexString) present() bool {
	return s.Set && strings.TrimSpace(s.Value) != ""
}

func (s flexString) or(def string) string {
	if !s.present() {
		return def
	}
	return strings.TrimSpace(s.Value)
}

func (s flexString) ptr() *string {
	if !s.present() {
		return nil
	}
	v := strings.TrimSpace(s.Value)
	return &v
}

// known is true unless the value is missing or the UNKNOWN placeholder.
func (s flexString) known() bool {
	return s.present() && !strings.EqualFold(strings.TrimSpace(s.Value), domain.UnknownValue)
}

type extractedContact struct {
	Name    flexString `json:"name"`
	Address flexString `json:"address"`
	Email   flexString `json:"email"`
	Phone   flexString `json:"phone"`
	Entity  flexString `json:"entity"`
}

type extractedItem struct {
	SKU         flexString `json:"sku"`
	Name        flexString `json:"name"`
	Description flexString `json:"description"`
	Quantity    flexNumber `json:"quantity"`
	UnitPrice   flexNumber `json:"unit_price"`
	Amount      flexNumber `json:"amount"`
}

// Extraction is the oracle's raw answer to an extraction request, before
// defaults are applied.
type Extraction struct {
	InvoiceNumber flexString       `json:"invoice_number"`
	InvoiceDate   flexString       `json:"invoice_date"`
	DueDate       flexString       `json:"due_date"`
	Amount        flexNumber       `json:"amount"`
	Subtotal      flexNumber       `json:"subtotal"`
	Tax           flexNumber       `json:"tax"`
	Currency      flexString       `json:"currency"`
	PaymentTerms  flexString       `json:"payment_terms"`
	PONumber      flexString       `json:"po_number"`
	Vendor        flexString       `json:"vendor"`
	BillFrom      extractedContact `json:"bill_from"`
	BillTo        extractedContact `json:"bill_to"`
	Items         []extractedItem  `json:"items"`
	Confidence    flexNumber       `json:"confidence"`
	Flags         []flexString     `json:"flags"`
}

// ScoreExtraction rates how complete an extraction is. Confidence counts as
// the base, and each key field that was filled in adds to it.
func ScoreExtraction(e Extraction) int {
	score := confidenceOf(e, 0)
	if e.Vendor.known() {
		score += 10
	}
	if e.Amount.or(0) > 0 {
		score += 10
	}
	if e.InvoiceNumber.known() {
		score += 5
	}
	if e.InvoiceDate.present() {
		score += 5
	}
	if e.DueDate.present() {
		score += 5
	}
	if len(e.Items) > 0 {
		score += 5
	}
	if e.BillFrom.Name.present() {
		score += 5
	}
	return score
}

var criticalExtractionFlags = []string{"missing_vendor", "missing_amount", "unparseable"}

// needsRetry reports whether an extraction looks incomplete for the input
// it came from.
func needsRetry(e Extraction, rawText string) bool {
	hasContent := len(strings.TrimSpace(rawText)) > 20
	hasDigits := strings.ContainsAny(rawText, "0123456789")

	vendorDefault := !e.Vendor.known()
	amountDefault := e.Amount.or(0) == 0

	if confidenceOf(e, 0) < 50 && hasContent {
		return true
	}

	critical := 0
	for _, f := range e.Flags {
		for _, c := range criticalExtractionFlags {
			if strings.Contains(f.Value, c) {
				critical++
				break
			}
		}
	}
	if critical >= 2 && hasContent {
		return true
	}

	if vendorDefault && amountDefault && hasContent {
		return true
	}
	if vendorDefault && hasContent && len(rawText) > 30 {
		return true
	}
	return amountDefault && hasDigits
}

// confidenceOf returns the reported confidence rounded into [0, 100].
func confidenceOf(e Extraction, def float64) int {
	c := e.Confidence.or(def)
	if math.IsNaN(c) {
		c = def
	}
	return clampPercent(int(math.Round(math.Max(-1, math.Min(101, c)))))
}

const (
	flagNegativeClamped = "negative_value_clamped"
	flagQuantityCapped  = "quantity_capped"

	// maxLineQuantity caps extracted line quantities.
	maxLineQuantity = 1_000_000
)

// Normalize applies extraction defaults and produces an InvoiceRecord.
// Negative amounts and quantities are clamped to zero and flagged, as are
// quantities above maxLineQuantity.
func Normalize(e Extraction, input domain.RawInput) domain.InvoiceRecord {
	clamped, capped := false, false
	nonNegative := func(v float64) float64 {
		if v < 0 {
			clamped = true
			return 0
		}
		return v
	}
	quantity := func(v float64) int {
		v = nonNegative(v)
		if v > maxLineQuantity || math.IsNaN(v) {
			capped = true
			return maxLineQuantity
		}
		return int(math.Round(v))
	}

	amount := nonNegative(e.Amount.or(0))
	vendor := e.Vendor.or(domain.UnknownValue)
	billFromName := e.BillFrom.Name.or(vendor)

	rec := domain.InvoiceRecord{
		InvoiceNumber: e.InvoiceNumber.or(domain.UnknownValue),
		InvoiceDate:   e.InvoiceDate.ptr(),
		DueDate:       e.DueDate.ptr(),
		Amount:        amount,
		Subtotal:      nonNegative(e.Subtotal.or(amount)),
		Tax:           nonNegative(e.Tax.or(0)),
		Currency:      strings.ToUpper(e.Currency.or(domain.DefaultCurrency)),
		PaymentTerms:  e.PaymentTerms.ptr(),
		PONumber:      e.PONumber.ptr(),
		Vendor:        vendor,
		BillFrom: domain.ContactInfo{
			Name:    &billFromName,
			Address: e.BillFrom.Address.ptr(),
			Email:   e.BillFrom.Email.ptr(),
			Phone:   e.BillFrom.Phone.ptr(),
		},
		BillTo: domain.ContactInfo{
			Name:    e.BillTo.Name.ptr(),
			Address: e.BillTo.Address.ptr(),
			Entity:  e.BillTo.Entity.ptr(),
		},
		Items:      make([]domain.LineItem, 0, len(e.Items)),
		RawText:    input.Text,
		Confidence: confidenceOf(e, 50),
		Flags:      make([]string, 0, len(e.Flags)+2),
		SourceType: input.SourceType,
	}
	if rec.SourceType == "" {
		rec.SourceType = domain.SourceText
	}
	if input.SourcePath != "" {
		rec.SourcePath = domain.StringPtr(input.SourcePath)
	}

	for _, item := range e.Items {
		label := item.Description.or(item.Name.or("Unknown"))
		rec.Items = append(rec.Items, domain.LineItem{
			SKU:         item.SKU.ptr(),
			Name:        label,
			Description: label,
			Quantity:    quantity(item.Quantity.or(1)),
			UnitPrice:   nonNegative(item.UnitPrice.or(0)),
			Amount:      nonNegative(item.Amount.or(0)),
		})
	}

	for _, f := range e.Flags {
		if f.present() {
			rec.Flags = append(rec.Flags, f.Value)
		}
	}
	if clamped {
		rec.Flags = append(rec.Flags, flagNegativeClamped)
	}
	if capped {
		rec.Flags = append(rec.Flags, flagQuantityCapped)
	}
	return rec
}
