// Package domain holds the invoice lifecycle types and the status transition
// table shared by the pipeline stages, repositories and handlers.
package domain

const (
	// UnknownValue is the extraction default for vendor and invoice number.
	UnknownValue = "UNKNOWN"
	// DefaultCurrency is used when the invoice does not name one.
	DefaultCurrency = "USD"

	SourceText = "text"
	SourcePDF  = "pdf"
)

// RawInput is the text handed to ingestion plus where it came from. Document
// text extraction happens before the pipeline sees it.
type RawInput struct {
	Text       string `json:"text"`
	SourceType string `json:"source_type"`
	SourcePath string `json:"source_path,omitempty"`
}

// ContactInfo is a vendor or customer contact block.
type ContactInfo struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Email   *string `json:"email,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Entity  *string `json:"entity,omitempty"`
}

// LineItem is one invoice line.
type LineItem struct {
	SKU         *string `json:"sku"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Amount      float64 `json:"amount"`
}

// InvoiceRecord is the structured invoice produced by ingestion and
// corrected by validation.
type InvoiceRecord struct {
	InvoiceNumber string  `json:"invoice_number"`
	InvoiceDate   *string `json:"invoice_date"`
	DueDate       *string `json:"due_date"`

	Amount   float64 `json:"amount"`
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Currency string  `json:"currency"`

	PaymentTerms *string `json:"payment_terms"`
	PONumber     *string `json:"po_number"`

	Vendor   string      `json:"vendor"`
	BillFrom ContactInfo `json:"bill_from"`
	BillTo   ContactInfo `json:"bill_to"`

	Items []LineItem `json:"items"`

	RawText    string   `json:"raw_text"`
	Confidence int      `json:"confidence"`
	Flags      []string `json:"flags"`
	SourceType string   `json:"source_type"`
	SourcePath *string  `json:"source_path"`

	VendorID        *string `json:"vendor_id,omitempty"`
	VendorStatus    *string `json:"vendor_status,omitempty"`
	VendorRiskLevel *string `json:"vendor_risk_level,omitempty"`
}

// HasKnownVendor is false for the extraction default and blank names.
func (r *InvoiceRecord) HasKnownVendor() bool {
	return r.Vendor != "" && r.Vendor != UnknownValue
}

// Clone returns a deep copy so stages can correct a record without touching
// the caller's copy.
func (r InvoiceRecord) Clone() InvoiceRecord {
	out := r
	out.InvoiceDate = cloneString(r.InvoiceDate)
	out.DueDate = cloneString(r.DueDate)
	out.PaymentTerms = cloneString(r.PaymentTerms)
	out.PONumber = cloneString(r.PONumber)
	out.SourcePath = cloneString(r.SourcePath)
	out.VendorID = cloneString(r.VendorID)
	out.VendorStatus = cloneString(r.VendorStatus)
	out.VendorRiskLevel = cloneString(r.VendorRiskLevel)
	out.BillFrom = r.BillFrom.clone()
	out.BillTo = r.BillTo.clone()
	if r.Items != nil {
		out.Items = make([]LineItem, len(r.Items))
		for i, item := range r.Items {
			item.SKU = cloneString(item.SKU)
			out.Items[i] = item
		}
	}
	if r.Flags != nil {
		out.Flags = append([]string(nil), r.Flags...)
	}
	return out
}

func (c ContactInfo) clone() ContactInfo {
	return ContactInfo{
		Name:    cloneString(c.Name),
		Address: cloneString(c.Address),
		Email:   cloneString(c.Email),
		Phone:   cloneString(c.Phone),
		Entity:  cloneString(c.Entity),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsBlank is true for nil or whitespace-only strings.
func IsBlank(s *string) bool {
	if s == nil {
		return true
	}
	for _, r := range *s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
