package domain

import "strings"

// Vendor status values stored in the vendor master.
const (
	VendorActive    = "active"
	VendorSuspended = "suspended"
	VendorInactive  = "inactive"
)

// VendorProfile is one vendor master record.
type VendorProfile struct {
	VendorID         string   `json:"vendor_id"`
	Name             string   `json:"name"`
	Aliases          []string `json:"aliases"`
	Phone            *string  `json:"phone"`
	Email            *string  `json:"email"`
	Address          *string  `json:"address"`
	City             *string  `json:"city"`
	State            *string  `json:"state"`
	ZipCode          *string  `json:"zip_code"`
	Country          string   `json:"country"`
	Currency         string   `json:"currency"`
	PaymentMethod    string   `json:"payment_method"`
	PaymentTerms     *string  `json:"payment_terms"`
	TaxID            *string  `json:"tax_id"`
	ComplianceStatus string   `json:"compliance_status"`
	ContractStatus   string   `json:"contract_status"`
	RiskLevel        string   `json:"risk_level"`
	ERPSyncStatus    string   `json:"erp_sync_status"`
	Notes            *string  `json:"notes"`
	Status           string   `json:"status"`
}

func (v *VendorProfile) IsSuspended() bool {
	return strings.EqualFold(v.Status, VendorSuspended)
}

func (v *VendorProfile) ComplianceComplete() bool {
	return strings.EqualFold(v.ComplianceStatus, "complete")
}

// FullAddress joins street, city, state and zip into one line.
func (v *VendorProfile) FullAddress() *string {
	if IsBlank(v.Address) {
		return nil
	}
	parts := []string{*v.Address}
	for _, p := range []*string{v.City, v.State, v.ZipCode} {
		if !IsBlank(p) {
			parts = append(parts, *p)
		}
	}
	joined := strings.Join(parts, ", ")
	return &joined
}

// VendorStats summarises the vendor master for dashboards.
type VendorStats struct {
	TotalVendors      int `json:"total_vendors"`
	Compliant         int `json:"compliant"`
	NeedsAttention    int `json:"needs_attention"`
	HighRisk          int `json:"high_risk"`
	PendingCompliance int `json:"pending_compliance"`
}

// InventoryItem is one stock record.
type InventoryItem struct {
	Item      string  `json:"item"`
	Stock     int     `json:"stock"`
	UnitPrice float64 `json:"unit_price"`
}

// PurchaseOrderLine is one ordered item on a purchase order.
type PurchaseOrderLine struct {
	Item      string  `json:"item"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// PurchaseOrder is one purchase order record.
type PurchaseOrder struct {
	PONumber         string              `json:"po_number"`
	VendorID         string              `json:"vendor_id"`
	OrderDate        string              `json:"order_date"`
	ExpectedDelivery string              `json:"expected_delivery"`
	TotalAmount      float64             `json:"total_amount"`
	Status           string              `json:"status"`
	LineItems        []PurchaseOrderLine `json:"line_items"`
}
