package domain

import "time"

// Correction sources.
const (
	SourceVendorMaster  = "vendor_master"
	SourceDateInference = "date_inference"
)

// ItemCheck is the stock check for one line item.
type ItemCheck struct {
	Requested       int    `json:"requested"`
	InStock         int    `json:"in_stock"`
	Available       bool   `json:"available"`
	Variance        int    `json:"variance"`
	MatchedName     string `json:"matched_name,omitempty"`
	MatchConfidence int    `json:"match_confidence"`
}

// Correction records one field changed or backfilled by validation.
type Correction struct {
	Original       *string `json:"original"`
	Corrected      string  `json:"corrected"`
	Reason         string  `json:"reason"`
	Source         string  `json:"source"`
	CalculatedDays int     `json:"calculated_days,omitempty"`
}

// PurchaseOrderMatch links the invoice to a purchase order.
type PurchaseOrderMatch struct {
	PONumber    string  `json:"po_number"`
	VendorID    string  `json:"vendor_id"`
	TotalAmount float64 `json:"total_amount"`
	Matched     string  `json:"matched"` // "referenced" or "amount_tolerance"
	WithinRange bool    `json:"within_range"`
}

// ValidationOutcome is the result of the validation stage.
type ValidationOutcome struct {
	IsValid        bool                  `json:"is_valid"`
	Errors         []string              `json:"errors"`
	Warnings       []string              `json:"warnings"`
	InventoryCheck map[string]ItemCheck  `json:"inventory_check"`
	Corrections    map[string]Correction `json:"corrections"`
	Vendor         *VendorProfile        `json:"vendor,omitempty"`
	PurchaseOrder  *PurchaseOrderMatch   `json:"purchase_order,omitempty"`
	RulesSource    string                `json:"rules_source"` // "oracle" or "deterministic"
}

// Route is the triage outcome.
type Route string

const (
	RouteAutoApprove Route = "auto_approve"
	RouteToHuman     Route = "route_to_human"
	RouteAutoReject  Route = "auto_reject"
)

// ApprovalDecision is the triage result plus any later human decision.
type ApprovalDecision struct {
	Approved         bool       `json:"approved"`
	Reason           string     `json:"reason"`
	RequiresReview   bool       `json:"requires_review"`
	RiskScore        float64    `json:"risk_score"`
	Route            Route      `json:"route"`
	RedFlags         []string   `json:"red_flags"`
	CriticalFlags    []string   `json:"critical_flags"`
	ReasoningChain   []string   `json:"reasoning_chain"`
	ValidationErrors []string   `json:"validation_errors"`
	Narrative        string     `json:"narrative,omitempty"`
	DecidedBy        string     `json:"decided_by"`
	DecidedAt        *time.Time `json:"decided_at"`
}

// PaymentOutcome is the result of the payment stage. Denied separates an
// unapproved invoice from a gateway failure.
type PaymentOutcome struct {
	Success       bool    `json:"success"`
	TransactionID *string `json:"transaction_id"`
	Error         *string `json:"error"`
	Denied        bool    `json:"denied,omitempty"`
}

// RejectionNarrative explains a blocked payment.
type RejectionNarrative struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Details     RejectionDetails `json:"details"`
	Severity    string           `json:"severity"`
}

type RejectionDetails struct {
	PrimaryReason       string   `json:"primary_reason"`
	ContributingFactors []string `json:"contributing_factors"`
	Recommendation      string   `json:"recommendation"`
}
