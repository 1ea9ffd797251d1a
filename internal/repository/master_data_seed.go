package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

// SeedInventory is the demo stock catalog.
var SeedInventory = []domain.InventoryItem{
	{Item: "WidgetA", Stock: 15, UnitPrice: 100.0},
	{Item: "WidgetB", Stock: 10, UnitPrice: 150.0},
	{Item: "GadgetX", Stock: 5, UnitPrice: 500.0},
	{Item: "FakeItem", Stock: 0, UnitPrice: 999.0},
}

// SeedVendors is the demo vendor master.
var SeedVendors = []domain.VendorProfile{
	{
		VendorID:         "VND-001",
		Name:             "Widgets Inc.",
		Aliases:          []string{"Widgets", "Widgets Incorporated", "Widgets Inc"},
		Phone:            domain.StringPtr("(555) 123-4567"),
		Email:            domain.StringPtr("ap@widgets-inc.com"),
		Address:          domain.StringPtr("1234 Innovation Drive, Suite 500"),
		City:             domain.StringPtr("San Francisco"),
		State:            domain.StringPtr("CA"),
		ZipCode:          domain.StringPtr("94105"),
		Country:          "USA",
		Currency:         "USD",
		PaymentMethod:    "ACH Transfer",
		PaymentTerms:     domain.StringPtr("Net 30"),
		TaxID:            domain.StringPtr("12-3456789"),
		ComplianceStatus: "complete",
		ContractStatus:   "active",
		RiskLevel:        "low",
		ERPSyncStatus:    "synced",
		Notes:            domain.StringPtr("Preferred vendor for widget products. Established 2015."),
		Status:           domain.VendorActive,
	},
	{
		VendorID:         "VND-002",
		Name:             "Gadgets Co.",
		Aliases:          []string{"Gadgets", "Gadgets Company", "Gadgets Co", "GadgetsCo"},
		Phone:            domain.StringPtr("(555) 987-6543"),
		Email:            domain.StringPtr("billing@gadgets.co"),
		Address:          domain.StringPtr("456 Tech Boulevard"),
		City:             domain.StringPtr("Austin"),
		State:            domain.StringPtr("TX"),
		ZipCode:          domain.StringPtr("78701"),
		Country:          "USA",
		Currency:         "USD",
		PaymentMethod:    "Wire Transfer",
		PaymentTerms:     domain.StringPtr("Net 60"),
		TaxID:            domain.StringPtr("98-7654321"),
		ComplianceStatus: "incomplete",
		ContractStatus:   "active",
		RiskLevel:        "medium",
		ERPSyncStatus:    "pending",
		Notes:            domain.StringPtr("Large orders require VP approval. Review compliance docs."),
		Status:           domain.VendorActive,
	},
	{
		VendorID:         "VND-003",
		Name:             "Fraudster LLC",
		Aliases:          []string{"Fraudster", "Fraud LLC"},
		Email:            domain.StringPtr("unknown@suspicious.biz"),
		Address:          domain.StringPtr("Unknown"),
		City:             domain.StringPtr("Unknown"),
		State:            domain.StringPtr("XX"),
		ZipCode:          domain.StringPtr("00000"),
		Country:          "Unknown",
		Currency:         "USD",
		PaymentMethod:    "Due on receipt",
		PaymentTerms:     domain.StringPtr("Due on receipt"),
		ComplianceStatus: "incomplete",
		ContractStatus:   "suspended",
		RiskLevel:        "high",
		ERPSyncStatus:    "failed",
		Notes:            domain.StringPtr("SUSPENDED: Flagged for suspicious activity. Do not process invoices."),
		Status:           domain.VendorSuspended,
	},
}

// SeedPurchaseOrders are the open POs used for three-way matching.
var SeedPurchaseOrders = []domain.PurchaseOrder{
	{
		PONumber:         "PO-2026-001",
		VendorID:         "VND-001",
		OrderDate:        "2026-01-15",
		ExpectedDelivery: "2026-01-25",
		TotalAmount:      5000.00,
		Status:           "open",
		LineItems: []domain.PurchaseOrderLine{
			{Item: "WidgetA", Quantity: 10, UnitPrice: 100.0},
			{Item: "WidgetB", Quantity: 5, UnitPrice: 150.0},
		},
	},
	{
		PONumber:         "PO-2026-002",
		VendorID:         "VND-002",
		OrderDate:        "2026-01-20",
		ExpectedDelivery: "2026-01-30",
		TotalAmount:      15000.00,
		Status:           "open",
		LineItems: []domain.PurchaseOrderLine{
			{Item: "GadgetX", Quantity: 20, UnitPrice: 500.0},
		},
	},
}

// Seed upserts the demo master data. REPLACE INTO is understood by both
// SQLite and MySQL, so reseeding is idempotent.
func (r *MasterDataRepository) Seed(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to begin seed transaction")
	}
	defer tx.Rollback()

	for _, item := range SeedInventory {
		if _, err := tx.ExecContext(ctx,
			`REPLACE INTO inventory (item, stock, unit_price) VALUES (?, ?, ?)`,
			item.Item, item.Stock, item.UnitPrice,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to seed inventory")
		}
	}

	for _, v := range SeedVendors {
		aliases, err := json.Marshal(v.Aliases)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal vendor aliases")
		}
		if _, err := tx.ExecContext(ctx,
			`REPLACE INTO vendors (`+vendorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.VendorID, v.Name, string(aliases), v.Phone, v.Email, v.Address, v.City, v.State, v.ZipCode,
			v.Country, v.Currency, v.PaymentMethod, v.PaymentTerms, v.TaxID, v.ComplianceStatus,
			v.ContractStatus, v.RiskLevel, v.ERPSyncStatus, v.Notes, v.Status,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to seed vendors")
		}
	}

	for _, po := range SeedPurchaseOrders {
		lines, err := json.Marshal(po.LineItems)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal purchase order lines")
		}
		if _, err := tx.ExecContext(ctx,
			`REPLACE INTO purchase_orders (`+poColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			po.PONumber, po.VendorID, po.OrderDate, po.ExpectedDelivery, po.TotalAmount, po.Status, string(lines),
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to seed purchase orders")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to commit seed data")
	}
	return nil
}
