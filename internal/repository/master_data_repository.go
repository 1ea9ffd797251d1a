package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

// masterDataSchema is portable between SQLite and MySQL. Statements run one
// at a time so the MySQL DSN does not need multiStatements.
var masterDataSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		item       VARCHAR(128) PRIMARY KEY,
		stock      INTEGER NOT NULL,
		unit_price DOUBLE NOT NULL DEFAULT 100.0
	)`,
	`CREATE TABLE IF NOT EXISTS vendors (
		vendor_id         VARCHAR(32) PRIMARY KEY,
		name              VARCHAR(255) NOT NULL,
		aliases           TEXT,
		phone             VARCHAR(64),
		email             VARCHAR(255),
		address           VARCHAR(255),
		city              VARCHAR(128),
		state             VARCHAR(64),
		zip_code          VARCHAR(32),
		country           VARCHAR(64) NOT NULL DEFAULT 'USA',
		currency          VARCHAR(8) NOT NULL DEFAULT 'USD',
		payment_method    VARCHAR(64) NOT NULL DEFAULT 'ACH Transfer',
		payment_terms     VARCHAR(64),
		tax_id            VARCHAR(32),
		compliance_status VARCHAR(32) NOT NULL DEFAULT 'complete',
		contract_status   VARCHAR(32) NOT NULL DEFAULT 'active',
		risk_level        VARCHAR(16) NOT NULL DEFAULT 'low',
		erp_sync_status   VARCHAR(16) NOT NULL DEFAULT 'synced',
		notes             TEXT,
		status            VARCHAR(16) NOT NULL DEFAULT 'active'
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_orders (
		po_number         VARCHAR(32) PRIMARY KEY,
		vendor_id         VARCHAR(32) NOT NULL,
		order_date        VARCHAR(10) NOT NULL,
		expected_delivery VARCHAR(10),
		total_amount      DOUBLE NOT NULL,
		status            VARCHAR(16) NOT NULL DEFAULT 'open',
		line_items        TEXT
	)`,
}

const vendorColumns = `vendor_id, name, aliases, phone, email, address, city, state, zip_code,
	country, currency, payment_method, payment_terms, tax_id, compliance_status,
	contract_status, risk_level, erp_sync_status, notes, status`

// MasterDataRepository reads inventory, the vendor master and purchase orders
// from a database/sql store (SQLite or MySQL).
type MasterDataRepository struct {
	db *sql.DB
}

func NewMasterDataRepository(db *sql.DB) *MasterDataRepository {
	return &MasterDataRepository{db: db}
}

// Migrate creates the master data tables if they do not exist.
func (r *MasterDataRepository) Migrate(ctx context.Context) error {
	for _, stmt := range masterDataSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to migrate master data schema")
		}
	}
	return nil
}

// ── Inventory ────────────────────────────────────────────────────────────────

// StockOf returns the item with the exact name, or nil when there is none.
func (r *MasterDataRepository) StockOf(ctx context.Context, name string) (*domain.InventoryItem, error) {
	item := &domain.InventoryItem{}
	err := r.db.QueryRowContext(ctx,
		`SELECT item, stock, unit_price FROM inventory WHERE item = ?`, name,
	).Scan(&item.Item, &item.Stock, &item.UnitPrice)

	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to check stock")
	}
	return item, nil
}

// AllItems returns the catalog ordered by item name.
func (r *MasterDataRepository) AllItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT item, stock, unit_price FROM inventory ORDER BY item`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to list inventory")
	}
	defer rows.Close()

	items := []domain.InventoryItem{}
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.Item, &item.Stock, &item.UnitPrice); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan inventory item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to list inventory")
	}
	return items, nil
}

// ── Vendors ──────────────────────────────────────────────────────────────────

// Lookup resolves an invoice vendor name: exact name first, then a name
// substring, then aliases. Matching is case-insensitive and inactive vendors
// are skipped. Suspended vendors are returned so validation can block them.
func (r *MasterDataRepository) Lookup(ctx context.Context, nameOrAlias string) (*domain.VendorProfile, error) {
	needle := strings.ToLower(strings.TrimSpace(nameOrAlias))
	if needle == "" {
		return nil, nil
	}

	vendors, err := r.queryVendors(ctx,
		`SELECT `+vendorColumns+` FROM vendors WHERE status <> ? ORDER BY vendor_id`,
		domain.VendorInactive,
	)
	if err != nil {
		return nil, err
	}

	for i := range vendors {
		if strings.ToLower(vendors[i].Name) == needle {
			return &vendors[i], nil
		}
	}
	for i := range vendors {
		if strings.Contains(strings.ToLower(vendors[i].Name), needle) {
			return &vendors[i], nil
		}
	}
	for i := range vendors {
		for _, alias := range vendors[i].Aliases {
			a := strings.ToLower(alias)
			if a == needle || strings.Contains(a, needle) {
				return &vendors[i], nil
			}
		}
	}
	return nil, nil
}

// GetVendor returns a vendor by id, or NOT_FOUND.
func (r *MasterDataRepository) GetVendor(ctx context.Context, vendorID string) (*domain.VendorProfile, error) {
	vendors, err := r.queryVendors(ctx, `SELECT `+vendorColumns+` FROM vendors WHERE vendor_id = ?`, vendorID)
	if err != nil {
		return nil, err
	}
	if len(vendors) == 0 {
		return nil, errors.NotFound("vendor", vendorID)
	}
	return &vendors[0], nil
}

// ListVendors returns every vendor ordered by name.
func (r *MasterDataRepository) ListVendors(ctx context.Context) ([]domain.VendorProfile, error) {
	return r.queryVendors(ctx, `SELECT `+vendorColumns+` FROM vendors ORDER BY name`)
}

// VendorStats counts vendors for the dashboard.
func (r *MasterDataRepository) VendorStats(ctx context.Context) (*domain.VendorStats, error) {
	stats := &domain.VendorStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN compliance_status = 'complete' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN compliance_status <> 'complete' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level = 'high' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN compliance_status = 'incomplete' OR erp_sync_status = 'pending' THEN 1 ELSE 0 END), 0)
		FROM vendors
	`).Scan(
		&stats.TotalVendors,
		&stats.Compliant,
		&stats.NeedsAttention,
		&stats.HighRisk,
		&stats.PendingCompliance,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to count vendors")
	}
	return stats, nil
}

func (r *MasterDataRepository) queryVendors(ctx context.Context, query string, args ...any) ([]domain.VendorProfile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to query vendors")
	}
	defer rows.Close()

	vendors := []domain.VendorProfile{}
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to query vendors")
	}
	return vendors, nil
}

func scanVendor(rows *sql.Rows) (*domain.VendorProfile, error) {
	var v domain.VendorProfile
	var aliases, phone, email, address sql.NullString
	var city, state, zip, terms, taxID, notes sql.NullString
	err := rows.Scan(
		&v.VendorID, &v.Name, &aliases, &phone, &email, &address, &city, &state, &zip,
		&v.Country, &v.Currency, &v.PaymentMethod, &terms, &taxID, &v.ComplianceStatus,
		&v.ContractStatus, &v.RiskLevel, &v.ERPSyncStatus, &notes, &v.Status,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan vendor")
	}

	v.Aliases = []string{}
	if aliases.Valid && aliases.String != "" {
		// Malformed alias lists are treated as empty.
		_ = json.Unmarshal([]byte(aliases.String), &v.Aliases)
	}
	v.Phone = nullable(phone)
	v.Email = nullable(email)
	v.Address = nullable(address)
	v.City = nullable(city)
	v.State = nullable(state)
	v.ZipCode = nullable(zip)
	v.PaymentTerms = nullable(terms)
	v.TaxID = nullable(taxID)
	v.Notes = nullable(notes)
	return &v, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// ── Purchase orders ──────────────────────────────────────────────────────────

const poColumns = `po_number, vendor_id, order_date, expected_delivery, total_amount, status, line_items`

// GetPurchaseOrder returns the PO, or nil when it does not exist.
func (r *MasterDataRepository) GetPurchaseOrder(ctx context.Context, poNumber string) (*domain.PurchaseOrder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE po_number = ?`, poNumber)
	po, err := scanPurchaseOrder(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return po, err
}

// FindMatchingPO returns the newest open PO of the vendor whose total lies
// within amount·(1±tolerance), or nil.
func (r *MasterDataRepository) FindMatchingPO(ctx context.Context, vendorID string, amount, tolerance float64) (*domain.PurchaseOrder, error) {
	a := decimal.NewFromFloat(amount)
	t := decimal.NewFromFloat(tolerance)
	one := decimal.NewFromInt(1)
	low := a.Mul(one.Sub(t)).InexactFloat64()
	high := a.Mul(one.Add(t)).InexactFloat64()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+poColumns+`
		FROM purchase_orders
		WHERE vendor_id = ? AND status = 'open' AND total_amount BETWEEN ? AND ?
		ORDER BY order_date DESC
		LIMIT 1
	`, vendorID, low, high)

	po, err := scanPurchaseOrder(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return po, err
}

func scanPurchaseOrder(row *sql.Row) (*domain.PurchaseOrder, error) {
	var (
		po       domain.PurchaseOrder
		delivery sql.NullString
		lines    sql.NullString
	)
	err := row.Scan(&po.PONumber, &po.VendorID, &po.OrderDate, &delivery, &po.TotalAmount, &po.Status, &lines)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read purchase order")
	}

	po.ExpectedDelivery = delivery.String
	po.LineItems = []domain.PurchaseOrderLine{}
	if lines.Valid && lines.String != "" {
		if err := json.Unmarshal([]byte(lines.String), &po.LineItems); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode purchase order lines")
		}
	}
	return &po, nil
}
