package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// CatalogStore persists the tenant's customers, contacts, products, and
// price rows. It serves the detector's customer source, the matcher's
// product and price sources, and the validator's catalog lookups.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) (*CatalogStore, error) {
	s := &CatalogStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CatalogStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		erp_customer_number TEXT,
		default_currency TEXT,
		default_language TEXT,
		addresses JSON,
		metadata JSON,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_customers_tenant ON customers (tenant_id);

	CREATE TABLE IF NOT EXISTS customer_contacts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		email TEXT NOT NULL,
		name TEXT,
		is_primary INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (customer_id, email)
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		internal_sku TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		base_uom TEXT NOT NULL,
		uom_conversions JSON,
		active INTEGER NOT NULL DEFAULT 1,
		attributes JSON,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (tenant_id, internal_sku)
	);

	CREATE TABLE IF NOT EXISTS customer_prices (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		internal_sku TEXT NOT NULL,
		currency TEXT NOT NULL,
		uom TEXT,
		unit_price REAL NOT NULL,
		min_qty REAL NOT NULL DEFAULT 0,
		valid_from DATETIME NOT NULL,
		valid_until DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_prices_lookup
		ON customer_prices (tenant_id, customer_id, internal_sku, currency);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *CatalogStore) UpsertCustomer(ctx context.Context, c *model.Customer) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	c.TenantID = tid
	query := `INSERT INTO customers (id, tenant_id, name, erp_customer_number,
		default_currency, default_language, addresses, metadata, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name, erp_customer_number = excluded.erp_customer_number,
		default_currency = excluded.default_currency,
		default_language = excluded.default_language,
		addresses = excluded.addresses, metadata = excluded.metadata,
		updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, tid, c.Name, c.ERPCustomerNumber, c.DefaultCurrency, c.DefaultLanguage,
		asJSON(c.Addresses), asJSON(c.Metadata), ts(c.CreatedAt), ts(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert customer: %w", err)
	}
	return nil
}

func (s *CatalogStore) UpsertContact(ctx context.Context, c *model.CustomerContact) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	c.TenantID = tid
	c.Email = strings.ToLower(c.Email)
	query := `INSERT INTO customer_contacts (id, tenant_id, customer_id, email, name,
		is_primary, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (customer_id, email) DO UPDATE SET
		name = excluded.name, is_primary = excluded.is_primary,
		updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, tid, c.CustomerID, c.Email, c.Name, boolInt(c.Primary),
		ts(c.CreatedAt), ts(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert contact: %w", err)
	}
	return nil
}

func (s *CatalogStore) ListCustomers(ctx context.Context) ([]*model.Customer, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name, erp_customer_number, default_currency,
			default_language, addresses, metadata, created_at, updated_at
		FROM customers WHERE tenant_id = ? ORDER BY name`, tid)
	if err != nil {
		return nil, fmt.Errorf("store: list customers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Customer
	for rows.Next() {
		c := &model.Customer{}
		var addresses, metadata sql.NullString
		var created, updated string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.ERPCustomerNumber,
			&c.DefaultCurrency, &c.DefaultLanguage, &addresses, &metadata,
			&created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan customer: %w", err)
		}
		fromJSON(addresses, &c.Addresses)
		fromJSON(metadata, &c.Metadata)
		c.CreatedAt = parseTS(created)
		c.UpdatedAt = parseTS(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CustomerByID returns one customer, or model.ErrNotFound.
func (s *CatalogStore) CustomerByID(ctx context.Context, id string) (*model.Customer, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, erp_customer_number, default_currency,
			default_language, addresses, metadata, created_at, updated_at
		FROM customers WHERE tenant_id = ? AND id = ?`, tid, id)

	c := &model.Customer{}
	var addresses, metadata sql.NullString
	var created, updated string
	err = row.Scan(&c.ID, &c.TenantID, &c.Name, &c.ERPCustomerNumber,
		&c.DefaultCurrency, &c.DefaultLanguage, &addresses, &metadata,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get customer: %w", err)
	}
	fromJSON(addresses, &c.Addresses)
	fromJSON(metadata, &c.Metadata)
	c.CreatedAt = parseTS(created)
	c.UpdatedAt = parseTS(updated)
	return c, nil
}

func (s *CatalogStore) ListContacts(ctx context.Context) ([]*model.CustomerContact, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, customer_id, email, name, is_primary, created_at, updated_at
		FROM customer_contacts WHERE tenant_id = ? ORDER BY email`, tid)
	if err != nil {
		return nil, fmt.Errorf("store: list contacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.CustomerContact
	for rows.Next() {
		c := &model.CustomerContact{}
		var primary int
		var created, updated string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.Email, &c.Name,
			&primary, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan contact: %w", err)
		}
		c.Primary = primary != 0
		c.CreatedAt = parseTS(created)
		c.UpdatedAt = parseTS(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CatalogStore) UpsertProduct(ctx context.Context, p *model.Product) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	p.TenantID = tid
	query := `INSERT INTO products (id, tenant_id, internal_sku, name, description,
		base_uom, uom_conversions, active, attributes, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id, internal_sku) DO UPDATE SET
		name = excluded.name, description = excluded.description,
		base_uom = excluded.base_uom, uom_conversions = excluded.uom_conversions,
		active = excluded.active, attributes = excluded.attributes,
		updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, tid, p.InternalSKU, p.Name, p.Description, p.BaseUOM,
		asJSON(p.UOMConversions), boolInt(p.Active), asJSON(p.Attributes),
		ts(p.CreatedAt), ts(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert product: %w", err)
	}
	return nil
}

func (s *CatalogStore) ListActive(ctx context.Context) ([]*model.Product, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, productSelect+` WHERE tenant_id = ? AND active = 1 ORDER BY internal_sku`, tid)
	if err != nil {
		return nil, fmt.Errorf("store: list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *CatalogStore) ProductBySKU(ctx context.Context, internalSKU string) (*model.Product, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, productSelect+` WHERE tenant_id = ? AND internal_sku = ?`, tid, internalSKU)
	return scanProduct(row)
}

func (s *CatalogStore) UpsertPrice(ctx context.Context, p *model.CustomerPrice) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	p.TenantID = tid
	query := `INSERT INTO customer_prices (id, tenant_id, customer_id, internal_sku,
		currency, uom, unit_price, min_qty, valid_from, valid_until, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		unit_price = excluded.unit_price, min_qty = excluded.min_qty,
		valid_from = excluded.valid_from, valid_until = excluded.valid_until,
		updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		p.ID, tid, p.CustomerID, p.InternalSKU, p.Currency, p.UOM, p.UnitPrice,
		p.MinQty, ts(p.ValidFrom), tsPtr(p.ValidUntil), ts(p.CreatedAt), ts(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: upsert price: %w", err)
	}
	return nil
}

// Lookup picks the price row whose tier floor is the greatest <= qty and
// whose validity window covers the date, ties broken by most recent
// validity start.
func (s *CatalogStore) Lookup(ctx context.Context, customerID, internalSKU, currency string, qty float64, date time.Time) (*model.CustomerPrice, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, tenant_id, customer_id, internal_sku, currency, uom,
		unit_price, min_qty, valid_from, valid_until, created_at, updated_at
	FROM customer_prices
	WHERE tenant_id = ? AND customer_id = ? AND internal_sku = ? AND currency = ?
		AND min_qty <= ? AND valid_from <= ?
		AND (valid_until IS NULL OR valid_until >= ?)
	ORDER BY min_qty DESC, valid_from DESC
	LIMIT 1`
	when := ts(date)
	row := s.db.QueryRowContext(ctx, query, tid, customerID, internalSKU, currency, qty, when, when)

	p := &model.CustomerPrice{}
	var validFrom string
	var validUntil sql.NullString
	var created, updated string
	err = row.Scan(&p.ID, &p.TenantID, &p.CustomerID, &p.InternalSKU, &p.Currency,
		&p.UOM, &p.UnitPrice, &p.MinQty, &validFrom, &validUntil, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan price: %w", err)
	}
	p.ValidFrom = parseTS(validFrom)
	p.ValidUntil = parseTSPtr(validUntil)
	p.CreatedAt = parseTS(created)
	p.UpdatedAt = parseTS(updated)
	return p, nil
}

const productSelect = `SELECT id, tenant_id, internal_sku, name, description,
	base_uom, uom_conversions, active, attributes, created_at, updated_at
	FROM products`

func scanProduct(row rowScanner) (*model.Product, error) {
	p := &model.Product{}
	var conversions, attributes sql.NullString
	var active int
	var created, updated string
	err := row.Scan(&p.ID, &p.TenantID, &p.InternalSKU, &p.Name, &p.Description,
		&p.BaseUOM, &conversions, &active, &attributes, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan product: %w", err)
	}
	fromJSON(conversions, &p.UOMConversions)
	fromJSON(attributes, &p.Attributes)
	p.Active = active != 0
	p.CreatedAt = parseTS(created)
	p.UpdatedAt = parseTS(updated)
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
