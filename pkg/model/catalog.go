package model

import "time"

// Product is a tenant-scoped catalog item. InternalSKU is unique per tenant.
type Product struct {
	ID             string             `json:"id"`
	TenantID       string             `json:"tenant_id"`
	InternalSKU    string             `json:"internal_sku"`
	Name           string             `json:"name"`
	Description    string             `json:"description,omitempty"`
	BaseUOM        string             `json:"base_uom"`
	UOMConversions map[string]float64 `json:"uom_conversions,omitempty"` // target -> factor to base
	Active         bool               `json:"active"`
	Attributes     map[string]string  `json:"attributes,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ConvertibleTo reports whether the product can be ordered in the given UoM.
func (p *Product) ConvertibleTo(uom string) bool {
	if uom == "" || uom == p.BaseUOM {
		return uom != ""
	}
	_, ok := p.UOMConversions[uom]
	return ok
}

// CustomerPrice is one tiered price row. Lookup picks the row whose tier
// floor is the greatest <= qty and whose validity window covers the date,
// ties broken by most recent validity start.
type CustomerPrice struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	CustomerID  string     `json:"customer_id"`
	InternalSKU string     `json:"internal_sku"`
	Currency    string     `json:"currency"`
	UOM         string     `json:"uom"`
	UnitPrice   float64    `json:"unit_price"`
	MinQty      float64    `json:"min_qty"` // tier floor
	ValidFrom   time.Time  `json:"valid_from"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Covers reports whether the validity window contains the given date.
func (cp *CustomerPrice) Covers(date time.Time) bool {
	if date.Before(cp.ValidFrom) {
		return false
	}
	return cp.ValidUntil == nil || !date.After(*cp.ValidUntil)
}

// SkuMapping is a learned (customer SKU -> internal SKU) association.
// At most one CONFIRMED or SUGGESTED mapping per (tenant, customer,
// normalized SKU).
type SkuMapping struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	CustomerID      string        `json:"customer_id"`
	CustomerSKUNorm string        `json:"customer_sku_norm"`
	InternalSKU     string        `json:"internal_sku"`
	CustomerUOM     string        `json:"customer_uom,omitempty"`
	InternalUOM     string        `json:"internal_uom,omitempty"`
	PackFactor      float64       `json:"pack_factor,omitempty"`
	Status          MappingStatus `json:"status"`
	Confidence      float64       `json:"confidence"`
	SupportCount    int           `json:"support_count"`
	RejectCount     int           `json:"reject_count"`
	LastUsedAt      *time.Time    `json:"last_used_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Customer is a tenant's customer.
type Customer struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Name              string            `json:"name"`
	ERPCustomerNumber string            `json:"erp_customer_number,omitempty"`
	DefaultCurrency   string            `json:"default_currency,omitempty"`
	DefaultLanguage   string            `json:"default_language,omitempty"`
	Addresses         []Address         `json:"addresses,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// CustomerContact is a child of Customer. Email is case-insensitive unique
// per customer.
type CustomerContact struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	CustomerID string    `json:"customer_id"`
	Email      string    `json:"email"` // stored lowercase
	Name       string    `json:"name,omitempty"`
	Primary    bool      `json:"primary"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProductEmbedding is one vector per (tenant, product, embedding model).
// TextHash detects staleness of the embedded text.
type ProductEmbedding struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ProductID string    `json:"product_id"`
	Model     string    `json:"model"`
	TextHash  string    `json:"text_hash"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
