package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/store"
)

func seedCatalog(t *testing.T) *store.CatalogStore {
	t.Helper()
	catalog, err := store.NewCatalogStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()

	require.NoError(t, catalog.UpsertCustomer(ctx, &model.Customer{
		ID: "c1", Name: "Muster GmbH", ERPCustomerNumber: "K-100234",
		DefaultCurrency: "EUR", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, catalog.UpsertContact(ctx, &model.CustomerContact{
		ID: "ct1", CustomerID: "c1", Email: "Buyer@Muster.Example", Primary: true,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, catalog.UpsertProduct(ctx, &model.Product{
		ID: "p1", InternalSKU: "INT-999", Name: "Hex bolt M8", BaseUOM: "ST",
		UOMConversions: map[string]float64{"KAR": 100},
		Active:         true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, catalog.UpsertProduct(ctx, &model.Product{
		ID: "p2", InternalSKU: "INT-OLD", Name: "Retired part", BaseUOM: "ST",
		Active: false, CreatedAt: now, UpdatedAt: now,
	}))
	return catalog
}

func TestContactEmailStoredLowercase(t *testing.T) {
	catalog := seedCatalog(t)

	contacts, err := catalog.ListContacts(tenantCtx("t1"))
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "buyer@muster.example", contacts[0].Email)
	assert.True(t, contacts[0].Primary)
}

func TestListActiveExcludesInactive(t *testing.T) {
	catalog := seedCatalog(t)

	products, err := catalog.ListActive(tenantCtx("t1"))
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "INT-999", products[0].InternalSKU)
	assert.True(t, products[0].ConvertibleTo("KAR"))
}

func TestProductBySKUTenantScoped(t *testing.T) {
	catalog := seedCatalog(t)

	p, err := catalog.ProductBySKU(tenantCtx("t1"), "INT-999")
	require.NoError(t, err)
	assert.Equal(t, "Hex bolt M8", p.Name)

	_, err = catalog.ProductBySKU(tenantCtx("t2"), "INT-999")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPriceLookupPicksTierAndWindow(t *testing.T) {
	catalog := seedCatalog(t)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)

	for _, p := range []*model.CustomerPrice{
		{ID: "pr1", CustomerID: "c1", InternalSKU: "INT-999", Currency: "EUR",
			UnitPrice: 10.00, MinQty: 0, ValidFrom: jan, CreatedAt: now, UpdatedAt: now},
		{ID: "pr2", CustomerID: "c1", InternalSKU: "INT-999", Currency: "EUR",
			UnitPrice: 8.50, MinQty: 100, ValidFrom: jan, CreatedAt: now, UpdatedAt: now},
		{ID: "pr3", CustomerID: "c1", InternalSKU: "INT-999", Currency: "EUR",
			UnitPrice: 7.00, MinQty: 100, ValidFrom: jan.AddDate(0, 1, 0), ValidUntil: &until,
			CreatedAt: now, UpdatedAt: now},
	} {
		require.NoError(t, catalog.UpsertPrice(ctx, p))
	}

	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	small, err := catalog.Lookup(ctx, "c1", "INT-999", "EUR", 10, date)
	require.NoError(t, err)
	assert.Equal(t, 10.00, small.UnitPrice, "below the 100 tier the base row applies")

	bulk, err := catalog.Lookup(ctx, "c1", "INT-999", "EUR", 250, date)
	require.NoError(t, err)
	assert.Equal(t, 7.00, bulk.UnitPrice, "ties on tier floor break to the newest validity start")

	after, err := catalog.Lookup(ctx, "c1", "INT-999", "EUR", 250, until.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 8.50, after.UnitPrice, "the expired row no longer wins")

	_, err = catalog.Lookup(ctx, "c1", "INT-999", "USD", 10, date)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
