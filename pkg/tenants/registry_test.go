package tenants_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/store"
	"github.com/orderflow-io/orderflow/pkg/tenants"
)

func newRegistry(t *testing.T) *tenants.Registry {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	reg, err := tenants.NewRegistry(db)
	require.NoError(t, err)
	return reg
}

func seedTenant(t *testing.T, reg *tenants.Registry, id, slug string) *tenants.Tenant {
	t.Helper()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tn := &tenants.Tenant{
		ID:        id,
		Slug:      slug,
		Name:      "Musterfirma GmbH",
		Status:    tenants.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, reg.Create(context.Background(), tn))
	return tn
}

func TestRegistryRoundtrip(t *testing.T) {
	reg := newRegistry(t)
	seedTenant(t, reg, "t1", "muster")

	got, err := reg.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "muster", got.Slug)
	assert.Equal(t, "Musterfirma GmbH", got.Name)
	assert.True(t, got.IsActive())
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), got.CreatedAt)

	_, err = reg.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRegistryRejectsBadSlugs(t *testing.T) {
	reg := newRegistry(t)
	for _, slug := range []string{"", "A", "Muster", "mu ster", "-muster", "x"} {
		err := reg.Create(context.Background(), &tenants.Tenant{ID: "t1", Slug: slug, Name: "x"})
		assert.Error(t, err, slug)
	}
}

func TestRegistrySlugMustBeUnique(t *testing.T) {
	reg := newRegistry(t)
	seedTenant(t, reg, "t1", "muster")

	err := reg.Create(context.Background(), &tenants.Tenant{ID: "t2", Slug: "muster", Name: "Other"})
	assert.Error(t, err)
}

func TestBySlugResolvesOnlyActiveTenants(t *testing.T) {
	reg := newRegistry(t)
	tn := seedTenant(t, reg, "t1", "muster")

	id, err := reg.BySlug(context.Background(), "muster")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	_, err = reg.BySlug(context.Background(), "unknown")
	assert.ErrorIs(t, err, model.ErrTenantUnknown)

	tn.Status = tenants.StatusSuspended
	require.NoError(t, reg.Update(context.Background(), tn))
	_, err = reg.BySlug(context.Background(), "muster")
	assert.ErrorIs(t, err, model.ErrTenantUnknown, "a suspended tenant looks nonexistent to senders")
}

func TestSlugOfFallsBackToID(t *testing.T) {
	reg := newRegistry(t)
	seedTenant(t, reg, "t1", "muster")

	assert.Equal(t, "muster", reg.SlugOf("t1"))
	assert.Equal(t, "t9", reg.SlugOf("t9"))
}
