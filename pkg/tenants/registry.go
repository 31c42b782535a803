package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// slugPattern keeps slugs usable inside email plus-addresses and paths.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// Registry is the SQLite-backed tenant directory. Unlike the per-tenant
// stores it is not scoped by a context principal: resolving a slug to a
// tenant is the step that establishes the principal.
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) (*Registry, error) {
	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		return nil, fmt.Errorf("tenants: migrate: %w", err)
	}
	return r, nil
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS tenants (
		id         TEXT PRIMARY KEY,
		slug       TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	return err
}

// Create registers a tenant. The slug must be lowercase alphanumeric with
// hyphens and is immutable afterwards.
func (r *Registry) Create(ctx context.Context, t *Tenant) error {
	if !slugPattern.MatchString(t.Slug) {
		return fmt.Errorf("tenants: invalid slug %q", t.Slug)
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Slug, t.Name, string(t.Status),
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("tenants: create: %w", err)
	}
	return nil
}

// Update persists name and status. The slug stays as created.
func (r *Registry) Update(ctx context.Context, t *Tenant) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE tenants SET name = ?, status = ?, updated_at = ? WHERE id = ?`,
		t.Name, string(t.Status),
		t.UpdatedAt.Format(time.RFC3339Nano), t.ID)
	if err != nil {
		return fmt.Errorf("tenants: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Get returns the tenant by id, or model.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Tenant, error) {
	return r.one(ctx, `WHERE id = ?`, id)
}

// GetBySlug returns the tenant by slug, or model.ErrNotFound.
func (r *Registry) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return r.one(ctx, `WHERE slug = ?`, slug)
}

// BySlug resolves an inbound address slug to a tenant id. Unknown and
// suspended slugs both report model.ErrTenantUnknown: a suspended tenant
// must look nonexistent to outside senders.
func (r *Registry) BySlug(ctx context.Context, slug string) (string, error) {
	t, err := r.GetBySlug(ctx, slug)
	if errors.Is(err, model.ErrNotFound) {
		return "", model.ErrTenantUnknown
	}
	if err != nil {
		return "", err
	}
	if !t.IsActive() {
		return "", model.ErrTenantUnknown
	}
	return t.ID, nil
}

// SlugOf returns the slug for a tenant id, or the id itself when the
// lookup fails. Used for prompt context and export paths, where a stale
// value is harmless.
func (r *Registry) SlugOf(tenantID string) string {
	t, err := r.Get(context.Background(), tenantID)
	if err != nil {
		return tenantID
	}
	return t.Slug
}

// List returns all tenants, active and suspended.
func (r *Registry) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, name, status, created_at, updated_at FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("tenants: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Registry) one(ctx context.Context, where string, arg any) (*Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, slug, name, status, created_at, updated_at FROM tenants `+where, arg)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	var (
		t       Tenant
		status  string
		created string
		updated string
	)
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &status, &created, &updated); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("tenants: parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("tenants: parse updated_at: %w", err)
	}
	return &t, nil
}
