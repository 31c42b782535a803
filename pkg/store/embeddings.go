package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
)

// EmbeddingStore keeps product vectors in Postgres with the pgvector
// extension and serves nearest-neighbor queries for the matcher. The
// rest of the data lives in SQLite; vectors are the one concern that
// needs an ANN-capable backend.
type EmbeddingStore struct {
	db        *sql.DB
	modelName string
	dim       int
}

// OpenEmbeddings connects to Postgres and prepares the vector table.
func OpenEmbeddings(dsn, modelName string, dim int) (*EmbeddingStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	s := &EmbeddingStore{db: db, modelName: modelName, dim: dim}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewEmbeddingStore wraps an existing connection. Test hook.
func NewEmbeddingStore(db *sql.DB, modelName string, dim int) *EmbeddingStore {
	return &EmbeddingStore{db: db, modelName: modelName, dim: dim}
}

// Close releases the Postgres connection pool.
func (s *EmbeddingStore) Close() error {
	return s.db.Close()
}

func (s *EmbeddingStore) migrate() error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;
	CREATE TABLE IF NOT EXISTS product_embeddings (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		model TEXT NOT NULL,
		text_hash TEXT NOT NULL,
		vector vector(%d) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, product_id, model)
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_ann
		ON product_embeddings USING hnsw (vector vector_cosine_ops);`, s.dim)
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("store: migrate embeddings: %w", err)
	}
	return nil
}

// Upsert stores the vector for a product. The text hash records what was
// embedded so re-embedding only happens when the product text changes.
func (s *EmbeddingStore) Upsert(ctx context.Context, e *model.ProductEmbedding) error {
	tid, err := tenantID(ctx)
	if err != nil {
		return err
	}
	if len(e.Vector) != s.dim {
		return fmt.Errorf("store: embedding dimension %d, want %d", len(e.Vector), s.dim)
	}
	e.TenantID = tid
	query := `INSERT INTO product_embeddings (id, tenant_id, product_id, model,
		text_hash, vector, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6::vector, now(), now())
	ON CONFLICT (tenant_id, product_id, model) DO UPDATE SET
		text_hash = excluded.text_hash, vector = excluded.vector,
		updated_at = now()`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, tid, e.ProductID, e.Model, e.TextHash, vectorLiteral(e.Vector))
	if err != nil {
		return fmt.Errorf("store: upsert embedding: %w", err)
	}
	return nil
}

// TextHash returns the stored hash for a product, or model.ErrNotFound.
func (s *EmbeddingStore) TextHash(ctx context.Context, productID string) (string, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return "", err
	}
	var hash string
	err = s.db.QueryRowContext(ctx,
		`SELECT text_hash FROM product_embeddings
		WHERE tenant_id = $1 AND product_id = $2 AND model = $3`,
		tid, productID, s.modelName).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", model.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: embedding hash: %w", err)
	}
	return hash, nil
}

// Nearest returns the k closest products by cosine distance, scoped to
// the context tenant.
func (s *EmbeddingStore) Nearest(ctx context.Context, vector []float32, k int) ([]match.EmbeddingHit, error) {
	tid, err := tenantID(ctx)
	if err != nil {
		return nil, err
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("store: query dimension %d, want %d", len(vector), s.dim)
	}
	query := `SELECT product_id, 1 - (vector <=> $1::vector) AS cosine
	FROM product_embeddings
	WHERE tenant_id = $2 AND model = $3
	ORDER BY vector <=> $1::vector
	LIMIT $4`
	rows, err := s.db.QueryContext(ctx, query, vectorLiteral(vector), tid, s.modelName, k)
	if err != nil {
		return nil, fmt.Errorf("store: nearest: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []match.EmbeddingHit
	for rows.Next() {
		var hit match.EmbeddingHit
		if err := rows.Scan(&hit.ProductID, &hit.Cosine); err != nil {
			return nil, fmt.Errorf("store: scan hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// vectorLiteral renders the pgvector input syntax: [x,y,z].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
