package store_test

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/store"
)

func TestNearestQueriesTenantScoped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	embeddings := store.NewEmbeddingStore(db, "text-embedding-3-small", 3)

	rows := sqlmock.NewRows([]string{"product_id", "cosine"}).
		AddRow("p1", 0.93).
		AddRow("p2", 0.81)
	mock.ExpectQuery(`SELECT product_id, 1 - \(vector <=> \$1::vector\) AS cosine`).
		WithArgs("[0.5,0.25,-1]", "t1", "text-embedding-3-small", 30).
		WillReturnRows(rows)

	hits, err := embeddings.Nearest(tenantCtx("t1"), []float32{0.5, 0.25, -1}, 30)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "p1", hits[0].ProductID)
	assert.InDelta(t, 0.93, hits[0].Cosine, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNearestRejectsWrongDimension(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	embeddings := store.NewEmbeddingStore(db, "text-embedding-3-small", 3)

	_, err = embeddings.Nearest(tenantCtx("t1"), []float32{1, 2}, 5)
	assert.Error(t, err)
}

func TestUpsertWritesVectorLiteral(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	embeddings := store.NewEmbeddingStore(db, "text-embedding-3-small", 2)

	mock.ExpectExec(`INSERT INTO product_embeddings`).
		WithArgs("e1", "t1", "p1", "text-embedding-3-small", "hash-1", "[1,-0.5]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = embeddings.Upsert(tenantCtx("t1"), &model.ProductEmbedding{
		ID: "e1", ProductID: "p1", Model: "text-embedding-3-small",
		TextHash: "hash-1", Vector: []float32{1, -0.5},
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTextHashMissRowIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	embeddings := store.NewEmbeddingStore(db, "text-embedding-3-small", 2)

	mock.ExpectQuery(`SELECT text_hash FROM product_embeddings`).
		WithArgs("t1", "p1", "text-embedding-3-small").
		WillReturnRows(sqlmock.NewRows([]string{"text_hash"}))

	_, err = embeddings.TextHash(tenantCtx("t1"), "p1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
