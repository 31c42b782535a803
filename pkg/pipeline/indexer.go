package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/llm"
	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
)

// EmbeddingIndex stores product vectors and their staleness hashes.
type EmbeddingIndex interface {
	Upsert(ctx context.Context, e *model.ProductEmbedding) error
	// TextHash returns the hash of the last embedded text for the product,
	// or model.ErrNotFound.
	TextHash(ctx context.Context, productID string) (string, error)
}

// Indexer keeps the vector index in step with the product catalog.
// Embedding calls are the expensive part, so a product is only re-embedded
// when its canonical text changed since the last run.
type Indexer struct {
	products match.ProductSource
	index    EmbeddingIndex
	embedder llm.Embedder
	log      *slog.Logger
	clock    func() time.Time
}

func NewIndexer(products match.ProductSource, index EmbeddingIndex, embedder llm.Embedder) *Indexer {
	return &Indexer{
		products: products,
		index:    index,
		embedder: embedder,
		log:      slog.Default().With("component", "pipeline.indexer"),
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the indexer clock. Test hook.
func (ix *Indexer) WithClock(clock func() time.Time) *Indexer {
	ix.clock = clock
	return ix
}

// IndexReport summarizes one reindex pass.
type IndexReport struct {
	Total    int
	Embedded int
	Skipped  int
	Failed   int
}

// ReindexProducts embeds every active product whose text changed. A single
// failing product is logged and skipped; the pass continues so one bad row
// cannot starve the rest of the catalog.
func (ix *Indexer) ReindexProducts(ctx context.Context) (*IndexReport, error) {
	products, err := ix.products.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexer: list products: %w", err)
	}

	report := &IndexReport{Total: len(products)}
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		text := match.ProductEmbeddingText(p.InternalSKU, p.Name, p.Description, p.Attributes, p.UOMConversions)
		hash := match.EmbeddingTextHash(text)

		stored, err := ix.index.TextHash(ctx, p.ID)
		switch {
		case err == nil && stored == hash:
			report.Skipped++
			continue
		case err != nil && !errors.Is(err, model.ErrNotFound):
			report.Failed++
			ix.log.WarnContext(ctx, "embedding hash lookup failed", "product_id", p.ID, "error", err)
			continue
		}

		vec, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			report.Failed++
			ix.log.WarnContext(ctx, "product embedding failed", "product_id", p.ID, "error", err)
			continue
		}
		if err := ix.index.Upsert(ctx, &model.ProductEmbedding{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			Model:     ix.embedder.Model(),
			TextHash:  hash,
			Vector:    vec,
			CreatedAt: ix.clock(),
			UpdatedAt: ix.clock(),
		}); err != nil {
			report.Failed++
			ix.log.WarnContext(ctx, "embedding upsert failed", "product_id", p.ID, "error", err)
			continue
		}
		report.Embedded++
	}

	ix.log.InfoContext(ctx, "product reindex finished",
		"total", report.Total, "embedded", report.Embedded,
		"skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}
