package pipeline_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/ailog"
	"github.com/orderflow-io/orderflow/pkg/detect"
	"github.com/orderflow-io/orderflow/pkg/draft"
	"github.com/orderflow-io/orderflow/pkg/llm"
	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/objectstore"
	"github.com/orderflow-io/orderflow/pkg/pipeline"
	"github.com/orderflow-io/orderflow/pkg/store"
	"github.com/orderflow-io/orderflow/pkg/tenant"
	"github.com/orderflow-io/orderflow/pkg/validate"
)

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func pipelineCtx() context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{TenantID: "t1", ActorID: "system"})
}

// neverProvider fails the test when the pipeline dispatches an LLM call
// for a document that rule extraction fully covers.
type neverProvider struct{ t *testing.T }

func (p *neverProvider) ExtractText(context.Context, string, llm.PromptContext) (*llm.Result, error) {
	p.t.Error("unexpected text extraction call")
	return nil, nil
}

func (p *neverProvider) ExtractVision(context.Context, [][]byte, llm.PromptContext) (*llm.Result, error) {
	p.t.Error("unexpected vision extraction call")
	return nil, nil
}

func (p *neverProvider) RepairJSON(context.Context, string, string, llm.PromptContext) (*llm.Result, error) {
	p.t.Error("unexpected repair call")
	return nil, nil
}

type noFewShot struct{}

func (noFewShot) FewShotExamples(context.Context, string, int) ([]llm.FewShotExample, error) {
	return nil, nil
}

type fixture struct {
	inbound *store.InboundStore
	drafts  *store.DraftStore
	catalog *store.CatalogStore
	objects *objectstore.MemoryStore
	pipe    *pipeline.Pipeline
	learn   *captureLearning
}

func newFixture(t *testing.T, draftRepo func(*store.DraftStore) pipeline.DraftRepository) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	inbound, err := store.NewInboundStore(db)
	require.NoError(t, err)
	drafts, err := store.NewDraftStore(db)
	require.NoError(t, err)
	catalog, err := store.NewCatalogStore(db)
	require.NoError(t, err)
	mappings, err := store.NewMappingStore(db)
	require.NoError(t, err)
	aiCalls, err := store.NewAICallStore(db)
	require.NoError(t, err)

	var repo pipeline.DraftRepository = drafts
	if draftRepo != nil {
		repo = draftRepo(drafts)
	}

	objects := objectstore.NewMemoryStore()
	learn := &captureLearning{}
	engine := draft.NewEngine(repo, nil).WithClock(func() time.Time { return fixedNow })
	ledger := ailog.NewLedger(aiCalls, ailog.NewMemoryBudget(), ailog.NewTenantLimiter(10, 10)).
		WithClock(func() time.Time { return fixedNow })

	pipe := pipeline.New(pipeline.Deps{
		Documents: inbound,
		Drafts:    repo,
		Objects:   objects,
		Engine:    engine,
		Detector:  detect.NewDetector(catalog, 0.90, 0.10),
		Matcher: match.NewMatcher(mappings, catalog, nil, catalog, nil, match.Thresholds{
			AutoApply:      0.92,
			AutoApplyGap:   0.10,
			LowConfidence:  0.75,
			PriceTolerance: 0.05,
		}),
		Validator: validate.NewValidator(catalog, catalog, validate.DefaultPolicy()),
		Provider:  &neverProvider{t: t},
		Ledger:    ledger,
		FewShot:   noFewShot{},
		Learning:  learn,
		Config:    pipeline.DefaultConfig(),
	}).WithClock(func() time.Time { return fixedNow })

	ctx := pipelineCtx()
	require.NoError(t, catalog.UpsertCustomer(ctx, &model.Customer{
		ID: "c1", Name: "Müller GmbH", ERPCustomerNumber: "100234", DefaultCurrency: "EUR",
	}))
	require.NoError(t, catalog.UpsertContact(ctx, &model.CustomerContact{
		ID: "ct1", CustomerID: "c1", Email: "buyer@mueller.example", Primary: true,
	}))
	require.NoError(t, catalog.UpsertCustomer(ctx, &model.Customer{
		ID: "c2", Name: "Schmidt AG",
	}))
	require.NoError(t, catalog.UpsertProduct(ctx, &model.Product{
		ID: "p1", InternalSKU: "HX-100", Name: "Hex bolt M8", BaseUOM: "ST", Active: true,
	}))
	require.NoError(t, catalog.UpsertProduct(ctx, &model.Product{
		ID: "p2", InternalSKU: "NT-200", Name: "Nut M8", BaseUOM: "ST", Active: true,
	}))
	require.NoError(t, mappings.Save(ctx, &model.SkuMapping{
		ID:              uuid.NewString(),
		CustomerID:      "c1",
		CustomerSKUNorm: match.NormalizeCustomerSKU("AB-12"),
		InternalSKU:     "HX-100",
		Status:          model.MappingConfirmed,
		Confidence:      0.99,
	}))

	return &fixture{inbound: inbound, drafts: drafts, catalog: catalog, objects: objects, pipe: pipe, learn: learn}
}

// seedCSVDocument stores a CSV order attributed to the contact's email.
func (f *fixture) seedCSVDocument(t *testing.T, content []byte) *model.Document {
	t.Helper()
	ctx := pipelineCtx()

	msg := &model.InboundMessage{
		ID:                uuid.NewString(),
		Source:            model.SourceEmail,
		ProviderMessageID: "<po-" + uuid.NewString() + "@mueller.example>",
		SenderAddress:     "buyer@mueller.example",
		ReceivedAt:        fixedNow,
		RawStorageKey:     objectstore.RawMessageKey("t1", "deadbeef"),
		Status:            model.InboundParsed,
		CreatedAt:         fixedNow,
		UpdatedAt:         fixedNow,
	}
	dup, err := f.inbound.InsertMessage(ctx, msg)
	require.NoError(t, err)
	require.False(t, dup)

	sum := sha256.Sum256(content)
	shaHex := hex.EncodeToString(sum[:])
	key := objectstore.DocumentKey("t1", shaHex)
	require.NoError(t, f.objects.Put(ctx, key, content))

	doc := &model.Document{
		ID:               uuid.NewString(),
		InboundMessageID: msg.ID,
		Filename:         "order.csv",
		MediaType:        "text/csv",
		SizeBytes:        int64(len(content)),
		SHA256:           shaHex,
		RawStorageKey:    key,
		Status:           model.DocumentStored,
		CreatedAt:        fixedNow,
		UpdatedAt:        fixedNow,
	}
	dup, err = f.inbound.InsertDocument(ctx, doc)
	require.NoError(t, err)
	require.False(t, dup)
	return doc
}

func TestProcessCSVEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := pipelineCtx()
	doc := f.seedCSVDocument(t, []byte(
		"sku;description;qty;unit\n"+
			"AB-12;Hex bolt M8;5;pcs\n"+
			"XX-99;Brass fitting 1/2;3;pcs\n"))

	require.NoError(t, f.pipe.Process(ctx, pipeline.Job{DocumentID: doc.ID}))

	got, err := f.inbound.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentExtracted, got.Status)
	assert.NotEmpty(t, got.LayoutFingerprint)

	runs, err := f.inbound.ListRuns(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1, "csv needs no llm run")
	assert.Equal(t, "rule_csv_v1", runs[0].Extractor)
	assert.Equal(t, model.RunSucceeded, runs[0].Status)
	assert.NotEmpty(t, runs[0].Output)

	revs, err := f.drafts.ListByStatus(ctx, model.DraftNeedsReview, 10)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	d := revs[0]

	assert.Equal(t, "c1", d.CustomerID, "exact contact email auto-selects the customer")
	assert.InDelta(t, 0.95, d.CustomerConfidence, 1e-9)
	assert.Greater(t, d.ExtractionConfidence, 0.9)
	assert.Greater(t, d.ConfidenceScore, 0.0)
	require.NotNil(t, d.Ready)
	assert.False(t, d.Ready.IsReady)
	assert.Contains(t, d.Ready.BlockingReasons, "currency not set")

	lines, err := f.drafts.ListLines(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, "HX-100", lines[0].InternalSKU, "confirmed mapping wins")
	assert.Equal(t, model.MatchSuggested, lines[0].MatchStatus)
	assert.Equal(t, "ST", lines[0].UOM)
	assert.GreaterOrEqual(t, lines[0].MatchConfidence, 0.92)

	assert.Empty(t, lines[1].InternalSKU)
	assert.Equal(t, model.MatchUnmatched, lines[1].MatchStatus)

	cands, err := f.drafts.ListCandidates(ctx, d.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	for _, c := range cands {
		if c.CustomerID == "c1" {
			assert.Equal(t, model.CandidateSelected, c.Status)
		} else {
			assert.Equal(t, model.CandidateOpen, c.Status)
		}
	}
}

func TestProcessUnsupportedMediaTypeFailsDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := pipelineCtx()

	content := []byte("PK\x03\x04")
	sum := sha256.Sum256(content)
	key := objectstore.DocumentKey("t1", hex.EncodeToString(sum[:]))
	require.NoError(t, f.objects.Put(ctx, key, content))
	doc := &model.Document{
		ID:            uuid.NewString(),
		Filename:      "archive.zip",
		MediaType:     "application/zip",
		SizeBytes:     int64(len(content)),
		SHA256:        hex.EncodeToString(sum[:]),
		RawStorageKey: key,
		Status:        model.DocumentStored,
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
	_, err := f.inbound.InsertDocument(ctx, doc)
	require.NoError(t, err)

	err = f.pipe.Process(ctx, pipeline.Job{DocumentID: doc.ID})
	assert.ErrorIs(t, err, model.ErrInputRejected)

	got, err := f.inbound.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentFailed, got.Status)
}

func TestProcessSkipsSoftDeletedDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := pipelineCtx()
	doc := f.seedCSVDocument(t, []byte("sku;qty\nAB-12;5\n"))

	require.NoError(t, f.inbound.SoftDeleteDocument(ctx, doc.ID))
	require.NoError(t, f.pipe.Process(ctx, pipeline.Job{DocumentID: doc.ID}))

	drafts, err := f.drafts.ListByStatus(ctx, model.DraftNeedsReview, 10)
	require.NoError(t, err)
	assert.Empty(t, drafts, "deleted documents produce no draft")
}

// rejectingRepo simulates a reviewer rejecting the draft while the worker
// is still between detection and matching. The second draft update is the
// detection result; the rejection lands right after it.
type rejectingRepo struct {
	*store.DraftStore
	updates int
}

func (r *rejectingRepo) Update(ctx context.Context, d *model.DraftOrder) error {
	if err := r.DraftStore.Update(ctx, d); err != nil {
		return err
	}
	r.updates++
	if r.updates == 2 {
		cur, err := r.DraftStore.Get(ctx, d.ID)
		if err != nil {
			return err
		}
		cur.Status = model.DraftRejected
		if err := r.DraftStore.Update(ctx, cur); err != nil {
			return err
		}
		d.Version = cur.Version
	}
	return nil
}

func TestProcessDropsResultsAfterRejection(t *testing.T) {
	var repo *rejectingRepo
	f := newFixture(t, func(s *store.DraftStore) pipeline.DraftRepository {
		repo = &rejectingRepo{DraftStore: s}
		return repo
	})
	ctx := pipelineCtx()
	doc := f.seedCSVDocument(t, []byte("sku;description;qty;unit\nAB-12;Hex bolt M8;5;pcs\n"))

	require.NoError(t, f.pipe.Process(ctx, pipeline.Job{DocumentID: doc.ID}))
	require.Equal(t, 2, repo.updates, "processing stops at the rejection")

	rejected, err := f.drafts.ListByStatus(ctx, model.DraftRejected, 10)
	require.NoError(t, err)
	require.Len(t, rejected, 1)

	lines, err := f.drafts.ListLines(ctx, rejected[0].ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, model.MatchUnmatched, lines[0].MatchStatus, "match results are dropped, not applied")
	assert.Empty(t, lines[0].InternalSKU)
}

func TestLayoutFingerprintIgnoresDigits(t *testing.T) {
	a := pipeline.LayoutFingerprint("application/pdf", "Bestellung Nr. 4711\nPos 1  AB-12  5 ST")
	b := pipeline.LayoutFingerprint("application/pdf", "Bestellung Nr. 9934\nPos 2  AB-77  12 ST")
	c := pipeline.LayoutFingerprint("application/pdf", "Rechnung Nr. 4711\nPos 1  AB-12  5 ST")

	assert.Equal(t, a, b, "orders off the same form differ only in digits")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, pipeline.LayoutFingerprint("text/csv", "Bestellung Nr. 4711\nPos 1  AB-12  5 ST"))
	assert.Len(t, a, 16)
}
