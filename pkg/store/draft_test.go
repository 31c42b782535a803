package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/store"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tenantCtx(tenantID string) context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{TenantID: tenantID, ActorID: "u1"})
}

func sampleDraft(id string) *model.DraftOrder {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	return &model.DraftOrder{
		ID:               id,
		SourceDocumentID: "doc-1",
		CustomerID:       "c1",
		Currency:         "EUR",
		Status:           model.DraftExtracted,
		ShipTo:           &model.Address{City: "Hamburg", Country: "DE"},
		TopCandidates: []model.CustomerCandidate{
			{CustomerID: "c1", CustomerName: "Muster GmbH", Score: 0.95},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestDraftRoundTrip(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))

	got, err := drafts.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, model.DraftExtracted, got.Status)
	assert.Equal(t, "Hamburg", got.ShipTo.City)
	require.Len(t, got.TopCandidates, 1)
	assert.Equal(t, 0.95, got.TopCandidates[0].Score)
	assert.Equal(t, int64(1), got.Version)
}

func TestDraftTenantIsolation(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, drafts.Insert(tenantCtx("t1"), sampleDraft("d1")))

	_, err = drafts.Get(tenantCtx("t2"), "d1")
	assert.ErrorIs(t, err, model.ErrNotFound, "another tenant's draft reads as absent")
}

func TestGetBySourceDocumentSkipsRejected(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")

	_, err = drafts.GetBySourceDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))

	got, err := drafts.GetBySourceDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)

	got.Status = model.DraftRejected
	require.NoError(t, drafts.Update(ctx, got))

	_, err = drafts.GetBySourceDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, model.ErrNotFound, "a rejected draft no longer claims the document")

	_, err = drafts.GetBySourceDocument(tenantCtx("t2"), "doc-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDraftUpdateBumpsVersion(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))
	d, err := drafts.Get(ctx, "d1")
	require.NoError(t, err)

	d.Status = model.DraftNeedsReview
	require.NoError(t, drafts.Update(ctx, d))
	assert.Equal(t, int64(2), d.Version)

	got, err := drafts.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DraftNeedsReview, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestDraftUpdateConflictOnStaleVersion(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))
	first, err := drafts.Get(ctx, "d1")
	require.NoError(t, err)
	second, err := drafts.Get(ctx, "d1")
	require.NoError(t, err)

	first.Notes = "writer one"
	require.NoError(t, drafts.Update(ctx, first))

	second.Notes = "writer two"
	err = drafts.Update(ctx, second)
	assert.ErrorIs(t, err, model.ErrOptimisticConflict)
}

func TestDraftUpdateMissingDraft(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)

	ghost := sampleDraft("ghost")
	ghost.Version = 1
	err = drafts.Update(tenantCtx("t1"), ghost)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLinesOrderedByLineNo(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()
	qty := 5.0

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))
	for _, no := range []int{3, 1, 2} {
		require.NoError(t, drafts.InsertLine(ctx, &model.DraftOrderLine{
			ID: "l" + string(rune('0'+no)), DraftOrderID: "d1", LineNo: no,
			CustomerSKURaw: "AB-12", Qty: &qty, UOM: "ST",
			MatchStatus: model.MatchUnmatched,
			CreatedAt:   now, UpdatedAt: now,
		}))
	}

	lines, err := drafts.ListLines(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{lines[0].LineNo, lines[1].LineNo, lines[2].LineNo})
	require.NotNil(t, lines[0].Qty)
	assert.Equal(t, 5.0, *lines[0].Qty)
}

func TestLineUpdateConflict(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))
	line := &model.DraftOrderLine{
		ID: "l1", DraftOrderID: "d1", LineNo: 1,
		MatchStatus: model.MatchUnmatched, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, drafts.InsertLine(ctx, line))

	line.InternalSKU = "INT-999"
	line.MatchStatus = model.MatchMatched
	require.NoError(t, drafts.UpdateLine(ctx, line))

	stale := &model.DraftOrderLine{ID: "l1", DraftOrderID: "d1", LineNo: 1, Version: 1}
	err = drafts.UpdateLine(ctx, stale)
	assert.ErrorIs(t, err, model.ErrOptimisticConflict)
}

func TestIssueUpsertByID(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))
	issue := &model.ValidationIssue{
		ID: "i1", DraftOrderID: "d1", Type: model.IssueMissingQty,
		Severity: model.SeverityError, Status: model.IssueOpen,
		Message: "line 1: quantity missing", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, drafts.SaveIssue(ctx, issue))

	issue.Status = model.IssueResolved
	require.NoError(t, drafts.SaveIssue(ctx, issue))

	issues, err := drafts.ListIssues(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, model.IssueResolved, issues[0].Status)
}

func TestCandidatesReplacedAtomically(t *testing.T) {
	drafts, err := store.NewDraftStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()

	require.NoError(t, drafts.Insert(ctx, sampleDraft("d1")))
	first := []*model.CustomerDetectionCandidate{
		{ID: "cd1", CustomerID: "c1", Score: 0.95, Status: model.CandidateSelected,
			Signals: map[string]float64{"email_exact": 0.95}, CreatedAt: now, UpdatedAt: now},
		{ID: "cd2", CustomerID: "c2", Score: 0.40, Status: model.CandidateOpen,
			CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, drafts.SaveCandidates(ctx, "d1", first))

	second := []*model.CustomerDetectionCandidate{
		{ID: "cd3", CustomerID: "c3", Score: 0.75, Status: model.CandidateOpen,
			CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, drafts.SaveCandidates(ctx, "d1", second))

	got, err := drafts.ListCandidates(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c3", got[0].CustomerID)
}
