package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/store"
)

func sampleMessage(id, providerID string) *model.InboundMessage {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return &model.InboundMessage{
		ID:                id,
		Source:            model.SourceEmail,
		ProviderMessageID: providerID,
		SenderAddress:     "buyer@muster.example",
		ReceivedAt:        now,
		RawStorageKey:     "t1/raw/abc",
		Status:            model.InboundReceived,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestInsertMessageDedupsOnProviderID(t *testing.T) {
	inbound, err := store.NewInboundStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")

	dup, err := inbound.InsertMessage(ctx, sampleMessage("m1", "<abc@mail>"))
	require.NoError(t, err)
	assert.False(t, dup)

	replay := sampleMessage("m2", "<abc@mail>")
	dup, err = inbound.InsertMessage(ctx, replay)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "m1", replay.ID, "the stored message wins")
}

func TestMessageDedupIsPerTenant(t *testing.T) {
	inbound, err := store.NewInboundStore(openTestDB(t))
	require.NoError(t, err)

	dup, err := inbound.InsertMessage(tenantCtx("t1"), sampleMessage("m1", "<abc@mail>"))
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = inbound.InsertMessage(tenantCtx("t2"), sampleMessage("m2", "<abc@mail>"))
	require.NoError(t, err)
	assert.False(t, dup, "same message id in another tenant is a distinct arrival")
}

func TestDocumentDedupOnContentNameSize(t *testing.T) {
	inbound, err := store.NewInboundStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()

	doc := &model.Document{
		ID: "doc1", Filename: "order.pdf", MediaType: "application/pdf",
		SizeBytes: 1234, SHA256: "aa11", RawStorageKey: "t1/documents/aa11",
		Status: model.DocumentStored, CreatedAt: now, UpdatedAt: now,
	}
	dup, err := inbound.InsertDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, dup)

	again := &model.Document{
		ID: "doc2", Filename: "order.pdf", SizeBytes: 1234, SHA256: "aa11",
		Status: model.DocumentStored, CreatedAt: now, UpdatedAt: now,
	}
	dup, err = inbound.InsertDocument(ctx, again)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "doc1", again.ID)

	renamed := &model.Document{
		ID: "doc3", Filename: "order_v2.pdf", SizeBytes: 1234, SHA256: "aa11",
		Status: model.DocumentStored, CreatedAt: now, UpdatedAt: now,
	}
	dup, err = inbound.InsertDocument(ctx, renamed)
	require.NoError(t, err)
	assert.False(t, dup, "same bytes under a new name is a new document")
}

func TestSoftDeleteKeepsRow(t *testing.T) {
	inbound, err := store.NewInboundStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()

	doc := &model.Document{
		ID: "doc1", Filename: "order.pdf", SizeBytes: 10, SHA256: "bb22",
		Status: model.DocumentExtracted, CreatedAt: now, UpdatedAt: now,
	}
	_, err = inbound.InsertDocument(ctx, doc)
	require.NoError(t, err)

	require.NoError(t, inbound.SoftDeleteDocument(ctx, "doc1"))

	got, err := inbound.GetDocument(ctx, "doc1")
	require.NoError(t, err, "soft-deleted documents stay readable")
	assert.True(t, got.SoftDeleted())

	err = inbound.SoftDeleteDocument(ctx, "doc1")
	assert.ErrorIs(t, err, model.ErrNotFound, "second delete finds nothing to mark")
}

func TestExtractionRunLifecycle(t *testing.T) {
	inbound, err := store.NewInboundStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")
	now := time.Now().UTC()

	run := &model.ExtractionRun{
		ID: "r1", DocumentID: "doc1", Extractor: "rule_v1",
		Status: model.RunPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, inbound.InsertRun(ctx, run))

	started := now.Add(time.Second)
	finished := started.Add(2 * time.Second)
	run.Status = model.RunSucceeded
	run.StartedAt = &started
	run.FinishedAt = &finished
	run.DurationMS = 2000
	run.Output = []byte(`{"lines":[]}`)
	require.NoError(t, inbound.UpdateRun(ctx, run))

	runs, err := inbound.ListRuns(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunSucceeded, runs[0].Status)
	assert.Equal(t, int64(2000), runs[0].DurationMS)
	require.NotNil(t, runs[0].FinishedAt)
	assert.JSONEq(t, `{"lines":[]}`, string(runs[0].Output))
}
