package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/store"
)

func TestFindSuccessSkipsFailures(t *testing.T) {
	calls, err := store.NewAICallStore(openTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, calls.Insert(ctx, &model.AICallLog{
		ID: "a1", TenantID: "t1", CallType: "pdf_extract_text_v1", InputHash: "h1",
		Succeeded: false, Error: "provider timeout", CreatedAt: now,
	}))
	require.NoError(t, calls.Insert(ctx, &model.AICallLog{
		ID: "a2", TenantID: "t1", CallType: "pdf_extract_text_v1", InputHash: "h1",
		Succeeded: true, Output: `{"order":{}}`, CostMicros: 1200, CreatedAt: now,
	}))

	got, err := calls.FindSuccess(ctx, "t1", "pdf_extract_text_v1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.ID)
	assert.Equal(t, int64(1200), got.CostMicros)

	_, err = calls.FindSuccess(ctx, "t2", "pdf_extract_text_v1", "h1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = calls.FindSuccess(ctx, "t1", "pdf_extract_vision_v1", "h1")
	assert.ErrorIs(t, err, model.ErrNotFound, "the cache is keyed by call type")
}
