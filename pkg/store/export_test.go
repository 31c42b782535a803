package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/push"
	"github.com/orderflow-io/orderflow/pkg/store"
)

func TestExportLookups(t *testing.T) {
	exports, err := store.NewExportStore(openTestDB(t))
	require.NoError(t, err)
	ctx := tenantCtx("t1")

	first := &push.Export{
		ID: "e1", DraftOrderID: "d1", IdempotencyKey: "push-1",
		Filename:  "sales_order_d1_20260302T120000Z.json",
		Payload:   []byte(`{"approved_at":"2026-03-02T12:00:00Z"}`),
		CreatedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, exports.Insert(ctx, first))

	second := &push.Export{
		ID: "e2", DraftOrderID: "d1",
		Filename:  "sales_order_d1_20260302T130000Z.json",
		Payload:   []byte(`{}`),
		CreatedAt: time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC),
	}
	require.NoError(t, exports.Insert(ctx, second))

	byKey, err := exports.FindByKey(ctx, "d1", "push-1")
	require.NoError(t, err)
	assert.Equal(t, "e1", byKey.ID)

	latest, err := exports.FindLatest(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "e2", latest.ID)

	byName, err := exports.FindByFilename(ctx, "sales_order_d1_20260302T120000Z.json")
	require.NoError(t, err)
	assert.Equal(t, "e1", byName.ID)

	_, err = exports.FindByKey(tenantCtx("t2"), "d1", "push-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
