package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/observability"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	ctx, done := p.TrackOperation(context.Background(), "pipeline.process",
		observability.DocumentOperation("t1", "doc-1", "rule_csv_v1")...)
	assert.NotNil(t, ctx)
	done(errors.New("boom"))
	done2 := func() {
		_, finish := p.TrackOperation(ctx, "pipeline.match")
		finish(nil)
	}
	assert.NotPanics(t, done2)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := observability.DefaultConfig()
	assert.Equal(t, "orderflowd", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure, "secure by default")
}

func TestAttributeHelpers(t *testing.T) {
	attrs := observability.ExportOperation("t1", "d1", "sales_order_d1_20260302T100000Z.json")
	require.Len(t, attrs, 3)
	assert.Equal(t, "orderflow.tenant.id", string(attrs[0].Key))
	assert.Equal(t, "t1", attrs[0].Value.AsString())
}
