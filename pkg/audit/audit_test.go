package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/audit"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

func TestWriterRecorderAttributesPrincipal(t *testing.T) {
	var buf bytes.Buffer
	rec := audit.NewWriterRecorder(&buf)

	ctx := tenant.WithPrincipal(context.Background(), tenant.Principal{TenantID: "t1", ActorID: "user-9"})
	err := rec.Record(ctx, audit.ActionApprove, "draft_order/d1",
		map[string]any{"status": "READY"},
		map[string]any{"status": "APPROVED"})
	require.NoError(t, err)

	var entry model.AuditEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "t1", entry.TenantID)
	assert.Equal(t, "user-9", entry.ActorID)
	assert.Equal(t, "approve", entry.Action)
	assert.Equal(t, "READY", entry.Before["status"])
	assert.Equal(t, "APPROVED", entry.After["status"])
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestWriterRecorderSystemActorWithoutPrincipal(t *testing.T) {
	var buf bytes.Buffer
	rec := audit.NewWriterRecorder(&buf)
	require.NoError(t, rec.Record(context.Background(), audit.ActionPush, "draft_order/d1", nil, nil))

	var entry model.AuditEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "system", entry.ActorID)
}
