package feedback_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/feedback"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

type memEvents struct {
	events []*model.FeedbackEvent
}

func (s *memEvents) Insert(_ context.Context, e *model.FeedbackEvent) error {
	s.events = append(s.events, e)
	return nil
}

func (s *memEvents) ListByLayout(_ context.Context, fingerprint, kind string, limit int) ([]*model.FeedbackEvent, error) {
	var out []*model.FeedbackEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		if e.LayoutFingerprint == fingerprint && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

type memMappings struct {
	rows map[string]*model.SkuMapping
}

func (s *memMappings) FindActive(_ context.Context, customerID, skuNorm string) (*model.SkuMapping, error) {
	m, ok := s.rows[customerID+"|"+skuNorm]
	if !ok || (m.Status != model.MappingConfirmed && m.Status != model.MappingSuggested) {
		return nil, model.ErrNotFound
	}
	return m, nil
}

func (s *memMappings) Save(_ context.Context, m *model.SkuMapping) error {
	if s.rows == nil {
		s.rows = map[string]*model.SkuMapping{}
	}
	s.rows[m.CustomerID+"|"+m.CustomerSKUNorm] = m
	return nil
}

func actorCtx() context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{TenantID: "t1", ActorID: "user-9"})
}

func newRecorder() (*memEvents, *memMappings, *feedback.Recorder) {
	events := &memEvents{}
	mappings := &memMappings{rows: map[string]*model.SkuMapping{}}
	rec := feedback.NewRecorder(events, mappings, nil).WithClock(func() time.Time {
		return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	})
	return events, mappings, rec
}

func TestMappingConfirmCreatesConfirmedMapping(t *testing.T) {
	events, mappings, rec := newRecorder()

	err := rec.MappingConfirm(actorCtx(), "d1", "l1", "c1", "AB-12", "INT-999", "fp-1")
	require.NoError(t, err)

	m := mappings.rows["c1|AB12"]
	require.NotNil(t, m, "the raw sku is normalized before upsert")
	assert.Equal(t, model.MappingConfirmed, m.Status)
	assert.Equal(t, "INT-999", m.InternalSKU)
	assert.Equal(t, 1, m.SupportCount)

	require.Len(t, events.events, 1)
	assert.Equal(t, feedback.KindMappingConfirm, events.events[0].Kind)
	assert.Equal(t, "user-9", events.events[0].ActorID)
}

func TestMappingConfirmIncrementsSupport(t *testing.T) {
	_, mappings, rec := newRecorder()

	require.NoError(t, rec.MappingConfirm(actorCtx(), "d1", "l1", "c1", "AB-12", "INT-999", ""))
	require.NoError(t, rec.MappingConfirm(actorCtx(), "d2", "l7", "c1", "ab12", "INT-999", ""))

	assert.Equal(t, 2, mappings.rows["c1|AB12"].SupportCount)
}

func TestMappingConfirmDifferentProductDeprecatesOld(t *testing.T) {
	_, mappings, rec := newRecorder()

	require.NoError(t, rec.MappingConfirm(actorCtx(), "d1", "l1", "c1", "AB-12", "INT-999", ""))
	require.NoError(t, rec.MappingConfirm(actorCtx(), "d2", "l1", "c1", "AB-12", "INT-111", ""))

	m := mappings.rows["c1|AB12"]
	assert.Equal(t, "INT-111", m.InternalSKU)
	assert.Equal(t, model.MappingConfirmed, m.Status)
}

func TestMappingRejectDeprecatesAfterThree(t *testing.T) {
	_, mappings, rec := newRecorder()
	mappings.rows["c1|AB12"] = &model.SkuMapping{
		ID: "m1", CustomerID: "c1", CustomerSKUNorm: "AB12", InternalSKU: "INT-999",
		Status: model.MappingSuggested,
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, rec.MappingReject(actorCtx(), "d1", "l1", "c1", "AB-12", "INT-999", ""))
	}
	assert.Equal(t, model.MappingDeprecated, mappings.rows["c1|AB12"].Status)
	assert.Equal(t, 3, mappings.rows["c1|AB12"].RejectCount)
}

func TestFewShotExamplesFromLayout(t *testing.T) {
	_, _, rec := newRecorder()

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.FieldEdit(actorCtx(), "d1", "l1", "fp-9",
			map[string]any{"qty": i}, map[string]any{"qty": i + 1}))
	}
	require.NoError(t, rec.FieldEdit(actorCtx(), "d1", "l1", "fp-other",
		map[string]any{"qty": 1}, map[string]any{"qty": 2}))

	examples, err := rec.FewShotExamples(actorCtx(), "fp-9", 3)
	require.NoError(t, err)
	assert.Len(t, examples, 3, "only the newest examples for the same layout")
	assert.Contains(t, examples[0].Input, "qty")

	none, err := rec.FewShotExamples(actorCtx(), "", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}
