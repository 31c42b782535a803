package intake_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/intake"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/objectstore"
)

type memResolver struct {
	slugs map[string]string
}

func (r *memResolver) BySlug(_ context.Context, slug string) (string, error) {
	tid, ok := r.slugs[slug]
	if !ok {
		return "", model.ErrTenantUnknown
	}
	return tid, nil
}

func newSession(t *testing.T) (smtp.Session, *memRepo, *memQueue) {
	t.Helper()
	repo, _, queue, svc := newService()
	backend := intake.NewBackend(svc, &memResolver{slugs: map[string]string{"muster": "t1"}})
	session, err := backend.NewSession(nil)
	require.NoError(t, err)
	return session, repo, queue
}

func TestSessionAcceptsKnownTenant(t *testing.T) {
	session, repo, queue := newSession(t)

	require.NoError(t, session.Mail("buyer@muster.example", nil))
	require.NoError(t, session.Rcpt("orders+muster@intake.example", nil))
	require.NoError(t, session.Data(bytes.NewReader(sampleEmail("<po-1@x>"))))

	assert.Len(t, repo.messages, 1)
	assert.Len(t, queue.enqueued, 1)
}

func TestSessionRejectsUnknownSlug(t *testing.T) {
	session, _, _ := newSession(t)

	err := session.Rcpt("orders+nobody@intake.example", nil)
	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 550, smtpErr.Code)
}

func TestSessionRejectsUnshapedRecipient(t *testing.T) {
	session, _, _ := newSession(t)

	for _, rcpt := range []string{"orders@intake.example", "sales+muster@intake.example", "orders+@intake.example"} {
		err := session.Rcpt(rcpt, nil)
		var smtpErr *smtp.SMTPError
		require.ErrorAs(t, err, &smtpErr, rcpt)
		assert.Equal(t, 550, smtpErr.Code, rcpt)
	}
}

func TestSessionDuplicateStillReplies250(t *testing.T) {
	session, _, _ := newSession(t)
	raw := sampleEmail("<po-1@x>")

	require.NoError(t, session.Mail("buyer@muster.example", nil))
	require.NoError(t, session.Rcpt("orders+muster@intake.example", nil))
	require.NoError(t, session.Data(bytes.NewReader(raw)))

	session.Reset()
	require.NoError(t, session.Mail("buyer@muster.example", nil))
	require.NoError(t, session.Rcpt("orders+muster@intake.example", nil))
	assert.NoError(t, session.Data(bytes.NewReader(raw)), "a replay must not provoke sender retries")
}

func TestSessionQueueFullIsTransient(t *testing.T) {
	repo := newMemRepo()
	queue := &memQueue{full: true}
	svc := intake.NewService(repo, objectstore.NewMemoryStore(), queue)
	backend := intake.NewBackend(svc, &memResolver{slugs: map[string]string{"muster": "t1"}})
	session, err := backend.NewSession(nil)
	require.NoError(t, err)

	require.NoError(t, session.Mail("buyer@muster.example", nil))
	require.NoError(t, session.Rcpt("orders+muster@intake.example", nil))

	err = session.Data(bytes.NewReader(sampleEmail("<po-1@x>")))
	var smtpErr *smtp.SMTPError
	require.ErrorAs(t, err, &smtpErr)
	assert.Equal(t, 451, smtpErr.Code)
}
