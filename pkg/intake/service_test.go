package intake_test

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/dedup"
	"github.com/orderflow-io/orderflow/pkg/intake"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/objectstore"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

type memRepo struct {
	messages  map[string]*model.InboundMessage
	documents map[string]*model.Document
	statuses  []model.InboundStatus
}

func newMemRepo() *memRepo {
	return &memRepo{
		messages:  map[string]*model.InboundMessage{},
		documents: map[string]*model.Document{},
	}
}

func (r *memRepo) InsertMessage(_ context.Context, msg *model.InboundMessage) (bool, error) {
	key := dedup.MessageKey(string(msg.Source), msg.ProviderMessageID)
	if existing, ok := r.messages[key]; ok {
		*msg = *existing
		return true, nil
	}
	cp := *msg
	r.messages[key] = &cp
	return false, nil
}

func (r *memRepo) UpdateMessageStatus(_ context.Context, id string, status model.InboundStatus, _ string) error {
	r.statuses = append(r.statuses, status)
	for _, m := range r.messages {
		if m.ID == id {
			m.Status = status
		}
	}
	return nil
}

func (r *memRepo) InsertDocument(_ context.Context, doc *model.Document) (bool, error) {
	key := doc.SHA256 + "|" + doc.Filename
	if existing, ok := r.documents[key]; ok {
		*doc = *existing
		return true, nil
	}
	cp := *doc
	r.documents[key] = &cp
	return false, nil
}

type memQueue struct {
	enqueued []string
	full     bool
}

func (q *memQueue) Enqueue(_ context.Context, documentID string) error {
	if q.full {
		return model.ErrQueueFull
	}
	q.enqueued = append(q.enqueued, documentID)
	return nil
}

func intakeCtx() context.Context {
	return tenant.WithPrincipal(context.Background(), tenant.Principal{TenantID: "t1", ActorID: "smtp"})
}

func newService() (*memRepo, *objectstore.MemoryStore, *memQueue, *intake.Service) {
	repo := newMemRepo()
	objects := objectstore.NewMemoryStore()
	queue := &memQueue{}
	svc := intake.NewService(repo, objects, queue).WithClock(func() time.Time {
		return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	})
	return repo, objects, queue, svc
}

func sampleEmail(messageID string) []byte {
	pdf := base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 bestellung"))
	var b strings.Builder
	if messageID != "" {
		b.WriteString("Message-Id: " + messageID + "\r\n")
	}
	b.WriteString("From: Einkauf <buyer@muster.example>\r\n")
	b.WriteString("Subject: =?iso-8859-1?Q?Bestellung_M=FCller?=\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=XYZ\r\n")
	b.WriteString("\r\n")
	b.WriteString("--XYZ\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString("Anbei unsere Bestellung.\r\n")
	b.WriteString("--XYZ\r\n")
	b.WriteString("Content-Type: application/pdf; name=\"bestellung.pdf\"\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"bestellung.pdf\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(pdf + "\r\n")
	b.WriteString("--XYZ\r\n")
	b.WriteString("Content-Type: image/png; name=\"logo.png\"\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"logo.png\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte("png")) + "\r\n")
	b.WriteString("--XYZ--\r\n")
	return []byte(b.String())
}

func TestIngestEmailStoresSupportedAttachments(t *testing.T) {
	repo, objects, queue, svc := newService()

	msg, duplicate, err := svc.IngestEmail(intakeCtx(), "t1", sampleEmail("<po-1@muster.example>"), "")
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, model.InboundParsed, msg.Status)
	assert.Equal(t, "buyer@muster.example", msg.SenderAddress)

	require.Len(t, repo.documents, 1, "the png is not a purchase order format")
	for _, doc := range repo.documents {
		assert.Equal(t, "bestellung.pdf", doc.Filename)
		assert.Equal(t, model.DocumentStored, doc.Status)
		stored, err := objects.Get(intakeCtx(), doc.RawStorageKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.7 bestellung"), stored)
	}
	assert.Len(t, queue.enqueued, 1)

	raw, err := objects.Get(intakeCtx(), msg.RawStorageKey)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestIngestEmailReplayIsDuplicate(t *testing.T) {
	_, _, queue, svc := newService()
	raw := sampleEmail("<po-1@muster.example>")

	_, duplicate, err := svc.IngestEmail(intakeCtx(), "t1", raw, "")
	require.NoError(t, err)
	require.False(t, duplicate)

	_, duplicate, err = svc.IngestEmail(intakeCtx(), "t1", raw, "")
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Len(t, queue.enqueued, 1, "replays enqueue nothing")
}

func TestIngestEmailWithoutMessageIDUsesSyntheticID(t *testing.T) {
	repo, _, _, svc := newService()
	raw := sampleEmail("")

	_, duplicate, err := svc.IngestEmail(intakeCtx(), "t1", raw, "")
	require.NoError(t, err)
	require.False(t, duplicate)

	for _, m := range repo.messages {
		assert.True(t, strings.HasPrefix(m.ProviderMessageID, "urn:sha256:"))
	}

	_, duplicate, err = svc.IngestEmail(intakeCtx(), "t1", raw, "")
	require.NoError(t, err)
	assert.True(t, duplicate, "identical bytes dedup through the synthetic id")
}

func TestIngestEmailOversizeRejected(t *testing.T) {
	_, _, _, svc := newService()

	big := make([]byte, intake.MaxMessageBytes+1)
	_, _, err := svc.IngestEmail(intakeCtx(), "t1", big, "")
	assert.ErrorIs(t, err, model.ErrInputRejected)
}

func TestIngestEmailQueueFullSurfaces(t *testing.T) {
	repo := newMemRepo()
	queue := &memQueue{full: true}
	svc := intake.NewService(repo, objectstore.NewMemoryStore(), queue)

	_, _, err := svc.IngestEmail(intakeCtx(), "t1", sampleEmail("<po-9@x>"), "")
	assert.ErrorIs(t, err, model.ErrQueueFull)
}

func TestIngestEmailReplayAfterQueueFullRecovers(t *testing.T) {
	repo := newMemRepo()
	queue := &memQueue{full: true}
	svc := intake.NewService(repo, objectstore.NewMemoryStore(), queue)
	raw := sampleEmail("<po-9@x>")

	msg, _, err := svc.IngestEmail(intakeCtx(), "t1", raw, "")
	require.ErrorIs(t, err, model.ErrQueueFull)
	assert.Equal(t, model.InboundFailed, msg.Status)
	require.Len(t, repo.documents, 1, "the document is stored even when the queue is full")

	// The sender retries after the backlog drains.
	queue.full = false
	msg, duplicate, err := svc.IngestEmail(intakeCtx(), "t1", raw, "")
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, model.InboundParsed, msg.Status)
	assert.Len(t, queue.enqueued, 1, "the stranded document reaches the extraction queue")
}

func TestIngestUploadValidatesType(t *testing.T) {
	_, _, queue, svc := newService()

	doc, err := svc.IngestUpload(intakeCtx(), "t1", "order.csv", "text/csv", []byte("sku;qty\nAB-12;5\n"))
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStored, doc.Status)
	assert.Len(t, queue.enqueued, 1)

	_, err = svc.IngestUpload(intakeCtx(), "t1", "order.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", []byte("x"))
	assert.ErrorIs(t, err, model.ErrInputRejected)

	_, err = svc.IngestUpload(intakeCtx(), "t1", "empty.pdf", "application/pdf", nil)
	assert.ErrorIs(t, err, model.ErrInputRejected)
}

func TestIngestUploadDedupsOnContent(t *testing.T) {
	repo, _, queue, svc := newService()
	content := []byte("sku;qty\nAB-12;5\n")

	first, err := svc.IngestUpload(intakeCtx(), "t1", "order.csv", "text/csv", content)
	require.NoError(t, err)
	second, err := svc.IngestUpload(intakeCtx(), "t1", "order.csv", "text/csv", content)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.documents, 1)
	assert.Len(t, queue.enqueued, 2, "a stored duplicate is re-enqueued until extraction picks it up")
	assert.Equal(t, queue.enqueued[0], queue.enqueued[1])
}

func TestParseMailDecodesEncodedFilename(t *testing.T) {
	var b strings.Builder
	b.WriteString("Message-Id: <enc@x>\r\n")
	b.WriteString("From: buyer@muster.example\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=AB\r\n\r\n")
	b.WriteString("--AB\r\n")
	b.WriteString("Content-Type: application/pdf\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"=?iso-8859-1?Q?Bestellung_M=FCller.pdf?=\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte("%PDF")) + "\r\n")
	b.WriteString("--AB--\r\n")

	parsed, err := intake.ParseMail([]byte(b.String()))
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "Bestellung Müller.pdf", parsed.Attachments[0].Filename)
	assert.Equal(t, []byte("%PDF"), parsed.Attachments[0].Content)
}

func TestParseMailNamesBarePartsByIndex(t *testing.T) {
	var b strings.Builder
	b.WriteString("Message-Id: <bare@x>\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=AB\r\n\r\n")
	b.WriteString("--AB\r\n")
	b.WriteString("Content-Type: application/pdf\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte("%PDF")) + "\r\n")
	b.WriteString("--AB--\r\n")

	parsed, err := intake.ParseMail([]byte(b.String()))
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "part-1.pdf", parsed.Attachments[0].Filename)
}
