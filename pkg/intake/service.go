// Package intake receives purchase orders over SMTP and direct upload,
// dedups them, and persists the raw bytes before any processing touches
// them.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/dedup"
	"github.com/orderflow-io/orderflow/pkg/extract"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/objectstore"
)

// MaxMessageBytes caps inbound emails and uploads at 25 MiB.
const MaxMessageBytes = 25 << 20

// Repository persists arrival events and documents.
type Repository interface {
	InsertMessage(ctx context.Context, msg *model.InboundMessage) (duplicate bool, err error)
	UpdateMessageStatus(ctx context.Context, id string, status model.InboundStatus, failureReason string) error
	InsertDocument(ctx context.Context, doc *model.Document) (duplicate bool, err error)
}

// Queue hands stored documents to the extraction pipeline. A full queue
// reports model.ErrQueueFull; intake then signals a transient failure so
// the sender retries.
type Queue interface {
	Enqueue(ctx context.Context, documentID string) error
}

// Service is the shared intake path behind both the SMTP endpoint and the
// upload API.
type Service struct {
	repo    Repository
	objects objectstore.Store
	queue   Queue
	log     *slog.Logger
	clock   func() time.Time
}

func NewService(repo Repository, objects objectstore.Store, queue Queue) *Service {
	return &Service{
		repo:    repo,
		objects: objects,
		queue:   queue,
		log:     slog.Default().With("component", "intake"),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// IngestEmail stores one raw message and its supported attachments.
// Replays of a fully parsed (source, message id) return the stored message
// with duplicate set and touch nothing; replays of a message that never
// reached PARSED run the intake path again.
func (s *Service) IngestEmail(ctx context.Context, tenantID string, raw []byte, sender string) (*model.InboundMessage, bool, error) {
	if len(raw) > MaxMessageBytes {
		return nil, false, fmt.Errorf("%w: message exceeds %d bytes", model.ErrInputRejected, MaxMessageBytes)
	}

	parsed, parseErr := ParseMail(raw)
	messageID := ""
	if parsed != nil {
		messageID = parsed.MessageID
		if sender == "" {
			sender = parsed.From
		}
	}
	if messageID == "" {
		messageID = dedup.SyntheticMessageID(raw)
	}

	now := s.clock()
	rawHash := dedup.DocumentHash(raw)
	msg := &model.InboundMessage{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		Source:            model.SourceEmail,
		ProviderMessageID: messageID,
		SenderAddress:     sender,
		ReceivedAt:        now,
		RawStorageKey:     objectstore.RawMessageKey(tenantID, rawHash),
		Status:            model.InboundReceived,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	duplicate, err := s.repo.InsertMessage(ctx, msg)
	if err != nil {
		return nil, false, fmt.Errorf("intake: record message: %w", err)
	}
	if duplicate {
		// A fully processed replay touches nothing. A message that stalled
		// mid-intake (queue full, storage hiccup) runs the path again; every
		// step below is idempotent.
		if msg.Status == model.InboundParsed {
			s.log.InfoContext(ctx, "duplicate message ignored",
				"tenant_id", tenantID, "provider_message_id", messageID)
			return msg, true, nil
		}
		s.log.InfoContext(ctx, "replaying unfinished message",
			"tenant_id", tenantID, "provider_message_id", messageID, "status", msg.Status)
	}

	if err := s.objects.Put(ctx, msg.RawStorageKey, raw); err != nil {
		_ = s.repo.UpdateMessageStatus(ctx, msg.ID, model.InboundFailed, "raw storage write failed")
		return nil, false, fmt.Errorf("intake: store raw message: %w", err)
	}
	if err := s.repo.UpdateMessageStatus(ctx, msg.ID, model.InboundStored, ""); err != nil {
		return nil, false, fmt.Errorf("intake: mark stored: %w", err)
	}
	msg.Status = model.InboundStored

	if parseErr != nil {
		_ = s.repo.UpdateMessageStatus(ctx, msg.ID, model.InboundFailed, parseErr.Error())
		msg.Status = model.InboundFailed
		return msg, duplicate, fmt.Errorf("intake: %w", parseErr)
	}

	stored := 0
	for _, att := range parsed.Attachments {
		if extract.RouteByMediaType(att.MediaType, att.Filename).Rule == "" {
			s.log.DebugContext(ctx, "skipping unsupported attachment",
				"filename", att.Filename, "media_type", att.MediaType)
			continue
		}
		if _, err := s.storeDocument(ctx, tenantID, msg.ID, att.Filename, att.MediaType, att.Content); err != nil {
			_ = s.repo.UpdateMessageStatus(ctx, msg.ID, model.InboundFailed, err.Error())
			msg.Status = model.InboundFailed
			return msg, duplicate, err
		}
		stored++
	}

	if err := s.repo.UpdateMessageStatus(ctx, msg.ID, model.InboundParsed, ""); err != nil {
		return nil, false, fmt.Errorf("intake: mark parsed: %w", err)
	}
	msg.Status = model.InboundParsed
	if stored == 0 {
		s.log.InfoContext(ctx, "message carried no supported attachments",
			"tenant_id", tenantID, "provider_message_id", messageID)
	}
	return msg, duplicate, nil
}

// IngestUpload stores one directly uploaded document.
func (s *Service) IngestUpload(ctx context.Context, tenantID, filename, mediaType string, content []byte) (*model.Document, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty upload", model.ErrInputRejected)
	}
	if len(content) > MaxMessageBytes {
		return nil, fmt.Errorf("%w: upload exceeds %d bytes", model.ErrInputRejected, MaxMessageBytes)
	}
	if extract.RouteByMediaType(mediaType, filename).Rule == "" {
		return nil, fmt.Errorf("%w: unsupported document type %q", model.ErrInputRejected, mediaType)
	}
	return s.storeDocument(ctx, tenantID, "", filename, mediaType, content)
}

func (s *Service) storeDocument(ctx context.Context, tenantID, messageID, filename, mediaType string, content []byte) (*model.Document, error) {
	now := s.clock()
	hash := dedup.DocumentHash(content)
	doc := &model.Document{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		InboundMessageID: messageID,
		Filename:         filename,
		MediaType:        mediaType,
		SizeBytes:        int64(len(content)),
		SHA256:           hash,
		RawStorageKey:    objectstore.DocumentKey(tenantID, hash),
		Status:           model.DocumentStored,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// Content-addressed key: writing before the row insert is safe, a
	// replay overwrites the same bytes.
	if err := s.objects.Put(ctx, doc.RawStorageKey, content); err != nil {
		return nil, fmt.Errorf("intake: store document: %w", err)
	}

	duplicate, err := s.repo.InsertDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("intake: record document: %w", err)
	}
	if duplicate {
		if doc.Status != model.DocumentStored {
			s.log.InfoContext(ctx, "duplicate document ignored",
				"tenant_id", tenantID, "sha256", hash, "filename", filename)
			return doc, nil
		}
		// Stored but never picked up: the earlier enqueue was lost, try again.
		s.log.InfoContext(ctx, "re-enqueueing stored duplicate",
			"tenant_id", tenantID, "document_id", doc.ID, "sha256", hash)
	}

	if err := s.queue.Enqueue(ctx, doc.ID); err != nil {
		if errors.Is(err, model.ErrQueueFull) {
			s.log.WarnContext(ctx, "extraction queue full",
				"tenant_id", tenantID, "document_id", doc.ID)
			return nil, fmt.Errorf("intake: %w", err)
		}
		return nil, fmt.Errorf("intake: enqueue document: %w", err)
	}
	return doc, nil
}
