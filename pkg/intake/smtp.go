package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/tenant"
)

// TenantResolver maps the recipient slug to a tenant. Unknown slugs
// report model.ErrTenantUnknown.
type TenantResolver interface {
	BySlug(ctx context.Context, slug string) (tenantID string, err error)
}

// recipientPrefix is the mandated local-part shape: orders+<slug>@domain.
const recipientPrefix = "orders+"

// SMTP status replies. Duplicates get the same 250 as a fresh accept so
// senders never retry an already-ingested message.
var (
	errUnknownTenant = &smtp.SMTPError{
		Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1},
		Message: "no such recipient",
	}
	errTransient = &smtp.SMTPError{
		Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message: "temporary processing failure, retry later",
	}
	errTooLarge = &smtp.SMTPError{
		Code: 552, EnhancedCode: smtp.EnhancedCode{5, 3, 4},
		Message: "message exceeds size limit",
	}
)

// Backend accepts purchase-order mail for all tenants on one listener.
type Backend struct {
	service  *Service
	resolver TenantResolver
	log      *slog.Logger
}

func NewBackend(service *Service, resolver TenantResolver) *Backend {
	return &Backend{
		service:  service,
		resolver: resolver,
		log:      slog.Default().With("component", "intake.smtp"),
	}
}

// NewServer wires the backend into a go-smtp server with the intake
// limits applied.
func NewServer(backend *Backend, addr, domain string) *smtp.Server {
	srv := smtp.NewServer(backend)
	srv.Addr = addr
	srv.Domain = domain
	srv.MaxMessageBytes = MaxMessageBytes
	srv.MaxRecipients = 10
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.AllowInsecureAuth = false
	return srv
}

func (b *Backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend  *Backend
	from     string
	tenantID string
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = strings.ToLower(from)
	return nil
}

// Rcpt resolves the tenant from the plus-addressed recipient. The first
// recipient that maps to a tenant wins.
func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	slug, ok := recipientSlug(to)
	if !ok {
		return errUnknownTenant
	}
	tid, err := s.backend.resolver.BySlug(context.Background(), slug)
	if errors.Is(err, model.ErrTenantUnknown) {
		s.backend.log.Warn("mail for unknown tenant slug", "slug", slug)
		return errUnknownTenant
	}
	if err != nil {
		return errTransient
	}
	if s.tenantID == "" {
		s.tenantID = tid
	}
	return nil
}

func (s *session) Data(r io.Reader) error {
	if s.tenantID == "" {
		return errUnknownTenant
	}

	raw, err := io.ReadAll(io.LimitReader(r, MaxMessageBytes+1))
	if err != nil {
		return errTransient
	}
	if len(raw) > MaxMessageBytes {
		return errTooLarge
	}

	ctx := tenant.WithPrincipal(context.Background(), tenant.Principal{
		TenantID: s.tenantID,
		ActorID:  "smtp",
	})
	msg, duplicate, err := s.backend.service.IngestEmail(ctx, s.tenantID, raw, s.from)
	switch {
	case err == nil:
		if duplicate {
			return nil
		}
		s.backend.log.Info("message accepted",
			"tenant_id", s.tenantID, "inbound_message_id", msg.ID)
		return nil
	case errors.Is(err, model.ErrInputRejected):
		return errTooLarge
	case errors.Is(err, model.ErrQueueFull), errors.Is(err, model.ErrTransientStorage):
		return errTransient
	default:
		// Malformed MIME is recorded as FAILED; telling the sender to
		// retry would replay the same broken bytes.
		s.backend.log.Error("message ingest failed",
			"tenant_id", s.tenantID, "error", err)
		return &smtp.SMTPError{
			Code: 554, EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message: "message could not be processed",
		}
	}
}

func (s *session) Reset() {
	s.from = ""
	s.tenantID = ""
}

func (s *session) Logout() error { return nil }

// recipientSlug extracts <slug> from orders+<slug>@domain.
func recipientSlug(address string) (string, bool) {
	addr := strings.ToLower(strings.TrimSpace(address))
	at := strings.IndexByte(addr, '@')
	if at < 0 {
		return "", false
	}
	local := addr[:at]
	if !strings.HasPrefix(local, recipientPrefix) {
		return "", false
	}
	slug := strings.TrimPrefix(local, recipientPrefix)
	if slug == "" {
		return "", false
	}
	return slug, true
}
