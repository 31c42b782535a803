package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/orderflow-io/orderflow/pkg/audit"
	"github.com/orderflow-io/orderflow/pkg/draft"
	"github.com/orderflow-io/orderflow/pkg/model"
)

// Ack actions recorded against the draft.
const (
	ActionERPAck   = "erp_ack"
	ActionERPError = "erp_error"
)

// ackPayload is what the ERP drops back for a processed export.
type ackPayload struct {
	ERPOrderID string `json:"erp_order_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ExportResolver maps an ack filename back to its export.
type ExportResolver interface {
	// FindByFilename returns the export behind the dropzone file, or
	// model.ErrNotFound.
	FindByFilename(ctx context.Context, filename string) (*Export, error)
}

// AckPoller watches the dropzone ack path for ERP responses. A file named
// ack_<export>.json confirms the order; error_<export>.json reports a
// rejection. Processed files are deleted.
type AckPoller struct {
	dropzone DropzoneWriter
	exports  ExportResolver
	drafts   draft.Store
	audit    audit.Recorder
	log      *slog.Logger

	Interval time.Duration
}

func NewAckPoller(dropzone DropzoneWriter, exports ExportResolver, drafts draft.Store, recorder audit.Recorder) *AckPoller {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &AckPoller{
		dropzone: dropzone,
		exports:  exports,
		drafts:   drafts,
		audit:    recorder,
		log:      slog.Default().With("component", "push.ack"),
		Interval: 30 * time.Second,
	}
}

// Run polls until the context ends.
func (p *AckPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.log.Error("ack poll failed", "err", err)
			}
		}
	}
}

// Poll processes every pending acknowledgement once.
func (p *AckPoller) Poll(ctx context.Context) error {
	for _, prefix := range []string{"ack_", "error_"} {
		names, err := p.dropzone.ListAcks(ctx, prefix)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := p.processOne(ctx, name); err != nil {
				p.log.Error("ack processing failed", "file", name, "err", err)
				continue
			}
			if err := p.dropzone.Delete(ctx, name); err != nil {
				p.log.Error("ack delete failed", "file", name, "err", err)
			}
		}
	}
	return nil
}

func (p *AckPoller) processOne(ctx context.Context, name string) error {
	isError := strings.HasPrefix(name, "error_")
	exportName := strings.TrimPrefix(strings.TrimPrefix(name, "ack_"), "error_")

	export, err := p.exports.FindByFilename(ctx, exportName)
	if errors.Is(err, model.ErrNotFound) {
		p.log.Warn("ack for unknown export", "file", name)
		return nil
	}
	if err != nil {
		return err
	}

	raw, err := p.dropzone.Read(ctx, name)
	if err != nil {
		return err
	}
	var payload ackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.log.Warn("malformed ack payload", "file", name, "err", err)
	}

	d, err := p.drafts.Get(ctx, export.DraftOrderID)
	if err != nil {
		return err
	}

	if isError {
		return p.audit.Record(ctx, ActionERPError, "draft_order/"+d.ID, nil,
			map[string]any{"export": exportName, "error": payload.Error})
	}

	if payload.ERPOrderID != "" && d.ERPOrderID == "" {
		d.ERPOrderID = payload.ERPOrderID
		if err := p.drafts.Update(ctx, d); err != nil {
			return err
		}
	}
	return p.audit.Record(ctx, ActionERPAck, "draft_order/"+d.ID, nil,
		map[string]any{"export": exportName, "erp_order_id": payload.ERPOrderID})
}
