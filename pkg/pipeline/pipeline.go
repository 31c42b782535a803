package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/ailog"
	"github.com/orderflow-io/orderflow/pkg/detect"
	"github.com/orderflow-io/orderflow/pkg/draft"
	"github.com/orderflow-io/orderflow/pkg/extract"
	"github.com/orderflow-io/orderflow/pkg/llm"
	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/objectstore"
	"github.com/orderflow-io/orderflow/pkg/tenant"
	"github.com/orderflow-io/orderflow/pkg/validate"
)

// LLM template ids. Versioned: a prompt change is a new id, which also
// keys the idempotence cache.
const (
	TemplateTextExtract   = "pdf_extract_text_v1"
	TemplateVisionExtract = "pdf_extract_vision_v1"
	TemplateRepairJSON    = "repair_json_v1"
)

// DocumentStore is the pipeline's view of document persistence.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocument(ctx context.Context, doc *model.Document) error
	GetMessage(ctx context.Context, id string) (*model.InboundMessage, error)
	InsertRun(ctx context.Context, run *model.ExtractionRun) error
	UpdateRun(ctx context.Context, run *model.ExtractionRun) error
}

// DraftRepository extends the engine's draft view with the writes the
// pipeline performs.
type DraftRepository interface {
	draft.Store
	Insert(ctx context.Context, d *model.DraftOrder) error
	InsertLine(ctx context.Context, line *model.DraftOrderLine) error
	UpdateLine(ctx context.Context, line *model.DraftOrderLine) error
	SaveIssue(ctx context.Context, issue *model.ValidationIssue) error
	SaveCandidates(ctx context.Context, draftID string, candidates []*model.CustomerDetectionCandidate) error
	ListCandidates(ctx context.Context, draftID string) ([]*model.CustomerDetectionCandidate, error)
	GetBySourceDocument(ctx context.Context, documentID string) (*model.DraftOrder, error)
}

// FewShotSource serves corrected extractions for the same layout.
type FewShotSource interface {
	FewShotExamples(ctx context.Context, layoutFingerprint string, limit int) ([]llm.FewShotExample, error)
}

// PageRenderer rasterizes PDF pages for vision extraction. Nil disables
// the vision path.
type PageRenderer interface {
	Render(raw []byte, maxPages int) ([][]byte, error)
}

// Config bounds the LLM spend per tenant and per call.
type Config struct {
	DailyLimitMicros int64
	MaxLLMPages      int
	MaxLLMTokens     int
	MaxLines         int
	MaxQty           float64
	StorePrompts     bool
}

// DefaultConfig matches the production guardrails.
func DefaultConfig() Config {
	return Config{
		DailyLimitMicros: 5_000_000,
		MaxLLMPages:      20,
		MaxLLMTokens:     120_000,
		MaxLines:         500,
		MaxQty:           1_000_000,
	}
}

// Pipeline drives one document from stored bytes to a validated draft.
type Pipeline struct {
	documents DocumentStore
	drafts    DraftRepository
	objects   objectstore.Store
	engine    *draft.Engine
	detector  *detect.Detector
	matcher   *match.Matcher
	validator *validate.Validator
	provider  llm.Provider
	ledger    *ailog.Ledger
	fewshot   FewShotSource
	learning  Learning
	renderer  PageRenderer
	cfg       Config

	csv  *extract.CSVExtractor
	xlsx *extract.XLSXExtractor
	pdf  *extract.PDFTextExtractor

	slugOf func(tenantID string) string
	log    *slog.Logger
	clock  func() time.Time
}

type Deps struct {
	Documents DocumentStore
	Drafts    DraftRepository
	Objects   objectstore.Store
	Engine    *draft.Engine
	Detector  *detect.Detector
	Matcher   *match.Matcher
	Validator *validate.Validator
	Provider  llm.Provider
	Ledger    *ailog.Ledger
	FewShot   FewShotSource
	Learning  Learning
	Renderer  PageRenderer
	Config    Config

	// Tenant extraction profile, nil for the defaults.
	ColumnSynonyms map[string][]string
	UOMSynonyms    map[string]string
}

func New(deps Deps) *Pipeline {
	return &Pipeline{
		documents: deps.Documents,
		drafts:    deps.Drafts,
		objects:   deps.Objects,
		engine:    deps.Engine,
		detector:  deps.Detector,
		matcher:   deps.Matcher,
		validator: deps.Validator,
		provider:  deps.Provider,
		ledger:    deps.Ledger,
		fewshot:   deps.FewShot,
		learning:  deps.Learning,
		renderer:  deps.Renderer,
		cfg:       deps.Config,
		csv:       &extract.CSVExtractor{ColumnSynonyms: deps.ColumnSynonyms, UOMSynonyms: deps.UOMSynonyms},
		xlsx:      &extract.XLSXExtractor{ColumnSynonyms: deps.ColumnSynonyms, UOMSynonyms: deps.UOMSynonyms},
		pdf:       &extract.PDFTextExtractor{ColumnSynonyms: deps.ColumnSynonyms, UOMSynonyms: deps.UOMSynonyms},
		slugOf:    func(tenantID string) string { return tenantID },
		log:       slog.Default().With("component", "pipeline"),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithSlugResolver sets the tenant slug lookup used in prompt context.
func (p *Pipeline) WithSlugResolver(slugOf func(tenantID string) string) *Pipeline {
	p.slugOf = slugOf
	return p
}

// WithClock overrides the pipeline clock. Test hook.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Process runs one document end to end. Failures are absorbed into the
// document status; the returned error is for the worker log.
func (p *Pipeline) Process(ctx context.Context, job Job) error {
	doc, err := p.documents.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("pipeline: load document: %w", err)
	}
	if doc.SoftDeleted() {
		p.log.InfoContext(ctx, "skipping deleted document", "document_id", doc.ID)
		return nil
	}

	switch existing, err := p.drafts.GetBySourceDocument(ctx, doc.ID); {
	case err == nil && !job.Force:
		p.log.InfoContext(ctx, "document already extracted, skipping",
			"document_id", doc.ID, "draft_id", existing.ID)
		return nil
	case err == nil:
		return fmt.Errorf("pipeline: document %s already has draft %s; reject it before re-extracting",
			doc.ID, existing.ID)
	case !errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("pipeline: check prior draft: %w", err)
	}

	raw, err := p.objects.Get(ctx, doc.RawStorageKey)
	if err != nil {
		return p.failDocument(ctx, doc, fmt.Errorf("raw bytes unavailable: %w", err))
	}

	route := extract.RouteByMediaType(doc.MediaType, doc.Filename)
	if route.Rule == "" {
		return p.failDocument(ctx, doc, fmt.Errorf("%w: unsupported media type %q", model.ErrInputRejected, doc.MediaType))
	}

	doc.Status = model.DocumentProcessing
	if err := p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("pipeline: mark processing: %w", err)
	}

	var stats *extract.PDFStats
	if route.Rule == extract.ExtractorRulePDFV1 {
		stats, err = extract.AnalyzePDF(raw)
		if err != nil {
			return p.failDocument(ctx, doc, fmt.Errorf("pdf analysis: %w", err))
		}
		doc.PageCount = stats.PageCount
		doc.TextCharsTotal = stats.TextCharsTotal
		doc.TextCoverageRatio = stats.TextCoverageRatio
		doc.LayoutFingerprint = LayoutFingerprint(doc.MediaType, stats.Text)
	} else {
		// Structured formats carry their full text; only PDFs can have a
		// missing text layer.
		doc.TextCoverageRatio = 1
		doc.LayoutFingerprint = LayoutFingerprint(doc.MediaType, string(raw))
	}

	ruleRec, ruleErr := p.runRule(ctx, doc, route.Rule, raw)

	rec := ruleRec
	usedVision := false
	var llmErr error
	if route.Rule == extract.ExtractorRulePDFV1 {
		pdfRoute := extract.RoutePDF(stats, ruleRec, ruleErr, job.Force)
		if pdfRoute.LLM != "" {
			var llmRec *extract.Record
			var vision bool
			llmRec, vision, llmErr = p.runLLM(ctx, doc, pdfRoute.LLM, stats, raw)
			switch {
			case llmErr == nil:
				rec = llmRec
				usedVision = vision
			case rec == nil:
				return p.degradeDocument(ctx, doc, fmt.Errorf("llm extraction: %w", llmErr))
			default:
				p.log.WarnContext(ctx, "llm extraction failed, keeping rule result",
					"document_id", doc.ID, "reason", pdfRoute.Reason, "error", llmErr)
			}
		}
	}
	if rec == nil {
		return p.degradeDocument(ctx, doc, fmt.Errorf("extraction yielded nothing: %w", ruleErr))
	}

	doc.Status = model.DocumentExtracted
	if err := p.documents.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("pipeline: mark extracted: %w", err)
	}

	d, err := p.createDraft(ctx, doc, rec, usedVision)
	if err != nil {
		return err
	}
	if llmErr != nil {
		// The rule result carried the draft, but the operator needs to know
		// the fallback never ran.
		if err := p.attachIssue(ctx, d.ID, "", model.IssueLLMOutputInvalid, model.SeverityWarning,
			"llm extraction failed, rule-based result kept",
			map[string]any{"error": llmErr.Error()}); err != nil {
			return err
		}
	}

	senderEmail := ""
	docText := ""
	if stats != nil {
		docText = stats.Text
	} else {
		docText = string(raw)
	}
	if doc.InboundMessageID != "" {
		if msg, err := p.documents.GetMessage(ctx, doc.InboundMessageID); err == nil {
			senderEmail = msg.SenderAddress
		}
	}

	if err := p.detectCustomer(ctx, d, rec, senderEmail, docText); err != nil {
		return err
	}
	if aborted, err := p.draftAborted(ctx, d.ID); err != nil || aborted {
		return err
	}
	if err := p.matchLines(ctx, d); err != nil {
		return err
	}
	if aborted, err := p.draftAborted(ctx, d.ID); err != nil || aborted {
		return err
	}
	if err := p.validateDraft(ctx, d); err != nil {
		return err
	}

	if _, err := p.engine.Refresh(ctx, d.ID); err != nil {
		return fmt.Errorf("pipeline: refresh draft: %w", err)
	}
	return nil
}

// Retry re-queues the document with the trigger rule bypassed. The budget
// gate still applies at dispatch.
func (p *Pipeline) Retry(ctx context.Context, queue *Queue, documentID string) error {
	return queue.EnqueueJob(ctx, Job{DocumentID: documentID, Force: true})
}

// degradeDocument handles total extraction failure: the document is marked
// failed, but an empty draft with an open issue is still created so the
// order can be keyed in by hand instead of silently disappearing.
func (p *Pipeline) degradeDocument(ctx context.Context, doc *model.Document, cause error) error {
	d, err := p.createDraft(ctx, doc, &extract.Record{}, false)
	if err != nil {
		p.log.ErrorContext(ctx, "could not create fallback draft",
			"document_id", doc.ID, "error", err)
		return p.failDocument(ctx, doc, cause)
	}
	if err := p.attachIssue(ctx, d.ID, "", model.IssueLowConfidenceExtraction, model.SeverityWarning,
		"automatic extraction failed, manual entry required",
		map[string]any{"error": cause.Error()}); err != nil {
		return err
	}
	if _, err := p.engine.Refresh(ctx, d.ID); err != nil {
		return fmt.Errorf("pipeline: refresh draft: %w", err)
	}
	return p.failDocument(ctx, doc, cause)
}

func (p *Pipeline) attachIssue(ctx context.Context, draftID, lineID string, typ model.IssueType, sev model.IssueSeverity, msg string, details map[string]any) error {
	now := p.clock()
	issue := &model.ValidationIssue{
		ID:           uuid.NewString(),
		DraftOrderID: draftID,
		LineID:       lineID,
		Type:         typ,
		Severity:     sev,
		Status:       model.IssueOpen,
		Message:      msg,
		Details:      details,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.drafts.SaveIssue(ctx, issue); err != nil {
		return fmt.Errorf("pipeline: save issue: %w", err)
	}
	return nil
}

func (p *Pipeline) failDocument(ctx context.Context, doc *model.Document, cause error) error {
	doc.Status = model.DocumentFailed
	if err := p.documents.UpdateDocument(ctx, doc); err != nil {
		p.log.ErrorContext(ctx, "could not mark document failed",
			"document_id", doc.ID, "error", err)
	}
	return fmt.Errorf("pipeline: document %s: %w", doc.ID, cause)
}

func (p *Pipeline) ruleExtractor(id string) extract.RuleExtractor {
	switch id {
	case extract.ExtractorRuleCSVV1:
		return p.csv
	case extract.ExtractorRuleXLSXV1:
		return p.xlsx
	default:
		return p.pdf
	}
}

func (p *Pipeline) runRule(ctx context.Context, doc *model.Document, extractorID string, raw []byte) (*extract.Record, error) {
	run := p.newRun(ctx, doc.ID, extractorID)
	if err := p.documents.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("pipeline: record run: %w", err)
	}

	started := p.clock()
	rec, err := p.ruleExtractor(extractorID).Extract(raw)
	p.finishRun(ctx, run, started, rec, err)
	return rec, err
}

func (p *Pipeline) runLLM(ctx context.Context, doc *model.Document, extractorID string, stats *extract.PDFStats, raw []byte) (*extract.Record, bool, error) {
	if err := extract.BudgetGate(extractorID, stats, p.cfg.MaxLLMPages, p.cfg.MaxLLMTokens); err != nil {
		return nil, false, fmt.Errorf("budget gate: %w", err)
	}
	if p.provider == nil {
		return nil, false, fmt.Errorf("llm extraction requested but no provider configured")
	}
	vision := extractorID == extract.ExtractorLLMVisionV1
	if vision && p.renderer == nil {
		return nil, false, fmt.Errorf("vision extraction requested but no renderer configured")
	}

	tid, err := tenant.ID(ctx)
	if err != nil {
		return nil, false, err
	}
	pctx := llm.PromptContext{
		TenantSlug: p.slugOf(tid),
	}
	if examples, err := p.fewshot.FewShotExamples(ctx, doc.LayoutFingerprint, 3); err == nil {
		pctx.FewShot = examples
	}

	templateID := TemplateTextExtract
	prompt := stats.Text
	if vision {
		templateID = TemplateVisionExtract
		// No text layer to hash; the content hash stands in.
		prompt = "pages:" + doc.SHA256
	}
	pctx.TemplateID = templateID

	run := p.newRun(ctx, doc.ID, extractorID)
	if err := p.documents.InsertRun(ctx, run); err != nil {
		return nil, false, fmt.Errorf("pipeline: record run: %w", err)
	}
	started := p.clock()

	result, cached, err := p.ledger.Execute(ctx, ailog.Call{
		TenantID:    tid,
		CallType:    templateID,
		Prompt:      prompt,
		LimitMicros: p.cfg.DailyLimitMicros,
		StorePrompt: p.cfg.StorePrompts,
		Invoke: func(ctx context.Context) (*llm.Result, error) {
			if vision {
				pages, err := p.renderer.Render(raw, p.cfg.MaxLLMPages)
				if err != nil {
					return nil, fmt.Errorf("render pages: %w", err)
				}
				return p.provider.ExtractVision(ctx, pages, pctx)
			}
			return p.provider.ExtractText(ctx, stats.Text, pctx)
		},
	})
	if err != nil {
		p.finishRun(ctx, run, started, nil, err)
		return nil, false, err
	}
	if cached {
		p.log.InfoContext(ctx, "llm extraction served from cache",
			"document_id", doc.ID, "template_id", templateID)
	}

	repairer := func(ctx context.Context, previousOutput, parseError string) (*llm.Result, error) {
		res, _, err := p.ledger.Execute(ctx, ailog.Call{
			TenantID:    tid,
			CallType:    TemplateRepairJSON,
			Prompt:      previousOutput,
			LimitMicros: p.cfg.DailyLimitMicros,
			StorePrompt: p.cfg.StorePrompts,
			Invoke: func(ctx context.Context) (*llm.Result, error) {
				return p.provider.RepairJSON(ctx, previousOutput, parseError, pctx)
			},
		})
		return res, err
	}

	rec, err := llm.ParseAndGuard(ctx, result.RawOutput, repairer, nil, llm.GuardParams{
		SourceText: stats.Text,
		PageCount:  stats.PageCount,
		MaxLines:   p.cfg.MaxLines,
		MaxQty:     p.cfg.MaxQty,
	})
	if err != nil {
		p.finishRun(ctx, run, started, nil, err)
		return nil, false, err
	}
	rec.ExtractorVersion = extractorID
	p.finishRun(ctx, run, started, rec, nil)
	return rec, vision, nil
}

func (p *Pipeline) newRun(ctx context.Context, documentID, extractorID string) *model.ExtractionRun {
	now := p.clock()
	tid, _ := tenant.ID(ctx)
	return &model.ExtractionRun{
		ID:         uuid.NewString(),
		TenantID:   tid,
		DocumentID: documentID,
		Extractor:  extractorID,
		Status:     model.RunRunning,
		StartedAt:  &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (p *Pipeline) finishRun(ctx context.Context, run *model.ExtractionRun, started time.Time, rec *extract.Record, cause error) {
	finished := p.clock()
	run.FinishedAt = &finished
	run.DurationMS = finished.Sub(started).Milliseconds()
	if cause != nil {
		run.Status = model.RunFailed
		run.Error = cause.Error()
	} else {
		run.Status = model.RunSucceeded
		run.Output = marshalRecord(rec)
	}
	if err := p.documents.UpdateRun(ctx, run); err != nil {
		p.log.ErrorContext(ctx, "could not finish extraction run",
			"run_id", run.ID, "error", err)
	}
}

func (p *Pipeline) createDraft(ctx context.Context, doc *model.Document, rec *extract.Record, usedVision bool) (*model.DraftOrder, error) {
	now := p.clock()
	d := &model.DraftOrder{
		ID:                   uuid.NewString(),
		SourceDocumentID:     doc.ID,
		ExternalOrderNumber:  rec.Order.ExternalOrderNumber,
		OrderDate:            rec.Order.OrderDate,
		Currency:             rec.Order.Currency,
		RequestedDelivery:    rec.Order.RequestedDelivery,
		ShipTo:               rec.Order.ShipTo,
		Notes:                rec.Order.Notes,
		Status:               model.DraftNew,
		ExtractionConfidence: draft.ExtractionConfidence(rec, doc.TextCoverageRatio, usedVision),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := p.drafts.Insert(ctx, d); err != nil {
		return nil, fmt.Errorf("pipeline: insert draft: %w", err)
	}

	for _, l := range rec.Lines {
		line := &model.DraftOrderLine{
			ID:                uuid.NewString(),
			DraftOrderID:      d.ID,
			LineNo:            l.LineNo,
			CustomerSKURaw:    l.CustomerSKURaw,
			CustomerSKUNorm:   match.NormalizeCustomerSKU(l.CustomerSKURaw),
			Description:       l.Description,
			Qty:               l.Qty,
			UOM:               l.UOM,
			UnitPrice:         l.UnitPrice,
			Currency:          l.Currency,
			RequestedDelivery: l.RequestedDelivery,
			MatchStatus:       model.MatchUnmatched,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := p.drafts.InsertLine(ctx, line); err != nil {
			return nil, fmt.Errorf("pipeline: insert line: %w", err)
		}
	}

	if err := p.engine.Transition(ctx, d, model.DraftExtracted); err != nil {
		return nil, fmt.Errorf("pipeline: draft to extracted: %w", err)
	}
	return d, nil
}

func (p *Pipeline) detectCustomer(ctx context.Context, d *model.DraftOrder, rec *extract.Record, senderEmail, docText string) error {
	decision, err := p.detector.Detect(ctx, detect.Input{
		SenderEmail:  senderEmail,
		DocumentText: docText,
		Hint:         rec.Order.CustomerHint,
	})
	if err != nil {
		return fmt.Errorf("pipeline: detect customer: %w", err)
	}

	now := p.clock()
	candidates := make([]*model.CustomerDetectionCandidate, 0, len(decision.Candidates))
	d.TopCandidates = d.TopCandidates[:0]
	for _, c := range decision.Candidates {
		status := model.CandidateOpen
		if c.CustomerID == decision.SelectedID {
			status = model.CandidateSelected
		}
		candidates = append(candidates, &model.CustomerDetectionCandidate{
			ID:           uuid.NewString(),
			DraftOrderID: d.ID,
			CustomerID:   c.CustomerID,
			Score:        c.Score,
			Signals:      c.Signals,
			Status:       status,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		d.TopCandidates = append(d.TopCandidates, model.CustomerCandidate{
			CustomerID:   c.CustomerID,
			CustomerName: c.CustomerName,
			Score:        c.Score,
		})
	}
	if err := p.drafts.SaveCandidates(ctx, d.ID, candidates); err != nil {
		return fmt.Errorf("pipeline: save candidates: %w", err)
	}

	d.CustomerID = decision.SelectedID
	d.CustomerConfidence = decision.Confidence
	if err := p.drafts.Update(ctx, d); err != nil {
		return fmt.Errorf("pipeline: apply detection: %w", err)
	}
	return nil
}

func (p *Pipeline) matchLines(ctx context.Context, d *model.DraftOrder) error {
	if d.CustomerID == "" {
		// No selected customer, no mappings or prices to match against.
		return nil
	}
	lines, err := p.drafts.ListLines(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("pipeline: list lines: %w", err)
	}
	orderDate := parseISODate(d.OrderDate, p.clock())

	for _, line := range lines {
		outcome, err := p.matcher.MatchLine(ctx, d.CustomerID, line, orderDate)
		if err != nil {
			p.log.WarnContext(ctx, "line match failed",
				"draft_id", d.ID, "line_no", line.LineNo, "error", err)
			continue
		}
		line.InternalSKU = outcome.InternalSKU
		line.MatchStatus = outcome.Status
		line.MatchConfidence = outcome.Confidence
		line.MatchMethod = outcome.Method
		line.Debug = outcome.Debug
		if err := p.drafts.UpdateLine(ctx, line); err != nil {
			return fmt.Errorf("pipeline: apply match: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) validateDraft(ctx context.Context, d *model.DraftOrder) error {
	current, err := p.drafts.Get(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("pipeline: reload draft: %w", err)
	}
	lines, err := p.drafts.ListLines(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("pipeline: list lines: %w", err)
	}
	findings, err := p.validator.Validate(ctx, current, lines)
	if err != nil {
		return fmt.Errorf("pipeline: validate: %w", err)
	}
	existing, err := p.drafts.ListIssues(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("pipeline: list issues: %w", err)
	}
	for _, issue := range validate.Reconcile(current, existing, findings, p.clock()) {
		if err := p.drafts.SaveIssue(ctx, issue); err != nil {
			return fmt.Errorf("pipeline: save issue: %w", err)
		}
	}
	return nil
}

// draftAborted reports whether review already rejected the draft. Work
// computed before the rejection is dropped, not applied.
func (p *Pipeline) draftAborted(ctx context.Context, draftID string) (bool, error) {
	d, err := p.drafts.Get(ctx, draftID)
	if err != nil {
		return false, fmt.Errorf("pipeline: reload draft: %w", err)
	}
	if d.Status == model.DraftRejected {
		p.log.InfoContext(ctx, "draft rejected mid-pipeline, dropping results", "draft_id", draftID)
		return true, nil
	}
	return false, nil
}

// LayoutFingerprint identifies a document's structural layout: the text
// with digits stripped and whitespace collapsed, hashed. Two orders from
// the same ERP form differ only in digits, so they share a fingerprint.
func LayoutFingerprint(mediaType, text string) string {
	var b strings.Builder
	b.WriteString(mediaType)
	b.WriteByte('|')
	space := false
	for _, r := range text {
		if b.Len() >= 512 {
			break
		}
		switch {
		case unicode.IsDigit(r):
			continue
		case unicode.IsSpace(r):
			space = true
		default:
			if space {
				b.WriteByte(' ')
				space = false
			}
			b.WriteRune(unicode.ToLower(r))
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

func parseISODate(iso string, fallback time.Time) time.Time {
	if t, err := time.Parse("2006-01-02", iso); err == nil {
		return t
	}
	return fallback
}

func marshalRecord(rec *extract.Record) []byte {
	if rec == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	return data
}
