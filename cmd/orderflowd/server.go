package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/orderflow-io/orderflow/pkg/ailog"
	"github.com/orderflow-io/orderflow/pkg/audit"
	"github.com/orderflow-io/orderflow/pkg/config"
	"github.com/orderflow-io/orderflow/pkg/detect"
	"github.com/orderflow-io/orderflow/pkg/draft"
	"github.com/orderflow-io/orderflow/pkg/feedback"
	"github.com/orderflow-io/orderflow/pkg/intake"
	"github.com/orderflow-io/orderflow/pkg/llm"
	"github.com/orderflow-io/orderflow/pkg/match"
	"github.com/orderflow-io/orderflow/pkg/model"
	"github.com/orderflow-io/orderflow/pkg/objectstore"
	"github.com/orderflow-io/orderflow/pkg/observability"
	"github.com/orderflow-io/orderflow/pkg/pipeline"
	"github.com/orderflow-io/orderflow/pkg/push"
	"github.com/orderflow-io/orderflow/pkg/store"
	"github.com/orderflow-io/orderflow/pkg/tenant"
	"github.com/orderflow-io/orderflow/pkg/tenants"
	"github.com/orderflow-io/orderflow/pkg/validate"
)

// queueCapacity bounds each tenant's extraction backlog; a full queue
// pushes back on intake with a transient SMTP failure.
const queueCapacity = 256

// app holds everything the daemon and the operator subcommands share.
type app struct {
	cfg *config.Config
	db  *sql.DB

	inbound  *store.InboundStore
	drafts   *store.DraftStore
	catalog  *store.CatalogStore
	mappings *store.MappingStore
	aiCalls  *store.AICallStore
	audits   *store.AuditStore
	exports  *store.ExportStore
	events   *store.FeedbackStore
	registry *tenants.Registry
	vectors  *store.EmbeddingStore

	objects  objectstore.Store
	recorder audit.Recorder
	engine   *draft.Engine
	feedback *feedback.Recorder
	ledger   *ailog.Ledger
	provider llm.Provider
	embedder llm.Embedder

	profiles  map[string]*config.TenantProfile
	pipelines map[string]*pipeline.Pipeline
	fallback  *pipeline.Pipeline
	queue     *pipeline.Queue
	intake    *intake.Service
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.db = db

	if a.inbound, err = store.NewInboundStore(db); err != nil {
		return nil, err
	}
	if a.drafts, err = store.NewDraftStore(db); err != nil {
		return nil, err
	}
	if a.catalog, err = store.NewCatalogStore(db); err != nil {
		return nil, err
	}
	if a.mappings, err = store.NewMappingStore(db); err != nil {
		return nil, err
	}
	if a.aiCalls, err = store.NewAICallStore(db); err != nil {
		return nil, err
	}
	if a.audits, err = store.NewAuditStore(db); err != nil {
		return nil, err
	}
	if a.exports, err = store.NewExportStore(db); err != nil {
		return nil, err
	}
	if a.events, err = store.NewFeedbackStore(db); err != nil {
		return nil, err
	}
	if a.registry, err = tenants.NewRegistry(db); err != nil {
		return nil, err
	}

	if a.objects, err = newObjectStore(ctx, cfg); err != nil {
		return nil, err
	}

	if cfg.EmbeddingDSN != "" {
		if a.vectors, err = store.OpenEmbeddings(cfg.EmbeddingDSN, cfg.EmbeddingModel, cfg.EmbeddingDim); err != nil {
			return nil, err
		}
	}

	a.recorder = audit.NewRecorder(a.audits)
	a.engine = draft.NewEngine(a.drafts, a.recorder)
	a.feedback = feedback.NewRecorder(a.events, a.mappings, a.recorder)

	var budget ailog.DailyBudget
	if cfg.RedisAddr != "" {
		budget = ailog.NewRedisBudget(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		budget = ailog.NewMemoryBudget()
	}
	a.ledger = ailog.NewLedger(a.aiCalls, budget, ailog.NewTenantLimiter(2, 4))

	if cfg.LLMAPIKey != "" {
		a.provider = llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		a.embedder = llm.NewOpenAIEmbedder(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	}

	if a.profiles, err = config.LoadAllProfiles(cfg.ProfilesDir); err != nil {
		return nil, err
	}
	a.pipelines = make(map[string]*pipeline.Pipeline, len(a.profiles))
	for slug, profile := range a.profiles {
		a.pipelines[slug] = a.buildPipeline(profile)
	}
	a.fallback = a.buildPipeline(config.DefaultProfile(""))

	a.queue = pipeline.NewQueue(queueCapacity, func(ctx context.Context, job pipeline.Job) error {
		return a.pipelineFor(a.registry.SlugOf(job.TenantID)).Process(ctx, job)
	})
	a.intake = intake.NewService(a.inbound, a.objects, a.queue)
	return a, nil
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildPipeline assembles the extraction pipeline for one tenant profile.
// The stores are shared; only the thresholds and synonym tables differ.
func (a *app) buildPipeline(profile *config.TenantProfile) *pipeline.Pipeline {
	th := profile.Thresholds

	var vectors match.VectorIndex
	if a.vectors != nil {
		vectors = a.vectors
	}
	matcher := match.NewMatcher(a.mappings, a.catalog, vectors, a.catalog, a.embedder, match.Thresholds{
		AutoApply:      th.MatchAutoApply,
		AutoApplyGap:   th.MatchAutoApplyGap,
		LowConfidence:  th.MatchLowConfidence,
		PriceTolerance: th.PriceTolerance,
	})
	validator := validate.NewValidator(a.catalog, a.catalog, validate.Policy{
		PriceTolerance:        th.PriceTolerance,
		PriceMismatchSeverity: model.IssueSeverity(profile.PriceMismatchSeverity),
		LowMatchThreshold:     th.MatchLowConfidence,
	})

	return pipeline.New(pipeline.Deps{
		Documents: a.inbound,
		Drafts:    a.drafts,
		Objects:   a.objects,
		Engine:    a.engine,
		Detector:  detect.NewDetector(a.catalog, th.CustomerAutoSelect, th.CustomerAutoSelectGap),
		Matcher:   matcher,
		Validator: validator,
		Provider:  a.provider,
		Ledger:    a.ledger,
		FewShot:   a.feedback,
		Learning:  a.feedback,
		Config: pipeline.Config{
			DailyLimitMicros: profile.LLM.DailyBudgetMicros,
			MaxLLMPages:      profile.LLM.MaxPages,
			MaxLLMTokens:     profile.LLM.MaxTokensPerCall,
			MaxLines:         profile.LLM.MaxLines,
			MaxQty:           profile.LLM.MaxQty,
			StorePrompts:     profile.StorePromptContent,
		},
		ColumnSynonyms: profile.ColumnSynonyms,
		UOMSynonyms:    profile.UOMSynonyms,
	}).WithSlugResolver(a.registry.SlugOf)
}

func (a *app) pipelineFor(slug string) *pipeline.Pipeline {
	if p, ok := a.pipelines[slug]; ok {
		return p
	}
	return a.fallback
}

// dropzoneFor returns the tenant's export dropzone. Each tenant gets its
// own directory so ERP pickups never see another tenant's orders.
func (a *app) dropzoneFor(slug string) (*push.FSDropzone, error) {
	dir := filepath.Join(a.cfg.DropzonePath, slug)
	ack := a.cfg.AckPath
	if ack == "" {
		ack = filepath.Join(dir, "ack")
	} else {
		ack = filepath.Join(ack, slug)
	}
	return push.NewFSDropzone(dir, ack)
}

func (a *app) pushServiceFor(slug string) (*push.Service, error) {
	dz, err := a.dropzoneFor(slug)
	if err != nil {
		return nil, err
	}
	return push.NewService(a.drafts, a.engine, a.exports, dz, a.catalog, a.inbound, a.recorder, slug), nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore {
	case "", "fs":
		return objectstore.NewFSStore(cfg.ObjectStorePath)
	case "memory":
		return objectstore.NewMemoryStore(), nil
	case "s3":
		return objectstore.NewS3Store(ctx, objectstore.S3Options{
			Bucket: cfg.ObjectStoreBucket,
			Prefix: cfg.ObjectStorePath,
		})
	default:
		// gcs and anything newer resolve through the env factory.
		return objectstore.NewStoreFromEnv(ctx)
	}
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	log := slog.Default().With("component", "orderflowd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		fmt.Fprintf(stderr, "observability init failed: %v\n", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer a.Close()

	srv := intake.NewServer(intake.NewBackend(a.intake, a.registry), cfg.SMTPAddr, cfg.SMTPDomain)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("smtp listener starting", "addr", cfg.SMTPAddr, "domain", cfg.SMTPDomain)
		if err := srv.ListenAndServe(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("smtp listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Close()
	})

	// One acknowledgement poller per active tenant, each running under
	// that tenant's principal.
	tenantList, err := a.registry.List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "tenant list failed: %v\n", err)
		return 1
	}
	for _, tn := range tenantList {
		if !tn.IsActive() {
			continue
		}
		dz, err := a.dropzoneFor(tn.Slug)
		if err != nil {
			fmt.Fprintf(stderr, "dropzone for %s failed: %v\n", tn.Slug, err)
			return 1
		}
		poller := push.NewAckPoller(dz, a.exports, a.drafts, a.recorder)
		pctx := tenant.WithPrincipal(gctx, tenant.Principal{TenantID: tn.ID, ActorID: "system"})
		g.Go(func() error {
			if err := poller.Run(pctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("ack poller: %w", err)
			}
			return nil
		})
	}

	log.Info("orderflowd running", "tenants", len(tenantList))
	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "err", err)
		return 1
	}
	log.Info("orderflowd stopped")
	return 0
}
