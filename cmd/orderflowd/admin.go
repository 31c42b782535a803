package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow-io/orderflow/pkg/config"
	"github.com/orderflow-io/orderflow/pkg/pipeline"
	"github.com/orderflow-io/orderflow/pkg/tenant"
	"github.com/orderflow-io/orderflow/pkg/tenants"
)

// withApp opens the shared wiring for a one-shot operator command.
func withApp(stderr io.Writer, fn func(ctx context.Context, a *app) error) int {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// tenantCtx resolves the slug and attaches the operator principal.
func tenantCtx(ctx context.Context, a *app, slug string) (context.Context, error) {
	tn, err := a.registry.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", slug, err)
	}
	return tenant.WithPrincipal(ctx, tenant.Principal{TenantID: tn.ID, ActorID: "cli"}), nil
}

func runTenantCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: orderflowd tenant <add|list>")
		return 2
	}
	switch args[0] {
	case "add":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "usage: orderflowd tenant add <slug> <name>")
			return 2
		}
		return withApp(stderr, func(ctx context.Context, a *app) error {
			now := time.Now().UTC()
			tn := &tenants.Tenant{
				ID:        uuid.NewString(),
				Slug:      args[1],
				Name:      args[2],
				Status:    tenants.StatusActive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := a.registry.Create(ctx, tn); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "created tenant %s (%s)\n", tn.Slug, tn.ID)
			return nil
		})
	case "list":
		return withApp(stderr, func(ctx context.Context, a *app) error {
			all, err := a.registry.List(ctx)
			if err != nil {
				return err
			}
			for _, tn := range all {
				fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", tn.Slug, tn.ID, tn.Status, tn.Name)
			}
			return nil
		})
	default:
		fmt.Fprintf(stderr, "unknown tenant command: %s\n", args[0])
		return 2
	}
}

func runApproveCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	slug := fs.String("tenant", "", "tenant slug")
	doPush := fs.Bool("push", false, "push to the ERP dropzone after approving")
	key := fs.String("key", "", "idempotency key for the push")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *slug == "" || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: orderflowd approve -tenant <slug> [-push] [-key <key>] <draft-id>")
		return 2
	}
	draftID := fs.Arg(0)

	return withApp(stderr, func(ctx context.Context, a *app) error {
		tctx, err := tenantCtx(ctx, a, *slug)
		if err != nil {
			return err
		}
		svc, err := a.pushServiceFor(*slug)
		if err != nil {
			return err
		}
		d, err := svc.Approve(tctx, draftID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "draft %s approved by %s\n", d.ID, d.ApprovedBy)

		if *doPush {
			export, err := svc.Push(tctx, draftID, *key)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "exported %s\n", export.Filename)
		}
		return nil
	})
}

func runRetryCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	fs.SetOutput(stderr)
	slug := fs.String("tenant", "", "tenant slug")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *slug == "" || fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: orderflowd retry -tenant <slug> <document-id>")
		return 2
	}
	documentID := fs.Arg(0)

	return withApp(stderr, func(ctx context.Context, a *app) error {
		tctx, err := tenantCtx(ctx, a, *slug)
		if err != nil {
			return err
		}
		// Force bypasses the LLM trigger rule but not the budget gate.
		if err := a.pipelineFor(*slug).Process(tctx, pipeline.Job{DocumentID: documentID, Force: true}); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "document %s reprocessed\n", documentID)
		return nil
	})
}

func runReindexCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
	fs.SetOutput(stderr)
	slug := fs.String("tenant", "", "tenant slug")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *slug == "" {
		fmt.Fprintln(stderr, "usage: orderflowd reindex -tenant <slug>")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) error {
		if a.vectors == nil || a.embedder == nil {
			return fmt.Errorf("reindex needs EMBEDDING_DSN and LLM_API_KEY configured")
		}
		tctx, err := tenantCtx(ctx, a, *slug)
		if err != nil {
			return err
		}
		report, err := pipeline.NewIndexer(a.catalog, a.vectors, a.embedder).ReindexProducts(tctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "products %d, embedded %d, skipped %d, failed %d\n",
			report.Total, report.Embedded, report.Skipped, report.Failed)
		return nil
	})
}
