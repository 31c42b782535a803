// Package llm implements the prompted extraction path: provider port,
// versioned prompt templates, strict-schema output parsing with one repair
// attempt, and hallucination guards.
package llm

import (
	"context"
	"time"
)

// Default provider deadlines.
const (
	TextTimeout   = 40 * time.Second
	VisionTimeout = 60 * time.Second
)

// FewShotExample pairs a prior document excerpt with its corrected output.
// Examples are restricted to the same tenant and layout fingerprint.
type FewShotExample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// PromptContext carries everything a template needs beyond the document.
type PromptContext struct {
	TemplateID string
	TenantSlug string
	FewShot    []FewShotExample // last 3, same (tenant, layout fingerprint)
}

// Result is one provider invocation's outcome.
type Result struct {
	RawOutput    string   `json:"raw_output"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	LatencyMS    int64    `json:"latency_ms"`
	CostMicros   int64    `json:"cost_micros"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Provider is the LLM provider port.
type Provider interface {
	ExtractText(ctx context.Context, text string, pctx PromptContext) (*Result, error)
	ExtractVision(ctx context.Context, pageImages [][]byte, pctx PromptContext) (*Result, error)
	RepairJSON(ctx context.Context, previousOutput, parseError string, pctx PromptContext) (*Result, error)
}

// Embedder is the embedding provider port. The vector dimension must equal
// the tenant's configured dimension or the call fails before dispatch.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}
