package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// OpenAIClient talks to an OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client

	// Prices in micro-currency per 1M tokens, for cost accounting.
	inputPriceMicros  int64
	outputPriceMicros int64
}

// NewOpenAIClient builds a provider client. baseURL "" means the public
// OpenAI endpoint.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		baseURL:           baseURL,
		apiKey:            apiKey,
		model:             model,
		http:              &http.Client{}, // deadlines come from ctx
		inputPriceMicros:  2_500_000,
		outputPriceMicros: 10_000_000,
	}
}

type chatContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []chatContent
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ExtractText runs pdf_extract_text_v1 against the text layer.
func (c *OpenAIClient) ExtractText(ctx context.Context, text string, pctx PromptContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, TextTimeout)
	defer cancel()
	return c.chat(ctx, []chatMessage{
		{Role: "user", Content: BuildTextPrompt(text, pctx)},
	})
}

// ExtractVision runs pdf_extract_vision_v1 with rendered page images.
func (c *OpenAIClient) ExtractVision(ctx context.Context, pageImages [][]byte, pctx PromptContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, VisionTimeout)
	defer cancel()

	parts := []chatContent{{Type: "text", Text: BuildVisionPrompt(pctx)}}
	for _, img := range pageImages {
		url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
		part := chatContent{Type: "image_url"}
		part.ImageURL = &struct {
			URL string `json:"url"`
		}{URL: url}
		parts = append(parts, part)
	}
	return c.chat(ctx, []chatMessage{{Role: "user", Content: parts}})
}

// RepairJSON runs json_repair_v1. This is a separate provider call and is
// charged and logged as one.
func (c *OpenAIClient) RepairJSON(ctx context.Context, previousOutput, parseError string, pctx PromptContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, TextTimeout)
	defer cancel()
	return c.chat(ctx, []chatMessage{
		{Role: "user", Content: BuildRepairPrompt(previousOutput, parseError)},
	})
}

func (c *OpenAIClient) chat(ctx context.Context, msgs []chatMessage) (*Result, error) {
	reqBody := chatRequest{Model: c.model, Messages: msgs, Temperature: 0}
	reqBody.ResponseFormat = &struct {
		Type string `json:"type"`
	}{Type: "json_object"}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("llm: %w: %v", model.ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("llm: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, model.ErrProviderRateLimit
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("llm: provider status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices in response")
	}

	res := &Result{
		RawOutput:    cr.Choices[0].Message.Content,
		Provider:     "openai",
		Model:        c.model,
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
		LatencyMS:    time.Since(start).Milliseconds(),
	}
	res.CostMicros = c.cost(res.InputTokens, res.OutputTokens)
	return res, nil
}

func (c *OpenAIClient) cost(inputTokens, outputTokens int) int64 {
	in := int64(inputTokens) * c.inputPriceMicros / 1_000_000
	out := int64(outputTokens) * c.outputPriceMicros / 1_000_000
	return in + out
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dim     int
	http    *http.Client
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, dim int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIEmbedder{baseURL: baseURL, apiKey: apiKey, model: model, dim: dim, http: &http.Client{Timeout: 30 * time.Second}}
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim }
func (e *OpenAIEmbedder) Model() string  { return e.model }

// Embed returns the vector for one text. A dimension mismatch from the
// provider is an error, never a silent truncation.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	jsonBody, err := json.Marshal(embeddingRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("embed: %w: %v", model.ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("embed: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, model.ErrProviderRateLimit
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("embed: provider status %d", resp.StatusCode)
	}

	var er embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(er.Data) == 0 {
		return nil, fmt.Errorf("embed: empty data in response")
	}
	vec := er.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("embed: dimension %d, want %d", len(vec), e.dim)
	}
	return vec, nil
}
