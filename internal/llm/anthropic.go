package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// anthropicModels is the static catalogue; Anthropic has no public
// list endpoint usable with a bare API key.
var anthropicModels = []string{
	"claude-sonnet-4-20250514",
	"claude-opus-4-20250514",
	"claude-3-7-sonnet-20250219",
	"claude-3-5-sonnet-20241022",
	"claude-3-5-haiku-20241022",
	"claude-3-haiku-20240307",
}

// anthropicClient speaks the Anthropic Messages dialect. System
// messages are hoisted into the top-level system field; the path
// includes /v1, so the configured base URL must not.
type anthropicClient struct {
	core
}

func newAnthropicClient(c core) *anthropicClient {
	if c.baseURL == "" {
		c.baseURL = "https://api.anthropic.com"
	}
	return &anthropicClient{core: c}
}

// Chat posts to {base}/v1/messages and concatenates the text blocks of
// the reply.
func (p *anthropicClient) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	model := p.resolveModel(opts)
	payload := p.buildRequest(messages, model, opts)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	start := time.Now()
	entry := p.newCallLog(model, agentIDOf(opts), string(data), start)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	p.setHeaders(req)

	body, callErr := p.do(req, anthropicAPIMessage)
	if callErr != nil {
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}

	var result anthropicResponse
	if err := json.Unmarshal(body, &result); err != nil {
		callErr = parseError(string(p.protocol), fmt.Errorf("decode response: %w", err))
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	res := &Response{
		Content:      text.String(),
		Model:        result.Model,
		FinishReason: result.StopReason,
		Usage: Usage{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
		},
	}
	if res.Model == "" {
		res.Model = model
	}
	p.finishCall(ctx, entry, start, body, res, nil)
	return res, nil
}

func (p *anthropicClient) buildRequest(messages []Message, model string, opts *ChatOptions) anthropicRequest {
	payload := anthropicRequest{Model: model, MaxTokens: 4096}
	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		payload.Messages = append(payload.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	payload.System = strings.Join(system, "\n\n")
	if opts != nil {
		payload.Temperature = opts.Temperature
		if opts.MaxTokens > 0 {
			payload.MaxTokens = opts.MaxTokens
		}
	}
	return payload
}

// ListModels returns the static catalogue.
func (p *anthropicClient) ListModels(ctx context.Context) ([]string, error) {
	out := make([]string, len(anthropicModels))
	copy(out, anthropicModels)
	return out, nil
}

// Ping sends a one-token message; Anthropic has no lightweight health
// endpoint.
func (p *anthropicClient) Ping(ctx context.Context) error {
	payload := anthropicRequest{
		Model:     p.resolveModel(nil),
		MaxTokens: 1,
		Messages:  []anthropicMessage{{Role: "user", Content: "hi"}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return err
	}
	p.setHeaders(req)
	_, callErr := p.do(req, anthropicAPIMessage)
	if callErr != nil {
		return callErr
	}
	return nil
}

func (p *anthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

// ── Wire Types ──

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicAPIMessage extracts the error text from an Anthropic error body.
func anthropicAPIMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Error.Message
	}
	return ""
}

var _ Client = (*anthropicClient)(nil)
