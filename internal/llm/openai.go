package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// openaiClient speaks the OpenAI chat-completions dialect. Most
// OpenAI-compatible gateways (DeepSeek, Qwen, Moonshot, local relays)
// accept this shape, so it is the workhorse protocol for domestic
// providers.
type openaiClient struct {
	core
}

func newOpenAIClient(c core) *openaiClient {
	if c.baseURL == "" {
		c.baseURL = "https://api.openai.com/v1"
	}
	return &openaiClient{core: c}
}

// Chat posts to {base}/chat/completions and returns choices[0].
func (p *openaiClient) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	model := p.resolveModel(opts)
	payload := openaiChatRequest{Model: model}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}
	if opts != nil {
		payload.Temperature = opts.Temperature
		payload.MaxTokens = opts.MaxTokens
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	start := time.Now()
	entry := p.newCallLog(model, agentIDOf(opts), string(data), start)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	p.setHeaders(req)

	body, callErr := p.do(req, openaiAPIMessage)
	if callErr != nil {
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}

	var result openaiChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		callErr = parseError(string(p.protocol), fmt.Errorf("decode response: %w", err))
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}
	if len(result.Choices) == 0 {
		callErr = parseError(string(p.protocol), fmt.Errorf("no choices in response"))
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}

	res := &Response{
		Content:      result.Choices[0].Message.Content,
		Model:        result.Model,
		FinishReason: result.Choices[0].FinishReason,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
		},
	}
	if res.Model == "" {
		res.Model = model
	}
	p.finishCall(ctx, entry, start, body, res, nil)
	return res, nil
}

// ListModels fetches {base}/models and returns the model ids.
func (p *openaiClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(req)

	body, callErr := p.do(req, openaiAPIMessage)
	if callErr != nil {
		return nil, callErr
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, parseError(string(p.protocol), fmt.Errorf("decode models: %w", err))
	}
	ids := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Ping verifies the endpoint accepts the key.
func (p *openaiClient) Ping(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

func (p *openaiClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

// ── Wire Types ──

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// openaiAPIMessage extracts the error text from an OpenAI error body.
func openaiAPIMessage(body []byte) string {
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

var _ Client = (*openaiClient)(nil)
