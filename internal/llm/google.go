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

// googleClient speaks the Gemini generateContent dialect. The key
// travels in the query string, roles are user/model, and the system
// prompt becomes a systemInstruction block.
type googleClient struct {
	core
}

func newGoogleClient(c core) *googleClient {
	if c.baseURL == "" {
		c.baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &googleClient{core: c}
}

// Chat posts to {base}/models/{model}:generateContent and concatenates
// the parts of candidates[0].
func (p *googleClient) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	model := p.resolveModel(opts)
	payload := p.buildRequest(messages, opts)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	start := time.Now()
	entry := p.newCallLog(model, agentIDOf(opts), string(data), start)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, callErr := p.do(req, googleAPIMessage)
	if callErr != nil {
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}

	var result googleResponse
	if err := json.Unmarshal(body, &result); err != nil {
		callErr = parseError(string(p.protocol), fmt.Errorf("decode response: %w", err))
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}
	if len(result.Candidates) == 0 {
		callErr = parseError(string(p.protocol), fmt.Errorf("no candidates in response"))
		p.finishCall(ctx, entry, start, body, nil, callErr)
		return nil, callErr
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	res := &Response{
		Content:      text.String(),
		Model:        model,
		FinishReason: result.Candidates[0].FinishReason,
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
		},
	}
	p.finishCall(ctx, entry, start, body, res, nil)
	return res, nil
}

func (p *googleClient) buildRequest(messages []Message, opts *ChatOptions) googleRequest {
	var payload googleRequest
	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		payload.Contents = append(payload.Contents, googleContent{
			Role:  role,
			Parts: []googlePart{{Text: m.Content}},
		})
	}
	if len(system) > 0 {
		payload.SystemInstruction = &googleContent{Parts: []googlePart{{Text: strings.Join(system, "\n\n")}}}
	}
	if opts != nil && (opts.Temperature > 0 || opts.MaxTokens > 0) {
		payload.GenerationConfig = &googleGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		}
	}
	return payload
}

// ListModels fetches {base}/models and strips the "models/" prefix.
func (p *googleClient) ListModels(ctx context.Context) ([]string, error) {
	url := fmt.Sprintf("%s/models?key=%s", p.baseURL, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	body, callErr := p.do(req, googleAPIMessage)
	if callErr != nil {
		return nil, callErr
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, parseError(string(p.protocol), fmt.Errorf("decode models: %w", err))
	}
	ids := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

// Ping verifies the key by listing models.
func (p *googleClient) Ping(ctx context.Context) error {
	_, err := p.ListModels(ctx)
	return err
}

// ── Wire Types ──

type googleRequest struct {
	Contents          []googleContent         `json:"contents"`
	SystemInstruction *googleContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// googleAPIMessage extracts the error text from a Google error body.
func googleAPIMessage(body []byte) string {
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

var _ Client = (*googleClient)(nil)
