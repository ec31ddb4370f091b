// Package llm implements a uniform chat client over the three LLM wire
// dialects the system supports: OpenAI chat-completions, Anthropic
// messages and Google generateContent. A client is constructed from a
// provider row and records exactly one call log per round-trip,
// successful or not. The client never retries; retry policy belongs to
// the scheduler.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/quantfleet/ashare/pkg/logger"
	"github.com/quantfleet/ashare/pkg/models"
)

// Common construction errors.
var (
	ErrNoAPIKey        = errors.New("llm: API key not configured")
	ErrUnknownProtocol = errors.New("llm: unknown protocol")
)

// DefaultTimeout bounds one LLM round-trip unless the provider row or
// the caller's context says otherwise.
const DefaultTimeout = 60 * time.Second

// errorBodyCap limits how much of a failed reply is kept in the call log.
const errorBodyCap = 2048

// Role is the author of one conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system prompt message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage creates a user message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// ChatOptions tunes a single chat request. The zero value uses the
// provider's default model with no sampling overrides.
type ChatOptions struct {
	Model       string
	Temperature float64 // forwarded when > 0
	MaxTokens   int     // forwarded when > 0
	AgentID     *string // attributed on the call log, not sent on the wire
}

// Usage tracks token consumption reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is a completed chat reply.
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"latency"`
	LogID        int64         `json:"log_id,omitempty"` // LLMLog row for this call, 0 if unrecorded
}

// LogSink receives one LLMLog per call. Implementations must tolerate
// concurrent appends.
type LogSink interface {
	AppendLLMLog(ctx context.Context, entry *models.LLMLog) (int64, error)
}

// Client is the dialect-independent chat surface.
type Client interface {
	// ProviderID identifies the provider row this client was built from.
	ProviderID() string

	// Protocol returns the wire dialect.
	Protocol() models.Protocol

	// Chat sends a conversation and returns the reply, or a typed *Error.
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)

	// ListModels returns the provider's model catalogue.
	ListModels(ctx context.Context) ([]string, error)

	// Ping verifies the endpoint is reachable and the key is accepted.
	Ping(ctx context.Context) error
}

// Option configures client construction.
type Option func(*clientConfig)

type clientConfig struct {
	httpClient *http.Client
	timeout    time.Duration
	sink       LogSink
}

// WithHTTPClient sets a custom HTTP client (tests, proxies).
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) { cfg.timeout = d }
}

// WithLogSink wires the call-log destination.
func WithLogSink(s LogSink) Option {
	return func(cfg *clientConfig) { cfg.sink = s }
}

// NewClient builds a client for the provider row, dispatching on its
// protocol.
func NewClient(p *models.Provider, opts ...Option) (Client, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrNoAPIKey, p.ID)
	}
	if !models.KnownProtocol(p.Protocol) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, p.Protocol)
	}

	cfg := clientConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: cfg.timeout}
	}

	c := core{
		providerID: p.ID,
		protocol:   p.Protocol,
		apiKey:     p.APIKey,
		baseURL:    strings.TrimRight(p.BaseURL, "/"),
		model:      p.Model,
		client:     cfg.httpClient,
		sink:       cfg.sink,
	}

	switch p.Protocol {
	case models.ProtocolOpenAI:
		return newOpenAIClient(c), nil
	case models.ProtocolAnthropic:
		return newAnthropicClient(c), nil
	default:
		return newGoogleClient(c), nil
	}
}

// ════════════════════════════════════════════════════════════════════
// Shared dialect plumbing
// ════════════════════════════════════════════════════════════════════

// core carries the per-provider state shared by all dialects.
type core struct {
	providerID string
	protocol   models.Protocol
	apiKey     string
	baseURL    string
	model      string
	client     *http.Client
	sink       LogSink
}

func (c *core) ProviderID() string        { return c.providerID }
func (c *core) Protocol() models.Protocol { return c.protocol }

func (c *core) resolveModel(opts *ChatOptions) string {
	if opts != nil && opts.Model != "" {
		return opts.Model
	}
	return c.model
}

func agentIDOf(opts *ChatOptions) *string {
	if opts == nil {
		return nil
	}
	return opts.AgentID
}

// do posts data and returns the reply body. Transport faults and
// non-2xx statuses come back as *Error; apiMessage extracts the
// provider's own error text from an error body.
func (c *core) do(req *http.Request, apiMessage func(body []byte) string) ([]byte, *Error) {
	protocol := string(c.protocol)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(protocol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyCap))
		msg := apiMessage(body)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return body, statusError(protocol, resp, msg)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(protocol, err)
	}
	return body, nil
}

// record writes the one call-log row for a finished round-trip and
// returns its id. Uses a detached context so the row survives the
// caller's deadline expiring mid-call.
func (c *core) record(ctx context.Context, entry *models.LLMLog) int64 {
	if c.sink == nil {
		return 0
	}
	id, err := c.sink.AppendLLMLog(context.WithoutCancel(ctx), entry)
	if err != nil {
		logger.WithError(err).WithField("provider_id", c.providerID).Warn("llm: call log not persisted")
		return 0
	}
	return id
}

// newCallLog starts the log entry for one round-trip.
func (c *core) newCallLog(model string, agentID *string, requestBody string, start time.Time) *models.LLMLog {
	return &models.LLMLog{
		ProviderID:  c.providerID,
		ModelName:   model,
		AgentID:     agentID,
		RequestBody: requestBody,
		RequestTime: start,
	}
}

// finishCall completes the entry and persists it. On failure the reply
// body is truncated; on success it is kept whole. Returns the log id
// and stamps it into res or callErr so callers can link back.
func (c *core) finishCall(ctx context.Context, entry *models.LLMLog, start time.Time, body []byte, res *Response, callErr *Error) {
	entry.DurationMS = time.Since(start).Milliseconds()

	if callErr != nil {
		entry.Status = models.LLMCallError
		entry.ErrorMessage = callErr.Error()
		entry.ResponseBody = truncate(string(body), errorBodyCap)
		callErr.LogID = c.record(ctx, entry)
		return
	}

	entry.Status = models.LLMCallSuccess
	entry.ResponseBody = string(body)
	entry.TokensIn = res.Usage.PromptTokens
	entry.TokensOut = res.Usage.CompletionTokens
	res.LogID = c.record(ctx, entry)
	res.Latency = time.Since(start)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// ════════════════════════════════════════════════════════════════════
// Registry
// ════════════════════════════════════════════════════════════════════

// Registry pools clients by provider id so HTTP connections are reused
// across decision cycles. A provider row update invalidates its entry
// via the UpdatedAt check.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]registryEntry
	opts    []Option
}

type registryEntry struct {
	client    Client
	updatedAt time.Time
}

// NewRegistry creates a client pool. opts apply to every constructed
// client.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		clients: make(map[string]registryEntry),
		opts:    opts,
	}
}

// For returns the pooled client for the provider row, building one on
// first use or after the row changed.
func (r *Registry) For(p *models.Provider) (Client, error) {
	r.mu.RLock()
	entry, ok := r.clients[p.ID]
	r.mu.RUnlock()
	if ok && entry.updatedAt.Equal(p.UpdatedAt) {
		return entry.client, nil
	}

	client, err := NewClient(p, r.opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.clients[p.ID] = registryEntry{client: client, updatedAt: p.UpdatedAt}
	r.mu.Unlock()
	return client, nil
}

// Invalidate drops the pooled client for a provider id.
func (r *Registry) Invalidate(providerID string) {
	r.mu.Lock()
	delete(r.clients, providerID)
	r.mu.Unlock()
}
