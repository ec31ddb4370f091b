package models

import "time"

// LLMCallStatus is the outcome of one LLM round-trip.
type LLMCallStatus string

const (
	LLMCallSuccess LLMCallStatus = "success"
	LLMCallError   LLMCallStatus = "error"
)

// LLMLog records exactly one LLM round-trip. Written once, never mutated.
// The request body is the wire JSON sent to the provider; the response
// body is the raw reply. Failed replies are truncated before storage.
type LLMLog struct {
	ID           int64         `json:"id"`
	ProviderID   string        `json:"provider_id"`
	ModelName    string        `json:"model_name"`
	AgentID      *string       `json:"agent_id,omitempty"`
	RequestBody  string        `json:"request_body"`
	ResponseBody string        `json:"response_body,omitempty"`
	DurationMS   int64         `json:"duration_ms"`
	Status       LLMCallStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	TokensIn     int           `json:"tokens_in,omitempty"`
	TokensOut    int           `json:"tokens_out,omitempty"`
	RequestTime  time.Time     `json:"request_time"`
}
