package models

import "time"

// Protocol identifies the wire dialect an LLM provider speaks.
type Protocol string

const (
	ProtocolOpenAI    Protocol = "openai"
	ProtocolAnthropic Protocol = "anthropic"
	ProtocolGoogle    Protocol = "google"
)

// KnownProtocol reports whether p is one of the supported dialects.
func KnownProtocol(p Protocol) bool {
	switch p {
	case ProtocolOpenAI, ProtocolAnthropic, ProtocolGoogle:
		return true
	}
	return false
}

// Provider is a configured LLM endpoint row. Agents reference providers by
// id; a disabled provider blocks every agent pointing at it.
type Provider struct {
	ID        string    `json:"provider_id"`
	Name      string    `json:"name"`
	Protocol  Protocol  `json:"protocol"`
	BaseURL   string    `json:"base_url"`
	APIKey    string    `json:"-"` // never serialized to clients
	Model     string    `json:"model,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
