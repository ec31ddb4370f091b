// Package models defines the core data structures shared across the
// A-share trading agent simulator.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgentStatus represents the lifecycle state of a trading agent.
// Agents are never hard-deleted; StatusDeleted is a soft flag.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentPaused  AgentStatus = "paused"
	AgentDeleted AgentStatus = "deleted"
)

// ScheduleType enumerates the built-in agent scheduling presets.
type ScheduleType string

const (
	ScheduleDaily    ScheduleType = "daily"
	ScheduleHourly   ScheduleType = "hourly"
	ScheduleEvery30  ScheduleType = "every_30_min"
	ScheduleEvery15  ScheduleType = "every_15_min"
	ScheduleManual   ScheduleType = "manual"
)

// Agent is an autonomous LLM-driven trading agent. Each agent owns exactly
// one portfolio and consults one LLM provider for its decisions.
type Agent struct {
	ID           string          `json:"agent_id"`
	Name         string          `json:"name"`
	InitialCash  decimal.Decimal `json:"initial_cash"`
	ProviderID   string          `json:"provider_id"`
	ModelName    string          `json:"model_name"`
	TemplateID   *string         `json:"template_id,omitempty"`
	ScheduleType ScheduleType    `json:"schedule_type"`
	Status       AgentStatus     `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsActive reports whether the agent may run decision cycles.
func (a *Agent) IsActive() bool { return a.Status == AgentActive }

// DefaultInitialCash is the starting cash for new agents.
var DefaultInitialCash = decimal.RequireFromString("20000.00")
