// Package api — runtime status endpoint.
package api

import (
	"net/http"

	"github.com/quantfleet/ashare/pkg/utils"
)

// SystemInfo is the payload of GET /api/v1/system: a one-call snapshot
// for the dashboard header. Provider keys never appear here; they are
// managed through the provider endpoints and masked even there.
type SystemInfo struct {
	Version      string `json:"version"`
	TimeCST      string `json:"time_cst"`
	MarketStatus string `json:"market_status"`
	TradingDay   bool   `json:"is_trading_day"`
	LiveMode     bool   `json:"live_mode"`
	DatabasePath string `json:"database_path"`
	Agents       int    `json:"agents"`
	ActiveAgents int    `json:"active_agents"`
	Providers    int    `json:"providers"`
	Tasks        int    `json:"tasks"`
	WSClients    int    `json:"ws_clients"`
}

// handleSystem reports runtime state. Row counts are best effort; a
// briefly unreadable store should not fail the whole snapshot.
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := utils.NowCST()

	info := SystemInfo{
		Version:      Version,
		TimeCST:      utils.FormatDateTimeCST(now),
		MarketStatus: utils.MarketStatusAt(now),
		TradingDay:   utils.IsTradingDay(now),
		LiveMode:     s.cfg.Trading.LiveMode,
		DatabasePath: s.cfg.Database.Path,
		WSClients:    s.wsHub.ClientCount(),
	}

	if agents, err := s.store.ListAgents(ctx); err == nil {
		info.Agents = len(agents)
		for _, a := range agents {
			if a.IsActive() {
				info.ActiveAgents++
			}
		}
	}
	if provs, err := s.store.ListProviders(ctx); err == nil {
		info.Providers = len(provs)
	}
	if tasks, err := s.sched.ListTasks(ctx); err == nil {
		info.Tasks = len(tasks)
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})
}
