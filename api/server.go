// Package api exposes the simulator over HTTP: a JSON REST surface
// under /api/v1, a WebSocket event stream at /api/v1/ws, and the
// embedded dashboard on /.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantfleet/ashare/internal/agent"
	"github.com/quantfleet/ashare/internal/config"
	"github.com/quantfleet/ashare/internal/llm"
	"github.com/quantfleet/ashare/internal/market"
	"github.com/quantfleet/ashare/internal/prompt"
	"github.com/quantfleet/ashare/internal/report"
	"github.com/quantfleet/ashare/internal/scheduler"
	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/logger"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
	"github.com/quantfleet/ashare/web"
)

// Version is stamped at build time and reported by the health endpoint.
var Version = "dev"

// Server hosts the REST API, the WebSocket hub and the embedded UI.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	store   *store.Store
	agents  *agent.Service
	sched   *scheduler.Scheduler
	market  *market.Service
	prompts *prompt.Service
	reports *report.Generator
	clients *llm.Registry
	wsHub   *WSHub
	log     *logrus.Logger
	serveUI bool
}

// Config wires a Server. Cfg, Store and the four services are
// required; Hub may be shared with the agent service and scheduler so
// cycle events reach connected dashboards.
type Config struct {
	Cfg       *config.Config
	Store     *store.Store
	Agents    *agent.Service
	Scheduler *scheduler.Scheduler
	Market    *market.Service
	Prompts   *prompt.Service
	Reports   *report.Generator
	Clients   *llm.Registry
	Hub       *WSHub
	Logger    *logrus.Logger
}

// NewServer builds the HTTP server and its router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Cfg == nil || cfg.Store == nil {
		return nil, errors.New("api: config and store are required")
	}
	if cfg.Agents == nil || cfg.Scheduler == nil || cfg.Market == nil || cfg.Prompts == nil {
		return nil, errors.New("api: agent, scheduler, market and prompt services are required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewWSHub()
	}
	if cfg.Reports == nil {
		cfg.Reports = report.NewGenerator(cfg.Store, cfg.Market)
	}
	if cfg.Clients == nil {
		cfg.Clients = llm.NewRegistry(llm.WithLogSink(cfg.Store))
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.L()
	}

	srv := &Server{
		cfg:     cfg.Cfg,
		store:   cfg.Store,
		agents:  cfg.Agents,
		sched:   cfg.Scheduler,
		market:  cfg.Market,
		prompts: cfg.Prompts,
		reports: cfg.Reports,
		clients: cfg.Clients,
		wsHub:   cfg.Hub,
		log:     cfg.Logger,
		serveUI: true,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// SetServeUI toggles serving the embedded dashboard and rebuilds the
// router.
func (s *Server) SetServeUI(serve bool) {
	s.serveUI = serve
	s.router = s.buildRouter()
}

// Hub returns the WebSocket hub; it satisfies agent.Notifier.
func (s *Server) Hub() *WSHub { return s.wsHub }

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router { return s.router }

// ListenAndServe starts the HTTP server and blocks until SIGINT or
// SIGTERM, then drains in-flight requests for up to 15 seconds.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.wsHub.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		s.log.WithField("addr", addr).Info("api server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Fatal("api server failed")
		}
	}()

	<-done
	s.log.Info("shutting down api server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures middleware and the full route table.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if len(s.cfg.Server.CORSOrigins) > 0 {
		origins = s.cfg.Server.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		// Agents
		r.Get("/agents", s.handleListAgents)
		r.Post("/agents", s.handleCreateAgent)
		r.Get("/agents/{id}", s.handleGetAgent)
		r.Put("/agents/{id}", s.handleUpdateAgent)
		r.Delete("/agents/{id}", s.handleDeleteAgent)
		r.Post("/agents/{id}/run", s.handleRunAgent)
		r.Get("/agents/{id}/portfolio", s.handleAgentPortfolio)
		r.Get("/agents/{id}/metrics", s.handleAgentMetrics)
		r.Get("/agents/{id}/orders", s.handleAgentOrders)
		r.Get("/agents/{id}/transactions", s.handleAgentTransactions)
		r.Get("/agents/{id}/decision-logs", s.handleAgentDecisionLogs)

		// LLM providers
		r.Get("/providers", s.handleListProviders)
		r.Post("/providers", s.handleCreateProvider)
		r.Get("/providers/{id}", s.handleGetProvider)
		r.Put("/providers/{id}", s.handleUpdateProvider)
		r.Delete("/providers/{id}", s.handleDeleteProvider)
		r.Post("/providers/{id}/test", s.handleTestProvider)

		// Prompt templates
		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates", s.handleCreateTemplate)
		r.Get("/templates/placeholders", s.handlePlaceholders)
		r.Post("/templates/render", s.handleRenderTemplate)
		r.Get("/templates/{id}", s.handleGetTemplate)
		r.Put("/templates/{id}", s.handleUpdateTemplate)
		r.Delete("/templates/{id}", s.handleDeleteTemplate)

		// Scheduled tasks
		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Put("/tasks/{id}", s.handleUpdateTask)
		r.Delete("/tasks/{id}", s.handleDeleteTask)
		r.Post("/tasks/{id}/trigger", s.handleTriggerTask)
		r.Post("/tasks/{id}/pause", s.handlePauseTask)
		r.Post("/tasks/{id}/resume", s.handleResumeTask)
		r.Get("/tasks/{id}/runs", s.handleTaskRuns)
		r.Get("/tasks/{id}/stats", s.handleTaskStats)
		r.Post("/cron/validate", s.handleValidateCron)

		// Market data
		r.Get("/quotes/{code}", s.handleLatestQuote)
		r.Get("/quotes/{code}/history", s.handleQuoteHistory)
		r.Get("/market/hot", s.handleHotStocks)
		r.Get("/market/summary", s.handleMarketSummary)
		r.Get("/market/news", s.handleMarketNews)
		r.Post("/market/sync", s.handleMarketSync)

		// Call logs and reporting
		r.Get("/llm-logs", s.handleLLMLogs)
		r.Get("/llm-logs/{id}", s.handleLLMLogByID)
		r.Get("/report", s.handleReport)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	if s.serveUI {
		s.mountSPA(r, web.DistFS())
	}

	return r
}

// mountSPA serves the embedded dashboard. Assets are cached; every
// unknown path falls back to index.html.
func (s *Server) mountSPA(r chi.Router, distFS fs.FS) {
	fileServer := http.FileServerFS(distFS)

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		rPath := strings.TrimPrefix(r.URL.Path, "/")
		if rPath == "" {
			rPath = "index.html"
		}

		f, err := distFS.Open(rPath)
		if err != nil {
			serveIndexHTML(w, distFS)
			return
		}
		f.Close()

		if strings.HasPrefix(rPath, "assets/") {
			w.Header().Set("Cache-Control", "public, max-age=86400")
		} else if strings.HasSuffix(rPath, ".html") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}

		fileServer.ServeHTTP(w, r)
	})
}

// serveIndexHTML writes the embedded index.html for SPA fallback.
func serveIndexHTML(w http.ResponseWriter, distFS fs.FS) {
	data, err := fs.ReadFile(distFS, "index.html")
	if err != nil {
		http.Error(w, "web UI not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// ════════════════════════════════════════════════════════════════════
// Request / response types
// ════════════════════════════════════════════════════════════════════

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateAgentRequest is the body for POST /api/v1/agents.
type CreateAgentRequest struct {
	Name         string              `json:"name"`
	InitialCash  decimal.Decimal     `json:"initial_cash"`
	ProviderID   string              `json:"provider_id"`
	ModelName    string              `json:"model_name"`
	TemplateID   string              `json:"template_id,omitempty"`
	ScheduleType models.ScheduleType `json:"schedule_type,omitempty"`
}

// UpdateAgentRequest is the body for PUT /api/v1/agents/{id}. Absent
// fields stay unchanged; an empty template_id clears the assignment.
type UpdateAgentRequest struct {
	Name         *string              `json:"name,omitempty"`
	ProviderID   *string              `json:"provider_id,omitempty"`
	ModelName    *string              `json:"model_name,omitempty"`
	TemplateID   *string              `json:"template_id,omitempty"`
	ScheduleType *models.ScheduleType `json:"schedule_type,omitempty"`
	Status       *models.AgentStatus  `json:"status,omitempty"`
}

// CreateProviderRequest is the body for POST /api/v1/providers.
type CreateProviderRequest struct {
	Name     string          `json:"name"`
	Protocol models.Protocol `json:"protocol"`
	BaseURL  string          `json:"base_url,omitempty"`
	APIKey   string          `json:"api_key"`
	Model    string          `json:"model,omitempty"`
	IsActive *bool           `json:"is_active,omitempty"`
}

// UpdateProviderRequest is the body for PUT /api/v1/providers/{id}.
// An absent or empty api_key keeps the stored one.
type UpdateProviderRequest struct {
	Name     *string          `json:"name,omitempty"`
	Protocol *models.Protocol `json:"protocol,omitempty"`
	BaseURL  *string          `json:"base_url,omitempty"`
	APIKey   *string          `json:"api_key,omitempty"`
	Model    *string          `json:"model,omitempty"`
	IsActive *bool            `json:"is_active,omitempty"`
}

// ProviderView is a provider row with the key masked for display.
type ProviderView struct {
	*models.Provider
	APIKeyMasked string `json:"api_key_masked"`
}

// ProviderTestResult is the outcome of POST /providers/{id}/test.
type ProviderTestResult struct {
	OK        bool     `json:"ok"`
	LatencyMS int64    `json:"latency_ms"`
	Models    []string `json:"models,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// TemplateRequest is the body for template create and update.
type TemplateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
}

// RenderRequest is the body for POST /api/v1/templates/render.
type RenderRequest struct {
	Content string `json:"content"`
}

// RenderResult is a template preview rendered against sample data.
// Unrendered lists placeholders the renderer did not recognise.
type RenderResult struct {
	Rendered   string   `json:"rendered"`
	Unrendered []string `json:"unrendered,omitempty"`
}

// CreateTaskRequest is the body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Name           string            `json:"name"`
	CronExpression string            `json:"cron_expression"`
	TaskType       models.TaskType   `json:"task_type,omitempty"`
	AgentIDs       []string          `json:"agent_ids,omitempty"`
	TradingDayOnly bool              `json:"trading_day_only,omitempty"`
	Config         models.TaskConfig `json:"config"`
}

// UpdateTaskRequest is the body for PUT /api/v1/tasks/{id}.
type UpdateTaskRequest struct {
	Name           *string            `json:"name,omitempty"`
	CronExpression *string            `json:"cron_expression,omitempty"`
	TaskType       *models.TaskType   `json:"task_type,omitempty"`
	AgentIDs       []string           `json:"agent_ids,omitempty"`
	TradingDayOnly *bool              `json:"trading_day_only,omitempty"`
	Config         *models.TaskConfig `json:"config,omitempty"`
}

// CronValidateRequest is the body for POST /api/v1/cron/validate.
type CronValidateRequest struct {
	Expression string `json:"expression"`
}

// CronValidateResult reports validity, a readable description and the
// next fire times in exchange time.
type CronValidateResult struct {
	Valid       bool     `json:"valid"`
	Error       string   `json:"error,omitempty"`
	Description string   `json:"description,omitempty"`
	NextRuns    []string `json:"next_runs,omitempty"`
}

// SyncRequest is the body for POST /api/v1/market/sync. Empty codes
// sync the watchlist; days <= 0 lets the service pick the range.
type SyncRequest struct {
	Codes []string `json:"codes,omitempty"`
	Days  int      `json:"days,omitempty"`
}

// ════════════════════════════════════════════════════════════════════
// Health
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status":        "ok",
			"version":       Version,
			"market_status": utils.MarketStatus(),
			"time_cst":      utils.FormatDateTimeCST(utils.NowCST()),
		},
	})
}

// ════════════════════════════════════════════════════════════════════
// Agents
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: agents})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.ProviderID == "" || req.ModelName == "" {
		writeError(w, http.StatusBadRequest, "name, provider_id and model_name are required")
		return
	}
	if err := s.checkRefs(r.Context(), req.ProviderID, req.TemplateID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ag, err := s.agents.Create(r.Context(), agent.CreateParams{
		Name:         req.Name,
		InitialCash:  req.InitialCash,
		ProviderID:   req.ProviderID,
		ModelName:    req.ModelName,
		TemplateID:   req.TemplateID,
		ScheduleType: req.ScheduleType,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: ag})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	ag, err := s.agents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: ag})
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProviderID != nil || req.TemplateID != nil {
		provID, tplID := "", ""
		if req.ProviderID != nil {
			provID = *req.ProviderID
		}
		if req.TemplateID != nil {
			tplID = *req.TemplateID
		}
		if err := s.checkRefs(r.Context(), provID, tplID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ag, err := s.agents.Update(r.Context(), chi.URLParam(r, "id"), agent.UpdateParams{
		Name:         req.Name,
		ProviderID:   req.ProviderID,
		ModelName:    req.ModelName,
		TemplateID:   req.TemplateID,
		ScheduleType: req.ScheduleType,
		Status:       req.Status,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: ag})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.agents.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request deadline so the decision log records
	// the outcome even when the client gives up early.
	ctx := context.WithoutCancel(r.Context())

	res, err := s.agents.RunCycle(ctx, chi.URLParam(r, "id"))
	if err != nil && res == nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
}

func (s *Server) handleAgentPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.agents.Portfolio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: pf})
}

func (s *Server) handleAgentMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.agents.Metrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: m})
}

func (s *Server) handleAgentOrders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.AgentByID(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	page, perPage := pageParams(r)
	orders, err := s.store.OrdersByAgent(r.Context(), id, page, perPage)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: orders})
}

func (s *Server) handleAgentTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.AgentByID(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	page, perPage := pageParams(r)
	txns, err := s.store.TransactionsByAgent(r.Context(), id, page, perPage)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: txns})
}

func (s *Server) handleAgentDecisionLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.AgentByID(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	page, perPage := pageParams(r)
	logs, err := s.store.DecisionLogs(r.Context(), id, page, perPage)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: logs})
}

// checkRefs verifies provider and template ids named in agent bodies.
func (s *Server) checkRefs(ctx context.Context, providerID, templateID string) error {
	if providerID != "" {
		if _, err := s.store.ProviderByID(ctx, providerID); err != nil {
			return fmt.Errorf("unknown provider_id %q", providerID)
		}
	}
	if templateID != "" {
		if _, err := s.prompts.Get(ctx, templateID); err != nil {
			return fmt.Errorf("unknown template_id %q", templateID)
		}
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════
// LLM providers
// ════════════════════════════════════════════════════════════════════

func providerView(p *models.Provider) ProviderView {
	return ProviderView{Provider: p, APIKeyMasked: utils.MaskAPIKey(p.APIKey)}
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	provs, err := s.store.ListProviders(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]ProviderView, 0, len(provs))
	for _, p := range provs {
		views = append(views, providerView(p))
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: views})
}

func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req CreateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "name and api_key are required")
		return
	}
	if !models.KnownProtocol(req.Protocol) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported protocol %q", req.Protocol))
		return
	}

	now := utils.NowCST()
	p := &models.Provider{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Protocol:  req.Protocol,
		BaseURL:   req.BaseURL,
		APIKey:    req.APIKey,
		Model:     req.Model,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if err := s.store.CreateProvider(r.Context(), p); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: providerView(p)})
}

func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.ProviderByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: providerView(p)})
}

func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	var req UpdateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	p, err := s.store.ProviderByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Protocol != nil {
		if !models.KnownProtocol(*req.Protocol) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported protocol %q", *req.Protocol))
			return
		}
		p.Protocol = *req.Protocol
	}
	if req.BaseURL != nil {
		p.BaseURL = *req.BaseURL
	}
	if req.APIKey != nil {
		p.APIKey = *req.APIKey
	}
	if req.Model != nil {
		p.Model = *req.Model
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	if err := s.store.UpdateProvider(r.Context(), p); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.clients.Invalidate(id)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: providerView(p)})
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteProvider(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.clients.Invalidate(id)
	writeJSON(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.ProviderByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	client, err := s.clients.For(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	result := ProviderTestResult{}
	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		result.Error = err.Error()
	} else {
		result.OK = true
		if names, err := client.ListModels(ctx); err == nil {
			result.Models = names
		}
	}
	result.LatencyMS = time.Since(start).Milliseconds()

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

// ════════════════════════════════════════════════════════════════════
// Prompt templates
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.prompts.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: tpls})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl, err := s.prompts.Create(r.Context(), req.Name, req.Description, req.Content)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: tpl})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.prompts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: tpl})
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl, err := s.prompts.Update(r.Context(), chi.URLParam(r, "id"), req.Name, req.Description, req.Content)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: tpl})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.prompts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handlePlaceholders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: prompt.Placeholders})
}

func (s *Server) handleRenderTemplate(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := prompt.Validate(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rendered := prompt.Render(req.Content, sampleContext())
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: RenderResult{
			Rendered:   rendered,
			Unrendered: prompt.Unrendered(rendered),
		},
	})
}

// sampleContext fills placeholders with representative values so the
// template editor can preview layout without a live agent.
func sampleContext() *models.PromptContext {
	now := utils.NowCST()
	return &models.PromptContext{
		AgentName:      "preview-agent",
		Cash:           "¥12,480.50",
		InitialCash:    "¥20,000.00",
		MarketValue:    "¥7,650.00",
		TotalAssets:    "¥20,130.50",
		ReturnRatePct:  "+0.65%",
		PositionsBlock: "002594: 100 shares @ ¥76.500, bought 2024-05-20",
		PositionCount:  1,
		MarketSummary:  "SSE 3050.12 (+0.40%) | SZSE 9820.44 (-0.21%)",
		HotStocks:      "600519 ¥1688.00 (+2.10%)",
		PositionQuotes: "002594: ¥78.20 (+2.22%)",
		TechnicalNotes: "002594: above MA20, RSI 58",
		SentimentScore: "0.25",
		SentimentLabel: "bullish",
		NewsHeadlines:  "- Index futures edge higher ahead of policy meeting",
		CurrentTime:    utils.FormatDateTimeCST(now),
		CurrentDate:    utils.FormatDateCST(now),
		CurrentWeekday: now.Weekday().String(),
		IsTradingDay:   utils.IsTradingDay(now),
	}
}

// ════════════════════════════════════════════════════════════════════
// Scheduled tasks
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.sched.ListTasks(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := s.sched.CreateTask(r.Context(), scheduler.TaskParams{
		Name:           req.Name,
		CronExpression: req.CronExpression,
		TaskType:       req.TaskType,
		TargetAgentIDs: req.AgentIDs,
		TradingDayOnly: req.TradingDayOnly,
		Config:         req.Config,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: t})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.sched.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: t})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := s.sched.UpdateTask(r.Context(), chi.URLParam(r, "id"), scheduler.UpdateTaskParams{
		Name:           req.Name,
		CronExpression: req.CronExpression,
		TaskType:       req.TaskType,
		TargetAgentIDs: req.AgentIDs,
		TradingDayOnly: req.TradingDayOnly,
		Config:         req.Config,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: t})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true})
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	// Manual runs finish even if the client disconnects mid-run.
	ctx := context.WithoutCancel(r.Context())

	run, err := s.sched.Trigger(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: run})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.sched.PauseTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: t})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.sched.ResumeTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: t})
}

func (s *Server) handleTaskRuns(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	runs, err := s.sched.Runs(r.Context(), chi.URLParam(r, "id"), page, perPage)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: runs})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sched.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: stats})
}

func (s *Server) handleValidateCron(w http.ResponseWriter, r *http.Request) {
	var req CronValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Expression == "" {
		writeError(w, http.StatusBadRequest, "expression is required")
		return
	}

	result := CronValidateResult{}
	if err := scheduler.ValidateCron(req.Expression); err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
		result.Description, _ = scheduler.DescribeCron(req.Expression)
		if times, err := scheduler.NextRunTimes(req.Expression, utils.NowCST(), 5); err == nil {
			for _, t := range times {
				result.NextRuns = append(result.NextRuns, utils.FormatDateTimeCST(t))
			}
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: result})
}

// ════════════════════════════════════════════════════════════════════
// Market data
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleLatestQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.market.GetLatestQuote(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: q})
}

func (s *Server) handleQuoteHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	quotes, err := s.market.GetQuoteHistory(r.Context(), code, from, to)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: quotes})
}

func (s *Server) handleHotStocks(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = s.cfg.Market.HotStockLimit
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	hot, err := s.market.GetHotStocks(ctx, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: hot})
}

func (s *Server) handleMarketSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	summary, err := s.market.GetMarketSummary(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: summary})
}

func (s *Server) handleMarketNews(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = s.cfg.Market.NewsLimit
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	news, err := s.market.Headlines(ctx, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: news})
}

func (s *Server) handleMarketSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Backfills may outlive the request deadline.
	ctx := context.WithoutCancel(r.Context())

	res, err := s.market.SyncQuotes(ctx, req.Codes, req.Days)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.wsHub.Broadcast(WSMessage{Type: scheduler.EventQuoteUpdate, Data: res})
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
}

// ════════════════════════════════════════════════════════════════════
// Call logs and reporting
// ════════════════════════════════════════════════════════════════════

func (s *Server) handleLLMLogs(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	logs, err := s.store.LLMLogs(r.Context(), store.LLMLogFilter{
		ProviderID: r.URL.Query().Get("provider_id"),
		AgentID:    r.URL.Query().Get("agent_id"),
		Page:       page,
		PerPage:    perPage,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: logs})
}

func (s *Server) handleLLMLogByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid log id")
		return
	}

	entry, err := s.store.LLMLogByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: entry})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	format := report.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatHTML
	}
	if format != report.FormatHTML && format != report.FormatText {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	data, err := s.reports.Generate(ctx, report.Config{})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if format == report.FormatText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, report.RenderText(data)) //nolint:errcheck
		return
	}

	html, err := report.RenderHTML(data)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, html) //nolint:errcheck
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

func pageParams(r *http.Request) (page, perPage int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	return page, perPage
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{Success: false, Error: msg})
}

// writeServiceError maps service failures onto HTTP statuses: domain
// codes by kind, missing rows to 404, validation sentinels to 400 and
// everything else to 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var derr *models.DomainError
	switch {
	case errors.As(err, &derr):
		writeError(w, domainStatus(derr.Code), derr.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, scheduler.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrInvalidCron),
		errors.Is(err, scheduler.ErrTaskNameRequired),
		errors.Is(err, scheduler.ErrUnknownTaskType),
		errors.Is(err, agent.ErrNameRequired),
		errors.Is(err, prompt.ErrNameRequired),
		errors.Is(err, prompt.ErrEmptyTemplate),
		errors.Is(err, prompt.ErrUnbalancedBraces):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func domainStatus(code models.ErrorCode) int {
	switch code {
	case models.CodeAgentNotFound, models.CodeProviderNotFound, models.CodePortfolioNotFound:
		return http.StatusNotFound
	case models.CodeAgentInactive, models.CodeProviderDisabled,
		models.CodeProviderNotConfigured, models.CodeNotTradingTime:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
