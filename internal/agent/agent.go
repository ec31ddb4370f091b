// Package agent implements the LLM decision cycle: load an agent and
// its portfolio, assemble market context into a prompt, query the
// configured provider, parse and validate the reply, and hand the
// surviving decisions to the order processor one at a time.
//
// Context building runs concurrently and best-effort; a dead news feed
// or a halted quote never blocks a cycle. Everything after the LLM
// reply is strictly sequential: decisions drain one shared cash pool,
// so each fill must settle before the next decision is validated.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quantfleet/ashare/internal/llm"
	"github.com/quantfleet/ashare/internal/order"
	"github.com/quantfleet/ashare/internal/portfolio"
	"github.com/quantfleet/ashare/internal/prompt"
	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

var (
	// ErrNameRequired rejects agent creation without a display name.
	ErrNameRequired = errors.New("agent name is required")
)

// MarketData is the slice of the market service a decision cycle reads.
type MarketData interface {
	GetLatestQuote(ctx context.Context, code string) (*models.StockQuote, error)
	GetQuoteHistory(ctx context.Context, code, from, to string) ([]*models.StockQuote, error)
	GetRealtimeQuotes(ctx context.Context, codes []string) (map[string]*models.StockQuote, error)
	GetHotStocks(ctx context.Context, limit int) ([]models.HotStock, error)
	GetMarketSummary(ctx context.Context) (*models.MarketSummary, error)
	Headlines(ctx context.Context, limit int) ([]models.NewsItem, error)
}

// Notifier pushes cycle events to connected dashboards. Implementations
// must not block; dropping events is acceptable.
type Notifier interface {
	Publish(event string, payload any)
}

// Event names published through the Notifier.
const (
	EventOrderUpdate     = "order_update"
	EventPortfolioUpdate = "portfolio_update"
)

// Config wires a Service. Store, Market, Clients and Templates are
// required; everything else has a sensible default.
type Config struct {
	Store     *store.Store
	Market    MarketData
	Clients   *llm.Registry
	Templates *prompt.Service
	Processor *order.Processor
	Notifier  Notifier
	Logger    *logrus.Logger

	// Clock supplies the cycle timestamp, CST. Defaults to wall clock.
	Clock func() time.Time

	// HotStockLimit and NewsLimit cap the context blocks. Defaults 10.
	HotStockLimit int
	NewsLimit     int
}

// Service owns agent lifecycle and runs decision cycles.
type Service struct {
	store     *store.Store
	market    MarketData
	clients   *llm.Registry
	templates *prompt.Service
	processor *order.Processor
	notifier  Notifier
	log       *logrus.Logger
	clock     func() time.Time
	hotLimit  int
	newsLimit int
}

// NewService builds a Service from cfg, filling defaults for the
// optional fields.
func NewService(cfg Config) *Service {
	if cfg.Processor == nil {
		cfg.Processor = order.NewProcessor()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.NowCST
	}
	if cfg.HotStockLimit <= 0 {
		cfg.HotStockLimit = 10
	}
	if cfg.NewsLimit <= 0 {
		cfg.NewsLimit = 10
	}
	return &Service{
		store:     cfg.Store,
		market:    cfg.Market,
		clients:   cfg.Clients,
		templates: cfg.Templates,
		processor: cfg.Processor,
		notifier:  cfg.Notifier,
		log:       cfg.Logger,
		clock:     cfg.Clock,
		hotLimit:  cfg.HotStockLimit,
		newsLimit: cfg.NewsLimit,
	}
}

func (s *Service) publish(event string, payload any) {
	if s.notifier != nil {
		s.notifier.Publish(event, payload)
	}
}

// ════════════════════════════════════════════════════════════════════
// Lifecycle
// ════════════════════════════════════════════════════════════════════

// CreateParams are the caller-supplied fields for a new agent.
type CreateParams struct {
	Name         string
	InitialCash  decimal.Decimal
	ProviderID   string
	ModelName    string
	TemplateID   string
	ScheduleType models.ScheduleType
}

// Create registers a new agent and seeds its portfolio with the initial
// cash. InitialCash defaults to models.DefaultInitialCash when zero or
// negative; ScheduleType defaults to daily.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Agent, error) {
	if p.Name == "" {
		return nil, ErrNameRequired
	}
	if !p.InitialCash.IsPositive() {
		p.InitialCash = models.DefaultInitialCash
	}
	if p.ScheduleType == "" {
		p.ScheduleType = models.ScheduleDaily
	}

	now := s.clock()
	ag := &models.Agent{
		ID:           uuid.NewString(),
		Name:         p.Name,
		InitialCash:  p.InitialCash,
		ProviderID:   p.ProviderID,
		ModelName:    p.ModelName,
		ScheduleType: p.ScheduleType,
		Status:       models.AgentActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.TemplateID != "" {
		ag.TemplateID = &p.TemplateID
	}
	if err := s.store.CreateAgent(ctx, ag); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"agent_id": ag.ID,
		"name":     ag.Name,
		"cash":     ag.InitialCash.StringFixed(2),
	}).Info("agent created")
	return ag, nil
}

// UpdateParams carries a partial agent update. Nil fields are left
// untouched; an empty TemplateID clears the assignment.
type UpdateParams struct {
	Name         *string
	ProviderID   *string
	ModelName    *string
	TemplateID   *string
	ScheduleType *models.ScheduleType
	Status       *models.AgentStatus
}

// Update applies p to an existing agent. InitialCash is immutable after
// creation; status may only move between active and paused here.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*models.Agent, error) {
	ag, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil && *p.Name != "" {
		ag.Name = *p.Name
	}
	if p.ProviderID != nil {
		ag.ProviderID = *p.ProviderID
	}
	if p.ModelName != nil {
		ag.ModelName = *p.ModelName
	}
	if p.TemplateID != nil {
		if *p.TemplateID == "" {
			ag.TemplateID = nil
		} else {
			ag.TemplateID = p.TemplateID
		}
	}
	if p.ScheduleType != nil {
		ag.ScheduleType = *p.ScheduleType
	}
	if p.Status != nil && (*p.Status == models.AgentActive || *p.Status == models.AgentPaused) {
		ag.Status = *p.Status
	}

	ag.UpdatedAt = s.clock()
	if err := s.store.UpdateAgent(ctx, ag); err != nil {
		return nil, err
	}
	return ag, nil
}

// Get loads one agent, soft-deleted included.
func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	ag, err := s.store.AgentByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewDomainError(models.CodeAgentNotFound, "agent %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return ag, nil
}

// List returns all non-deleted agents.
func (s *Service) List(ctx context.Context) ([]*models.Agent, error) {
	return s.store.ListAgents(ctx)
}

// Delete soft-deletes an agent. Its portfolio, orders and logs remain
// queryable by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.SoftDeleteAgent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.NewDomainError(models.CodeAgentNotFound, "agent %s not found", id)
	}
	return err
}

// ════════════════════════════════════════════════════════════════════
// Portfolio views
// ════════════════════════════════════════════════════════════════════

// Portfolio returns the agent's current portfolio.
func (s *Service) Portfolio(ctx context.Context, agentID string) (*models.Portfolio, error) {
	pf, err := s.store.PortfolioByAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewDomainError(models.CodePortfolioNotFound, "no portfolio for agent %s", agentID)
	}
	return pf, err
}

// Metrics computes the performance snapshot for one agent using the
// freshest prices available. Positions without a quote are valued at
// average cost.
func (s *Service) Metrics(ctx context.Context, agentID string) (*models.PortfolioMetrics, error) {
	ag, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	pf, err := s.Portfolio(ctx, agentID)
	if err != nil {
		return nil, err
	}

	prices := s.positionPrices(ctx, pf)
	history, err := s.store.AssetSeries(ctx, agentID, 0)
	if err != nil {
		return nil, err
	}

	daysHeld := 0
	if first, err := s.store.FirstSnapshotDate(ctx, agentID); err == nil && !first.IsZero() {
		daysHeld = int(s.clock().Sub(first).Hours()/24) + 1
	}

	m := portfolio.ComputeMetrics(pf, ag.InitialCash, prices, history, daysHeld)
	return &m, nil
}

// positionPrices maps each held code to its freshest price, falling
// back silently for codes without any quote.
func (s *Service) positionPrices(ctx context.Context, pf *models.Portfolio) map[string]decimal.Decimal {
	if len(pf.Positions) == 0 {
		return nil
	}
	codes := make([]string, 0, len(pf.Positions))
	for _, pos := range pf.Positions {
		codes = append(codes, pos.StockCode)
	}
	quotes, err := s.market.GetRealtimeQuotes(ctx, codes)
	if err != nil {
		s.log.WithError(err).Debug("position price lookup failed")
		return nil
	}
	prices := make(map[string]decimal.Decimal, len(quotes))
	for code, q := range quotes {
		prices[code] = q.Close
	}
	return prices
}
