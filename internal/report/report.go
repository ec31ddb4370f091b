package report

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/portfolio"
	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

// ════════════════════════════════════════════════════════════════════
// Report Generator — agent performance across the fleet
// ════════════════════════════════════════════════════════════════════

// Format specifies the output format.
type Format string

const (
	FormatHTML Format = "html"
	FormatText Format = "text"
	FormatPDF  Format = "pdf"
)

const recentOrderCount = 10

// Quoter prices open positions and describes the market for the report
// header. The market service satisfies this.
type Quoter interface {
	GetRealtimeQuotes(ctx context.Context, codes []string) (map[string]*models.StockQuote, error)
	GetMarketSummary(ctx context.Context) (*models.MarketSummary, error)
}

// Config controls report generation.
type Config struct {
	Title    string      // default: "A-Share Agent Performance Report"
	ChartCfg ChartConfig // zero value uses DefaultChartConfig
}

// Generator assembles performance reports from stored agent state.
type Generator struct {
	store  *store.Store
	quotes Quoter
	clock  func() time.Time
}

// Option configures the generator.
type Option func(*Generator)

// WithClock fixes the report timestamp, mainly for tests.
func WithClock(fn func() time.Time) Option {
	return func(g *Generator) { g.clock = fn }
}

// NewGenerator builds a report generator over the store.
func NewGenerator(st *store.Store, q Quoter, opts ...Option) *Generator {
	g := &Generator{store: st, quotes: q, clock: utils.NowCST}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ════════════════════════════════════════════════════════════════════
// Template model
// ════════════════════════════════════════════════════════════════════

// Data is the template model for a rendered report.
type Data struct {
	Title       string
	GeneratedAt string
	MarketLine  string // index snapshot, empty when unavailable

	AgentCount    int
	ActiveCount   int
	TotalAssets   string
	TotalPnL      string
	TotalPnLClass string

	ComparisonChart template.HTML // only with two or more agents

	Agents []AgentSection
}

// AgentSection is one agent's block in the report.
type AgentSection struct {
	Name        string
	Model       string
	Status      string
	StatusClass string
	CreatedAt   string

	TotalAssets    string
	Cash           string
	MarketValue    string
	InitialCash    string
	ReturnPct      string
	ReturnClass    string
	AnnualizedPct  string // empty when undefined
	MaxDrawdownPct string
	DaysHeld       int
	PositionCount  int

	Trades      int
	Sells       int
	WinRatePct  string // empty when no closed sells
	RealizedPnL string
	TotalFees   string

	AssetChart template.HTML
	WinGauge   template.HTML

	Positions []PositionRow
	Orders    []OrderRow
}

// PositionRow is a flattened position for template rendering.
type PositionRow struct {
	Code     string
	Shares   string
	AvgCost  string
	Last     string
	Value    string
	PnLPct   string
	PnLClass string
}

// OrderRow is a flattened order for template rendering.
type OrderRow struct {
	Time        string
	Side        string
	SideClass   string
	Code        string
	Quantity    string
	Price       string
	Status      string
	StatusClass string
	Note        string
}

// ════════════════════════════════════════════════════════════════════
// Generate
// ════════════════════════════════════════════════════════════════════

// Generate builds the report model for every non-deleted agent. Market
// data failures degrade to stored values; store failures abort.
func (g *Generator) Generate(ctx context.Context, cfg Config) (*Data, error) {
	now := g.clock()
	data := &Data{
		Title:       cfg.Title,
		GeneratedAt: now.Format("2006-01-02 15:04 CST"),
	}
	if data.Title == "" {
		data.Title = "A-Share Agent Performance Report"
	}

	agents, err := g.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	data.AgentCount = len(agents)

	if summary, err := g.quotes.GetMarketSummary(ctx); err == nil && summary != nil {
		data.MarketLine = marketLine(summary)
	}

	// One realtime call prices every position across the fleet.
	portfolios := make(map[string]*models.Portfolio, len(agents))
	var codes []string
	seen := map[string]bool{}
	for _, ag := range agents {
		pf, err := g.store.PortfolioByAgent(ctx, ag.ID)
		if err != nil {
			return nil, fmt.Errorf("portfolio for %s: %w", ag.ID, err)
		}
		portfolios[ag.ID] = pf
		for _, pos := range pf.Positions {
			if !seen[pos.StockCode] {
				seen[pos.StockCode] = true
				codes = append(codes, pos.StockCode)
			}
		}
	}

	prices := map[string]decimal.Decimal{}
	if len(codes) > 0 {
		if quotes, err := g.quotes.GetRealtimeQuotes(ctx, codes); err == nil {
			for code, q := range quotes {
				prices[code] = q.Close
			}
		}
	}

	totalAssets := decimal.Zero
	totalInitial := decimal.Zero
	var bars []BarItem

	for _, ag := range agents {
		if ag.IsActive() {
			data.ActiveCount++
		}

		section, metrics, err := g.agentSection(ctx, ag, portfolios[ag.ID], prices, cfg)
		if err != nil {
			return nil, err
		}
		data.Agents = append(data.Agents, *section)

		totalAssets = totalAssets.Add(metrics.TotalAssets)
		totalInitial = totalInitial.Add(ag.InitialCash)
		pct, _ := metrics.ReturnRate.Mul(decimal.NewFromInt(100)).Float64()
		bars = append(bars, BarItem{Label: ag.Name, Value: pct})
	}

	data.TotalAssets = utils.FormatCNYDecimal(totalAssets)
	pnl := totalAssets.Sub(totalInitial)
	data.TotalPnL = utils.FormatCNYDecimal(pnl)
	data.TotalPnLClass = gainClass(pnl)

	if len(bars) > 1 {
		chartCfg := cfg.ChartCfg
		if chartCfg.Width == 0 {
			chartCfg = DefaultChartConfig()
		}
		chartCfg.Title = "Return by Agent"
		chartCfg.Height = 80 + 40*len(bars)
		data.ComparisonChart = template.HTML(HorizontalBarChart(bars, chartCfg))
	}

	return data, nil
}

func (g *Generator) agentSection(ctx context.Context, ag *models.Agent, pf *models.Portfolio, prices map[string]decimal.Decimal, cfg Config) (*AgentSection, *models.PortfolioMetrics, error) {
	series, err := g.store.AssetSeries(ctx, ag.ID, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("asset series for %s: %w", ag.ID, err)
	}

	daysHeld := 0
	if first, err := g.store.FirstSnapshotDate(ctx, ag.ID); err == nil && !first.IsZero() {
		daysHeld = int(g.clock().Sub(first).Hours()/24) + 1
	}

	m := portfolio.ComputeMetrics(pf, ag.InitialCash, prices, series, daysHeld)

	txns, err := g.store.TransactionHistory(ctx, ag.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("transactions for %s: %w", ag.ID, err)
	}
	stats := replayTrades(txns)

	orders, err := g.store.OrdersByAgent(ctx, ag.ID, 1, recentOrderCount)
	if err != nil {
		return nil, nil, fmt.Errorf("orders for %s: %w", ag.ID, err)
	}

	section := &AgentSection{
		Name:        ag.Name,
		Model:       ag.ModelName,
		Status:      string(ag.Status),
		StatusClass: string(ag.Status),
		CreatedAt:   utils.FormatDateCST(ag.CreatedAt),

		TotalAssets:    utils.FormatCNYDecimal(m.TotalAssets),
		Cash:           utils.FormatCNYDecimal(m.Cash),
		MarketValue:    utils.FormatCNYDecimal(m.MarketValue),
		InitialCash:    utils.FormatCNYDecimal(m.InitialCash),
		ReturnPct:      utils.FormatPctDecimal(m.ReturnRate.Mul(decimal.NewFromInt(100))),
		ReturnClass:    gainClass(m.ReturnRate),
		MaxDrawdownPct: m.MaxDrawdown.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%",
		DaysHeld:       m.DaysHeld,
		PositionCount:  m.PositionCount,

		Trades:      stats.Trades,
		Sells:       stats.Sells,
		RealizedPnL: utils.FormatCNYDecimal(stats.RealizedPnL),
		TotalFees:   utils.FormatCNYDecimal(stats.TotalFees),
	}
	if m.AnnualizedPct != nil {
		section.AnnualizedPct = utils.FormatPctDecimal(m.AnnualizedPct.Mul(decimal.NewFromInt(100)))
	}
	if stats.Sells > 0 {
		rate := float64(stats.Wins) / float64(stats.Sells) * 100
		section.WinRatePct = fmt.Sprintf("%.0f%%", rate)
		section.WinGauge = template.HTML(GaugeChart(rate, "Win Rate", 180))
	}

	if len(series) > 1 {
		values := make([]float64, len(series))
		for i, v := range series {
			values[i], _ = v.Float64()
		}
		chartCfg := cfg.ChartCfg
		if chartCfg.Width == 0 {
			chartCfg = DefaultChartConfig()
		}
		chartCfg.Title = ag.Name + " — Asset Curve"
		section.AssetChart = template.HTML(LineChart([]LineSeries{{Name: ag.Name, Values: values}}, nil, chartCfg))
	}

	for _, pos := range pf.Positions {
		section.Positions = append(section.Positions, positionRow(pos, prices[pos.StockCode]))
	}
	for _, ord := range orders {
		section.Orders = append(section.Orders, orderRow(ord))
	}

	return section, &m, nil
}

// ════════════════════════════════════════════════════════════════════
// Realized-trade replay
// ════════════════════════════════════════════════════════════════════

// tradeStats is the realized tally replayed from an agent's fills.
type tradeStats struct {
	Trades      int // filled buys plus sells
	Sells       int
	Wins        int
	RealizedPnL decimal.Decimal
	TotalFees   decimal.Decimal
}

// replayTrades walks fills oldest-first with average-cost accounting.
// The basis carries price only, fees are charged to cash, matching how
// positions carry AvgCost; realized gain on a sell is
// (price - basis) x qty - sell-side fees.
func replayTrades(txns []*models.Transaction) tradeStats {
	type lot struct {
		shares  int64
		avgCost decimal.Decimal
	}
	book := map[string]*lot{}
	var st tradeStats

	for _, t := range txns {
		st.Trades++
		st.TotalFees = st.TotalFees.Add(t.Fees.Total())
		qty := decimal.NewFromInt(t.Quantity)

		switch t.Side {
		case models.Buy:
			l := book[t.StockCode]
			if l == nil {
				l = &lot{}
				book[t.StockCode] = l
			}
			old := decimal.NewFromInt(l.shares)
			total := l.shares + t.Quantity
			l.avgCost = old.Mul(l.avgCost).Add(qty.Mul(t.Price)).
				Div(decimal.NewFromInt(total)).Round(3)
			l.shares = total
		case models.Sell:
			l := book[t.StockCode]
			if l == nil {
				// No recorded basis; the fill predates stored history.
				continue
			}
			st.Sells++
			realized := t.Price.Sub(l.avgCost).Mul(qty).Sub(t.Fees.Total())
			if realized.IsPositive() {
				st.Wins++
			}
			st.RealizedPnL = st.RealizedPnL.Add(realized)
			l.shares -= t.Quantity
			if l.shares <= 0 {
				delete(book, t.StockCode)
			}
		}
	}
	return st
}

// ════════════════════════════════════════════════════════════════════
// Row formatting
// ════════════════════════════════════════════════════════════════════

func positionRow(pos models.Position, last decimal.Decimal) PositionRow {
	row := PositionRow{
		Code:    pos.StockCode,
		Shares:  fmt.Sprintf("%d", pos.Shares),
		AvgCost: pos.AvgCost.StringFixed(2),
		Value:   utils.FormatCNYDecimal(pos.MarketValue(last)),
	}
	if last.IsPositive() {
		row.Last = last.StringFixed(2)
		if pos.AvgCost.IsPositive() {
			pct := last.Sub(pos.AvgCost).Div(pos.AvgCost).Mul(decimal.NewFromInt(100)).Round(2)
			row.PnLPct = utils.FormatPctDecimal(pct)
			row.PnLClass = gainClass(pct)
		}
	} else {
		row.Last = "—"
	}
	return row
}

func orderRow(ord *models.Order) OrderRow {
	row := OrderRow{
		Time:        utils.FormatDateTimeCST(ord.CreatedAt),
		Side:        strings.ToUpper(string(ord.Side)),
		SideClass:   string(ord.Side),
		Code:        "—",
		Quantity:    "—",
		Price:       "—",
		Status:      string(ord.Status),
		StatusClass: string(ord.Status),
		Note:        ord.Reason,
	}
	if ord.StockCode != nil {
		row.Code = *ord.StockCode
	}
	if ord.Quantity != nil {
		row.Quantity = fmt.Sprintf("%d", *ord.Quantity)
	}
	if ord.Price != nil {
		row.Price = ord.Price.StringFixed(2)
	}
	if ord.RejectReason != nil && *ord.RejectReason != "" {
		if row.Note != "" {
			row.Note += " · "
		}
		row.Note += *ord.RejectReason
	}
	return row
}

func marketLine(s *models.MarketSummary) string {
	var parts []string
	if s.ShanghaiIdx.IsPositive() {
		parts = append(parts, "SSE "+s.ShanghaiIdx.StringFixed(2))
	}
	if s.ShenzhenIdx.IsPositive() {
		parts = append(parts, "SZSE "+s.ShenzhenIdx.StringFixed(2))
	}
	if s.ChiNextIdx.IsPositive() {
		parts = append(parts, "ChiNext "+s.ChiNextIdx.StringFixed(2))
	}
	line := strings.Join(parts, " | ")
	if s.UpCount > 0 || s.DownCount > 0 {
		breadth := fmt.Sprintf("%d advancing / %d declining", s.UpCount, s.DownCount)
		if line != "" {
			line += " · " + breadth
		} else {
			line = breadth
		}
	}
	return line
}

func gainClass(v decimal.Decimal) string {
	switch {
	case v.IsPositive():
		return "gain"
	case v.IsNegative():
		return "loss"
	default:
		return "flat"
	}
}

// ════════════════════════════════════════════════════════════════════
// Plain-text renderer
// ════════════════════════════════════════════════════════════════════

// RenderText renders the report for terminals.
func RenderText(d *Data) string {
	var sb strings.Builder
	line := strings.Repeat("═", 64)
	thin := strings.Repeat("─", 64)

	sb.WriteString("\n" + line + "\n")
	sb.WriteString(fmt.Sprintf("  %s\n", d.Title))
	sb.WriteString(fmt.Sprintf("  Generated: %s\n", d.GeneratedAt))
	sb.WriteString(line + "\n")

	if d.MarketLine != "" {
		sb.WriteString(fmt.Sprintf("  Market: %s\n", d.MarketLine))
		sb.WriteString(thin + "\n")
	}

	sb.WriteString(fmt.Sprintf("  Agents: %d (%d active) | Combined Assets: %s | P&L: %s\n",
		d.AgentCount, d.ActiveCount, d.TotalAssets, d.TotalPnL))

	for _, ag := range d.Agents {
		sb.WriteString("\n" + thin + "\n")
		sb.WriteString(fmt.Sprintf("  ■ %s  [%s]  model: %s  since %s\n", ag.Name, ag.Status, ag.Model, ag.CreatedAt))
		sb.WriteString(fmt.Sprintf("    Assets: %s (cash %s + positions %s)\n", ag.TotalAssets, ag.Cash, ag.MarketValue))
		sb.WriteString(fmt.Sprintf("    Return: %s on %s", ag.ReturnPct, ag.InitialCash))
		if ag.AnnualizedPct != "" {
			sb.WriteString(fmt.Sprintf(" | Annualized: %s", ag.AnnualizedPct))
		}
		sb.WriteString(fmt.Sprintf(" | Max DD: %s\n", ag.MaxDrawdownPct))
		sb.WriteString(fmt.Sprintf("    Trades: %d", ag.Trades))
		if ag.WinRatePct != "" {
			sb.WriteString(fmt.Sprintf(" | Win Rate: %s over %d sells", ag.WinRatePct, ag.Sells))
		}
		sb.WriteString(fmt.Sprintf(" | Realized: %s | Fees: %s\n", ag.RealizedPnL, ag.TotalFees))

		if len(ag.Positions) > 0 {
			sb.WriteString("    Positions:\n")
			for _, p := range ag.Positions {
				sb.WriteString(fmt.Sprintf("      %s  %s sh @ %s", p.Code, p.Shares, p.AvgCost))
				if p.PnLPct != "" {
					sb.WriteString(fmt.Sprintf("  last %s (%s)", p.Last, p.PnLPct))
				}
				sb.WriteString(fmt.Sprintf("  = %s\n", p.Value))
			}
		}
		if len(ag.Orders) > 0 {
			sb.WriteString("    Recent orders:\n")
			for _, o := range ag.Orders {
				sb.WriteString(fmt.Sprintf("      %s  %-4s %s x%s @ %s  [%s]", o.Time, o.Side, o.Code, o.Quantity, o.Price, o.Status))
				if o.Note != "" {
					sb.WriteString("  " + o.Note)
				}
				sb.WriteString("\n")
			}
		}
	}

	sb.WriteString("\n" + line + "\n")
	sb.WriteString("  Simulated trading by LLM agents. Not investment advice.\n")
	sb.WriteString(line + "\n")
	return sb.String()
}
