package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfleet/ashare/internal/analysis/sentiment"
	"github.com/quantfleet/ashare/internal/analysis/technical"
	"github.com/quantfleet/ashare/internal/portfolio"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

// contextTimeout bounds the whole context-building fan-out. A slow feed
// costs prompt richness, never the cycle.
const contextTimeout = 20 * time.Second

// historyDays is the quote window handed to the indicator summaries.
const historyDays = 90

// buildPromptContext assembles everything the template may reference.
// All market lookups run concurrently and best-effort: whatever fails
// simply leaves its block empty.
func (s *Service) buildPromptContext(ctx context.Context, ag *models.Agent, pf *models.Portfolio) *models.PromptContext {
	ctx, cancel := context.WithTimeout(ctx, contextTimeout)
	defer cancel()

	now := s.clock()
	pctx := &models.PromptContext{
		AgentName:      ag.Name,
		CurrentTime:    now.Format("15:04:05"),
		CurrentDate:    utils.FormatDateCST(now),
		CurrentWeekday: now.Weekday().String(),
		IsTradingDay:   utils.IsTradingDay(now),
	}

	codes := make([]string, 0, len(pf.Positions))
	for _, pos := range pf.Positions {
		codes = append(codes, pos.StockCode)
	}

	var (
		summary *models.MarketSummary
		hot     []models.HotStock
		quotes  map[string]*models.StockQuote
		tech    string
		news    []models.NewsItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if summary, err = s.market.GetMarketSummary(gctx); err != nil {
			s.log.WithError(err).Debug("market summary unavailable")
		}
		return nil // non-fatal
	})
	g.Go(func() error {
		var err error
		if hot, err = s.market.GetHotStocks(gctx, s.hotLimit); err != nil {
			s.log.WithError(err).Debug("hot stocks unavailable")
		}
		return nil // non-fatal
	})
	g.Go(func() error {
		var err error
		if news, err = s.market.Headlines(gctx, s.newsLimit); err != nil {
			s.log.WithError(err).Debug("headlines unavailable")
		}
		return nil // non-fatal
	})
	if len(codes) > 0 {
		g.Go(func() error {
			var err error
			if quotes, err = s.market.GetRealtimeQuotes(gctx, codes); err != nil {
				s.log.WithError(err).Debug("position quotes unavailable")
			}
			return nil // non-fatal
		})
		g.Go(func() error {
			tech = s.technicalNotes(gctx, codes, now)
			return nil
		})
	}
	// Every branch is non-fatal; Wait only fences the writes.
	_ = g.Wait()

	prices := make(map[string]decimal.Decimal, len(quotes))
	for code, q := range quotes {
		prices[code] = q.Close
	}
	mv := portfolio.MarketValue(pf, prices)
	total := pf.Cash.Add(mv)

	pctx.Cash = pf.Cash.StringFixed(2)
	pctx.InitialCash = ag.InitialCash.StringFixed(2)
	pctx.MarketValue = mv.StringFixed(2)
	pctx.TotalAssets = total.StringFixed(2)
	pctx.ReturnRatePct = signedPct(portfolio.ReturnRate(total, ag.InitialCash))
	pctx.PositionCount = len(pf.Positions)
	pctx.PositionsBlock = positionsBlock(pf, quotes)
	pctx.PositionQuotes = quotesBlock(pf, quotes)
	pctx.TechnicalNotes = tech
	pctx.MarketSummary = summaryBlock(summary)
	pctx.HotStocks = hotBlock(hot)

	if len(news) > 0 {
		score := sentiment.Score(news)
		pctx.SentimentScore = score.Score.StringFixed(2)
		pctx.SentimentLabel = score.Label
		pctx.NewsHeadlines = newsBlock(news)
	}
	return pctx
}

// technicalNotes summarizes the indicator state of each held stock from
// its recent daily bars, one line per code.
func (s *Service) technicalNotes(ctx context.Context, codes []string, now time.Time) string {
	from := utils.FormatDateCST(now.AddDate(0, 0, -historyDays))
	to := utils.FormatDateCST(now)

	var b strings.Builder
	for _, code := range codes {
		bars, err := s.market.GetQuoteHistory(ctx, code, from, to)
		if err != nil || len(bars) == 0 {
			continue
		}
		line := technical.Summarize(bars)
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", code, line)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ════════════════════════════════════════════════════════════════════
// Block formatting
// ════════════════════════════════════════════════════════════════════

func positionsBlock(pf *models.Portfolio, quotes map[string]*models.StockQuote) string {
	if len(pf.Positions) == 0 {
		return "(no positions)"
	}
	var b strings.Builder
	for _, pos := range pf.Positions {
		q := quotes[pos.StockCode]

		fmt.Fprintf(&b, "- %s", pos.StockCode)
		if q != nil && q.Name != "" {
			fmt.Fprintf(&b, " %s", q.Name)
		}
		fmt.Fprintf(&b, ": %d shares @ avg %s", pos.Shares, pos.AvgCost.StringFixed(2))

		var price decimal.Decimal
		if q != nil {
			price = q.Close
			fmt.Fprintf(&b, ", last %s", q.Close.StringFixed(2))
			if q.PrevClose.IsPositive() {
				fmt.Fprintf(&b, " (%s%%)", signDecimal(q.ChangePct()))
			}
		}
		fmt.Fprintf(&b, ", value %s, bought %s\n",
			pos.MarketValue(price).StringFixed(2), utils.FormatDateCST(pos.BuyDate))
	}
	return strings.TrimRight(b.String(), "\n")
}

func quotesBlock(pf *models.Portfolio, quotes map[string]*models.StockQuote) string {
	if len(pf.Positions) == 0 {
		return ""
	}
	var b strings.Builder
	for _, pos := range pf.Positions {
		q := quotes[pos.StockCode]
		if q == nil {
			fmt.Fprintf(&b, "%s: no quote available\n", pos.StockCode)
			continue
		}
		fmt.Fprintf(&b, "%s: open %s, high %s, low %s, close %s",
			q.StockCode, q.Open.StringFixed(2), q.High.StringFixed(2),
			q.Low.StringFixed(2), q.Close.StringFixed(2))
		if q.PrevClose.IsPositive() {
			fmt.Fprintf(&b, " (%s%% vs prev %s)", signDecimal(q.ChangePct()), q.PrevClose.StringFixed(2))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func summaryBlock(ms *models.MarketSummary) string {
	if ms == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if ms.ShanghaiIdx.IsPositive() {
		parts = append(parts, "SSE Composite "+ms.ShanghaiIdx.StringFixed(2))
	}
	if ms.ShenzhenIdx.IsPositive() {
		parts = append(parts, "SZSE Component "+ms.ShenzhenIdx.StringFixed(2))
	}
	if ms.ChiNextIdx.IsPositive() {
		parts = append(parts, "ChiNext "+ms.ChiNextIdx.StringFixed(2))
	}
	line := strings.Join(parts, ", ")
	if ms.UpCount > 0 || ms.DownCount > 0 {
		line += fmt.Sprintf(" | %d advancing, %d declining", ms.UpCount, ms.DownCount)
	}
	if ms.Note != "" {
		if line != "" {
			line += "\n"
		}
		line += ms.Note
	}
	return line
}

func hotBlock(hot []models.HotStock) string {
	var b strings.Builder
	for _, h := range hot {
		fmt.Fprintf(&b, "%d. %s %s %s (%s%%)\n",
			h.Rank, h.StockCode, h.Name, h.Price.StringFixed(2), signDecimal(h.ChangePct))
	}
	return strings.TrimRight(b.String(), "\n")
}

func newsBlock(news []models.NewsItem) string {
	var b strings.Builder
	for _, n := range news {
		if n.Source != "" {
			fmt.Fprintf(&b, "- [%s] %s\n", n.Source, n.Title)
		} else {
			fmt.Fprintf(&b, "- %s\n", n.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// signedPct renders a return ratio as an explicitly signed percentage,
// e.g. 0.0215 -> "+2.15%".
func signedPct(ratio decimal.Decimal) string {
	return signDecimal(ratio.Mul(decimal.NewFromInt(100)).Round(2)) + "%"
}

// signDecimal prefixes non-negative values with "+".
func signDecimal(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if !d.IsNegative() {
		return "+" + s
	}
	return s
}
