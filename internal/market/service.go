package market

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/logger"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

const (
	latestQuoteTTL = 1 * time.Minute
	hotStocksTTL   = 5 * time.Minute
	summaryTTL     = 5 * time.Minute

	initialSyncDays     = 90
	incrementalSyncDays = 7
)

// Service fronts the store and the collectors. Reads prefer the cache,
// then the store; live fetches only happen on sync passes and realtime
// lookups, and every upstream failure degrades to stored data.
type Service struct {
	store   *store.Store
	em      *Eastmoney
	scraper *HotScraper
	news    *News
	cache   *Cache
}

var _ Provider = (*Service)(nil)

// ServiceOption configures the market service.
type ServiceOption func(*Service)

// WithEastmoney swaps the JSON collector, mainly for tests.
func WithEastmoney(e *Eastmoney) ServiceOption {
	return func(s *Service) { s.em = e }
}

// WithHotScraper swaps the HTML fallback scraper.
func WithHotScraper(h *HotScraper) ServiceOption {
	return func(s *Service) { s.scraper = h }
}

// WithNews swaps the news collector.
func WithNews(n *News) ServiceOption {
	return func(s *Service) { s.news = n }
}

// NewService builds the market service over the store.
func NewService(st *store.Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   st,
		em:      NewEastmoney(),
		scraper: NewHotScraper(""),
		news:    NewNews(),
		cache:   NewCache(latestQuoteTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetLatestQuote returns the newest stored bar, cached briefly.
func (s *Service) GetLatestQuote(ctx context.Context, code string) (*models.StockQuote, error) {
	cacheKey := "latest:" + code
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(*models.StockQuote), nil
	}

	q, err := s.store.LatestQuote(ctx, code)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKey, q)
	return q, nil
}

// GetQuoteHistory returns stored daily bars in date order.
func (s *Service) GetQuoteHistory(ctx context.Context, code, from, to string) ([]*models.StockQuote, error) {
	return s.store.QuoteHistory(ctx, code, from, to)
}

// GetRealtimeQuotes returns the freshest quote per code: live when the
// wire cooperates, the stored bar otherwise.
func (s *Service) GetRealtimeQuotes(ctx context.Context, codes []string) (map[string]*models.StockQuote, error) {
	if len(codes) == 0 {
		return map[string]*models.StockQuote{}, nil
	}

	out := make(map[string]*models.StockQuote, len(codes))
	live, err := s.em.FetchRealtimeQuotes(ctx, codes)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	for _, q := range live {
		out[q.StockCode] = q
	}

	var missing []string
	for _, code := range codes {
		if _, ok := out[code]; !ok {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		stored, err := s.store.LatestQuotes(ctx, missing)
		if err != nil {
			return nil, err
		}
		for code, q := range stored {
			out[code] = q
		}
	}
	return out, nil
}

// GetHotStocks returns the most-active list, trying the JSON API first
// and the scraped page second.
func (s *Service) GetHotStocks(ctx context.Context, limit int) ([]models.HotStock, error) {
	cacheKey := fmt.Sprintf("hot:%d", limit)
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.([]models.HotStock), nil
	}

	hot, err := s.em.FetchHotStocks(ctx, limit)
	if err != nil {
		logger.WithError(err).Debug("hot stock API failed, trying page scrape")
		hot, err = s.scraper.Fetch(ctx, limit)
		if err != nil {
			return nil, err
		}
	}

	s.cache.SetWithTTL(cacheKey, hot, hotStocksTTL)
	return hot, nil
}

// GetMarketSummary returns the benchmark index snapshot.
func (s *Service) GetMarketSummary(ctx context.Context) (*models.MarketSummary, error) {
	if cached, ok := s.cache.Get("summary"); ok {
		return cached.(*models.MarketSummary), nil
	}

	summary, err := s.em.FetchMarketSummary(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL("summary", summary, summaryTTL)
	return summary, nil
}

// Headlines returns recent market news across the configured feeds.
func (s *Service) Headlines(ctx context.Context, limit int) ([]models.NewsItem, error) {
	return s.news.FetchHeadlines(ctx, limit)
}

// ── Sync passes ──

// SyncQuotes backfills daily bars for the given codes, or for the
// watchlist when codes is empty. days <= 0 picks the range itself:
// a long backfill for an empty store, a short top-up otherwise.
// Per-code failures are counted, not fatal.
func (s *Service) SyncQuotes(ctx context.Context, codes []string, days int) (*SyncResult, error) {
	start := time.Now()

	if len(codes) == 0 {
		var err error
		codes, err = s.watchlist(ctx)
		if err != nil {
			return nil, err
		}
	}
	if len(codes) == 0 {
		return &SyncResult{Message: "watchlist empty, nothing to sync"}, nil
	}

	if days <= 0 {
		days = incrementalSyncDays
		if has, err := s.store.HasQuotes(ctx); err == nil && !has {
			days = initialSyncDays
		}
	}
	now := utils.NowCST()
	from := utils.FormatDateCST(now.AddDate(0, 0, -days))
	to := utils.FormatDateCST(now)

	res := &SyncResult{}
	for _, code := range codes {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		bars, err := s.em.FetchDaily(ctx, code, from, to)
		if err != nil {
			logger.WithError(err).WithField("code", code).Warn("quote sync: fetch failed")
			res.Failed++
			continue
		}
		var wrote bool
		for _, bar := range bars {
			if err := s.store.UpsertQuote(ctx, bar); err != nil {
				logger.WithError(err).WithField("code", code).Warn("quote sync: store failed")
				continue
			}
			wrote = true
		}
		if wrote {
			res.Synced++
			res.Codes = append(res.Codes, code)
			s.cache.Invalidate("latest:" + code)
		} else {
			res.Failed++
		}
	}

	res.Took = time.Since(start).Round(time.Millisecond).String()
	res.Message = fmt.Sprintf("synced %d of %d codes (%dd window)", res.Synced, len(codes), days)
	logger.WithFields(logrus.Fields{
		"synced": res.Synced,
		"failed": res.Failed,
		"took":   res.Took,
	}).Info("quote sync finished")
	return res, nil
}

// RefreshMarket refreshes the intraday context: realtime bars for the
// watchlist, the hot-stock list, the index summary, and headlines.
// Every step is best-effort.
func (s *Service) RefreshMarket(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	res := &SyncResult{}

	codes, err := s.watchlist(ctx)
	if err != nil {
		return nil, err
	}
	live, _ := s.em.FetchRealtimeQuotes(ctx, codes)
	for _, q := range live {
		if err := s.store.UpsertQuote(ctx, q); err != nil {
			res.Failed++
			continue
		}
		res.Synced++
		res.Codes = append(res.Codes, q.StockCode)
		s.cache.Invalidate("latest:" + q.StockCode)
	}

	s.cache.Invalidate("summary")
	if _, err := s.GetMarketSummary(ctx); err != nil {
		logger.WithError(err).Debug("market refresh: summary unavailable")
	}
	if _, err := s.GetHotStocks(ctx, 20); err != nil {
		logger.WithError(err).Debug("market refresh: hot list unavailable")
	}
	if _, err := s.Headlines(ctx, 20); err != nil {
		logger.WithError(err).Debug("market refresh: headlines unavailable")
	}

	res.Took = time.Since(start).Round(time.Millisecond).String()
	res.Message = fmt.Sprintf("refreshed %d realtime quotes", res.Synced)
	return res, nil
}

// watchlist is every held position code plus the current hot list.
func (s *Service) watchlist(ctx context.Context) ([]string, error) {
	codes, err := s.store.AllPositionCodes(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		seen[code] = true
	}
	if hot, err := s.GetHotStocks(ctx, 20); err == nil {
		for _, h := range hot {
			if !seen[h.StockCode] {
				seen[h.StockCode] = true
				codes = append(codes, h.StockCode)
			}
		}
	}
	return codes, nil
}
