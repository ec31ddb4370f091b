// Package market provides A-share market data: daily bars and realtime
// quotes from an Eastmoney-style JSON API, a scraped hot-stock fallback,
// and financial news feeds. The Service front wraps the collectors with
// a TTL cache and falls back to stored quotes, so callers always get
// the best data available rather than an error.
package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quantfleet/ashare/pkg/models"
)

// Provider is the quote surface consumed by the decision pipeline.
// Implementations may serve from cache, the store, or a live API.
type Provider interface {
	// GetLatestQuote returns the newest stored bar for one stock.
	GetLatestQuote(ctx context.Context, code string) (*models.StockQuote, error)

	// GetQuoteHistory returns stored daily bars in date order. Empty
	// from/to leave that bound open; dates are YYYY-MM-DD.
	GetQuoteHistory(ctx context.Context, code, from, to string) ([]*models.StockQuote, error)

	// GetRealtimeQuotes returns the freshest quote per code, live when
	// possible, stored otherwise. Codes with no data at all are absent
	// from the result.
	GetRealtimeQuotes(ctx context.Context, codes []string) (map[string]*models.StockQuote, error)

	// GetHotStocks returns the most-active list ranked by turnover.
	GetHotStocks(ctx context.Context, limit int) ([]models.HotStock, error)
}

// --- Sentinel errors ---

// ErrNoData is returned when a collector reaches the source but gets an
// empty payload for the requested code.
var ErrNoData = fmt.Errorf("market: no data for code")

// ErrRateLimited is returned when a source rate-limits the request.
var ErrRateLimited = fmt.Errorf("market: rate limited by data source")

// ErrHTTP wraps an upstream HTTP error with its status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// --- Shared HTTP helpers ---

// DefaultUserAgent is the user agent sent to quote and news sources;
// most of them reject the Go default.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

func doGet(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/html, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

// SyncResult summarizes one quote-sync pass.
type SyncResult struct {
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Codes   []string `json:"codes,omitempty"`
	Message string   `json:"message,omitempty"`
	Took    string   `json:"took,omitempty"`
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
