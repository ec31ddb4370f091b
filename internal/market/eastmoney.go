package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

const (
	eastmoneyBase     = "https://push2.eastmoney.com"
	eastmoneyHistBase = "https://push2his.eastmoney.com"

	// fs filter covering both exchanges' A-share boards.
	eastmoneyMarkets = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23"
)

// Index secids for the market summary.
const (
	secidShanghaiIdx = "1.000001"
	secidShenzhenIdx = "0.399001"
	secidChiNextIdx  = "0.399006"
)

// Eastmoney fetches quotes from the public push2 JSON API, the same
// backend the exchange portals use.
type Eastmoney struct {
	baseURL  string
	histURL  string
	client   *http.Client
	limiter  *RateLimiter
}

// EastmoneyOption configures the collector.
type EastmoneyOption func(*Eastmoney)

// WithEndpoints overrides the API hosts, mainly for tests.
func WithEndpoints(base, hist string) EastmoneyOption {
	return func(e *Eastmoney) {
		e.baseURL = strings.TrimRight(base, "/")
		e.histURL = strings.TrimRight(hist, "/")
	}
}

// WithCollectorClient overrides the HTTP client.
func WithCollectorClient(c *http.Client) EastmoneyOption {
	return func(e *Eastmoney) { e.client = c }
}

// NewEastmoney creates the collector with a polite request rate.
func NewEastmoney(opts ...EastmoneyOption) *Eastmoney {
	e := &Eastmoney{
		baseURL: eastmoneyBase,
		histURL: eastmoneyHistBase,
		client:  newHTTPClient(),
		limiter: NewRateLimiter(5, time.Second),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// secid maps a 6-digit code to the API's market-prefixed id:
// 1 for Shanghai, 0 for Shenzhen.
func secid(code string) string {
	if strings.HasPrefix(code, "6") {
		return "1." + code
	}
	return "0." + code
}

// emNum tolerates the API's habit of sending "-" for fields of halted
// or brand-new stocks.
type emNum struct{ decimal.Decimal }

func (n *emNum) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "-" || s == "null" {
		n.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		n.Decimal = decimal.Zero
		return nil
	}
	n.Decimal = d
	return nil
}

// --- Realtime quotes ---

type emStockResponse struct {
	Data *emStockData `json:"data"`
}

type emStockData struct {
	Price     emNum  `json:"f43"`
	High      emNum  `json:"f44"`
	Low       emNum  `json:"f45"`
	Open      emNum  `json:"f46"`
	Volume    emNum  `json:"f47"`
	Amount    emNum  `json:"f48"`
	Code      string `json:"f57"`
	Name      string `json:"f58"`
	PrevClose emNum  `json:"f60"`
}

// FetchRealtimeQuote returns the live snapshot for one stock as a bar
// dated today.
func (e *Eastmoney) FetchRealtimeQuote(ctx context.Context, code string) (*models.StockQuote, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/qt/stock/get?secid=%s&fltt=2&invt=2&fields=f43,f44,f45,f46,f47,f48,f57,f58,f60",
		e.baseURL, secid(code))
	body, err := doGet(ctx, e.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime %s: %w", code, err)
	}

	var resp emStockResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse realtime %s: %w", code, err)
	}
	if resp.Data == nil || resp.Data.Price.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrNoData, code)
	}

	d := resp.Data
	return &models.StockQuote{
		StockCode: code,
		Name:      d.Name,
		TradeDate: utils.NowCST(),
		Open:      d.Open.Decimal,
		High:      d.High.Decimal,
		Low:       d.Low.Decimal,
		Close:     d.Price.Decimal,
		PrevClose: d.PrevClose.Decimal,
		Volume:    d.Volume.IntPart(),
		Amount:    d.Amount.Decimal,
	}, nil
}

// FetchRealtimeQuotes fetches live snapshots for several codes. Codes
// that fail are skipped so one bad symbol never sinks the batch.
func (e *Eastmoney) FetchRealtimeQuotes(ctx context.Context, codes []string) ([]*models.StockQuote, error) {
	var out []*models.StockQuote
	for _, code := range codes {
		q, err := e.FetchRealtimeQuote(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// --- Daily bars ---

type emKlineResponse struct {
	Data *emKlineData `json:"data"`
}

type emKlineData struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Klines []string `json:"klines"`
}

// FetchDaily returns unadjusted daily bars for one stock. Dates are
// YYYY-MM-DD; empty bounds leave the range open.
func (e *Eastmoney) FetchDaily(ctx context.Context, code, from, to string) ([]*models.StockQuote, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	beg := "0"
	if from != "" {
		beg = strings.ReplaceAll(from, "-", "")
	}
	end := "20500101"
	if to != "" {
		end = strings.ReplaceAll(to, "-", "")
	}

	url := fmt.Sprintf("%s/api/qt/stock/kline/get?secid=%s&klt=101&fqt=0&beg=%s&end=%s&fields1=f1,f2,f3&fields2=f51,f52,f53,f54,f55,f56,f57",
		e.histURL, secid(code), beg, end)
	body, err := doGet(ctx, e.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("kline %s: %w", code, err)
	}

	var resp emKlineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse kline %s: %w", code, err)
	}
	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, code)
	}

	quotes := make([]*models.StockQuote, 0, len(resp.Data.Klines))
	var prevClose decimal.Decimal
	for _, line := range resp.Data.Klines {
		q, err := parseKline(code, resp.Data.Name, line)
		if err != nil {
			continue
		}
		if prevClose.IsZero() {
			// First bar of the window has no anchor.
			q.PrevClose = q.Close
		} else {
			q.PrevClose = prevClose
		}
		prevClose = q.Close
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// parseKline decodes one "date,open,close,high,low,volume,amount" row.
func parseKline(code, name, line string) (*models.StockQuote, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 7 {
		return nil, fmt.Errorf("short kline row: %q", line)
	}
	date, err := utils.ParseDateCST(parts[0])
	if err != nil {
		return nil, err
	}
	open, err := decimal.NewFromString(parts[1])
	if err != nil {
		return nil, err
	}
	closing, err := decimal.NewFromString(parts[2])
	if err != nil {
		return nil, err
	}
	high, err := decimal.NewFromString(parts[3])
	if err != nil {
		return nil, err
	}
	low, err := decimal.NewFromString(parts[4])
	if err != nil {
		return nil, err
	}
	volume, err := decimal.NewFromString(parts[5])
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(parts[6])
	if err != nil {
		return nil, err
	}
	return &models.StockQuote{
		StockCode: code,
		Name:      name,
		TradeDate: date,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closing,
		Volume:    volume.IntPart(),
		Amount:    amount,
	}, nil
}

// --- Hot stocks ---

type emListResponse struct {
	Data *emListData `json:"data"`
}

type emListData struct {
	Total int          `json:"total"`
	Diff  []emListItem `json:"diff"`
}

type emListItem struct {
	Price     emNum  `json:"f2"`
	ChangePct emNum  `json:"f3"`
	Amount    emNum  `json:"f6"`
	Code      string `json:"f12"`
	Name      string `json:"f14"`
}

// FetchHotStocks returns the top stocks by turnover across both
// exchanges.
func (e *Eastmoney) FetchHotStocks(ctx context.Context, limit int) ([]models.HotStock, error) {
	if limit <= 0 {
		limit = 20
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/qt/clist/get?pn=1&pz=%d&po=1&np=1&fltt=2&invt=2&fid=f6&fs=%s&fields=f2,f3,f6,f12,f14",
		e.baseURL, limit, eastmoneyMarkets)
	body, err := doGet(ctx, e.client, url, nil)
	if err != nil {
		return nil, fmt.Errorf("hot stocks: %w", err)
	}

	var resp emListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse hot stocks: %w", err)
	}
	if resp.Data == nil || len(resp.Data.Diff) == 0 {
		return nil, ErrNoData
	}

	out := make([]models.HotStock, 0, len(resp.Data.Diff))
	for i, item := range resp.Data.Diff {
		out = append(out, models.HotStock{
			StockCode: item.Code,
			Name:      item.Name,
			Price:     item.Price.Decimal,
			ChangePct: item.ChangePct.Decimal,
			Amount:    item.Amount.Decimal,
			Rank:      i + 1,
		})
	}
	return out, nil
}

// --- Market summary ---

// FetchMarketSummary reads the three benchmark indices. Fields that
// fail stay zero; the summary is best-effort context, not trade input.
func (e *Eastmoney) FetchMarketSummary(ctx context.Context) (*models.MarketSummary, error) {
	summary := &models.MarketSummary{
		TradeDate:   utils.NowCST(),
		CollectedAt: utils.NowCST(),
	}

	indices := []struct {
		secid string
		dst   *decimal.Decimal
	}{
		{secidShanghaiIdx, &summary.ShanghaiIdx},
		{secidShenzhenIdx, &summary.ShenzhenIdx},
		{secidChiNextIdx, &summary.ChiNextIdx},
	}

	var fetched int
	for _, idx := range indices {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		url := fmt.Sprintf("%s/api/qt/stock/get?secid=%s&fltt=2&invt=2&fields=f43,f58", e.baseURL, idx.secid)
		body, err := doGet(ctx, e.client, url, nil)
		if err != nil {
			continue
		}
		var resp emStockResponse
		if err := json.Unmarshal(body, &resp); err != nil || resp.Data == nil {
			continue
		}
		*idx.dst = resp.Data.Price.Decimal
		fetched++
	}
	if fetched == 0 {
		return nil, fmt.Errorf("%w: index summary", ErrNoData)
	}
	return summary, nil
}
