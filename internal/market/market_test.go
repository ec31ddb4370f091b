package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/store"
	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ════════════════════════════════════════════════════════════════════
// Eastmoney collector
// ════════════════════════════════════════════════════════════════════

func TestSecid(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"600000", "1.600000"},
		{"688111", "1.688111"},
		{"000001", "0.000001"},
		{"300750", "0.300750"},
	}
	for _, tt := range tests {
		if got := secid(tt.code); got != tt.want {
			t.Errorf("secid(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestFetchRealtimeQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/api/qt/stock/get") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("secid"); got != "1.600000" {
			t.Errorf("secid = %s", got)
		}
		w.Write([]byte(`{"rc":0,"data":{"f43":10.52,"f44":10.60,"f45":10.31,"f46":10.40,"f47":523100,"f48":548000000.5,"f57":"600000","f58":"浦发银行","f60":"-"}}`))
	}))
	defer srv.Close()

	em := NewEastmoney(WithEndpoints(srv.URL, srv.URL))
	q, err := em.FetchRealtimeQuote(context.Background(), "600000")
	if err != nil {
		t.Fatalf("FetchRealtimeQuote: %v", err)
	}
	if !q.Close.Equal(dec("10.52")) || !q.Open.Equal(dec("10.40")) {
		t.Fatalf("prices: close=%s open=%s", q.Close, q.Open)
	}
	if q.Name != "浦发银行" || q.Volume != 523100 {
		t.Fatalf("name/volume: %s %d", q.Name, q.Volume)
	}
	// "-" fields decode as zero instead of failing the whole quote.
	if !q.PrevClose.IsZero() {
		t.Fatalf("prev close: %s", q.PrevClose)
	}
}

func TestFetchRealtimeQuoteNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rc":0,"data":null}`))
	}))
	defer srv.Close()

	em := NewEastmoney(WithEndpoints(srv.URL, srv.URL))
	if _, err := em.FetchRealtimeQuote(context.Background(), "999999"); err == nil {
		t.Fatal("expected error for null data")
	}
}

func TestFetchDailyChainsPrevClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("beg"); got != "20240601" {
			t.Errorf("beg = %s", got)
		}
		w.Write([]byte(`{"data":{"code":"600000","name":"浦发银行","klines":[
"2024-06-03,10.00,10.20,10.30,9.95,120000,122400000.00",
"2024-06-04,10.20,10.50,10.55,10.18,150000,157500000.00",
"garbage-row",
"2024-06-05,10.50,10.40,10.60,10.35,90000,93600000.00"
]}}`))
	}))
	defer srv.Close()

	em := NewEastmoney(WithEndpoints(srv.URL, srv.URL))
	bars, err := em.FetchDaily(context.Background(), "600000", "2024-06-01", "2024-06-05")
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars: %d", len(bars))
	}
	// First bar anchors on its own close; later bars chain.
	if !bars[0].PrevClose.Equal(dec("10.20")) {
		t.Fatalf("first prev close: %s", bars[0].PrevClose)
	}
	if !bars[1].PrevClose.Equal(dec("10.20")) || !bars[2].PrevClose.Equal(dec("10.50")) {
		t.Fatalf("chained prev closes: %s %s", bars[1].PrevClose, bars[2].PrevClose)
	}
	if utils.FormatDateCST(bars[2].TradeDate) != "2024-06-05" {
		t.Fatalf("date: %s", bars[2].TradeDate)
	}
	if bars[1].Name != "浦发银行" {
		t.Fatalf("name: %s", bars[1].Name)
	}
}

func TestFetchHotStocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("fid"); got != "f6" {
			t.Errorf("rank field = %s", got)
		}
		w.Write([]byte(`{"data":{"total":2,"diff":[
{"f2":180.55,"f3":4.21,"f6":9800000000,"f12":"300750","f14":"宁德时代"},
{"f2":10.52,"f3":-1.13,"f6":5480000000,"f12":"600000","f14":"浦发银行"}
]}}`))
	}))
	defer srv.Close()

	em := NewEastmoney(WithEndpoints(srv.URL, srv.URL))
	hot, err := em.FetchHotStocks(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchHotStocks: %v", err)
	}
	if len(hot) != 2 {
		t.Fatalf("entries: %d", len(hot))
	}
	if hot[0].StockCode != "300750" || hot[0].Rank != 1 {
		t.Fatalf("first entry: %+v", hot[0])
	}
	if !hot[1].ChangePct.Equal(dec("-1.13")) {
		t.Fatalf("change pct: %s", hot[1].ChangePct)
	}
}

// ════════════════════════════════════════════════════════════════════
// HTML fallback
// ════════════════════════════════════════════════════════════════════

const rankPage = `<html><body><table><tbody>
<tr><td>1</td><td>300750</td><td>宁德时代</td><td>180.55</td><td>4.21%</td><td>98亿</td></tr>
<tr><td>2</td><td>600000</td><td>浦发银行</td><td>10.52</td><td>-1.13%</td><td>54.8亿</td></tr>
<tr><td colspan="6">加载中...</td></tr>
</tbody></table></body></html>`

func TestParseRankTable(t *testing.T) {
	hot, err := parseRankTable([]byte(rankPage), 10)
	if err != nil {
		t.Fatalf("parseRankTable: %v", err)
	}
	if len(hot) != 2 {
		t.Fatalf("rows: %d", len(hot))
	}
	if hot[0].StockCode != "300750" || hot[0].Name != "宁德时代" {
		t.Fatalf("first row: %+v", hot[0])
	}
	if !hot[0].Price.Equal(dec("180.55")) || !hot[1].ChangePct.Equal(dec("-1.13")) {
		t.Fatalf("numbers: %s %s", hot[0].Price, hot[1].ChangePct)
	}
}

func TestParseRankTableEmpty(t *testing.T) {
	if _, err := parseRankTable([]byte("<html><body>maintenance</body></html>"), 10); err == nil {
		t.Fatal("expected error for page without table")
	}
}

// ════════════════════════════════════════════════════════════════════
// News feeds
// ════════════════════════════════════════════════════════════════════

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>测试财经</title>
<item><title>沪指放量上涨逾1%</title><link>http://example.com/1</link><description>&lt;p&gt;两市成交额破万亿&lt;/p&gt;</description><pubDate>Mon, 03 Jun 2024 10:00:00 +0800</pubDate></item>
<item><title>宁德时代发布新电池</title><link>http://example.com/2</link><description>300750盘中大涨</description><pubDate>Mon, 03 Jun 2024 11:00:00 +0800</pubDate></item>
</channel></rss>`

func TestFetchHeadlinesSkipsDeadSources(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssFeed))
	}))
	defer good.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer dead.Close()

	n := NewNewsWithSources([]NewsSource{
		{Name: "好源", RSSURL: good.URL},
		{Name: "坏源", RSSURL: dead.URL},
	})
	items, err := n.FetchHeadlines(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchHeadlines: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items: %d", len(items))
	}
	// Newest first, HTML stripped.
	if items[0].Title != "宁德时代发布新电池" {
		t.Fatalf("order: %s", items[0].Title)
	}
	if items[1].Summary != "两市成交额破万亿" {
		t.Fatalf("summary: %q", items[1].Summary)
	}

	stock, err := n.StockNews(context.Background(), "300750", "宁德时代", 10)
	if err != nil {
		t.Fatalf("StockNews: %v", err)
	}
	if len(stock) != 1 || stock[0].URL != "http://example.com/2" {
		t.Fatalf("stock news: %+v", stock)
	}
}

// ════════════════════════════════════════════════════════════════════
// Cache
// ════════════════════════════════════════════════════════════════════

func TestCacheExpiry(t *testing.T) {
	c := NewCache(time.Hour)
	c.SetWithTTL("k", "v", 10*time.Millisecond)
	if v, ok := c.Get("k"); !ok || v.(string) != "v" {
		t.Fatalf("fresh get: %v %v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry still served")
	}

	c.Set("k2", 1)
	c.Invalidate("k2")
	if _, ok := c.Get("k2"); ok {
		t.Fatal("invalidated entry still served")
	}
}

// ════════════════════════════════════════════════════════════════════
// Service
// ════════════════════════════════════════════════════════════════════

func testService(t *testing.T, srvURL string) (*Service, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := NewService(st,
		WithEastmoney(NewEastmoney(WithEndpoints(srvURL, srvURL))),
		WithHotScraper(NewHotScraper(srvURL)),
	)
	return svc, st
}

func storedQuote(code, date, close string) *models.StockQuote {
	d, _ := utils.ParseDateCST(date)
	return &models.StockQuote{
		StockCode: code,
		TradeDate: d,
		Open:      dec(close),
		High:      dec(close),
		Low:       dec(close),
		Close:     dec(close),
		PrevClose: dec(close),
		Volume:    1000,
		Amount:    dec("10000"),
	}
}

func TestRealtimeFallsBackToStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, st := testService(t, srv.URL)
	ctx := context.Background()
	st.UpsertQuote(ctx, storedQuote("600000", "2024-06-03", "10.00"))

	quotes, err := svc.GetRealtimeQuotes(ctx, []string{"600000", "000001"})
	if err != nil {
		t.Fatalf("GetRealtimeQuotes: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("quotes: %d", len(quotes))
	}
	if !quotes["600000"].Close.Equal(dec("10.00")) {
		t.Fatalf("stored fallback: %s", quotes["600000"].Close)
	}
}

func TestHotStocksFallsBackToScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// JSON API path fails; the scraper path gets HTML.
		if strings.Contains(r.URL.Path, "/api/qt/clist/get") {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(rankPage))
	}))
	defer srv.Close()

	svc, _ := testService(t, srv.URL)
	hot, err := svc.GetHotStocks(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetHotStocks: %v", err)
	}
	if len(hot) != 2 || hot[0].StockCode != "300750" {
		t.Fatalf("scraped hot list: %+v", hot)
	}
}

func TestSyncQuotesWritesStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/api/qt/stock/kline/get"):
			if strings.Contains(r.URL.RawQuery, "0.999999") {
				w.Write([]byte(`{"data":null}`))
				return
			}
			w.Write([]byte(`{"data":{"code":"600000","name":"浦发银行","klines":[
"2024-06-03,10.00,10.20,10.30,9.95,120000,122400000.00",
"2024-06-04,10.20,10.50,10.55,10.18,150000,157500000.00"
]}}`))
		default:
			http.Error(w, "down", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	svc, st := testService(t, srv.URL)
	ctx := context.Background()

	res, err := svc.SyncQuotes(ctx, []string{"600000", "999999"}, 30)
	if err != nil {
		t.Fatalf("SyncQuotes: %v", err)
	}
	if res.Synced != 1 || res.Failed != 1 {
		t.Fatalf("result: %+v", res)
	}

	latest, err := st.LatestQuote(ctx, "600000")
	if err != nil {
		t.Fatalf("LatestQuote after sync: %v", err)
	}
	if !latest.Close.Equal(dec("10.50")) {
		t.Fatalf("synced close: %s", latest.Close)
	}
	if !latest.PrevClose.Equal(dec("10.20")) {
		t.Fatalf("synced prev close: %s", latest.PrevClose)
	}
}

func TestLatestQuoteUsesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, st := testService(t, srv.URL)
	ctx := context.Background()
	st.UpsertQuote(ctx, storedQuote("600000", "2024-06-03", "10.00"))

	if _, err := svc.GetLatestQuote(ctx, "600000"); err != nil {
		t.Fatalf("GetLatestQuote: %v", err)
	}

	// A newer row lands, but the cached copy is still served.
	st.UpsertQuote(ctx, storedQuote("600000", "2024-06-04", "11.00"))
	q, err := svc.GetLatestQuote(ctx, "600000")
	if err != nil {
		t.Fatalf("GetLatestQuote cached: %v", err)
	}
	if !q.Close.Equal(dec("10.00")) {
		t.Fatalf("expected cached bar, got close %s", q.Close)
	}
}
