package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/quantfleet/ashare/pkg/models"
)

// NewsSource is one configured financial news RSS feed.
type NewsSource struct {
	Name    string
	RSSURL  string
	BaseURL string
}

// DefaultNewsSources lists the mainland financial news feeds polled for
// sentiment context. Sources that fail are skipped.
var DefaultNewsSources = []NewsSource{
	{
		Name:    "新浪财经",
		RSSURL:  "https://rss.sina.com.cn/roll/finance/hot_roll.xml",
		BaseURL: "https://finance.sina.com.cn",
	},
	{
		Name:    "东方财富",
		RSSURL:  "https://rss.eastmoney.com/rss_partener.xml",
		BaseURL: "https://www.eastmoney.com",
	},
	{
		Name:    "FT中文网",
		RSSURL:  "https://www.ftchinese.com/rss/news",
		BaseURL: "https://www.ftchinese.com",
	},
}

// News fetches market headlines from the configured RSS feeds.
type News struct {
	sources []NewsSource
	cache   *Cache
	limiter *RateLimiter
	parser  *gofeed.Parser
}

// NewNews creates a news collector with the default sources.
func NewNews() *News {
	return NewNewsWithSources(DefaultNewsSources)
}

// NewNewsWithSources creates a news collector with custom sources.
func NewNewsWithSources(sources []NewsSource) *News {
	return &News{
		sources: sources,
		cache:   NewCache(10 * time.Minute),
		limiter: NewRateLimiter(2, time.Second),
		parser:  gofeed.NewParser(),
	}
}

// FetchHeadlines returns recent headlines across all sources, newest
// first. A source that fails is skipped; only an empty total is an
// error.
func (n *News) FetchHeadlines(ctx context.Context, limit int) ([]models.NewsItem, error) {
	cacheKey := fmt.Sprintf("news:%d", limit)
	if cached, ok := n.cache.Get(cacheKey); ok {
		return cached.([]models.NewsItem), nil
	}

	var all []models.NewsItem
	for _, src := range n.sources {
		items, err := n.fetchRSS(ctx, src)
		if err != nil {
			continue
		}
		all = append(all, items...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: news feeds", ErrNoData)
	}

	sortNewsByDate(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	n.cache.Set(cacheKey, all)
	return all, nil
}

// StockNews filters recent headlines down to those mentioning a stock
// by code or name.
func (n *News) StockNews(ctx context.Context, code, name string, limit int) ([]models.NewsItem, error) {
	all, err := n.FetchHeadlines(ctx, 0)
	if err != nil {
		return nil, err
	}

	var filtered []models.NewsItem
	for _, item := range all {
		text := item.Title + " " + item.Summary
		if strings.Contains(text, code) || (name != "" && strings.Contains(text, name)) {
			filtered = append(filtered, item)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// fetchRSS parses one feed into news items.
func (n *News) fetchRSS(ctx context.Context, src NewsSource) ([]models.NewsItem, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feed, err := n.parser.ParseURLWithContext(src.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", src.Name, err)
	}

	items := make([]models.NewsItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		ni := models.NewsItem{
			Title:   strings.TrimSpace(item.Title),
			URL:     item.Link,
			Source:  src.Name,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			ni.PublishedAt = *item.PublishedParsed
		}
		items = append(items, ni)
	}
	return items, nil
}

// cleanHTML strips markup from feed descriptions.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

// sortNewsByDate orders items newest first. Insertion sort is fine for
// feed-sized slices.
func sortNewsByDate(items []models.NewsItem) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && items[j].PublishedAt.Before(key.PublishedAt) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
