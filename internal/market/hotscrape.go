package market

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
)

// defaultRankURL is the HTML turnover-ranking page scraped when the
// JSON API is unavailable.
const defaultRankURL = "https://quote.eastmoney.com/center/gridlist.html"

var stockCodeRe = regexp.MustCompile(`^\d{6}$`)

// HotScraper parses a quote-center ranking page as a fallback source
// for the hot-stock list.
type HotScraper struct {
	url    string
	client *http.Client
}

// NewHotScraper creates the fallback scraper. An empty url keeps the
// default ranking page.
func NewHotScraper(url string) *HotScraper {
	if url == "" {
		url = defaultRankURL
	}
	return &HotScraper{url: url, client: newHTTPClient()}
}

// Fetch scrapes the ranking table and returns up to limit entries.
func (h *HotScraper) Fetch(ctx context.Context, limit int) ([]models.HotStock, error) {
	if limit <= 0 {
		limit = 20
	}

	body, err := doGet(ctx, h.client, h.url, map[string]string{
		"Accept": "text/html,application/xhtml+xml",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch ranking page: %w", err)
	}
	return parseRankTable(body, limit)
}

// parseRankTable extracts (code, name, price, change%) rows from the
// first table whose rows start with a 6-digit code cell.
func parseRankTable(html []byte, limit int) ([]models.HotStock, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse ranking page: %w", err)
	}

	var out []models.HotStock
	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		if len(out) >= limit {
			return
		}

		var cells []string
		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})

		// Locate the code cell; ranking tables usually lead with a
		// row-number column.
		codeIdx := -1
		for i, c := range cells {
			if stockCodeRe.MatchString(c) {
				codeIdx = i
				break
			}
		}
		if codeIdx < 0 || codeIdx+3 >= len(cells) {
			return
		}

		price, err := decimal.NewFromString(cells[codeIdx+2])
		if err != nil {
			return
		}
		changePct, err := decimal.NewFromString(strings.TrimSuffix(cells[codeIdx+3], "%"))
		if err != nil {
			changePct = decimal.Zero
		}

		out = append(out, models.HotStock{
			StockCode: cells[codeIdx],
			Name:      cells[codeIdx+1],
			Price:     price,
			ChangePct: changePct,
			Rank:      len(out) + 1,
		})
	})

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: ranking table", ErrNoData)
	}
	return out, nil
}
