// Package sentiment scores market mood from news headlines with a
// keyword dictionary. Deterministic and offline; the result feeds the
// prompt context as background color, never a trade signal.
package sentiment

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

// Labels reported to the prompt context.
const (
	LabelBullish = "bullish"
	LabelBearish = "bearish"
	LabelNeutral = "neutral"
)

// labelThreshold is the net score beyond which the mood stops being
// neutral.
const labelThreshold = 0.15

// Keyword weights for mainland finance headlines, with a few English
// terms for bilingual feeds.
var bullishWords = map[string]float64{
	"涨停": 0.8, "大涨": 0.7, "飙升": 0.7, "新高": 0.7, "牛市": 0.8,
	"反弹": 0.5, "上涨": 0.5, "走强": 0.5, "利好": 0.7, "突破": 0.6,
	"增持": 0.6, "回购": 0.5, "净流入": 0.5, "超预期": 0.6, "降准": 0.6,
	"降息": 0.6, "放量上涨": 0.7, "业绩增长": 0.6, "扭亏": 0.5, "创纪录": 0.6,
	"rally": 0.6, "surge": 0.7, "bullish": 0.7, "upgrade": 0.6,
}

var bearishWords = map[string]float64{
	"跌停": 0.8, "大跌": 0.7, "暴跌": 0.8, "新低": 0.7, "熊市": 0.8,
	"下跌": 0.5, "走弱": 0.5, "利空": 0.7, "跳水": 0.7, "爆雷": 0.8,
	"减持": 0.6, "退市": 0.8, "净流出": 0.5, "低于预期": 0.6, "亏损": 0.6,
	"立案调查": 0.8, "违规": 0.6, "风险警示": 0.7, "崩盘": 0.8, "抛售": 0.6,
	"crash": 0.8, "plunge": 0.7, "bearish": 0.7, "downgrade": 0.6,
}

// ScoreText returns the bullish and bearish weight sums for one piece
// of text.
func ScoreText(text string) (bull, bear float64) {
	lower := strings.ToLower(text)
	for word, weight := range bullishWords {
		if strings.Contains(lower, word) {
			bull += weight
		}
	}
	for word, weight := range bearishWords {
		if strings.Contains(lower, word) {
			bear += weight
		}
	}
	return bull, bear
}

// ScoreHeadline scores a single headline in [-1, 1]. The second return
// reports whether any keyword matched at all.
func ScoreHeadline(headline string) (float64, bool) {
	bull, bear := ScoreText(headline)
	total := bull + bear
	if total == 0 {
		return 0, false
	}
	return (bull - bear) / total, true
}

// Score aggregates headlines into one market mood reading. Newer items
// weigh more; the weight halves every 24 hours. Headlines with no
// keyword hits contribute nothing.
func Score(items []models.NewsItem) models.SentimentScore {
	now := time.Now()

	var bullSum, bearSum float64
	var matched []string
	for _, item := range items {
		bull, bear := ScoreText(item.Title + " " + item.Summary)
		if bull == 0 && bear == 0 {
			continue
		}
		w := decayWeight(now, item.PublishedAt)
		bullSum += bull * w
		bearSum += bear * w
		if len(matched) < 10 {
			matched = append(matched, item.Title)
		}
	}

	score := 0.0
	if total := bullSum + bearSum; total > 0 {
		score = (bullSum - bearSum) / total
	}

	return models.SentimentScore{
		Score:     decimal.NewFromFloat(score).Round(2),
		Label:     labelFor(score),
		Headlines: matched,
		Source:    "keyword",
		CreatedAt: utils.NowCST(),
	}
}

// decayWeight halves an item's weight every 24 hours of age.
func decayWeight(now, published time.Time) float64 {
	if published.IsZero() {
		return 1
	}
	age := now.Sub(published).Hours()
	if age < 0 {
		age = 0
	}
	return math.Exp(-math.Ln2 * age / 24)
}

func labelFor(score float64) string {
	switch {
	case score > labelThreshold:
		return LabelBullish
	case score < -labelThreshold:
		return LabelBearish
	default:
		return LabelNeutral
	}
}
