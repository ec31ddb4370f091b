// Package decision parses free-form LLM replies into typed trading
// decisions and validates them against the trading rules before they
// reach the order processor.
//
// LLMs rarely return clean JSON: the payload may sit inside a fenced
// code block, be surrounded by prose, or use strings where numbers are
// expected. The parser is deliberately forgiving about transport and
// strict about semantics.
package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/internal/rules"
	"github.com/quantfleet/ashare/pkg/models"
)

var (
	// ErrNoJSON means no extraction strategy produced valid JSON.
	ErrNoJSON = errors.New("no JSON payload found in LLM response")

	// ErrNoDecisions means the JSON parsed but contained no usable
	// decision elements.
	ErrNoDecisions = errors.New("no usable decisions in LLM response")
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Parse extracts trading decisions from a raw LLM reply. The result
// preserves the LLM's ordering. An explicit empty array is interpreted
// as a single hold decision ("do nothing"). Elements with an unknown
// decision type are dropped individually; Parse fails only when nothing
// at all can be used.
func Parse(raw string) ([]models.TradingDecision, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, ErrNoJSON
	}

	elements, err := toElementList(payload)
	if err != nil {
		return nil, err
	}

	if len(elements) == 0 {
		return []models.TradingDecision{{Type: models.DecideHold, Reason: "empty decision list"}}, nil
	}

	decisions := make([]models.TradingDecision, 0, len(elements))
	for _, el := range elements {
		d, ok := normalizeElement(el)
		if !ok {
			continue
		}
		decisions = append(decisions, d)
	}

	if len(decisions) == 0 {
		return nil, ErrNoDecisions
	}
	return decisions, nil
}

// ════════════════════════════════════════════════════════════════════
// JSON extraction
// ════════════════════════════════════════════════════════════════════

// extractJSON tries, in order: a fenced code block, the widest [...]
// substring, the widest {...} substring, then the whole trimmed string.
// The first candidate that decodes as JSON wins.
func extractJSON(raw string) (interface{}, bool) {
	candidates := make([]string, 0, 4)

	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}
	candidates = append(candidates, strings.TrimSpace(raw))

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if v, err := decodeJSON(c); err == nil {
			return v, true
		}
	}
	return nil, false
}

// decodeJSON unmarshals with UseNumber so prices keep their textual
// form until decimal conversion.
func decodeJSON(s string) (interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// toElementList normalizes the decoded payload to a list of objects: a
// single object becomes a one-element list.
func toElementList(payload interface{}) ([]map[string]interface{}, error) {
	switch v := payload.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{v}, nil
	case []interface{}:
		elements := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				elements = append(elements, obj)
			}
		}
		if len(v) > 0 && len(elements) == 0 {
			return nil, fmt.Errorf("%w: array holds no decision objects", ErrNoDecisions)
		}
		return elements, nil
	default:
		return nil, fmt.Errorf("%w: payload is %T, not an object or array", ErrNoDecisions, payload)
	}
}

// ════════════════════════════════════════════════════════════════════
// Element normalization
// ════════════════════════════════════════════════════════════════════

// normalizeElement maps one JSON object to a TradingDecision. Returns
// false when the decision type is missing or unknown; other fields are
// coerced best-effort and checked later by the validator.
func normalizeElement(el map[string]interface{}) (models.TradingDecision, bool) {
	var d models.TradingDecision

	typ, _ := el["decision"].(string)
	typ = strings.ToLower(strings.TrimSpace(typ))
	switch models.DecisionType(typ) {
	case models.DecideBuy, models.DecideSell, models.DecideHold, models.DecideWait:
		d.Type = models.DecisionType(typ)
	default:
		return d, false
	}

	if code, ok := el["stock_code"].(string); ok {
		d.StockCode = rules.NormalizeCode(code)
	}
	if qty, ok := coerceInt64(el["quantity"]); ok {
		d.Quantity = qty
	}
	if price, ok := coerceDecimal(el["price"]); ok {
		d.Price = &price
	}
	if reason, ok := el["reason"].(string); ok {
		d.Reason = strings.TrimSpace(reason)
	}

	return d, true
}

// coerceInt64 accepts JSON numbers and numeric strings.
func coerceInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		// "100.0" style
		if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// coerceDecimal accepts JSON numbers and numeric strings.
func coerceDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(n.String()); err == nil {
			return d, true
		}
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.Zero, false
		}
		if d, err := decimal.NewFromString(s); err == nil {
			return d, true
		}
	case float64:
		return decimal.NewFromFloat(n), true
	}
	return decimal.Zero, false
}
