package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

const quoteCols = `stock_code, name, trade_date, open, high, low, close, prev_close, volume, amount`

// UpsertQuote writes one daily bar; collectors re-running a day
// overwrite it.
func (s *Store) UpsertQuote(ctx context.Context, q *models.StockQuote) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO stock_quotes (stock_code, name, trade_date, open, high, low, close, prev_close, volume, amount)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(stock_code, trade_date) DO UPDATE SET
  name=excluded.name, open=excluded.open, high=excluded.high, low=excluded.low,
  close=excluded.close, prev_close=excluded.prev_close,
  volume=excluded.volume, amount=excluded.amount
`, q.StockCode, q.Name, utils.FormatDateCST(q.TradeDate), q.Open.String(), q.High.String(),
		q.Low.String(), q.Close.String(), q.PrevClose.String(), q.Volume, q.Amount.String())
	return err
}

// HasQuotes reports whether any bars are stored at all, used to decide
// between an initial backfill and an incremental sync.
func (s *Store) HasQuotes(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM stock_quotes)`).Scan(&n)
	return n != 0, err
}

// LatestQuote returns the most recent bar for one stock.
func (s *Store) LatestQuote(ctx context.Context, code string) (*models.StockQuote, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+quoteCols+` FROM stock_quotes
WHERE stock_code=?
ORDER BY trade_date DESC
LIMIT 1
`, code)
	q, err := scanQuote(row)
	if err != nil {
		return nil, notFound(err, "quote", code)
	}
	return q, nil
}

// LatestQuotes returns the most recent bar per code. Codes with no
// stored data are simply absent from the map.
func (s *Store) LatestQuotes(ctx context.Context, codes []string) (map[string]*models.StockQuote, error) {
	out := make(map[string]*models.StockQuote, len(codes))
	for _, code := range codes {
		q, err := s.LatestQuote(ctx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[code] = q
	}
	return out, nil
}

// QuoteHistory returns bars for [from, to] in date order. Zero times
// widen the corresponding bound.
func (s *Store) QuoteHistory(ctx context.Context, code, from, to string) ([]*models.StockQuote, error) {
	query := `SELECT ` + quoteCols + ` FROM stock_quotes WHERE stock_code=?`
	args := []any{code}
	if from != "" {
		query += ` AND trade_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND trade_date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY trade_date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StockQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// PrevClose returns the close of the most recent bar strictly before
// date (YYYY-MM-DD), or zero when no history exists.
func (s *Store) PrevClose(ctx context.Context, code, date string) (decimal.Decimal, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT close FROM stock_quotes
WHERE stock_code=? AND trade_date < ?
ORDER BY trade_date DESC
LIMIT 1
`, code, date)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return parseDec(v), nil
}

func scanQuote(row rowScanner) (*models.StockQuote, error) {
	var (
		q                                  models.StockQuote
		tradeDate                          string
		open, high, low, closeP, prevClose string
		amount                             string
	)
	err := row.Scan(&q.StockCode, &q.Name, &tradeDate, &open, &high, &low, &closeP, &prevClose, &q.Volume, &amount)
	if err != nil {
		return nil, err
	}
	q.TradeDate, _ = utils.ParseDateCST(tradeDate)
	q.Open = parseDec(open)
	q.High = parseDec(high)
	q.Low = parseDec(low)
	q.Close = parseDec(closeP)
	q.PrevClose = parseDec(prevClose)
	q.Amount = parseDec(amount)
	return &q, nil
}
