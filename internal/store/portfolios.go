package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfleet/ashare/pkg/models"
	"github.com/quantfleet/ashare/pkg/utils"
)

// PortfolioByAgent loads the cash row plus all positions.
func (s *Store) PortfolioByAgent(ctx context.Context, agentID string) (*models.Portfolio, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cash, updated_at FROM portfolios WHERE agent_id=?`, agentID)

	var cash, updated string
	if err := row.Scan(&cash, &updated); err != nil {
		return nil, notFound(err, "portfolio", agentID)
	}
	pf := &models.Portfolio{
		AgentID:   agentID,
		Cash:      parseDec(cash),
		UpdatedAt: parseTime(updated),
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT stock_code, shares, avg_cost, buy_date
FROM positions
WHERE agent_id=?
ORDER BY stock_code
`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       models.Position
			avgCost string
			buyDate string
		)
		if err := rows.Scan(&p.StockCode, &p.Shares, &avgCost, &buyDate); err != nil {
			return nil, err
		}
		p.AvgCost = parseDec(avgCost)
		p.BuyDate = parseTime(buyDate)
		pf.Positions = append(pf.Positions, p)
	}
	return pf, rows.Err()
}

// savePortfolioTx rewrites cash and positions inside an open transaction.
func savePortfolioTx(ctx context.Context, tx *sql.Tx, pf *models.Portfolio) error {
	res, err := tx.ExecContext(ctx, `
UPDATE portfolios SET cash=?, updated_at=? WHERE agent_id=?
`, pf.Cash.String(), fmtTime(time.Now()), pf.AgentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "portfolio", pf.AgentID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE agent_id=?`, pf.AgentID); err != nil {
		return err
	}
	for _, p := range pf.Positions {
		_, err := tx.ExecContext(ctx, `
INSERT INTO positions (agent_id, stock_code, shares, avg_cost, buy_date)
VALUES (?,?,?,?,?)
`, pf.AgentID, p.StockCode, p.Shares, p.AvgCost.String(), fmtTime(p.BuyDate))
		if err != nil {
			return err
		}
	}
	return nil
}

// AllPositionCodes returns every stock code held by any agent, used as
// the quote-sync watchlist.
func (s *Store) AllPositionCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT stock_code FROM positions ORDER BY stock_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// SavePortfolio persists the whole snapshot standalone.
func (s *Store) SavePortfolio(ctx context.Context, pf *models.Portfolio) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := savePortfolioTx(ctx, tx, pf); err != nil {
		return err
	}
	return tx.Commit()
}

// ── Snapshots ──

// SaveSnapshot upserts the per-day equity point for an agent. One row
// per CST calendar date; repeated cycles on the same day overwrite it.
func (s *Store) SaveSnapshot(ctx context.Context, agentID string, at time.Time, cash, marketValue, totalAssets decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO portfolio_snapshots (agent_id, snapshot_date, cash, market_value, total_assets, created_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(agent_id, snapshot_date) DO UPDATE SET
  cash=excluded.cash, market_value=excluded.market_value,
  total_assets=excluded.total_assets, created_at=excluded.created_at
`, agentID, utils.FormatDateCST(at), cash.String(), marketValue.String(), totalAssets.String(), fmtTime(time.Now()))
	return err
}

// AssetSeries returns the agent's total-asset history in date order,
// capped at limit points (0 = all).
func (s *Store) AssetSeries(ctx context.Context, agentID string, limit int) ([]decimal.Decimal, error) {
	query := `SELECT total_assets FROM portfolio_snapshots WHERE agent_id=? ORDER BY snapshot_date`
	args := []any{agentID}
	if limit > 0 {
		// Keep the most recent N points, still in ascending order.
		query = `
SELECT total_assets FROM (
  SELECT snapshot_date, total_assets FROM portfolio_snapshots
  WHERE agent_id=? ORDER BY snapshot_date DESC LIMIT ?
) ORDER BY snapshot_date`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, parseDec(v))
	}
	return out, rows.Err()
}

// FirstSnapshotDate returns the date of the agent's earliest snapshot,
// used for days-held in annualized metrics.
func (s *Store) FirstSnapshotDate(ctx context.Context, agentID string) (time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT MIN(snapshot_date) FROM portfolio_snapshots WHERE agent_id=?
`, agentID)
	var date sql.NullString
	if err := row.Scan(&date); err != nil {
		return time.Time{}, err
	}
	if !date.Valid || date.String == "" {
		return time.Time{}, nil
	}
	return utils.ParseDateCST(date.String)
}
