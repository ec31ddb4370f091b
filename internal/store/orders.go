package store

import (
	"context"
	"database/sql"

	"github.com/quantfleet/ashare/pkg/models"
)

const orderCols = `id, agent_id, llm_log_id, side, stock_code, quantity, price, status, reject_reason, reason, created_at`

// InsertOrder writes one order row. Hold orders land here directly;
// trade orders normally go through SaveOrderResult.
func (s *Store) InsertOrder(ctx context.Context, o *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertOrderTx(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

func insertOrderTx(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	var price *string
	if o.Price != nil {
		v := o.Price.String()
		price = &v
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO orders (id, agent_id, llm_log_id, side, stock_code, quantity, price, status, reject_reason, reason, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, o.ID, o.AgentID, o.LLMLogID, string(o.Side), o.StockCode, o.Quantity, price,
		string(o.Status), o.RejectReason, o.Reason, fmtTime(o.CreatedAt))
	return err
}

// SaveOrderResult persists one processed order atomically: the order
// row, its transaction when filled, and the updated portfolio. A
// rejected order writes only the order row. Any failure rolls the whole
// decision back.
func (s *Store) SaveOrderResult(ctx context.Context, o *models.Order, txn *models.Transaction, pf *models.Portfolio) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertOrderTx(ctx, tx, o); err != nil {
		return err
	}
	if txn != nil {
		if err := insertTransactionTx(ctx, tx, txn); err != nil {
			return err
		}
	}
	if pf != nil {
		if err := savePortfolioTx(ctx, tx, pf); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// OrderByID returns one order.
func (s *Store) OrderByID(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return o, nil
}

// OrdersByAgent pages the agent's orders, newest first. page is
// 1-based.
func (s *Store) OrdersByAgent(ctx context.Context, agentID string, page, perPage int) ([]*models.Order, error) {
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+orderCols+` FROM orders
WHERE agent_id=?
ORDER BY created_at DESC
LIMIT ? OFFSET ?
`, agentID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o            models.Order
		llmLogID     sql.NullInt64
		stockCode    sql.NullString
		quantity     sql.NullInt64
		price        sql.NullString
		rejectReason sql.NullString
		reason       sql.NullString
		created      string
	)
	err := row.Scan(&o.ID, &o.AgentID, &llmLogID, (*string)(&o.Side), &stockCode, &quantity,
		&price, (*string)(&o.Status), &rejectReason, &reason, &created)
	if err != nil {
		return nil, err
	}
	o.LLMLogID = int64ToPtr(llmLogID)
	o.StockCode = nullToPtr(stockCode)
	o.Quantity = int64ToPtr(quantity)
	if price.Valid {
		d := parseDec(price.String)
		o.Price = &d
	}
	o.RejectReason = nullToPtr(rejectReason)
	if reason.Valid {
		o.Reason = reason.String
	}
	o.CreatedAt = parseTime(created)
	return &o, nil
}

// ── Transactions ──

const txnCols = `id, order_id, agent_id, stock_code, side, quantity, price, commission, stamp_tax, transfer_fee, executed_at`

func insertTransactionTx(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO transactions (id, order_id, agent_id, stock_code, side, quantity, price, commission, stamp_tax, transfer_fee, executed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, t.ID, t.OrderID, t.AgentID, t.StockCode, string(t.Side), t.Quantity, t.Price.String(),
		t.Fees.Commission.String(), t.Fees.StampTax.String(), t.Fees.TransferFee.String(), fmtTime(t.ExecutedAt))
	return err
}

// TransactionsByAgent pages the agent's fills, newest first.
func (s *Store) TransactionsByAgent(ctx context.Context, agentID string, page, perPage int) ([]*models.Transaction, error) {
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+txnCols+` FROM transactions
WHERE agent_id=?
ORDER BY executed_at DESC
LIMIT ? OFFSET ?
`, agentID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// TransactionHistory returns every fill for the agent, oldest first.
// Reports replay this to attribute realized gains per closed sell.
func (s *Store) TransactionHistory(ctx context.Context, agentID string) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+txnCols+` FROM transactions
WHERE agent_id=?
ORDER BY executed_at
`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for rows.Next() {
		var (
			t                            models.Transaction
			price, comm, stamp, transfer string
			executed                     string
		)
		err := rows.Scan(&t.ID, &t.OrderID, &t.AgentID, &t.StockCode, (*string)(&t.Side),
			&t.Quantity, &price, &comm, &stamp, &transfer, &executed)
		if err != nil {
			return nil, err
		}
		t.Price = parseDec(price)
		t.Fees = models.TradingFees{
			Commission:  parseDec(comm),
			StampTax:    parseDec(stamp),
			TransferFee: parseDec(transfer),
		}
		t.ExecutedAt = parseTime(executed)
		out = append(out, &t)
	}
	return out, rows.Err()
}
