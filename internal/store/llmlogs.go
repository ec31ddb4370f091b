package store

import (
	"context"
	"encoding/json"

	"github.com/quantfleet/ashare/pkg/models"
)

// AppendLLMLog writes one call log and returns its row id. Implements
// the LLM client's log sink.
func (s *Store) AppendLLMLog(ctx context.Context, entry *models.LLMLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO llm_logs (provider_id, model_name, agent_id, request_body, response_body, duration_ms, status, error_message, tokens_in, tokens_out, request_time)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, entry.ProviderID, entry.ModelName, entry.AgentID, entry.RequestBody, entry.ResponseBody,
		entry.DurationMS, string(entry.Status), entry.ErrorMessage, entry.TokensIn, entry.TokensOut,
		fmtTime(entry.RequestTime))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	entry.ID = id
	return id, nil
}

const llmLogCols = `id, provider_id, model_name, agent_id, request_body, response_body, duration_ms, status, error_message, tokens_in, tokens_out, request_time`

// LLMLogByID returns one call log.
func (s *Store) LLMLogByID(ctx context.Context, id int64) (*models.LLMLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+llmLogCols+` FROM llm_logs WHERE id=?`, id)
	l, err := scanLLMLog(row)
	if err != nil {
		return nil, notFound(err, "llm log", "")
	}
	return l, nil
}

// LLMLogFilter narrows LLMLogs. Empty fields match everything.
type LLMLogFilter struct {
	ProviderID string
	AgentID    string
	Page       int
	PerPage    int
}

// LLMLogs pages call logs, newest first.
func (s *Store) LLMLogs(ctx context.Context, f LLMLogFilter) ([]*models.LLMLog, error) {
	if f.PerPage <= 0 || f.PerPage > 200 {
		f.PerPage = 50
	}
	if f.Page < 1 {
		f.Page = 1
	}

	query := `SELECT ` + llmLogCols + ` FROM llm_logs WHERE 1=1`
	var args []any
	if f.ProviderID != "" {
		query += ` AND provider_id=?`
		args = append(args, f.ProviderID)
	}
	if f.AgentID != "" {
		query += ` AND agent_id=?`
		args = append(args, f.AgentID)
	}
	query += ` ORDER BY request_time DESC LIMIT ? OFFSET ?`
	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LLMLog
	for rows.Next() {
		l, err := scanLLMLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLLMLog(row rowScanner) (*models.LLMLog, error) {
	var (
		l           models.LLMLog
		agentID     *string
		requestTime string
	)
	err := row.Scan(&l.ID, &l.ProviderID, &l.ModelName, &agentID, &l.RequestBody, &l.ResponseBody,
		&l.DurationMS, (*string)(&l.Status), &l.ErrorMessage, &l.TokensIn, &l.TokensOut, &requestTime)
	if err != nil {
		return nil, err
	}
	l.AgentID = agentID
	l.RequestTime = parseTime(requestTime)
	return &l, nil
}

// ── Decision Logs ──

// InsertDecisionLog writes one cycle outcome record.
func (s *Store) InsertDecisionLog(ctx context.Context, d *models.DecisionLog) error {
	decisions, err := json.Marshal(d.Decisions)
	if err != nil {
		return err
	}
	orderIDs, err := json.Marshal(d.OrderIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO decision_logs (agent_id, prompt_content, llm_response, decisions, order_ids, status, error_message, created_at)
VALUES (?,?,?,?,?,?,?,?)
`, d.AgentID, d.PromptContent, d.LLMResponse, string(decisions), string(orderIDs),
		string(d.Status), d.ErrorMessage, fmtTime(d.CreatedAt))
	if err != nil {
		return err
	}
	d.ID, _ = res.LastInsertId()
	return nil
}

// DecisionLogs pages an agent's cycle outcomes, newest first.
func (s *Store) DecisionLogs(ctx context.Context, agentID string, page, perPage int) ([]*models.DecisionLog, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page < 1 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, agent_id, prompt_content, llm_response, decisions, order_ids, status, error_message, created_at
FROM decision_logs
WHERE agent_id=?
ORDER BY created_at DESC
LIMIT ? OFFSET ?
`, agentID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DecisionLog
	for rows.Next() {
		var (
			d         models.DecisionLog
			decisions string
			orderIDs  string
			created   string
		)
		err := rows.Scan(&d.ID, &d.AgentID, &d.PromptContent, &d.LLMResponse, &decisions,
			&orderIDs, (*string)(&d.Status), &d.ErrorMessage, &created)
		if err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(decisions), &d.Decisions)
		_ = json.Unmarshal([]byte(orderIDs), &d.OrderIDs)
		d.CreatedAt = parseTime(created)
		out = append(out, &d)
	}
	return out, rows.Err()
}
