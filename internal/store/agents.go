package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/quantfleet/ashare/pkg/models"
)

const agentCols = `id, name, initial_cash, provider_id, model_name, template_id, schedule_type, status, created_at, updated_at`

// CreateAgent inserts the agent row and its empty portfolio seeded with
// the initial cash, atomically.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO agents (id, name, initial_cash, provider_id, model_name, template_id, schedule_type, status, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)
`, a.ID, a.Name, a.InitialCash.String(), a.ProviderID, a.ModelName, a.TemplateID,
		string(a.ScheduleType), string(a.Status), fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO portfolios (agent_id, cash, updated_at)
VALUES (?,?,?)
`, a.ID, a.InitialCash.String(), fmtTime(a.CreatedAt))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// AgentByID returns one agent including soft-deleted ones.
func (s *Store) AgentByID(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentCols+` FROM agents WHERE id=?`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFound(err, "agent", id)
	}
	return a, nil
}

// ListAgents returns all non-deleted agents, newest first.
func (s *Store) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentCols+` FROM agents WHERE status != 'deleted' ORDER BY created_at DESC`)
}

// ListActiveAgents returns agents eligible for decision cycles.
func (s *Store) ListActiveAgents(ctx context.Context) ([]*models.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentCols+` FROM agents WHERE status = 'active' ORDER BY created_at`)
}

func (s *Store) queryAgents(ctx context.Context, query string, args ...any) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgent rewrites the mutable agent fields.
func (s *Store) UpdateAgent(ctx context.Context, a *models.Agent) error {
	a.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
UPDATE agents
SET name=?, provider_id=?, model_name=?, template_id=?, schedule_type=?, status=?, updated_at=?
WHERE id=?
`, a.Name, a.ProviderID, a.ModelName, a.TemplateID, string(a.ScheduleType), string(a.Status), fmtTime(a.UpdatedAt), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "agent", a.ID)
	}
	return nil
}

// SoftDeleteAgent flags the agent deleted. History rows stay.
func (s *Store) SoftDeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE agents SET status='deleted', updated_at=? WHERE id=? AND status != 'deleted'
`, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "agent", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		a          models.Agent
		cash       string
		templateID sql.NullString
		created    string
		updated    string
	)
	err := row.Scan(&a.ID, &a.Name, &cash, &a.ProviderID, &a.ModelName, &templateID,
		(*string)(&a.ScheduleType), (*string)(&a.Status), &created, &updated)
	if err != nil {
		return nil, err
	}
	a.InitialCash = parseDec(cash)
	a.TemplateID = nullToPtr(templateID)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}
