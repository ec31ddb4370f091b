package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/quantfleet/ashare/pkg/models"
)

const providerCols = `id, name, protocol, base_url, api_key, model, is_active, created_at, updated_at`

// CreateProvider inserts an LLM provider row.
func (s *Store) CreateProvider(ctx context.Context, p *models.Provider) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO llm_providers (id, name, protocol, base_url, api_key, model, is_active, created_at, updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
`, p.ID, p.Name, string(p.Protocol), p.BaseURL, p.APIKey, p.Model, boolToInt(p.IsActive),
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt))
	return err
}

// ProviderByID returns one provider row including its key.
func (s *Store) ProviderByID(ctx context.Context, id string) (*models.Provider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+providerCols+` FROM llm_providers WHERE id=?`, id)
	p, err := scanProvider(row)
	if err != nil {
		return nil, notFound(err, "provider", id)
	}
	return p, nil
}

// ListProviders returns all provider rows, newest first.
func (s *Store) ListProviders(ctx context.Context) ([]*models.Provider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+providerCols+` FROM llm_providers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProvider rewrites a provider row. An empty APIKey keeps the
// stored key so the API never has to echo secrets back.
func (s *Store) UpdateProvider(ctx context.Context, p *models.Provider) error {
	p.UpdatedAt = time.Now()
	query := `
UPDATE llm_providers
SET name=?, protocol=?, base_url=?, model=?, is_active=?, updated_at=?
WHERE id=?`
	args := []any{p.Name, string(p.Protocol), p.BaseURL, p.Model, boolToInt(p.IsActive), fmtTime(p.UpdatedAt), p.ID}
	if p.APIKey != "" {
		query = `
UPDATE llm_providers
SET name=?, protocol=?, base_url=?, api_key=?, model=?, is_active=?, updated_at=?
WHERE id=?`
		args = []any{p.Name, string(p.Protocol), p.BaseURL, p.APIKey, p.Model, boolToInt(p.IsActive), fmtTime(p.UpdatedAt), p.ID}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "provider", p.ID)
	}
	return nil
}

// DeleteProvider removes a provider row. Agents still pointing at it
// fail their cycles with a provider-not-found code.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM llm_providers WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "provider", id)
	}
	return nil
}

func scanProvider(row rowScanner) (*models.Provider, error) {
	var (
		p        models.Provider
		isActive int
		created  string
		updated  string
	)
	err := row.Scan(&p.ID, &p.Name, (*string)(&p.Protocol), &p.BaseURL, &p.APIKey, &p.Model,
		&isActive, &created, &updated)
	if err != nil {
		return nil, err
	}
	p.IsActive = isActive != 0
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
