package store

import (
	"context"
	"database/sql"

	"github.com/quantfleet/ashare/pkg/models"
)

const templateCols = `id, name, description, content, version, created_at, updated_at`

// CreateTemplate inserts a prompt template.
func (s *Store) CreateTemplate(ctx context.Context, t *models.PromptTemplate) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO prompt_templates (id, name, description, content, version, created_at, updated_at)
VALUES (?,?,?,?,?,?,?)
`, t.ID, t.Name, t.Description, t.Content, t.Version, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	return err
}

// TemplateByID returns one template.
func (s *Store) TemplateByID(ctx context.Context, id string) (*models.PromptTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM prompt_templates WHERE id=?`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return nil, notFound(err, "template", id)
	}
	return t, nil
}

// ListTemplates returns every template, newest first.
func (s *Store) ListTemplates(ctx context.Context) ([]*models.PromptTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateCols+` FROM prompt_templates ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PromptTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTemplate rewrites a template row. Version management belongs to
// the prompt service; this persists whatever it was handed.
func (s *Store) UpdateTemplate(ctx context.Context, t *models.PromptTemplate) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE prompt_templates
SET name=?, description=?, content=?, version=?, updated_at=?
WHERE id=?
`, t.Name, t.Description, t.Content, t.Version, fmtTime(t.UpdatedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "template", t.ID)
	}
	return nil
}

// DeleteTemplate removes a template. Agents referencing it fall back to
// the built-in default at render time.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompt_templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "template", id)
	}
	return nil
}

func scanTemplate(row rowScanner) (*models.PromptTemplate, error) {
	var (
		t       models.PromptTemplate
		created string
		updated string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Content, &t.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}
