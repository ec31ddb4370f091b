package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantfleet/ashare/pkg/logger"
	"github.com/quantfleet/ashare/pkg/models"
)

// ErrNameRequired rejects templates saved without a name.
var ErrNameRequired = errors.New("prompt: template name is required")

// Store is the persistence surface the service needs.
type Store interface {
	CreateTemplate(ctx context.Context, t *models.PromptTemplate) error
	TemplateByID(ctx context.Context, id string) (*models.PromptTemplate, error)
	ListTemplates(ctx context.Context) ([]*models.PromptTemplate, error)
	UpdateTemplate(ctx context.Context, t *models.PromptTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// Service owns template CRUD and selection. Updates bump the version;
// agents referencing a missing template silently fall back to the
// built-in default.
type Service struct {
	store Store
}

// NewService creates a template service.
func NewService(store Store) *Service { return &Service{store: store} }

// Create validates and persists a new template at version 1.
func (s *Service) Create(ctx context.Context, name, description, content string) (*models.PromptTemplate, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	if err := Validate(content); err != nil {
		return nil, err
	}
	now := time.Now()
	t := &models.PromptTemplate{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Content:     content,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

// Update replaces a template's fields and bumps its version.
func (s *Service) Update(ctx context.Context, id, name, description, content string) (*models.PromptTemplate, error) {
	t, err := s.store.TemplateByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		t.Name = name
	}
	if description != "" {
		t.Description = description
	}
	if content != "" {
		if err := Validate(content); err != nil {
			return nil, err
		}
		t.Content = content
	}
	t.Version++
	t.UpdatedAt = time.Now()
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// Get returns one template by id.
func (s *Service) Get(ctx context.Context, id string) (*models.PromptTemplate, error) {
	return s.store.TemplateByID(ctx, id)
}

// List returns all templates.
func (s *Service) List(ctx context.Context) ([]*models.PromptTemplate, error) {
	return s.store.ListTemplates(ctx)
}

// Delete removes a template. Agents pointing at it fall back to the
// default on their next cycle.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTemplate(ctx, id)
}

// ForAgent resolves the template an agent's cycle should render. Any
// load failure degrades to the built-in default.
func (s *Service) ForAgent(ctx context.Context, agent *models.Agent) *models.PromptTemplate {
	if agent.TemplateID == nil || *agent.TemplateID == "" {
		return Default()
	}
	t, err := s.store.TemplateByID(ctx, *agent.TemplateID)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"agent_id":    agent.ID,
			"template_id": *agent.TemplateID,
		}).Warn("template unavailable, using built-in default")
		return Default()
	}
	return t
}

// Default returns the built-in trading template.
func Default() *models.PromptTemplate {
	return &models.PromptTemplate{
		ID:      DefaultTemplateID,
		Name:    "Built-in A-share trading prompt",
		Content: DefaultTemplate,
		Version: 1,
	}
}
