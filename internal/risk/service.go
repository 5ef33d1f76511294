package risk

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-grc/aegis/internal/shared"
)

// Service coordinates risk register operations.
type Service struct {
	repo   Repository
	audit  *shared.AuditLogger
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds a Service. Audit may be nil in tests.
func NewService(repo Repository, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, clock: time.Now}
}

// List returns a page of register entries.
func (s *Service) List(ctx context.Context, page shared.Pagination) ([]Risk, error) {
	return s.repo.List(ctx, page)
}

// Export returns the entire register without pagination bounds.
func (s *Service) Export(ctx context.Context) ([]Risk, error) {
	return s.repo.ListAll(ctx)
}

// Get fetches one register entry.
func (s *Service) Get(ctx context.Context, id string) (*Risk, error) {
	return s.repo.Get(ctx, id)
}

// Create scores and stores a new register entry.
func (s *Service) Create(ctx context.Context, actor string, input Input) (*Risk, error) {
	score, err := ComputeScore(input.Likelihood, input.Impact)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	risk := Risk{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Owner:       strings.TrimSpace(input.Owner),
		Likelihood:  input.Likelihood,
		Impact:      input.Impact,
		Score:       score,
		Status:      input.Status,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedBy:   actor,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, risk); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "risk.create", risk.ID, map[string]any{"title": risk.Title, "score": risk.Score})
	return &risk, nil
}

// Update rescores and rewrites an existing register entry.
func (s *Service) Update(ctx context.Context, actor, id string, input Input) (*Risk, error) {
	score, err := ComputeScore(input.Likelihood, input.Impact)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Title = strings.TrimSpace(input.Title)
	existing.Description = strings.TrimSpace(input.Description)
	existing.Category = strings.TrimSpace(input.Category)
	existing.Owner = strings.TrimSpace(input.Owner)
	existing.Likelihood = input.Likelihood
	existing.Impact = input.Impact
	existing.Score = score
	existing.Status = input.Status
	existing.UpdatedBy = actor
	existing.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, *existing); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "risk.update", id, map[string]any{"title": existing.Title, "score": existing.Score})
	return existing, nil
}

// Delete removes a register entry.
func (s *Service) Delete(ctx context.Context, actor, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "risk.delete", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "risk",
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
