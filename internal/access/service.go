package access

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Service orchestrates access administration. The authorization engine
// never writes these records; this service is the only mutation path
// and every mutation is audit-logged with the acting administrator.
type Service struct {
	repo   Repository
	audit  *shared.AuditLogger
	logger *slog.Logger
	loader *authz.ContextLoader
	clock  func() time.Time
}

// NewService constructs a Service. Audit and loader may be nil in
// tests; with a loader present, mutations drop the affected cached
// access contexts so interactive checks see the change without a
// re-login.
func NewService(repo Repository, audit *shared.AuditLogger, logger *slog.Logger, loader *authz.ContextLoader) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, loader: loader, clock: time.Now}
}

// ListProfiles returns a page of profiles.
func (s *Service) ListProfiles(ctx context.Context, page shared.Pagination) ([]authz.AccessProfile, error) {
	return s.repo.ListProfiles(ctx, page)
}

// GetProfile fetches one profile.
func (s *Service) GetProfile(ctx context.Context, id string) (*authz.AccessProfile, error) {
	return s.repo.GetProfile(ctx, id)
}

// CreateProfile validates and stores a new profile.
func (s *Service) CreateProfile(ctx context.Context, actor string, input ProfileInput) (*authz.AccessProfile, error) {
	if err := validatePermissions(input.Permissions); err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	profile := authz.AccessProfile{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(input.Name),
		Description: strings.TrimSpace(input.Description),
		IsActive:    input.IsActive,
		Permissions: input.Permissions,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedBy:   actor,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertProfile(ctx, profile); err != nil {
		return nil, err
	}
	s.record(ctx, actor, "profile.create", "access_profile", profile.ID, map[string]any{"name": profile.Name})
	return &profile, nil
}

// UpdateProfile validates and rewrites an existing profile.
func (s *Service) UpdateProfile(ctx context.Context, actor, id string, input ProfileInput) (*authz.AccessProfile, error) {
	if err := validatePermissions(input.Permissions); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Name = strings.TrimSpace(input.Name)
	existing.Description = strings.TrimSpace(input.Description)
	existing.IsActive = input.IsActive
	existing.Permissions = input.Permissions
	existing.UpdatedBy = actor
	existing.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateProfile(ctx, *existing); err != nil {
		return nil, err
	}
	// Any number of principals may be bound to this profile; there is
	// no per-profile index into the cache, so drop all of it.
	s.invalidateAll()
	s.record(ctx, actor, "profile.update", "access_profile", id, map[string]any{"name": existing.Name})
	return existing, nil
}

// DeleteProfile removes a profile unless access controls still
// reference it.
func (s *Service) DeleteProfile(ctx context.Context, actor, id string) error {
	count, err := s.repo.CountControlsForProfile(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrProfileInUse
	}
	if err := s.repo.DeleteProfile(ctx, id); err != nil {
		return err
	}
	s.invalidateAll()
	s.record(ctx, actor, "profile.delete", "access_profile", id, nil)
	return nil
}

// ListControls returns a page of access controls.
func (s *Service) ListControls(ctx context.Context, page shared.Pagination) ([]authz.UserAccessControl, error) {
	return s.repo.ListControls(ctx, page)
}

// GetControl fetches one access control.
func (s *Service) GetControl(ctx context.Context, id string) (*authz.UserAccessControl, error) {
	return s.repo.GetControl(ctx, id)
}

// CreateControl validates and stores a new access control. The profile
// name is denormalized from the referenced profile for display.
func (s *Service) CreateControl(ctx context.Context, actor string, input ControlInput) (*authz.UserAccessControl, error) {
	if err := validateWindow(input.StartDate, input.EndDate); err != nil {
		return nil, err
	}
	profile, err := s.repo.GetProfile(ctx, input.ProfileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrProfileMissing
		}
		return nil, err
	}
	now := s.clock().UTC()
	control := authz.UserAccessControl{
		ID:          uuid.NewString(),
		UserID:      strings.TrimSpace(input.UserID),
		UserName:    strings.TrimSpace(input.UserName),
		UserEmail:   authz.NormalizeEmail(input.UserEmail),
		ProfileID:   profile.ID,
		ProfileName: profile.Name,
		IsActive:    input.IsActive,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedBy:   actor,
		UpdatedAt:   now,
	}
	if input.StartDate == nil {
		s.logger.Warn("access control created without start date, grant is not yet started",
			slog.String("user_email", control.UserEmail))
	}
	if err := s.repo.InsertControl(ctx, control); err != nil {
		return nil, err
	}
	s.invalidate(control.UserEmail)
	s.record(ctx, actor, "control.create", "user_access_control", control.ID,
		map[string]any{"user_email": control.UserEmail, "profile_id": control.ProfileID})
	return &control, nil
}

// UpdateControl validates and rewrites an existing access control.
func (s *Service) UpdateControl(ctx context.Context, actor, id string, input ControlInput) (*authz.UserAccessControl, error) {
	if err := validateWindow(input.StartDate, input.EndDate); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetControl(ctx, id)
	if err != nil {
		return nil, err
	}
	previousEmail := existing.UserEmail
	profile, err := s.repo.GetProfile(ctx, input.ProfileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrProfileMissing
		}
		return nil, err
	}
	existing.UserID = strings.TrimSpace(input.UserID)
	existing.UserName = strings.TrimSpace(input.UserName)
	existing.UserEmail = authz.NormalizeEmail(input.UserEmail)
	existing.ProfileID = profile.ID
	existing.ProfileName = profile.Name
	existing.IsActive = input.IsActive
	existing.StartDate = input.StartDate
	existing.EndDate = input.EndDate
	existing.UpdatedBy = actor
	existing.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateControl(ctx, *existing); err != nil {
		return nil, err
	}
	// The control may have moved to a different principal; both the old
	// and new email keys are stale.
	s.invalidate(previousEmail)
	s.invalidate(existing.UserEmail)
	s.record(ctx, actor, "control.update", "user_access_control", id,
		map[string]any{"user_email": existing.UserEmail, "profile_id": existing.ProfileID})
	return existing, nil
}

// DeleteControl removes an access control.
func (s *Service) DeleteControl(ctx context.Context, actor, id string) error {
	existing, err := s.repo.GetControl(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteControl(ctx, id); err != nil {
		return err
	}
	s.invalidate(existing.UserEmail)
	s.record(ctx, actor, "control.delete", "user_access_control", id, nil)
	return nil
}

func (s *Service) invalidate(email string) {
	if s.loader == nil {
		return
	}
	s.loader.Invalidate(email)
}

func (s *Service) invalidateAll() {
	if s.loader == nil {
		return
	}
	s.loader.Reset()
}

func validateWindow(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return ErrWindowInverted
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
