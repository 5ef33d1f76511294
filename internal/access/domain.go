package access

import (
	"errors"
	"time"

	"github.com/aegis-grc/aegis/internal/authz"
)

// Sentinel errors for the access administration module.
var (
	ErrNotFound        = errors.New("access: not found")
	ErrDuplicateName   = errors.New("access: profile name already exists")
	ErrUnknownModule   = errors.New("access: permission references unknown module")
	ErrDuplicateModule = errors.New("access: profile has more than one entry for a module")
	ErrProfileMissing  = errors.New("access: referenced profile does not exist")
	ErrWindowInverted  = errors.New("access: end date precedes start date")
	ErrProfileInUse    = errors.New("access: profile is referenced by access controls")
)

// ProfileInput carries administrator-supplied profile fields.
type ProfileInput struct {
	Name        string                   `json:"name" validate:"required,min=2,max=120"`
	Description string                   `json:"description" validate:"max=500"`
	IsActive    bool                     `json:"isActive"`
	Permissions []authz.ModulePermission `json:"permissions" validate:"dive"`
}

// ControlInput carries administrator-supplied access-control fields.
// Dates are optional on the wire; a missing start date stores a grant
// that has not started yet.
type ControlInput struct {
	UserID    string     `json:"userId" validate:"required"`
	UserName  string     `json:"userName" validate:"required"`
	UserEmail string     `json:"userEmail" validate:"required,email"`
	ProfileID string     `json:"profileId" validate:"required,uuid4"`
	IsActive  bool       `json:"isActive"`
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

// validatePermissions enforces the closed module enumeration and the
// one-entry-per-module invariant at data-entry time, so the kernel
// never discovers bad data at decision time.
func validatePermissions(perms []authz.ModulePermission) error {
	seen := make(map[authz.Module]struct{}, len(perms))
	for _, p := range perms {
		if !p.Module.Valid() {
			return ErrUnknownModule
		}
		if _, dup := seen[p.Module]; dup {
			return ErrDuplicateModule
		}
		seen[p.Module] = struct{}{}
	}
	return nil
}
