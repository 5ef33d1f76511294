package authz

import (
	"strings"
	"time"
)

// Module identifies a business area that permissions are scoped to.
// The enumeration is closed: values outside it are data errors, not
// new permissions.
type Module string

// Known modules.
const (
	ModuleRisks       Module = "risks"
	ModuleControls    Module = "controls"
	ModuleKPIs        Module = "kpis"
	ModuleActions     Module = "actions"
	ModuleEscalations Module = "escalations"
	ModuleEvidence    Module = "evidence"
	ModuleReports     Module = "reports"
	ModuleUsers       Module = "users"
	ModuleProfiles    Module = "profiles"
	ModuleAccess      Module = "access"
)

// Modules returns the closed module enumeration in display order.
func Modules() []Module {
	return []Module{
		ModuleRisks,
		ModuleControls,
		ModuleKPIs,
		ModuleActions,
		ModuleEscalations,
		ModuleEvidence,
		ModuleReports,
		ModuleUsers,
		ModuleProfiles,
		ModuleAccess,
	}
}

// Valid reports whether m belongs to the closed enumeration.
func (m Module) Valid() bool {
	switch m {
	case ModuleRisks, ModuleControls, ModuleKPIs, ModuleActions, ModuleEscalations,
		ModuleEvidence, ModuleReports, ModuleUsers, ModuleProfiles, ModuleAccess:
		return true
	}
	return false
}

// Action is one of the five permission verbs.
type Action string

// Known actions.
const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
)

// Actions returns the closed action enumeration.
func Actions() []Action {
	return []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport}
}

// Valid reports whether a belongs to the closed enumeration.
func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport:
		return true
	}
	return false
}

// ActionSet holds the per-module action grants.
type ActionSet struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
	Export bool `json:"export"`
}

// Allows reports whether the set grants the given action. Unknown
// actions are never granted.
func (s ActionSet) Allows(a Action) bool {
	switch a {
	case ActionView:
		return s.View
	case ActionCreate:
		return s.Create
	case ActionEdit:
		return s.Edit
	case ActionDelete:
		return s.Delete
	case ActionExport:
		return s.Export
	}
	return false
}

// ModulePermission grants a set of actions on one module.
type ModulePermission struct {
	Module  Module    `json:"module"`
	Actions ActionSet `json:"actions"`
}

// AccessProfile is a named bundle of module grants. Modules absent
// from Permissions are fully denied.
type AccessProfile struct {
	ID          string
	Name        string
	Description string
	IsActive    bool
	Permissions []ModulePermission

	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt time.Time
}

// Permission looks up the grant entry for a module. The profile
// invariant is at most one entry per module; the first match wins if
// stored data violates that.
func (p *AccessProfile) Permission(m Module) (ModulePermission, bool) {
	if p == nil {
		return ModulePermission{}, false
	}
	for _, perm := range p.Permissions {
		if perm.Module == m {
			return perm, true
		}
	}
	return ModulePermission{}, false
}

// UnknownModules returns permission entries referencing modules outside
// the closed enumeration. They never grant anything; callers log them
// as data inconsistencies.
func (p *AccessProfile) UnknownModules() []Module {
	if p == nil {
		return nil
	}
	var unknown []Module
	for _, perm := range p.Permissions {
		if !perm.Module.Valid() {
			unknown = append(unknown, perm.Module)
		}
	}
	return unknown
}

// UserAccessControl binds one principal to one profile for a bounded
// time window.
type UserAccessControl struct {
	ID          string
	UserID      string
	UserName    string
	UserEmail   string
	ProfileID   string
	ProfileName string
	IsActive    bool
	StartDate   *time.Time
	EndDate     *time.Time

	CreatedBy string
	CreatedAt time.Time
	UpdatedBy string
	UpdatedAt time.Time
}

// EffectivelyActiveAt reports whether the binding is in force at the
// given instant. A missing start date means the grant has not started
// yet; absence is not "always active".
func (c *UserAccessControl) EffectivelyActiveAt(now time.Time) bool {
	if c == nil || !c.IsActive {
		return false
	}
	if c.StartDate == nil || now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

// DenyReason codes why a decision denied access. Reasons are mutually
// exclusive and reported in evaluation order.
type DenyReason string

// Deny reasons, ordered by evaluation.
const (
	DenyNoAccessControl       DenyReason = "no_access_control"
	DenyAccessControlInactive DenyReason = "access_control_inactive"
	DenyNoProfile             DenyReason = "no_profile"
	DenyProfileInactive       DenyReason = "profile_inactive"
	DenyModuleNotGranted      DenyReason = "module_not_granted"
	DenyActionNotGranted      DenyReason = "action_not_granted"
)

// Decision is the kernel verdict. Allowed decisions carry no reason.
// Bypass marks a super-admin short circuit so call sites can audit it.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Bypass  bool
}

// Allow returns a plain allow decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// AllowBypass returns an allow produced by the super-admin short circuit.
func AllowBypass() Decision {
	return Decision{Allowed: true, Bypass: true}
}

// Deny returns a denial with the given reason.
func Deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// NormalizeEmail canonicalizes a principal email for use as a cache and
// allow-list key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
