package authz

import (
	"strings"
	"time"
)

// SuperAdmins is the configured break-glass allow-list. It is trusted
// configuration, never user-editable data.
type SuperAdmins map[string]struct{}

// NewSuperAdmins builds the allow-list from configured emails. Entries
// are normalized; blanks are dropped.
func NewSuperAdmins(emails []string) SuperAdmins {
	set := make(SuperAdmins, len(emails))
	for _, e := range emails {
		e = NormalizeEmail(e)
		if e == "" {
			continue
		}
		set[e] = struct{}{}
	}
	return set
}

// Contains reports membership for a principal email.
func (s SuperAdmins) Contains(email string) bool {
	_, ok := s[NormalizeEmail(email)]
	return ok
}

// Input carries a fully-resolved evaluation context into Decide.
type Input struct {
	Email       string
	SuperAdmins SuperAdmins
	Control     *UserAccessControl
	Profile     *AccessProfile
	Module      Module
	Action      Action

	// Now pins the time-window evaluation instant. Zero means wall
	// clock; tests pass a fixed instant.
	Now time.Time
}

// Decide is the single authorization kernel. It is pure and total:
// identical inputs always produce identical output, every branch
// terminates, and ordering is significant. The super-admin bypass is
// checked first; deny reasons are mutually exclusive and returned in
// the order below so the most informative failure is reported.
//
// Both enforcement surfaces (interactive gate and boundary guard) call
// this function and nothing else; they may not re-implement any branch.
func Decide(in Input) Decision {
	if in.SuperAdmins.Contains(in.Email) {
		return AllowBypass()
	}
	if in.Control == nil {
		return Deny(DenyNoAccessControl)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	if !in.Control.EffectivelyActiveAt(now) {
		return Deny(DenyAccessControlInactive)
	}
	if in.Profile == nil {
		return Deny(DenyNoProfile)
	}
	if !in.Profile.IsActive {
		return Deny(DenyProfileInactive)
	}
	perm, ok := in.Profile.Permission(in.Module)
	if !ok {
		return Deny(DenyModuleNotGranted)
	}
	if !perm.Actions.Allows(in.Action) {
		return Deny(DenyActionNotGranted)
	}
	return Allow()
}

// IsAdministrativeProfile is a presentation-only heuristic used to
// decide whether admin navigation entries are rendered. It confers no
// access by itself: every admin operation is still gated by Decide.
func IsAdministrativeProfile(p *AccessProfile) bool {
	if p == nil {
		return false
	}
	return strings.Contains(strings.ToLower(p.Name), "admin")
}
