package authz

import (
	"context"
	"log/slog"
	"time"
)

// CheckResult is the answer a UI surface receives for one permission
// query. While the access context is still resolving, Loading is true
// and Allowed is false; callers must treat that state as "unknown",
// not as denied.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Loading bool   `json:"loading"`
	Message string `json:"message,omitempty"`
}

// BatchQuery names one (module, action) pair in a batch check. Key is
// the caller's correlation handle for the result map.
type BatchQuery struct {
	Key    string `json:"key" validate:"required"`
	Module Module `json:"module" validate:"required"`
	Action Action `json:"action" validate:"required"`
}

// Gate is the interactive enforcement surface. One Gate serves one
// principal for one interactive session; its context is resolved once,
// in the background, and every check evaluates the same snapshot.
type Gate struct {
	email       string
	superAdmins SuperAdmins
	loader      *ContextLoader
	logger      *slog.Logger
	clock       func() time.Time

	done chan struct{}
	cctx *Context
}

// NewGate constructs a gate for the principal and starts resolving its
// context immediately so the loading window stays short.
func NewGate(loader *ContextLoader, superAdmins SuperAdmins, logger *slog.Logger, email string) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		email:       NormalizeEmail(email),
		superAdmins: superAdmins,
		loader:      loader,
		logger:      logger,
		clock:       time.Now,
		done:        make(chan struct{}),
	}
	go func() {
		g.cctx = loader.Load(context.Background(), g.email)
		close(g.done)
	}()
	return g
}

// Wait blocks until the gate's context is resolved or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loading reports whether the context is still resolving.
func (g *Gate) Loading() bool {
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Check evaluates one (module, action) pair against the gate snapshot.
func (g *Gate) Check(module Module, action Action) CheckResult {
	if g.Loading() {
		return CheckResult{Loading: true}
	}
	return g.evaluate(module, action)
}

// CheckMany evaluates every requested pair against one snapshot, so all
// results in the batch are mutually consistent. The whole batch costs
// at most one context resolution no matter how long the list is. The
// second return mirrors the shared loading state.
func (g *Gate) CheckMany(queries []BatchQuery) (map[string]CheckResult, bool) {
	results := make(map[string]CheckResult, len(queries))
	if g.Loading() {
		for _, q := range queries {
			results[q.Key] = CheckResult{Loading: true}
		}
		return results, true
	}
	for _, q := range queries {
		results[q.Key] = g.evaluate(q.Module, q.Action)
	}
	return results, false
}

// ShowAdminNavigation is the non-authoritative display predicate for
// admin-only navigation entries. Rendering them grants nothing: every
// admin operation is still gated by Decide.
func (g *Gate) ShowAdminNavigation() bool {
	if g.Loading() {
		return false
	}
	if g.superAdmins.Contains(g.email) {
		return true
	}
	return IsAdministrativeProfile(g.cctx.Profile)
}

func (g *Gate) evaluate(module Module, action Action) CheckResult {
	decision := Decide(Input{
		Email:       g.email,
		SuperAdmins: g.superAdmins,
		Control:     g.cctx.Control,
		Profile:     g.cctx.Profile,
		Module:      module,
		Action:      action,
		Now:         g.clock(),
	})
	if decision.Bypass {
		g.logger.Info("super admin bypass",
			slog.String("surface", "gate"),
			slog.String("email", g.email),
			slog.String("module", string(module)),
			slog.String("action", string(action)))
	}
	if decision.Allowed {
		return CheckResult{Allowed: true}
	}
	return CheckResult{Message: DenyMessage(decision.Reason, module, action)}
}
