package authz

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Rejection is the structured body returned for a guard denial. It is
// an RFC7807 problem document extended with the denied pair and the
// reason code.
type Rejection struct {
	Title  string     `json:"title"`
	Status int        `json:"status"`
	Detail string     `json:"detail"`
	Module Module     `json:"module"`
	Action Action     `json:"action"`
	Reason DenyReason `json:"reason"`
}

// Guard is the request-boundary enforcement surface. It re-resolves
// the principal's context from the store on every request, never
// trusting client-asserted permissions, and calls the same kernel the
// interactive gate calls, so the two surfaces cannot structurally
// diverge.
type Guard struct {
	store       Store
	superAdmins SuperAdmins
	logger      *slog.Logger
	audit       *shared.AuditLogger
	metrics     *Metrics
	timeout     time.Duration
	clock       func() time.Time
}

// GuardConfig collects guard dependencies. Audit and Metrics are
// optional.
type GuardConfig struct {
	Store       Store
	SuperAdmins SuperAdmins
	Logger      *slog.Logger
	Audit       *shared.AuditLogger
	Metrics     *Metrics
	Timeout     time.Duration
}

// NewGuard constructs a Guard.
func NewGuard(cfg GuardConfig) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &Guard{
		store:       cfg.Store,
		superAdmins: cfg.SuperAdmins,
		logger:      logger,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		timeout:     timeout,
		clock:       time.Now,
	}
}

// Check resolves a fresh context for the principal and evaluates the
// pair. It fails closed: any panic or unexpected condition during
// resolution yields a denial, never an allow.
func (g *Guard) Check(ctx context.Context, email string, module Module, action Action) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("guard check panicked, failing closed",
				slog.String("email", email), slog.Any("panic", r))
			decision = Deny(DenyNoAccessControl)
		}
	}()

	loader := NewContextLoader(g.store, g.logger, g.timeout)
	snapshot := loader.Load(ctx, email)

	decision = Decide(Input{
		Email:       email,
		SuperAdmins: g.superAdmins,
		Control:     snapshot.Control,
		Profile:     snapshot.Profile,
		Module:      module,
		Action:      action,
		Now:         g.clock(),
	})
	if g.metrics != nil {
		g.metrics.Observe(module, decision)
	}
	if decision.Bypass {
		g.logger.Info("super admin bypass",
			slog.String("surface", "guard"),
			slog.String("email", NormalizeEmail(email)),
			slog.String("module", string(module)),
			slog.String("action", string(action)))
		if g.audit != nil {
			if err := g.audit.Record(ctx, shared.AuditLog{
				Actor:    NormalizeEmail(email),
				Action:   "authz.bypass",
				Entity:   string(module),
				EntityID: string(action),
			}); err != nil {
				g.logger.Warn("record bypass audit", slog.Any("error", err))
			}
		}
	}
	return decision
}

// Require returns chi-compatible middleware enforcing the pair before
// the protected handler runs. Unauthenticated requests get 401;
// denials get a 403 Rejection body. A denial is an expected outcome
// and is not logged as a failure.
func (g *Guard) Require(module Module, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := shared.PrincipalFromContext(r.Context())
			if email == "" {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Authentication required.")
				return
			}
			decision := g.Check(r.Context(), email, module, action)
			if !decision.Allowed {
				httpx.JSON(w, http.StatusForbidden, Rejection{
					Title:  "Forbidden",
					Status: http.StatusForbidden,
					Detail: DenyMessage(decision.Reason, module, action),
					Module: module,
					Action: action,
					Reason: decision.Reason,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
