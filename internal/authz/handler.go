package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Handler exposes the interactive gate to UI surfaces: a single check,
// a batch check, and the permission catalog shared with the profile
// editor. All endpoints require an authenticated principal but no
// particular grant; asking "may I?" is always permitted.
type Handler struct {
	logger      *slog.Logger
	loader      *ContextLoader
	superAdmins SuperAdmins
	validator   *validator.Validate
}

// NewHandler constructs the gate handler around a shared loader. The
// loader's cache spans interactive sessions; the auth flows invalidate
// a principal's entry at login/logout boundaries.
func NewHandler(logger *slog.Logger, loader *ContextLoader, superAdmins SuperAdmins) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		loader:      loader,
		superAdmins: superAdmins,
		validator:   validator.New(),
	}
}

// MountRoutes registers gate routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.handleCheck)
	r.Post("/check-batch", h.handleCheckBatch)
	r.Get("/navigation", h.handleNavigation)
	r.Get("/catalog", h.handleCatalog)
}

type checkRequest struct {
	Module Module `json:"module" validate:"required"`
	Action Action `json:"action" validate:"required"`
}

type batchRequest struct {
	Queries []BatchQuery `json:"queries" validate:"required,min=1,max=100,dive"`
}

type batchResponse struct {
	Results map[string]CheckResult `json:"results"`
	Loading bool                   `json:"loading"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	gate, ok := h.gateFor(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if !req.Module.Valid() || !req.Action.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "unknown module or action")
		return
	}
	// Give the shared resolution a chance to land within this request;
	// on timeout the loading state is reported instead of a denial.
	_ = gate.Wait(r.Context())
	httpx.JSON(w, http.StatusOK, gate.Check(req.Module, req.Action))
}

func (h *Handler) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	gate, ok := h.gateFor(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	for _, q := range req.Queries {
		if !q.Module.Valid() || !q.Action.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "unknown module or action in batch")
			return
		}
	}
	_ = gate.Wait(r.Context())
	results, loading := gate.CheckMany(req.Queries)
	httpx.JSON(w, http.StatusOK, batchResponse{Results: results, Loading: loading})
}

func (h *Handler) handleNavigation(w http.ResponseWriter, r *http.Request) {
	gate, ok := h.gateFor(w, r)
	if !ok {
		return
	}
	_ = gate.Wait(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]bool{"showAdmin": gate.ShowAdminNavigation()})
}

// handleCatalog returns the closed module and action enumerations. The
// profile editor builds its matrix from this list so unknown modules
// are rejected at data-entry time, not discovered in the kernel.
func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{
		"modules": Modules(),
		"actions": Actions(),
	})
}

func (h *Handler) gateFor(w http.ResponseWriter, r *http.Request) (*Gate, bool) {
	email := shared.PrincipalFromContext(r.Context())
	if email == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Authentication required.")
		return nil, false
	}
	return NewGate(h.loader, h.superAdmins, h.logger, email), true
}
