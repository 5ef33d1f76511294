package risk

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/platform/httpx"
	"github.com/aegis-grc/aegis/internal/shared"
)

// Handler wires the risk register endpoints behind the guard. The
// guard middleware runs before any handler body, so an ungranted
// principal never reaches register data.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	guard       *authz.Guard
	loader      *authz.ContextLoader
	superAdmins authz.SuperAdmins
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance. The loader backs the
// row-action permission endpoint; it may be nil when that endpoint is
// not mounted.
func NewHandler(logger *slog.Logger, service *Service, guard *authz.Guard, loader *authz.ContextLoader, superAdmins authz.SuperAdmins) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		guard:       guard,
		loader:      loader,
		superAdmins: superAdmins,
		validator:   validator.New(),
	}
}

// MountRoutes registers risk register routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require(authz.ModuleRisks, authz.ActionView)).Get("/", h.handleList)
	r.With(h.guard.Require(authz.ModuleRisks, authz.ActionView)).Get("/{id}", h.handleGet)
	r.With(h.guard.Require(authz.ModuleRisks, authz.ActionCreate)).Post("/", h.handleCreate)
	r.With(h.guard.Require(authz.ModuleRisks, authz.ActionEdit)).Put("/{id}", h.handleUpdate)
	r.With(h.guard.Require(authz.ModuleRisks, authz.ActionDelete)).Delete("/{id}", h.handleDelete)
	r.With(h.guard.Require(authz.ModuleRisks, authz.ActionExport)).Get("/export", h.handleExport)
	r.Get("/permissions", h.handlePermissions)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	risks, err := h.service.List(r.Context(), shared.Pagination{Page: page, PageSize: size})
	if err != nil {
		h.logger.Error("list risks", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if risks == nil {
		risks = []Risk{}
	}
	httpx.JSON(w, http.StatusOK, risks)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	risk, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get risk", err)
		return
	}
	httpx.JSON(w, http.StatusOK, risk)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input Input
	if !h.decode(w, r, &input) {
		return
	}
	risk, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), input)
	if err != nil {
		h.respondError(w, "create risk", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, risk)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var input Input
	if !h.decode(w, r, &input) {
		return
	}
	risk, err := h.service.Update(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), input)
	if err != nil {
		h.respondError(w, "update risk", err)
		return
	}
	httpx.JSON(w, http.StatusOK, risk)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "delete risk", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExport streams the full register as JSON for offline review.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	risks, err := h.service.Export(r.Context())
	if err != nil {
		h.logger.Error("export risks", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if risks == nil {
		risks = []Risk{}
	}
	w.Header().Set("Content-Disposition", `attachment; filename="risk-register.json"`)
	httpx.JSON(w, http.StatusOK, risks)
}

// handlePermissions answers the row-action capability set for the
// caller in one batch, so list views need a single round trip instead
// of one check per button. It describes capabilities only; every
// mutation is still enforced by the guard.
func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	email := shared.PrincipalFromContext(r.Context())
	if email == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Authentication required.")
		return
	}
	if h.loader == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return
	}
	gate := authz.NewGate(h.loader, h.superAdmins, h.logger, email)
	if err := gate.Wait(r.Context()); err != nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "permission resolution timed out")
		return
	}
	results, loading := gate.CheckMany([]authz.BatchQuery{
		{Key: "view", Module: authz.ModuleRisks, Action: authz.ActionView},
		{Key: "create", Module: authz.ModuleRisks, Action: authz.ActionCreate},
		{Key: "edit", Module: authz.ModuleRisks, Action: authz.ActionEdit},
		{Key: "delete", Module: authz.ModuleRisks, Action: authz.ActionDelete},
		{Key: "export", Module: authz.ModuleRisks, Action: authz.ActionExport},
	})
	httpx.JSON(w, http.StatusOK, map[string]any{
		"loading": loading,
		"results": results,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "The requested risk does not exist.")
	case errors.Is(err, ErrInvalidScale):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
