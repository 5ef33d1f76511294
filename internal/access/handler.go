package access

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

// Handler wires the access administration endpoints. Every route is
// wrapped by the guard before the handler body runs, so permission
// data can only be changed by principals granted the matching pair.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     *authz.Guard
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *authz.Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		validator: validator.New(),
	}
}

// MountRoutes registers profile and access-control routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/profiles", func(r chi.Router) {
		r.With(h.guard.Require(authz.ModuleProfiles, authz.ActionView)).Get("/", h.handleListProfiles)
		r.With(h.guard.Require(authz.ModuleProfiles, authz.ActionView)).Get("/{id}", h.handleGetProfile)
		r.With(h.guard.Require(authz.ModuleProfiles, authz.ActionCreate)).Post("/", h.handleCreateProfile)
		r.With(h.guard.Require(authz.ModuleProfiles, authz.ActionEdit)).Put("/{id}", h.handleUpdateProfile)
		r.With(h.guard.Require(authz.ModuleProfiles, authz.ActionDelete)).Delete("/{id}", h.handleDeleteProfile)
	})
	r.Route("/controls", func(r chi.Router) {
		r.With(h.guard.Require(authz.ModuleAccess, authz.ActionView)).Get("/", h.handleListControls)
		r.With(h.guard.Require(authz.ModuleAccess, authz.ActionView)).Get("/{id}", h.handleGetControl)
		r.With(h.guard.Require(authz.ModuleAccess, authz.ActionCreate)).Post("/", h.handleCreateControl)
		r.With(h.guard.Require(authz.ModuleAccess, authz.ActionEdit)).Put("/{id}", h.handleUpdateControl)
		r.With(h.guard.Require(authz.ModuleAccess, authz.ActionDelete)).Delete("/{id}", h.handleDeleteControl)
	})
}

func (h *Handler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.ListProfiles(r.Context(), paginationFromQuery(r))
	if err != nil {
		h.logger.Error("list profiles", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if profiles == nil {
		profiles = []authz.AccessProfile{}
	}
	httpx.JSON(w, http.StatusOK, profiles)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var input ProfileInput
	if !h.decode(w, r, &input) {
		return
	}
	profile, err := h.service.CreateProfile(r.Context(), shared.PrincipalFromContext(r.Context()), input)
	if err != nil {
		h.respondError(w, "create profile", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, profile)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var input ProfileInput
	if !h.decode(w, r, &input) {
		return
	}
	profile, err := h.service.UpdateProfile(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), input)
	if err != nil {
		h.respondError(w, "update profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteProfile(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "delete profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListControls(w http.ResponseWriter, r *http.Request) {
	controls, err := h.service.ListControls(r.Context(), paginationFromQuery(r))
	if err != nil {
		h.logger.Error("list controls", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if controls == nil {
		controls = []authz.UserAccessControl{}
	}
	httpx.JSON(w, http.StatusOK, controls)
}

func (h *Handler) handleGetControl(w http.ResponseWriter, r *http.Request) {
	control, err := h.service.GetControl(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get control", err)
		return
	}
	httpx.JSON(w, http.StatusOK, control)
}

func (h *Handler) handleCreateControl(w http.ResponseWriter, r *http.Request) {
	var input ControlInput
	if !h.decode(w, r, &input) {
		return
	}
	control, err := h.service.CreateControl(r.Context(), shared.PrincipalFromContext(r.Context()), input)
	if err != nil {
		h.respondError(w, "create control", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, control)
}

func (h *Handler) handleUpdateControl(w http.ResponseWriter, r *http.Request) {
	var input ControlInput
	if !h.decode(w, r, &input) {
		return
	}
	control, err := h.service.UpdateControl(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), input)
	if err != nil {
		h.respondError(w, "update control", err)
		return
	}
	httpx.JSON(w, http.StatusOK, control)
}

func (h *Handler) handleDeleteControl(w http.ResponseWriter, r *http.Request) {
	err := h.service.DeleteControl(r.Context(), shared.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "delete control", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
		httpx.Problem(w, http.StatusNotFound, "Not Found", "The requested record does not exist.")
	case errors.Is(err, ErrDuplicateName):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "A profile with this name already exists.")
	case errors.Is(err, ErrUnknownModule),
		errors.Is(err, ErrDuplicateModule),
		errors.Is(err, ErrWindowInverted),
		errors.Is(err, ErrProfileMissing):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrProfileInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", "The profile is still assigned to access controls.")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func paginationFromQuery(r *http.Request) shared.Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return shared.Pagination{Page: page, PageSize: size}
}
