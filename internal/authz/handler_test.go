package authz_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-grc/aegis/internal/authz"
	"github.com/aegis-grc/aegis/internal/shared"
)

func newGateRouter(store authz.Store, admins authz.SuperAdmins) chi.Router {
	loader := authz.NewContextLoader(store, testLogger(), time.Second)
	handler := authz.NewHandler(testLogger(), loader, admins)
	r := chi.NewRouter()
	r.Route("/authz", handler.MountRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body, email string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		sess := &shared.Session{}
		sess.SetPrincipal(email)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestCheckEndpoint(t *testing.T) {
	router := newGateRouter(&stubStore{control: activeControl(), profile: controlsProfile()}, nil)

	res := doJSON(t, router, http.MethodPost, "/authz/check",
		`{"module":"controls","action":"view"}`, "analyst@example.com")
	require.Equal(t, http.StatusOK, res.Code)

	var result authz.CheckResult
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	assert.True(t, result.Allowed)
	assert.False(t, result.Loading)
}

func TestCheckEndpointRejectsUnknownModule(t *testing.T) {
	router := newGateRouter(&stubStore{}, nil)
	res := doJSON(t, router, http.MethodPost, "/authz/check",
		`{"module":"payroll","action":"view"}`, "analyst@example.com")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCheckEndpointUnauthenticated(t *testing.T) {
	router := newGateRouter(&stubStore{}, nil)
	res := doJSON(t, router, http.MethodPost, "/authz/check",
		`{"module":"controls","action":"view"}`, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestBatchEndpoint(t *testing.T) {
	store := &stubStore{control: activeControl(), profile: controlsProfile()}
	router := newGateRouter(store, nil)

	body := `{"queries":[
		{"key":"row.view","module":"controls","action":"view"},
		{"key":"row.edit","module":"controls","action":"edit"},
		{"key":"row.export","module":"kpis","action":"export"}
	]}`
	res := doJSON(t, router, http.MethodPost, "/authz/check-batch", body, "analyst@example.com")
	require.Equal(t, http.StatusOK, res.Code)

	var payload struct {
		Results map[string]authz.CheckResult `json:"results"`
		Loading bool                         `json:"loading"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
	assert.False(t, payload.Loading)
	require.Len(t, payload.Results, 3)
	assert.True(t, payload.Results["row.view"].Allowed)
	assert.False(t, payload.Results["row.edit"].Allowed)
	assert.NotEmpty(t, payload.Results["row.edit"].Message)
	assert.False(t, payload.Results["row.export"].Allowed)

	// Three row buttons, one context resolution.
	assert.Equal(t, int64(1), store.controlFetches.Load())
}

func TestBatchEndpointEmpty(t *testing.T) {
	router := newGateRouter(&stubStore{}, nil)
	res := doJSON(t, router, http.MethodPost, "/authz/check-batch", `{"queries":[]}`, "analyst@example.com")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestCatalogEndpoint(t *testing.T) {
	router := newGateRouter(&stubStore{}, nil)
	res := doJSON(t, router, http.MethodGet, "/authz/catalog", "", "analyst@example.com")
	require.Equal(t, http.StatusOK, res.Code)

	var payload struct {
		Modules []authz.Module `json:"modules"`
		Actions []authz.Action `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
	assert.Equal(t, authz.Modules(), payload.Modules)
	assert.Equal(t, authz.Actions(), payload.Actions)
}

func TestNavigationEndpoint(t *testing.T) {
	admins := authz.NewSuperAdmins([]string{"root@example.com"})
	router := newGateRouter(&stubStore{}, admins)

	res := doJSON(t, router, http.MethodGet, "/authz/navigation", "", "root@example.com")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"showAdmin":true`)
}
