package hybrid

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t, nil, Options{})
	h := NewHandler(nil, f.svc, f.sessions)
	r := chi.NewRouter()
	r.Use(shared.Authenticate(shared.NewIdentityResolver("")))
	r.Route("/api/schedules", h.MountRoutes)
	return r, f
}

type call struct {
	method, path, body string
	user, role         string
	session            string
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(shared.HeaderUserID, c.user)
	}
	if c.role != "" {
		req.Header.Set(shared.HeaderUserRole, c.role)
	}
	if c.session != "" {
		req.Header.Set(shared.HeaderSessionID, c.session)
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func TestHandlerCreateAndList(t *testing.T) {
	h, _ := newTestRouter(t)

	res := do(t, h, call{method: http.MethodPost, path: "/api/schedules", user: "U1",
		body: `{"product":"Cable","quantity":10}`})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	sid := res.Header().Get(shared.HeaderSessionID)
	require.True(t, strings.HasPrefix(sid, "sess_"), sid)

	created := decode(t, res)
	assert.Equal(t, "temp_1000", created["id"])
	item := created["item"].(map[string]any)
	assert.Equal(t, "Cable", item["description"])
	assert.Equal(t, "TEMPORARY", item["type"])

	res = do(t, h, call{method: http.MethodGet, path: "/api/schedules", user: "U1", session: sid})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, sid, res.Header().Get(shared.HeaderSessionID))
	list := decode(t, res)
	assert.EqualValues(t, 13, list["total"])
}

func TestHandlerSessionBelongsToCaller(t *testing.T) {
	h, _ := newTestRouter(t)

	res := do(t, h, call{method: http.MethodPost, path: "/api/schedules", user: "U1", body: `{"product":"A"}`})
	require.Equal(t, http.StatusCreated, res.Code)
	sid := res.Header().Get(shared.HeaderSessionID)

	res = do(t, h, call{method: http.MethodGet, path: "/api/schedules/session/status", user: "U2", session: sid})
	require.Equal(t, http.StatusOK, res.Code)
	assert.NotEqual(t, sid, res.Header().Get(shared.HeaderSessionID))
	status := decode(t, res)
	assert.Equal(t, "U2", status["ownerId"])
	assert.EqualValues(t, 0, status["audit"].(map[string]any)["total"])
}

func TestHandlerRejectsInvalidQuantity(t *testing.T) {
	h, _ := newTestRouter(t)
	res := do(t, h, call{method: http.MethodPost, path: "/api/schedules", user: "U1", body: `{"quantity":0}`})
	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))

	res = do(t, h, call{method: http.MethodPost, path: "/api/schedules", user: "U1", body: `{"quantity":`})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerApprovalRequiresAdmin(t *testing.T) {
	h, _ := newTestRouter(t)

	res := do(t, h, call{method: http.MethodPost, path: "/api/schedules/SIM_001/approve", user: "7", role: "loja"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = do(t, h, call{method: http.MethodPost, path: "/api/schedules/SIM_001/approve", user: "1", role: "admin"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	sim := decode(t, res)["simulated"].(map[string]any)
	assert.Equal(t, "approved", sim["approvalStatus"])
	assert.Equal(t, "1", sim["actor"])

	res = do(t, h, call{method: http.MethodPost, path: "/api/schedules/SIM_001/reject", user: "1",
		body: `{"motivo":"duplicado"}`})
	require.Equal(t, http.StatusOK, res.Code)
	sim = decode(t, res)["simulated"].(map[string]any)
	assert.Equal(t, "rejected", sim["approvalStatus"])
	assert.Equal(t, "duplicado", sim["motive"])
}

func TestHandlerDeleteDemonstrationRecordConflicts(t *testing.T) {
	h, _ := newTestRouter(t)
	res := do(t, h, call{method: http.MethodDelete, path: "/api/schedules/SIM_001", user: "U1"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = do(t, h, call{method: http.MethodDelete, path: "/api/schedules/temp_1234", user: "U1"})
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHandlerEditForksDemonstrationRecord(t *testing.T) {
	h, f := newTestRouter(t)
	res := do(t, h, call{method: http.MethodPut, path: "/api/schedules/SIM_003", user: "U1", body: `{"quantity":5}`})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	out := decode(t, res)
	assert.Equal(t, "SIM_003", out["forkedFrom"])
	assert.Equal(t, 1, f.store.Len())
}

func TestHandlerSessionLifecycle(t *testing.T) {
	h, f := newTestRouter(t)

	res := do(t, h, call{method: http.MethodPost, path: "/api/schedules", user: "U1", body: `{"product":"A"}`})
	require.Equal(t, http.StatusCreated, res.Code)
	sid := res.Header().Get(shared.HeaderSessionID)

	res = do(t, h, call{method: http.MethodPost, path: "/api/schedules/session/extend", user: "U1", session: sid})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, decode(t, res)["extended"])

	res = do(t, h, call{method: http.MethodPost, path: "/api/schedules/session/clear", user: "U1", session: sid})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, decode(t, res)["cleared"])
	assert.Zero(t, f.store.Len())

	res = do(t, h, call{method: http.MethodPost, path: "/api/schedules/session/logout", user: "U1", session: sid})
	require.Equal(t, http.StatusOK, res.Code)
	assert.Empty(t, res.Header().Get(shared.HeaderSessionID))
	_, ok := f.sessions.Lookup(sid)
	assert.False(t, ok)
}

func TestHandlerAdminListings(t *testing.T) {
	h, _ := newTestRouter(t)

	res := do(t, h, call{method: http.MethodPost, path: "/api/schedules", user: "U1", body: `{"product":"A"}`})
	require.Equal(t, http.StatusCreated, res.Code)

	res = do(t, h, call{method: http.MethodGet, path: "/api/schedules/overlays", user: "U9"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 1, decode(t, res)["total"])

	res = do(t, h, call{method: http.MethodGet, path: "/api/schedules/base", user: "U9"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 12, decode(t, res)["total"])

	res = do(t, h, call{method: http.MethodGet, path: "/api/schedules/base", user: "U9", role: "store"})
	assert.Equal(t, http.StatusForbidden, res.Code)
}
