package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantation/internal/attendance"
	"plantation/internal/auth"
	"plantation/internal/roster"
)

func bearer(t *testing.T, subject, role string) string {
	t.Helper()
	token, _, err := auth.Issue(subject, role, "", testSigning, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func get(t *testing.T, r http.Handler, path, authz string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func TestDashboardRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/shifts", "/api/attendance/logs", "/api/zones/Z1/onsite"} {
		w, _ := get(t, env.router, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestDashboardShiftsScopedForWorkers(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutCard(attendance.Card{UID: "C2", WorkerID: "W2", Active: true})
	for _, card := range []string{"C1", "C2"} {
		w, _ := env.tap(t, tapBody(testDevice, "secret1", card))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, out := get(t, env.router, "/api/shifts", bearer(t, "M1", auth.RoleManager))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["shifts"], 2)

	w, out = get(t, env.router, "/api/shifts?worker_id=W2", bearer(t, "W1", auth.RoleWorker))
	require.Equal(t, http.StatusOK, w.Code)
	shifts := out["shifts"].([]any)
	require.Len(t, shifts, 1)
	assert.Equal(t, "W1", shifts[0].(map[string]any)["worker_id"])
	assert.Nil(t, shifts[0].(map[string]any)["check_out_time"])
}

func TestDashboardLogsForStaffOnly(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.tap(t, tapBody(testDevice, "secret1", "C1"))
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = get(t, env.router, "/api/attendance/logs", bearer(t, "W1", auth.RoleWorker))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, out := get(t, env.router, "/api/attendance/logs?worker_id=W1", bearer(t, "S1", auth.RoleSupervisor))
	require.Equal(t, http.StatusOK, w.Code)
	logs := out["logs"].([]any)
	require.Len(t, logs, 1)
	entry := logs[0].(map[string]any)
	assert.Equal(t, "IN", entry["tap_type"])
	assert.Equal(t, testDevice, entry["device_id"])
}

func TestDashboardLogsRejectsBadDeviceFilter(t *testing.T) {
	env := newTestEnv(t)
	w, out := get(t, env.router, "/api/attendance/logs?device_id=not-a-uuid", bearer(t, "S1", auth.RoleSupervisor))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request payload", out["error"])
	details := out["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "device_id", details[0].(map[string]any)["field"])

	w, out = get(t, env.router, "/api/attendance/logs?device_id="+testDevice, bearer(t, "S1", auth.RoleSupervisor))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, out["logs"])
}

func TestDashboardOnSite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := attendance.NewMemoryStore()
	ros := roster.New(roster.NewMemoryBackend())
	require.NoError(t, ros.Rebuild(context.Background(), []attendance.Shift{{WorkerID: "W2", ZoneID: "Z1"}, {WorkerID: "W1", ZoneID: "Z1"}}))

	r := NewRouter(Deps{Reader: store, Roster: ros, SigningKey: testSigning})
	w, out := get(t, r, "/api/zones/Z1/onsite", bearer(t, "M1", auth.RoleManager))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"W1", "W2"}, out["workers"])
	assert.Equal(t, float64(2), out["count"])

	r = NewRouter(Deps{Reader: store, SigningKey: testSigning})
	w, _ = get(t, r, "/api/zones/Z1/onsite", bearer(t, "M1", auth.RoleManager))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Health: map[string]HealthCheck{
		"db":    func(context.Context) bool { return true },
		"redis": func(context.Context) bool { return false },
	}})
	w, out := get(t, r, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, true, out["db"])
	assert.Equal(t, false, out["redis"])
}
