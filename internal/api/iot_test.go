package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"plantation/internal/attendance"
)

const (
	testDevice  = "6f1c1e0a-6a43-4c2b-9a51-0d8d3f1b2c10"
	testSigning = "dashboard-secret"
)

type testEnv struct {
	router *gin.Engine
	store  *attendance.MemoryStore
	clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)

	env := &testEnv{
		store: attendance.NewMemoryStore(),
		clock: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	env.store.PutDevice(attendance.Device{ID: uuid.MustParse(testDevice), APIKeyHash: string(hash), ZoneID: "Z1"})
	env.store.PutCard(attendance.Card{UID: "C1", WorkerID: "W1", Active: true})
	env.store.PutCard(attendance.Card{UID: "C9", WorkerID: "W9", Active: false})

	svc := attendance.NewService(env.store, attendance.WithClock(func() time.Time { return env.clock }))
	env.router = NewRouter(Deps{
		Taps:        svc,
		Reader:      env.store,
		SigningKey:  testSigning,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return env
}

func (e *testEnv) tap(t *testing.T, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return serve(t, e.router, body)
}

func serve(t *testing.T, r http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, AttendancePath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func tapBody(device, key, card string) string {
	b, _ := json.Marshal(map[string]string{"device_id": device, "api_key": key, "rfid_uid": card})
	return string(b)
}

func TestAttendanceCheckInThenOut(t *testing.T) {
	env := newTestEnv(t)

	w, out := env.tap(t, tapBody(testDevice, "secret1", "C1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "CHECK-IN", out["action"])
	assert.Equal(t, "W1", out["worker_id"])
	assert.Equal(t, "2026-03-02T08:00:00.000Z", out["timestamp"])

	env.clock = env.clock.Add(2 * time.Hour)
	w, out = env.tap(t, tapBody(testDevice, "secret1", "C1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CHECK-OUT", out["action"])
	assert.Equal(t, "2026-03-02T10:00:00.000Z", out["timestamp"])

	shifts := env.store.Shifts()
	require.Len(t, shifts, 1)
	require.NotNil(t, shifts[0].TotalHours)
	assert.Equal(t, 2.0, *shifts[0].TotalHours)
	assert.Len(t, env.store.Logs(), 2)
}

func TestAttendanceValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]struct {
		body   string
		fields []string
	}{
		"missing fields":  {`{}`, []string{"device_id", "api_key", "rfid_uid"}},
		"device not uuid": {tapBody("D1", "secret1", "C1"), []string{"device_id"}},
		"empty card":      {tapBody(testDevice, "secret1", ""), []string{"rfid_uid"}},
		"wrong json type": {`{"device_id": 7, "api_key": "k", "rfid_uid": "C1"}`, []string{"device_id"}},
		"malformed json":  {`{"device_id":`, []string{""}},
		"empty body":      {``, []string{""}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w, out := env.tap(t, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Invalid request payload", out["error"])

			details, ok := out["details"].([]any)
			require.True(t, ok, "details must be a list")
			var fields []string
			for _, d := range details {
				fields = append(fields, d.(map[string]any)["field"].(string))
			}
			assert.ElementsMatch(t, tc.fields, fields)
		})
	}
	assert.Empty(t, env.store.Logs())
}

func TestAttendanceUnauthorizedDevice(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{
		tapBody(testDevice, "wrong", "C1"),
		tapBody(testDevice, "wrong", "no-such-card"),
		tapBody(uuid.NewString(), "secret1", "C1"),
	} {
		w, out := env.tap(t, body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, map[string]any{"error": "Unauthorized device"}, out)
	}
	assert.Empty(t, env.store.Shifts())
}

func TestAttendanceInvalidCard(t *testing.T) {
	env := newTestEnv(t)

	for _, card := range []string{"C9", "unknown"} {
		w, out := env.tap(t, tapBody(testDevice, "secret1", card))
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Invalid or inactive RFID card", out["error"])
	}
	assert.Empty(t, env.store.Shifts())
	assert.Empty(t, env.store.Logs())
}

type stubProcessor struct {
	err error
}

func (s stubProcessor) ProcessTap(context.Context, attendance.TapRequest) (attendance.TapResult, error) {
	return attendance.TapResult{}, s.err
}

func TestAttendanceErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		leak   string
	}{
		{attendance.ErrShiftConflict, http.StatusConflict, ""},
		{attendance.ErrDuplicateTap, http.StatusConflict, ""},
		{errors.New(`pq: relation "shifts" does not exist`), http.StatusInternalServerError, "relation"},
	}
	for _, tc := range cases {
		r := NewRouter(Deps{Taps: stubProcessor{err: tc.err}, Reader: attendance.NewMemoryStore()})
		w, out := serve(t, r, tapBody(testDevice, "secret1", "C1"))
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.NotEmpty(t, out["error"])
		assert.NotContains(t, out, "success")
		if tc.leak != "" {
			assert.Equal(t, "Internal server error", out["error"])
			assert.NotContains(t, w.Body.String(), tc.leak)
		}
	}
}

func TestAttendanceRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Deps{Taps: stubProcessor{err: attendance.ErrInvalidCredential}, Reader: attendance.NewMemoryStore(), RateLimitPerMin: 1})

	w, _ := serve(t, r, tapBody(testDevice, "secret1", "C1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = serve(t, r, tapBody(testDevice, "secret1", "C1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
