package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-signing-key"

func TestIssueAndParse(t *testing.T) {
	token, exp, err := Issue("M1", RoleManager, "plantation", testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := Parse(token, testKey, "plantation")
	require.NoError(t, err)
	assert.Equal(t, "M1", claims.Subject)
	assert.Equal(t, RoleManager, claims.Role)
}

func TestParseRejects(t *testing.T) {
	valid, _, err := Issue("W1", RoleWorker, "plantation", testKey, time.Hour)
	require.NoError(t, err)
	expired, _, err := Issue("W1", RoleWorker, "plantation", testKey, -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleManager, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "M1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]struct{ token, key, issuer string }{
		"wrong key":       {valid, "other", "plantation"},
		"issuer mismatch": {valid, testKey, "someone-else"},
		"expired":         {expired, testKey, ""},
		"alg none":        {none, testKey, ""},
		"garbage":         {"not-a-token", testKey, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(tc.token, tc.key, tc.issuer)
			assert.Error(t, err)
		})
	}
}

func TestSessionMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/staff", SessionAuth(testKey, ""), RequireRole(RoleManager, RoleSupervisor), func(c *gin.Context) {
		claims, _ := Session(c)
		c.String(http.StatusOK, claims.Subject)
	})

	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/staff", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	manager, _, err := Issue("M1", RoleManager, "", testKey, time.Hour)
	require.NoError(t, err)
	worker, _, err := Issue("W1", RoleWorker, "", testKey, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, call("").Code)
	assert.Equal(t, http.StatusUnauthorized, call("Bearer nope").Code)
	assert.Equal(t, http.StatusForbidden, call("Bearer "+worker).Code)

	w := call("bearer " + manager)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "M1", w.Body.String())
}
