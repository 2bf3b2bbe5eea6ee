package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codelab-server/logger"
)

const (
	testSigningKey = "test-signing-key"
	testIssuer     = "codelab"
)

func mintToken(t *testing.T, key, issuer, subject string, roles []string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func authTestRouter(requiredRoles []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/")
	group.Use(AuthMiddleware(testSigningKey, testIssuer, logger.NewNop()))
	if requiredRoles != nil {
		group.Use(RoleCheckMiddleware(requiredRoles))
	}
	group.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
	})
	return r
}

func doAuthRequest(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	r := authTestRouter(nil)
	token := mintToken(t, testSigningKey, testIssuer, "user-42", nil, time.Now().Add(time.Hour))

	w := doAuthRequest(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user-42")
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	r := authTestRouter(nil)

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"garbage token":  "Bearer not.a.jwt",
		"wrong key":      "Bearer " + mintToken(t, "other-key", testIssuer, "u1", nil, time.Now().Add(time.Hour)),
		"expired":        "Bearer " + mintToken(t, testSigningKey, testIssuer, "u1", nil, time.Now().Add(-time.Hour)),
		"wrong issuer":   "Bearer " + mintToken(t, testSigningKey, "someone-else", "u1", nil, time.Now().Add(time.Hour)),
		"no subject":     "Bearer " + mintToken(t, testSigningKey, testIssuer, "", nil, time.Now().Add(time.Hour)),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := doAuthRequest(r, header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRoleCheckMiddleware(t *testing.T) {
	r := authTestRouter([]string{"admin", "instructor"})

	t.Run("allowed role", func(t *testing.T) {
		token := mintToken(t, testSigningKey, testIssuer, "u1", []string{"instructor"}, time.Now().Add(time.Hour))
		w := doAuthRequest(r, "Bearer "+token)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("learner denied", func(t *testing.T) {
		token := mintToken(t, testSigningKey, testIssuer, "u1", []string{"learner"}, time.Now().Add(time.Hour))
		w := doAuthRequest(r, "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("no roles denied", func(t *testing.T) {
		token := mintToken(t, testSigningKey, testIssuer, "u1", nil, time.Now().Add(time.Hour))
		w := doAuthRequest(r, "Bearer "+token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
