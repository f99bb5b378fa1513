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

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", mw, func(c *gin.Context) {
		userID, ok := GetUserID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, userID)
	})
	return r
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	r := newRouter(JWTMiddleware(testSecret, "tomato"))
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"tomato"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())
}

func TestJWTMiddlewareRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong audience", "Bearer " + signToken(t, jwt.RegisteredClaims{Subject: "user-1", Audience: jwt.ClaimStrings{"other"}})},
		{"missing subject", "Bearer " + signToken(t, jwt.RegisteredClaims{Audience: jwt.ClaimStrings{"tomato"}})},
	}

	r := newRouter(JWTMiddleware(testSecret, "tomato"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestJWTMiddlewareAcceptsQueryTokenOnWebsocketUpgrade(t *testing.T) {
	r := newRouter(JWTMiddleware(testSecret, ""))
	token := signToken(t, jwt.RegisteredClaims{Subject: "user-ws"})

	req := httptest.NewRequest(http.MethodGet, "/whoami?access_token="+token, nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "user-ws", w.Body.String())

	plain := httptest.NewRequest(http.MethodGet, "/whoami?access_token="+token, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, plain)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareFallsBackToAnonymous(t *testing.T) {
	r := newRouter(Middleware("  ", ""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, AnonymousUser, w.Body.String())
}
