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
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, claims jwt.RegisteredClaims, key interface{}) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func authEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuth(secret, "social"))
	r.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	return r
}

func TestJWTAuth(t *testing.T) {
	r := authEngine()
	valid := sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "social",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, []byte(secret))

	cases := []struct {
		name   string
		header string
		query  string
		status int
		body   string
	}{
		{name: "bearer", header: "Bearer " + valid, status: http.StatusOK, body: "alice"},
		{name: "query fallback", query: "?access_token=" + valid, status: http.StatusOK, body: "alice"},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice", Issuer: "social"}, []byte("other")), status: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice", Issuer: "evil"}, []byte(secret)), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice", Issuer: "social", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}, []byte(secret)), status: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "social"}, []byte(secret)), status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/whoami"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(0.001, 2)
	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"), "limits are per key")
}

func TestRequestIDAndTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Timeout(50*time.Millisecond))
	r.GET("/ping", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "fixed")
	r.ServeHTTP(w, req)
	assert.Equal(t, "fixed", w.Header().Get(HeaderRequestID))
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWTAuth(secret, ""), AdminOnly([]string{"ops", ""}))
	r.POST("/sweep", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		user   string
		status int
	}{
		{name: "admin", user: "ops", status: http.StatusNoContent},
		{name: "regular user", user: "alice", status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/sweep", nil)
			req.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: tc.user}, []byte(secret)))
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
