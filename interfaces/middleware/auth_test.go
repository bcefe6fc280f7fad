package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-sync/domain/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "session-secret-for-tests"

func signSession(t *testing.T, secret string, claims SessionClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() SessionClaims {
	return SessionClaims{
		OrganizationID: "org-1",
		Role:           "admin",
		StandardClaims: jwt.StandardClaims{Subject: "user-1", ExpiresAt: time.Now().Add(time.Hour).Unix()},
	}
}

func newAuthRouter(h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", h, func(c *gin.Context) {
		s, ok := SessionFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, s)
	})
	return r
}

func TestAuth(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = time.Now().Add(-time.Minute).Unix()
	noOrg := validClaims()
	noOrg.OrganizationID = ""

	tests := []struct {
		name   string
		header string
		cookie string
		want   int
	}{
		{name: "bearer token", header: "Bearer " + signSession(t, testSecret, validClaims()), want: http.StatusOK},
		{name: "cookie token", cookie: signSession(t, testSecret, validClaims()), want: http.StatusOK},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "malformed", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signSession(t, "another-secret-value", validClaims()), want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signSession(t, testSecret, expired), want: http.StatusUnauthorized},
		{name: "no organization", header: "Bearer " + signSession(t, testSecret, noOrg), want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newAuthRouter(Auth(AuthConfig{SecretKey: testSecret}))
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"user_id":"user-1","organization_id":"org-1","role":"admin"}`, w.Body.String())
			}
		})
	}
}

func TestBrowserAuth_RedirectsToLogin(t *testing.T) {
	r := newAuthRouter(BrowserAuth(AuthConfig{SecretKey: testSecret, LoginPath: "/login"}))
	req := httptest.NewRequest(http.MethodGet, "/protected?x=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fprotected%3Fx%3D1", w.Header().Get("Location"))
}

func TestSessionFrom_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := SessionFrom(c)
	assert.False(t, ok)

	SetSession(c, model.AuthSession{UserID: "u", OrganizationID: "o"})
	s, ok := SessionFrom(c)
	assert.True(t, ok)
	assert.Equal(t, "o", s.OrganizationID)
}
