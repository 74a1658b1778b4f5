package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestJWTManager_IssueAndValidate(t *testing.T) {
	m := NewJWTManager(testSecret, "cryptoblade", time.Hour)

	token, expiresAt, err := m.Issue("dashboard", RoleViewer)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.Equal(t, RoleViewer, claims.Role)
	assert.False(t, claims.IsAdmin())
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager(testSecret, "cryptoblade", time.Hour)
	token, _, err := m.Issue("ops", RoleAdmin)
	require.NoError(t, err)

	other := NewJWTManager("another-secret-another-secret-xx", "cryptoblade", time.Hour)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewJWTManager(testSecret, "someone-else", time.Hour)
	_, err = wrongIssuer.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = m.Issue("ops", "root")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager(testSecret, "cryptoblade", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := m.Issue("ops", RoleAdmin)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewJWTManager(testSecret, "cryptoblade", time.Hour)
	viewer, _, err := m.Issue("dash", RoleViewer)
	require.NoError(t, err)
	admin, _, err := m.Issue("ops", RoleAdmin)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/read", Middleware(m), func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).Subject)
	})
	r.POST("/control", Middleware(m), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"no header", http.MethodGet, "/read", "", http.StatusUnauthorized},
		{"bad scheme", http.MethodGet, "/read", "Basic " + viewer, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/read", "Bearer nope", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/read", "Bearer " + viewer, http.StatusOK},
		{"lowercase scheme", http.MethodGet, "/read", "bearer " + viewer, http.StatusOK},
		{"viewer cannot control", http.MethodPost, "/control", "Bearer " + viewer, http.StatusForbidden},
		{"admin controls", http.MethodPost, "/control", "Bearer " + admin, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
