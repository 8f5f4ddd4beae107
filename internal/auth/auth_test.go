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

const (
	testKey    = "test-signing-key"
	testIssuer = "rfid-attendance"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("1C:69:20:A3:8A:4C", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := ParseAccess(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "1C:69:20:A3:8A:4C", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)

	_, err = ParseAccess(pair.RefreshToken, testKey, testIssuer)
	assert.Error(t, err, "refresh tokens are not access tokens")
	_, err = ParseRefresh(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
	_, err = ParseRefresh(pair.RefreshToken, testKey, testIssuer)
	assert.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.ErrorContains(t, err, "issuer mismatch")
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("T1", RoleTeacher, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestBearerAndRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Bearer(testKey, testIssuer), RequireRoles(RoleAdmin, RolePCoord), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})

	token := func(role string) string {
		pair, err := Issue("user-1", role, testIssuer, testKey, time.Minute, time.Hour)
		require.NoError(t, err)
		return pair.AccessToken
	}

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "no token", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + token(RoleTeacher), want: http.StatusForbidden},
		{name: "admin", header: "Bearer " + token(RoleAdmin), want: http.StatusOK},
		{name: "role is case-insensitive", header: "bearer " + token("pcoord"), want: http.StatusOK},
		{name: "query token", query: "?token=" + token(RoleAdmin), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
