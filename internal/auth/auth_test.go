package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService("admin-secret", "jwt-secret")
	require.NoError(t, err)
	return s
}

func TestIssueAndParseToken(t *testing.T) {
	s := newService(t)
	token, exp, err := s.IssueToken("trigger", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	sub, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "trigger", sub)

	_, _, err = s.IssueToken("  ", 0)
	assert.Error(t, err)
}

func TestParseTokenRejects(t *testing.T) {
	s := newService(t)

	other, err := NewService("admin-secret", "another-secret")
	require.NoError(t, err)
	foreign, _, err := other.IssueToken("x", time.Hour)
	require.NoError(t, err)
	_, err = s.ParseToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	past := time.Now().Add(-48 * time.Hour)
	s.now = func() time.Time { return past }
	expired, _, err := s.IssueToken("x", time.Hour)
	require.NoError(t, err)
	s.now = time.Now
	_, err = s.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: issuer, Subject: "x"})
	signed, err := noExp.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)
	_, err = s.ParseToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEphemeralSecrets(t *testing.T) {
	s, err := NewService("", "")
	require.NoError(t, err)
	assert.False(t, s.CheckAdmin(""))
	assert.Len(t, s.adminSecret, 64)

	token, _, err := s.IssueToken("x", 0)
	require.NoError(t, err)
	_, err = s.ParseToken(token)
	assert.NoError(t, err)
}

func TestMiddleware(t *testing.T) {
	s := newService(t)
	token, _, err := s.IssueToken("trigger", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	handler := s.Middleware(func(c echo.Context) error {
		return c.String(http.StatusOK, SubjectFromContext(c))
	})

	tests := []struct {
		name    string
		headers map[string]string
		code    int
		subject string
	}{
		{"admin header", map[string]string{"X-Admin-Secret": "admin-secret"}, http.StatusOK, AdminSubject},
		{"bearer admin", map[string]string{"Authorization": "bearer admin-secret"}, http.StatusOK, AdminSubject},
		{"bearer token", map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, "trigger"},
		{"wrong admin", map[string]string{"X-Admin-Secret": "nope"}, http.StatusUnauthorized, ""},
		{"bad token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"no header", nil, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			err := handler(e.NewContext(req, rec))
			if tt.code == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, tt.subject, rec.Body.String())
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.code, he.Code)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	s := newService(t)
	e := echo.New()
	handler := s.AdminOnly(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.Set(string(SubjectKey), "trigger")
	var he *echo.HTTPError
	require.ErrorAs(t, handler(c), &he)
	assert.Equal(t, http.StatusForbidden, he.Code)

	c.Set(string(SubjectKey), AdminSubject)
	assert.NoError(t, handler(c))
}
