package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const SubjectKey contextKey = "subject"

// AdminSubject is the subject recorded for requests authenticated with the
// admin secret.
const AdminSubject = "admin"

// Middleware accepts the X-Admin-Secret header, a bearer admin secret or a
// bearer token issued by the service, and stores the caller's subject.
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.CheckAdmin(c.Request().Header.Get("X-Admin-Secret")) {
			c.Set(string(SubjectKey), AdminSubject)
			return next(c)
		}

		bearer, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing or invalid Authorization header")
		}
		if s.CheckAdmin(bearer) {
			c.Set(string(SubjectKey), AdminSubject)
			return next(c)
		}

		sub, err := s.ParseToken(bearer)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}
		c.Set(string(SubjectKey), sub)
		return next(c)
	}
}

// AdminOnly rejects callers that did not present the admin secret.
func (s *Service) AdminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if SubjectFromContext(c) != AdminSubject {
			return echo.NewHTTPError(http.StatusForbidden, "Admin secret required")
		}
		return next(c)
	}
}

func bearerToken(header string) (string, bool) {
	if len(header) <= 7 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func SubjectFromContext(c echo.Context) string {
	sub, _ := c.Get(string(SubjectKey)).(string)
	return sub
}
