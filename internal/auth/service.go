package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	issuer     = "opportunity-monitor"
	DefaultTTL = 24 * time.Hour
	maxTTL     = 30 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Service checks the admin secret and issues and validates HS256 tokens.
type Service struct {
	adminSecret []byte
	jwtSecret   []byte
	now         func() time.Time
}

// NewService builds a Service. Empty secrets are replaced with ephemeral
// random ones, which makes tokens invalid across restarts.
func NewService(adminSecret, jwtSecret string) (*Service, error) {
	log := zap.S().Named("auth")

	admin, err := secretOrEphemeral(adminSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
	}
	if strings.TrimSpace(adminSecret) == "" {
		log.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	}

	signing, err := secretOrEphemeral(jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT fallback secret: %w", err)
	}
	if strings.TrimSpace(jwtSecret) == "" {
		log.Warn("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	}

	return &Service{adminSecret: admin, jwtSecret: signing, now: time.Now}, nil
}

func secretOrEphemeral(secret string) ([]byte, error) {
	if s := strings.TrimSpace(secret); s != "" {
		return []byte(s), nil
	}
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return []byte(base64.RawURLEncoding.EncodeToString(buf)), nil
}

func (s *Service) CheckAdmin(secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), s.adminSecret) == 1
}

// IssueToken signs a token for subject. ttl is clamped to (0, 30 days];
// zero means DefaultTTL.
func (s *Service) IssueToken(subject string, ttl time.Duration) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ttl = min(ttl, maxTTL)

	now := s.now()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken validates a token and returns its subject.
func (s *Service) ParseToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
