// Package auth implements the single shared-password admin session. The
// password is checked against a bcrypt hash from configuration and a signed
// token carries the session afterwards.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 24 * time.Hour

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid or expired session token")
)

// Sessions issues and verifies admin session tokens.
type Sessions struct {
	passwordHash []byte
	secret       []byte
}

func NewSessions(passwordHash, secret string) *Sessions {
	return &Sessions{
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
	}
}

// Login checks the shared admin password and returns a session token.
func (s *Sessions) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidPassword
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify parses a session token and reports whether it is valid.
func (s *Sessions) Verify(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return s.secret, nil
		})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// Middleware rejects requests without a valid Bearer session token.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			http.Error(w, "Missing session token", http.StatusUnauthorized)
			return
		}
		if err := s.Verify(tokenString); err != nil {
			http.Error(w, "Invalid session token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
