package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestSessions(t *testing.T) *Sessions {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("7490"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	return NewSessions(string(hash), "test-secret")
}

func TestLoginAndVerify(t *testing.T) {
	sessions := newTestSessions(t)

	token, err := sessions.Login("7490")
	if err != nil {
		t.Fatalf("Failed to log in: %v", err)
	}
	if token == "" {
		t.Fatal("Expected a token")
	}

	if err := sessions.Verify(token); err != nil {
		t.Errorf("Expected token to verify, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	sessions := newTestSessions(t)

	if _, err := sessions.Login("1234"); err != ErrInvalidPassword {
		t.Errorf("Expected ErrInvalidPassword, got %v", err)
	}
}

func TestVerify_BadToken(t *testing.T) {
	sessions := newTestSessions(t)

	if err := sessions.Verify("not-a-token"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}

	// A token signed with a different secret must not verify.
	other := NewSessions("", "other-secret")
	hash, _ := bcrypt.GenerateFromPassword([]byte("x"), bcrypt.MinCost)
	other.passwordHash = hash
	token, err := other.Login("x")
	if err != nil {
		t.Fatalf("Failed to log in against other sessions: %v", err)
	}
	if err := sessions.Verify(token); err != ErrInvalidToken {
		t.Errorf("Expected foreign token to be rejected, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	sessions := newTestSessions(t)
	handler := sessions.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/apartments", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rr.Code)
	}

	token, _ := sessions.Login("7490")
	req = httptest.NewRequest("GET", "/apartments", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rr.Code)
	}
}
