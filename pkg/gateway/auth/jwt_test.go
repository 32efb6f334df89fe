package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager("test-secret-0123456789", "cdss-core", "cdss-clients", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	return m
}

func TestIssueAndValidate(t *testing.T) {
	m := newManager(t)
	user := Clinician{ID: uuid.New(), Email: "dr@example.org", Role: "clinician"}

	token, err := m.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := m.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != user.ID || claims.Role != "clinician" || claims.Email != user.Email {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	m := newManager(t)
	token, err := m.IssueToken(Clinician{ID: uuid.New(), Role: "viewer"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := m.ValidateToken(context.Background(), tampered); err == nil {
		t.Fatal("tampered token accepted")
	}

	if _, err := m.ValidateToken(context.Background(), "not-a-token"); err == nil {
		t.Fatal("malformed token accepted")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m := newManager(t)
	m.nowFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.IssueToken(Clinician{ID: uuid.New(), Role: "clinician"})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	m.nowFunc = time.Now
	if _, err := m.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := NewJWTManager("short", "iss", "aud", time.Hour); err == nil {
		t.Fatal("short secret accepted")
	}
}
