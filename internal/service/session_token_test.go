package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	sid := uuid.New()

	token, exp, err := svc.Issue(sid, "jee-main", "mock-01", "cand-7")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 59*time.Minute {
		t.Fatalf("expiry = %v, want about an hour from now", exp)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.SessionID != sid || claims.ExamType != "jee-main" || claims.PaperID != "mock-01" || claims.CandidateID != "cand-7" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestSessionTokenRejected(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	token, _, _ := svc.Issue(uuid.New(), "jee-main", "mock-01", "")

	expired := NewTokenService("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, _ := expired.Issue(uuid.New(), "jee-main", "mock-01", "")

	tests := []struct {
		name  string
		svc   *TokenService
		token string
	}{
		{"wrong secret", NewTokenService("other-secret", time.Hour), token},
		{"expired", svc, old},
		{"garbage", svc, "not.a.token"},
		{"tampered", svc, token[:strings.LastIndex(token, ".")] + ".AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.svc.Validate(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("err = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
