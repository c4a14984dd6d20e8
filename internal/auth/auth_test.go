package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueVerify(t *testing.T) {
	ts := NewTokenService([]byte("test-secret"), time.Hour)

	signed, expires, err := ts.Issue("admin", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expires) <= 0 {
		t.Error("token already expired")
	}

	claims, err := ts.Verify(signed)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Caller() != "admin" || claims.Role != "admin" {
		t.Errorf("claims = %q/%q", claims.Caller(), claims.Role)
	}
}

func TestVerifyRejects(t *testing.T) {
	ts := NewTokenService([]byte("test-secret"), time.Hour)
	other := NewTokenService([]byte("other-secret"), time.Hour)

	signed, _, _ := other.Issue("admin", "admin")

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signed},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Verify(tt.token); err == nil {
				t.Error("expected verification failure")
			}
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	ts := NewTokenService([]byte("test-secret"), -time.Minute)
	signed, _, _ := ts.Issue("admin", "admin")
	if _, err := ts.Verify(signed); err == nil {
		t.Error("expected expired-token failure")
	}
}

func TestRequire(t *testing.T) {
	ts := NewTokenService([]byte("test-secret"), time.Hour)
	signed, _, _ := ts.Issue("admin", "admin")

	called := false
	h := ts.Require(func(w http.ResponseWriter, r *http.Request) { called = true })

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCalled bool
	}{
		{"valid", "Bearer " + signed, http.StatusOK, true},
		{"missing", "", http.StatusUnauthorized, false},
		{"malformed", "Token abc", http.StatusUnauthorized, false},
		{"invalid", "Bearer garbage", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodPost, "/api/index/rebuild", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}
