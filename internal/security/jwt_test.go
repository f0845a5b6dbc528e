package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := []byte("test-secret-key-32bytes-long!!!!!")
	token, err := GenerateToken("op-1", RoleAdmin, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.OperatorID != "op-1" {
		t.Errorf("OperatorID = %q, want %q", claims.OperatorID, "op-1")
	}
	if claims.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, RoleAdmin)
	}
	if claims.IssuedAt == 0 {
		t.Error("IssuedAt should be set")
	}
	if claims.ExpiresAt == 0 {
		t.Error("ExpiresAt should be set")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, _ := GenerateToken("op-1", RoleAdmin, secret, -time.Hour)
	_, err := ValidateToken(token, secret)
	if err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	secret := []byte("test-secret")
	_, err := ValidateToken("not-a-valid-jwt", secret)
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	secret1 := []byte("secret-1")
	secret2 := []byte("secret-2")
	token, _ := GenerateToken("op-1", RoleAdmin, secret1, time.Hour)
	_, err := ValidateToken(token, secret2)
	if err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func authedRequest(t *testing.T, secret []byte, role string) *http.Request {
	t.Helper()
	token, err := GenerateToken("op-1", role, secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/api/improvements/x/approve", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAuthMiddlewarePassesClaimsThrough(t *testing.T) {
	secret := []byte("test-secret")
	var reached bool
	handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaims(r)
		if err != nil || claims.OperatorID != "op-1" || claims.Role != RoleReviewer {
			t.Errorf("claims = %+v, err = %v", claims, err)
		}
		reached = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(t, secret, RoleReviewer))
	if rec.Code != http.StatusOK || !reached {
		t.Errorf("status = %d, reached = %v", rec.Code, reached)
	}
}

func TestRoleAllowed(t *testing.T) {
	tests := []struct {
		name    string
		role    string
		allowed []string
		want    bool
	}{
		{"reviewer allowed", RoleReviewer, []string{RoleReviewer}, true},
		{"admin always allowed", RoleAdmin, []string{RoleReviewer}, true},
		{"readonly forbidden", RoleReadonly, []string{RoleReviewer}, false},
		{"no roles means admin only", RoleReviewer, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleAllowed(tt.role, tt.allowed...); got != tt.want {
				t.Errorf("RoleAllowed(%s, %v) = %v, want %v", tt.role, tt.allowed, got, tt.want)
			}
		})
	}
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	handler := AuthMiddleware([]byte("s"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a token")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/skills", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuthMiddlewareDevMode(t *testing.T) {
	var reached bool
	handler := AuthMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/skills", nil))
	if !reached {
		t.Error("dev mode blocked the request")
	}
}
