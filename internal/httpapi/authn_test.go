package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"accessgrid.org/internal/access"
	"accessgrid.org/internal/audit"
	"accessgrid.org/internal/store/memory"
)

func newAuthedAPI(t *testing.T) (*API, *Authenticator, *access.Service) {
	t.Helper()
	store := memory.New()
	svc, err := access.NewService(store, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	resolver, err := access.NewResolver(store)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	auth := NewAuthenticator("test-secret")
	api, err := New(Options{
		Service:  svc,
		Resolver: resolver,
		Auth:     auth,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return api, auth, svc
}

func jsonBody(s string) *strings.Reader { return strings.NewReader(s) }

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthenticator("secret")
	token, err := auth.GenerateToken("u1", "admin@example.com", []string{PermResolve, PermResolve, ""}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := auth.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "admin@example.com" {
		t.Fatalf("claims = %+v", claims)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != PermResolve {
		t.Fatalf("permissions = %v, want deduped", claims.Permissions)
	}
}

func TestTokenValidationFailures(t *testing.T) {
	auth := NewAuthenticator("secret")

	if _, err := auth.ParseAndValidate(""); err != ErrInvalidToken {
		t.Errorf("empty token: err = %v", err)
	}
	if _, err := auth.ParseAndValidate("not.a.jwt"); err != ErrInvalidToken {
		t.Errorf("garbage token: err = %v", err)
	}

	expired, err := auth.GenerateToken("u1", "a@example.com", nil, time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := auth.ParseAndValidate(expired); err != ErrInvalidToken {
		t.Errorf("expired token: err = %v", err)
	}

	other := NewAuthenticator("different-secret")
	token, err := other.GenerateToken("u1", "a@example.com", nil, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := auth.ParseAndValidate(token); err != ErrInvalidToken {
		t.Errorf("wrong secret: err = %v", err)
	}
}

func TestNewAuthenticatorEmptySecret(t *testing.T) {
	if NewAuthenticator("  ") != nil {
		t.Fatal("blank secret must disable auth")
	}
}

func TestAuthMiddlewareGatesRequests(t *testing.T) {
	api, auth, _ := newAuthedAPI(t)
	h := api.Handler()

	// Public paths stay open.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	// No token.
	req = httptest.NewRequest(http.MethodGet, "/v1/organizations", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}

	// Wrong scheme.
	req = httptest.NewRequest(http.MethodGet, "/v1/organizations", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme status = %d", rec.Code)
	}

	// Valid token without the management permission.
	token, err := auth.GenerateToken("u1", "viewer@example.com", []string{PermResolve}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/organizations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing permission status = %d", rec.Code)
	}

	// Valid token with the permission.
	token, err = auth.GenerateToken("u1", "admin@example.com", []string{PermManageOrganizations}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/organizations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuthenticatedActorReachesAuditLog(t *testing.T) {
	api, auth, svc := newAuthedAPI(t)
	h := api.Handler()

	token, err := auth.GenerateToken("u42", "operator@example.com", []string{PermManageOrganizations}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/organizations",
		jsonBody(`{"name":"Acme","slug":"acme"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	entries, err := svc.AuditLog().List(req.Context(), audit.Filter{}, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.ActorID != "u42" || e.ActorEmail != "operator@example.com" || e.IPAddress != "203.0.113.7" {
		t.Fatalf("actor attribution = %+v", e)
	}
}
