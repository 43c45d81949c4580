package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mattjoyce/exert/internal/auth"
)

func TestAuthMiddlewareSetsPrincipal(t *testing.T) {
	t.Parallel()

	s := &Server{config: Config{Tokens: []auth.TokenConfig{{Name: "ci", Token: "ci-token", Scopes: []string{auth.ScopeExert}}}}}
	var seen auth.Principal
	h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer ci-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if seen.Name != "ci" {
		t.Fatalf("principal = %+v, want ci", seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: status = %d, want 401", rec.Code)
	}
}

func TestRequireScopesWithoutPrincipal(t *testing.T) {
	t.Parallel()

	s := &Server{config: Config{APIKey: "k"}}
	h := s.requireScopes(auth.ScopeLedgerRO)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
