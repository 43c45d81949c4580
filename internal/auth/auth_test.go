package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateAdminKey(t *testing.T) {
	p, ok := Authenticate("admin-key", "admin-key", nil)
	if !ok {
		t.Fatal("admin key rejected")
	}
	if !HasAnyScope(p, ScopeProvision) || p.Name != "admin" {
		t.Fatalf("admin principal = %+v", p)
	}
}

func TestAuthenticateScopedToken(t *testing.T) {
	tokens := []TokenConfig{
		{Name: "watcher", Token: "tok-watch", Scopes: []string{ScopeEventsRW, " "}},
		{Name: "requestor", Token: "tok-exert", Scopes: []string{ScopeExert}},
	}

	p, ok := Authenticate("tok-watch", "admin-key", tokens)
	if !ok || p.Name != "watcher" {
		t.Fatalf("watcher token: ok=%v p=%+v", ok, p)
	}
	if !HasAnyScope(p, ScopeEventsRO) {
		t.Fatal("events:rw should imply events:ro")
	}
	if HasAnyScope(p, ScopeExert) {
		t.Fatal("watcher must not exert")
	}
	if len(p.Scopes) != 2 {
		t.Fatalf("blank scopes should be dropped: %v", p.Scopes)
	}

	if _, ok := Authenticate("tok-exer", "admin-key", tokens); ok {
		t.Fatal("prefix of a token accepted")
	}
	if _, ok := Authenticate("", "", tokens); ok {
		t.Fatal("empty token accepted against empty admin key")
	}
}

func TestHasAnyScopeWithoutRequirements(t *testing.T) {
	if !HasAnyScope(Principal{}) {
		t.Fatal("no required scopes should always pass")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "Bearer  abc ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ledger", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractBearerToken(r)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("header %q: got %q, err %v", tt.header, got, err)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{Name: "alice"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Name != "alice" {
		t.Fatalf("principal = %+v ok=%v", p, ok)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("principal found in empty context")
	}
}

func TestValidateScopes(t *testing.T) {
	if err := ValidateScopes([]string{ScopeExert, ScopeLedgerRO}); err != nil {
		t.Fatalf("ValidateScopes: %v", err)
	}
	if err := ValidateScopes([]string{"jobs:rw"}); err == nil {
		t.Fatal("expected unknown scope error")
	}
}
