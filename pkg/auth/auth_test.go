package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

// mockAuthn is a test authenticator with configurable behavior.
type mockAuthn struct {
	result AuthResult
	calls  int
}

func (m *mockAuthn) Authenticate(_ context.Context, _ *http.Request) AuthResult {
	m.calls++
	return m.result
}

func TestAuthChain_FirstYesStops(t *testing.T) {
	second := &mockAuthn{result: Reject(SchemeJWT, Unauthorized("x", ErrUnauthenticated))}
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: Accept(SchemeOAuth1, &Identity{ClientKey: "tenant-a"})},
			second,
		},
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes {
		t.Errorf("Decision = %d, want Yes", result.Decision)
	}
	if result.Identity.ClientKey != "tenant-a" || result.Identity.Scheme != SchemeOAuth1 {
		t.Errorf("Identity = %+v", result.Identity)
	}
	if second.calls != 0 {
		t.Error("second authenticator should not run after Yes")
	}
}

func TestAuthChain_FirstNoStops(t *testing.T) {
	second := &mockAuthn{result: Accept(SchemeJWT, &Identity{ClientKey: "tenant-a"})}
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: Reject(SchemeOAuth1, BadRequest("invalid_nonce", ErrUnauthenticated))},
			second,
		},
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
	if second.calls != 0 {
		t.Error("second authenticator should not run after No")
	}
}

func TestAuthChain_AbstainThenYes(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Abstain}},
			&mockAuthn{result: Accept(SchemeJWT, &Identity{ClientKey: "tenant-b"})},
		},
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != Yes || result.Scheme != SchemeJWT {
		t.Errorf("result = %+v, want Yes from jwt", result)
	}
}

func TestAuthChain_AllAbstain_Rejects(t *testing.T) {
	chain := &AuthChain{
		Authenticators: []Authenticator{
			&mockAuthn{result: AuthResult{Decision: Abstain}},
		},
	}

	r, _ := http.NewRequest("GET", "/", nil)
	result := chain.Authenticate(context.Background(), r)

	if result.Decision != No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
	if !errors.Is(result.Err, ErrUnauthenticated) {
		t.Errorf("Err = %v, want ErrUnauthenticated", result.Err)
	}
}

func TestAuthChain_Empty_Rejects(t *testing.T) {
	chain := &AuthChain{}
	r, _ := http.NewRequest("GET", "/", nil)
	if result := chain.Authenticate(context.Background(), r); result.Decision != No {
		t.Errorf("Decision = %d, want No", result.Decision)
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if IdentityFromContext(ctx) != nil {
		t.Error("expected nil identity on empty context")
	}

	id := &Identity{ClientKey: "tenant-a", Token: "tok"}
	ctx = SetIdentity(ctx, id)
	if got := IdentityFromContext(ctx); got != id {
		t.Errorf("IdentityFromContext = %+v, want %+v", got, id)
	}
}
