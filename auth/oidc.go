package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDC verifies OpenID Connect ID tokens presented as bearer tokens.
type OIDC struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDC performs discovery against issuer and verifies tokens issued to
// clientID.
func NewOIDC(ctx context.Context, issuer, clientID string) (*OIDC, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider %q: %v", issuer, err)
	}
	return OIDCFromVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// OIDCFromVerifier wraps an existing verifier, for example one built with
// oidc.NewVerifier and a static key set.
func OIDCFromVerifier(v *oidc.IDTokenVerifier) *OIDC {
	return &OIDC{verifier: v}
}

func (o *OIDC) Verify(ctx context.Context, raw string) (*Principal, error) {
	tok, err := o.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("auth: oidc: %w", err)
	}
	p := &Principal{
		Subject: tok.Subject,
		Issuer:  tok.Issuer,
		Expiry:  tok.Expiry,
	}
	if email, ok := verifiedEmail(tok); ok {
		p.Email = email
	}
	return p, nil
}

// verifiedEmail returns the email claim if email_verified is true.
func verifiedEmail(token *oidc.IDToken) (string, bool) {
	var claims oidc.UserInfo
	if err := token.Claims(&claims); err != nil {
		return "", false
	}
	if !claims.EmailVerified || claims.Email == "" {
		return "", false
	}
	return claims.Email, true
}
