package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

func newRSASigner(t *testing.T) (*rsa.PrivateKey, jose.Signer) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatal(err)
	}
	return key, signer
}

func idToken(t *testing.T, signer jose.Signer, issuer, aud string, extra map[string]any) string {
	t.Helper()
	now := time.Now()
	claims := jwt.Claims{
		Subject:  "user123",
		Issuer:   issuer,
		Audience: jwt.Audience{aud},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt: jwt.NewNumericDate(now),
	}
	b := jwt.Signed(signer).Claims(claims)
	if extra != nil {
		b = b.Claims(extra)
	}
	raw, err := b.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestOIDC_StaticKeySet(t *testing.T) {
	key, signer := newRSASigner(t)
	const issuer = "https://idp.example.com"
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	v := OIDCFromVerifier(oidc.NewVerifier(issuer, keys, &oidc.Config{ClientID: "rpc-client"}))

	tests := []struct {
		name      string
		token     string
		wantErr   bool
		wantEmail string
	}{
		{"plain", idToken(t, signer, issuer, "rpc-client", nil), false, ""},
		{"verified email", idToken(t, signer, issuer, "rpc-client", map[string]any{"email": "u@example.com", "email_verified": true}), false, "u@example.com"},
		{"unverified email", idToken(t, signer, issuer, "rpc-client", map[string]any{"email": "u@example.com", "email_verified": false}), false, ""},
		{"wrong audience", idToken(t, signer, issuer, "someone-else", nil), true, ""},
		{"wrong issuer", idToken(t, signer, "https://evil.example.com", "rpc-client", nil), true, ""},
		{"garbage", "abc.def.ghi", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := v.Verify(context.Background(), tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if p.Subject != "user123" || p.Issuer != issuer {
				t.Errorf("principal = %+v", p)
			}
			if p.Email != tt.wantEmail {
				t.Errorf("email = %q, want %q", p.Email, tt.wantEmail)
			}
		})
	}

	_, otherSigner := newRSASigner(t)
	if _, err := v.Verify(context.Background(), idToken(t, otherSigner, issuer, "rpc-client", nil)); err == nil {
		t.Error("token signed by an unknown key was accepted")
	}
}

func TestNewOIDC_Discovery(t *testing.T) {
	key, signer := newRSASigner(t)

	var idp *httptest.Server
	idp = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			json.NewEncoder(w).Encode(map[string]any{
				"issuer":                                idp.URL,
				"jwks_uri":                              idp.URL + "/keys",
				"authorization_endpoint":                idp.URL + "/auth",
				"token_endpoint":                        idp.URL + "/token",
				"response_types_supported":              []string{"code"},
				"subject_types_supported":               []string{"public"},
				"id_token_signing_alg_values_supported": []string{"RS256"},
			})
		case "/keys":
			jwk := jose.JSONWebKey{Key: &key.PublicKey, Use: "sig", Algorithm: "RS256", KeyID: "test-key"}
			json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer idp.Close()

	ctx := context.Background()
	v, err := NewOIDC(ctx, idp.URL, "rpc-client")
	if err != nil {
		t.Fatalf("NewOIDC: %v", err)
	}
	p, err := v.Verify(ctx, idToken(t, signer, idp.URL, "rpc-client", nil))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.StableID() != idp.URL+":user123" {
		t.Errorf("StableID = %q", p.StableID())
	}

	if _, err := NewOIDC(ctx, idp.URL+"/missing", "rpc-client"); err == nil {
		t.Error("expected discovery failure")
	}
}
