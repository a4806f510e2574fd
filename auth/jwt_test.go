package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewJWT_ShortSecret(t *testing.T) {
	_, err := NewJWT([]byte("short"))
	if !errors.Is(err, ErrKeyConfig) {
		t.Fatalf("err = %v, want ErrKeyConfig", err)
	}
}

func TestJWT_IssueVerify(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	j, err := NewJWT(testSecret, WithIssuer("rpcserve"), WithAudience("rpc"), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	token, err := j.Issue("carol", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	p, err := j.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "carol" || p.Issuer != "rpcserve" {
		t.Errorf("principal = %+v", p)
	}
	if !p.Expiry.Equal(now.Add(time.Hour)) {
		t.Errorf("expiry = %v, want %v", p.Expiry, now.Add(time.Hour))
	}
}

func TestJWT_Rejects(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	j, _ := NewJWT(testSecret, WithIssuer("rpcserve"), WithAudience("rpc"), WithClock(clock), WithLeeway(0))

	sign := func(key []byte, alg jose.SignatureAlgorithm, claims jwt.Claims) string {
		t.Helper()
		signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
		if err != nil {
			t.Fatal(err)
		}
		raw, err := jwt.Signed(signer).Claims(claims).Serialize()
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}
	good := jwt.Claims{
		Subject:  "carol",
		Issuer:   "rpcserve",
		Audience: jwt.Audience{"rpc"},
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
	}
	with := func(f func(c *jwt.Claims)) jwt.Claims {
		c := good
		f(&c)
		return c
	}
	otherKey := []byte("ffffffffffffffffffffffffffffffff")

	tests := map[string]string{
		"garbage":        "not.a.jwt",
		"wrong key":      sign(otherKey, jose.HS256, good),
		"wrong alg":      sign([]byte(string(testSecret)+string(testSecret)), jose.HS512, good),
		"expired":        sign(testSecret, jose.HS256, with(func(c *jwt.Claims) { c.Expiry = jwt.NewNumericDate(now.Add(-time.Minute)) })),
		"no expiry":      sign(testSecret, jose.HS256, with(func(c *jwt.Claims) { c.Expiry = nil })),
		"wrong issuer":   sign(testSecret, jose.HS256, with(func(c *jwt.Claims) { c.Issuer = "other" })),
		"wrong audience": sign(testSecret, jose.HS256, with(func(c *jwt.Claims) { c.Audience = jwt.Audience{"web"} })),
		"no subject":     sign(testSecret, jose.HS256, with(func(c *jwt.Claims) { c.Subject = "" })),
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if p, err := j.Verify(context.Background(), token); err == nil {
				t.Errorf("expected rejection, got %+v", p)
			}
		})
	}
	if _, err := j.Verify(context.Background(), sign(testSecret, jose.HS256, good)); err != nil {
		t.Errorf("control token rejected: %v", err)
	}
}
