package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// MinJWTSecret is the shortest accepted HS256 secret.
const MinJWTSecret = 32

// JWT verifies and issues HS256 signed JSON Web Tokens.
type JWT struct {
	key      []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// JWTOption configures a JWT.
type JWTOption func(*JWT)

// WithIssuer sets the issuer written by Issue and required by Verify.
func WithIssuer(iss string) JWTOption {
	return func(j *JWT) { j.issuer = iss }
}

// WithAudience sets the audience written by Issue and required by Verify.
func WithAudience(aud string) JWTOption {
	return func(j *JWT) { j.audience = aud }
}

// WithLeeway sets the clock skew tolerated on time claims. Defaults to
// jwt.DefaultLeeway.
func WithLeeway(d time.Duration) JWTOption {
	return func(j *JWT) { j.leeway = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) JWTOption {
	return func(j *JWT) { j.now = now }
}

func NewJWT(secret []byte, opts ...JWTOption) (*JWT, error) {
	if len(secret) < MinJWTSecret {
		return nil, fmt.Errorf("%w: HS256 secret must be at least %d bytes", ErrKeyConfig, MinJWTSecret)
	}
	j := &JWT{
		key:    append([]byte(nil), secret...),
		leeway: jwt.DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Issue signs a token for subject that expires after ttl.
func (j *JWT) Issue(subject string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: j.key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", err
	}
	now := j.now()
	claims := jwt.Claims{
		Subject:   subject,
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ttl)),
	}
	if j.audience != "" {
		claims.Audience = jwt.Audience{j.audience}
	}
	return jwt.Signed(signer).Claims(claims).Serialize()
}

func (j *JWT) Verify(_ context.Context, raw string) (*Principal, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("auth: jwt: %w", err)
	}
	var claims jwt.Claims
	if err := tok.Claims(j.key, &claims); err != nil {
		return nil, fmt.Errorf("auth: jwt: %w", err)
	}
	expected := jwt.Expected{Issuer: j.issuer, Time: j.now()}
	if j.audience != "" {
		expected.AnyAudience = jwt.Audience{j.audience}
	}
	if err := claims.ValidateWithLeeway(expected, j.leeway); err != nil {
		return nil, fmt.Errorf("auth: jwt: %w", err)
	}
	if claims.Expiry == nil {
		return nil, fmt.Errorf("auth: jwt: token has no expiry")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("auth: jwt: token has no subject")
	}
	return &Principal{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Expiry:  claims.Expiry.Time(),
	}, nil
}
