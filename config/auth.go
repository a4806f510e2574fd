package config

import (
	"context"
	"time"

	"github.com/mnehpets/rpcserve/auth"
	"github.com/mnehpets/rpcserve/endpoint"
	"github.com/mnehpets/rpcserve/jsonrpc"
)

// Issuer is implemented by verifiers that can mint their own credentials.
type Issuer interface {
	auth.Verifier
	Issue(subject string, ttl time.Duration) (string, error)
}

// Verifier builds the verifier for the configured mode. It returns nil for
// mode "none". OIDC discovery uses ctx.
func (a *AuthConfig) Verifier(ctx context.Context) (auth.Verifier, error) {
	var (
		v   auth.Verifier
		err error
	)
	switch a.Mode {
	case AuthJWT:
		v, err = auth.NewJWT([]byte(a.Secret), auth.WithIssuer(a.Issuer))
	case AuthSealed:
		var key []byte
		if key, err = a.sealedKey(); err == nil {
			v, err = auth.NewSealedToken(a.KeyID, map[string][]byte{a.KeyID: key})
		}
	case AuthOIDC:
		v, err = auth.NewOIDC(ctx, a.Issuer, a.ClientID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Processor wraps v for the RPC mount. It returns nil when v is nil.
func (a *AuthConfig) Processor(v auth.Verifier) endpoint.Processor {
	if v == nil {
		return nil
	}
	if a.Mode == AuthSealed {
		return auth.Authorize(v, auth.WithTokenHeader(auth.SealedTokenHeader))
	}
	return auth.Authorize(v)
}

// HeaderFunc returns the client hook presenting token the way mode expects,
// or nil when token is empty.
func (a *AuthConfig) HeaderFunc(token string) jsonrpc.HeaderFunc {
	if token == "" {
		return nil
	}
	if a.Mode == AuthSealed {
		return auth.SealedHeader(token)
	}
	return auth.BearerHeader(token)
}
