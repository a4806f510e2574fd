package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/mnehpets/rpcserve/jsonrpc"
)

// BearerHeader returns a client hook sending a fixed bearer token.
func BearerHeader(token string) jsonrpc.HeaderFunc {
	return func(_ context.Context, h http.Header) error {
		h.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// SealedHeader returns a client hook sending a sealed token in
// SealedTokenHeader.
func SealedHeader(token string) jsonrpc.HeaderFunc {
	return func(_ context.Context, h http.Header) error {
		h.Set(SealedTokenHeader, token)
		return nil
	}
}

// TokenSourceHeaders returns a client hook that asks ts for a token on every
// request. Wrap ts in oauth2.ReuseTokenSource to cache it.
func TokenSourceHeaders(ts oauth2.TokenSource) jsonrpc.HeaderFunc {
	return func(_ context.Context, h http.Header) error {
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("auth: token source: %w", err)
		}
		if !tok.Valid() {
			return fmt.Errorf("auth: token source returned an invalid token")
		}
		h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
		return nil
	}
}
