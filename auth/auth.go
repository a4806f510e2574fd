// Package auth provides authorization processors for the JSON-RPC mount and
// header hooks for clients.
//
// A server side Verifier turns a credential into a Principal. Authorize wraps
// a Verifier in an endpoint.Processor that runs before the request body is
// read and answers 401 when the credential is missing or rejected:
//
//	v, _ := auth.NewJWT(secret, auth.WithIssuer("rpcserve"))
//	http.Handle("/rpc", srv.Handler(auth.Authorize(v)))
//
// Handlers find the caller with auth.FromContext.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnehpets/rpcserve/endpoint"
)

var (
	// ErrNoCredential is returned when a request carries no credential.
	ErrNoCredential = errors.New("auth: no credential")
	// ErrKeyConfig is returned for unusable key material.
	ErrKeyConfig = errors.New("auth: invalid key configuration")
	// ErrAmbiguousCredential is returned when the credential header is repeated.
	ErrAmbiguousCredential = errors.New("auth: repeated credential header")
)

// maxCredentialLen bounds the credential header. Longer values get a 400.
const maxCredentialLen = 8192

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Issuer  string
	// Email is set only when the issuer marked it verified.
	Email  string
	Expiry time.Time
}

// StableID identifies the caller across issuers, as "issuer:subject".
func (p *Principal) StableID() string {
	if p == nil {
		return ""
	}
	if p.Issuer == "" {
		return p.Subject
	}
	return p.Issuer + ":" + p.Subject
}

// Verifier checks a raw credential.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Principal, error)
}

// VerifierFunc is an adapter to allow the use of ordinary functions as a
// Verifier.
type VerifierFunc func(ctx context.Context, credential string) (*Principal, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (*Principal, error) {
	return f(ctx, credential)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by Authorize.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	return bearer(r.Header.Get("Authorization"))
}

func bearer(value string) (string, bool) {
	scheme, token, ok := strings.Cut(value, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthorizeOption configures Authorize.
type AuthorizeOption func(*authorizer)

// WithTokenHeader reads the credential verbatim from the named header instead
// of the Authorization bearer token.
func WithTokenHeader(name string) AuthorizeOption {
	return func(a *authorizer) { a.header = name }
}

// WithRealm sets the realm advertised in WWW-Authenticate.
func WithRealm(realm string) AuthorizeOption {
	return func(a *authorizer) { a.realm = realm }
}

type authorizer struct {
	v      Verifier
	header string
	realm  string
	// params is a struct with one []string field tagged for the credential
	// header, decoded with endpoint.Unmarshal.
	params reflect.Type
}

// Authorize returns a processor that admits only requests whose credential
// v accepts. The principal is stored in the request context.
func Authorize(v Verifier, opts ...AuthorizeOption) endpoint.Processor {
	a := &authorizer{v: v, realm: "rpc"}
	for _, opt := range opts {
		opt(a)
	}
	name := a.header
	if name == "" {
		name = "Authorization"
	}
	a.params = reflect.StructOf([]reflect.StructField{{
		Name: "Values",
		Type: reflect.TypeFor[[]string](),
		Tag:  reflect.StructTag(fmt.Sprintf(`header:%q maxLength:"%d"`, name, maxCredentialLen)),
	}})
	return a
}

// credential decodes the credential header. A decoding failure, such as an
// oversized value, is returned as the endpoint error it already is.
func (a *authorizer) credential(r *http.Request) (string, error) {
	dst := reflect.New(a.params)
	if err := endpoint.Unmarshal(r, dst.Interface()); err != nil {
		return "", err
	}
	values := dst.Elem().Field(0).Interface().([]string)
	switch {
	case len(values) == 0:
		return "", ErrNoCredential
	case len(values) > 1:
		return "", ErrAmbiguousCredential
	}
	if a.header != "" {
		if c := strings.TrimSpace(values[0]); c != "" {
			return c, nil
		}
		return "", ErrNoCredential
	}
	if token, ok := bearer(values[0]); ok {
		return token, nil
	}
	return "", ErrNoCredential
}

func (a *authorizer) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	if a.v == nil {
		return endpoint.Error(http.StatusInternalServerError, "", errors.New("auth: nil verifier"))
	}
	cred, err := a.credential(r)
	if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrAmbiguousCredential) {
		return a.unauthorized(w, err)
	} else if err != nil {
		return err
	}
	p, err := a.v.Verify(r.Context(), cred)
	if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Rejected credential")
		return a.unauthorized(w, err)
	}
	return next(w, r.WithContext(WithPrincipal(r.Context(), p)))
}

func (a *authorizer) unauthorized(w http.ResponseWriter, err error) error {
	if a.header == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+a.realm+`"`)
	}
	return endpoint.Error(http.StatusUnauthorized, "", err)
}
