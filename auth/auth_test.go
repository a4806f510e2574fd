package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mnehpets/rpcserve/endpoint"
	"github.com/mnehpets/rpcserve/jsonrpc"
)

// staticVerifier accepts exactly one credential.
func staticVerifier(good string) Verifier {
	return VerifierFunc(func(_ context.Context, cred string) (*Principal, error) {
		if cred != good {
			return nil, errors.New("bad credential")
		}
		return &Principal{Subject: "alice", Issuer: "test"}, nil
	})
}

// whoami renders the subject of the authorized caller.
func whoami(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	p, ok := FromContext(r.Context())
	if !ok {
		return nil, endpoint.Error(http.StatusInternalServerError, "no principal", nil)
	}
	return &endpoint.JSONRenderer{Value: p.StableID()}, nil
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name       string
		opts       []AuthorizeOption
		header     string
		value      string
		wantStatus int
		wantBody   string
		wantChalg  string
	}{
		{"valid bearer", nil, "Authorization", "Bearer s3cret", http.StatusOK, "\"test:alice\"\n", ""},
		{"lowercase scheme", nil, "Authorization", "bearer s3cret", http.StatusOK, "\"test:alice\"\n", ""},
		{"missing", nil, "", "", http.StatusUnauthorized, "", `Bearer realm="rpc"`},
		{"wrong scheme", nil, "Authorization", "Basic s3cret", http.StatusUnauthorized, "", `Bearer realm="rpc"`},
		{"empty token", nil, "Authorization", "Bearer ", http.StatusUnauthorized, "", `Bearer realm="rpc"`},
		{"rejected", []AuthorizeOption{WithRealm("api")}, "Authorization", "Bearer nope", http.StatusUnauthorized, "", `Bearer realm="api"`},
		{"custom header", []AuthorizeOption{WithTokenHeader(SealedTokenHeader)}, SealedTokenHeader, "s3cret", http.StatusOK, "\"test:alice\"\n", ""},
		{"custom header missing", []AuthorizeOption{WithTokenHeader(SealedTokenHeader)}, "Authorization", "Bearer s3cret", http.StatusUnauthorized, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := endpoint.Handler(whoami, Authorize(staticVerifier("s3cret"), tt.opts...))
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != tt.wantChalg {
				t.Errorf("WWW-Authenticate = %q, want %q", got, tt.wantChalg)
			}
		})
	}
}

func TestAuthorize_CredentialHeaderShape(t *testing.T) {
	tests := []struct {
		name       string
		opts       []AuthorizeOption
		header     string
		values     []string
		wantStatus int
	}{
		{"repeated bearer", nil, "Authorization", []string{"Bearer s3cret", "Bearer s3cret"}, http.StatusUnauthorized},
		{"repeated custom", []AuthorizeOption{WithTokenHeader(SealedTokenHeader)}, SealedTokenHeader, []string{"s3cret", "other"}, http.StatusUnauthorized},
		{"oversized bearer", nil, "Authorization", []string{"Bearer " + strings.Repeat("x", maxCredentialLen)}, http.StatusBadRequest},
		{"oversized custom", []AuthorizeOption{WithTokenHeader(SealedTokenHeader)}, SealedTokenHeader, []string{strings.Repeat("x", maxCredentialLen+1)}, http.StatusBadRequest},
		{"blank custom", []AuthorizeOption{WithTokenHeader(SealedTokenHeader)}, SealedTokenHeader, []string{"   "}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := endpoint.Handler(whoami, Authorize(staticVerifier("s3cret"), tt.opts...))
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			for _, v := range tt.values {
				req.Header.Add(tt.header, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAuthorize_NilVerifier(t *testing.T) {
	h := endpoint.Handler(whoami, Authorize(nil))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestPrincipal_StableID(t *testing.T) {
	var nilP *Principal
	if got := nilP.StableID(); got != "" {
		t.Errorf("nil StableID = %q", got)
	}
	if got := (&Principal{Subject: "u1"}).StableID(); got != "u1" {
		t.Errorf("StableID = %q, want u1", got)
	}
	if got := (&Principal{Subject: "u1", Issuer: "https://idp"}).StableID(); got != "https://idp:u1" {
		t.Errorf("StableID = %q", got)
	}
}

func TestFromContext_Empty(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("expected no principal")
	}
	if _, ok := FromContext(WithPrincipal(context.Background(), nil)); ok {
		t.Error("nil principal should not be reported")
	}
}

// The processor runs before the body is read, so a rejected call is an HTTP
// 401 and not a JSON-RPC envelope.
func TestAuthorize_OnRPCServer(t *testing.T) {
	jv, err := NewJWT([]byte("0123456789abcdef0123456789abcdef"), WithIssuer("rpcserve"))
	if err != nil {
		t.Fatal(err)
	}
	srv := jsonrpc.NewServer()
	srv.RegisterFunc("whoami", func(ctx context.Context, _ *jsonrpc.Params) (any, error) {
		p, _ := FromContext(ctx)
		return p.Subject, nil
	})
	hs := httptest.NewServer(srv.Handler(Authorize(jv)))
	defer hs.Close()

	token, err := jv.Issue("bob", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c := jsonrpc.Dial(hs.URL, jsonrpc.WithHeaderFunc(BearerHeader(token)))
	defer c.Close()
	who, err := jsonrpc.CallAs[string](context.Background(), c, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if who != "bob" {
		t.Errorf("whoami = %q, want bob", who)
	}

	anon := jsonrpc.Dial(hs.URL)
	defer anon.Close()
	_, err = anon.Call(context.Background(), "whoami")
	var se *jsonrpc.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous call error = %v, want 401 StatusError", err)
	}
	if !errors.Is(err, jsonrpc.TransportError) {
		t.Errorf("expected a transport error kind, got %v", err)
	}
}
