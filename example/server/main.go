// Command server runs a JSON-RPC 2.0 demo service.
//
//	go run ./example/server -config rpcserve.yaml
//
// With auth.mode jwt or sealed, -issue prints a token for the given subject
// and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnehpets/rpcserve/auth"
	"github.com/mnehpets/rpcserve/config"
	"github.com/mnehpets/rpcserve/endpoint"
	"github.com/mnehpets/rpcserve/jsonrpc"
	"github.com/mnehpets/rpcserve/middleware"
)

// ErrQuota is raised by math.Div for oversized operands.
var ErrQuota = jsonrpc.NewKind("QuotaError", jsonrpc.ApplicationError)

type MathMethods struct{}

type pairParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (MathMethods) Add(ctx context.Context, p pairParams) (int, error) {
	return p.A + p.B, nil
}

func (MathMethods) Div(ctx context.Context, p pairParams) (int, error) {
	if p.B == 0 {
		return 0, jsonrpc.Errorf(jsonrpc.InvalidArguments, "division by zero")
	}
	if p.A > 1_000_000 {
		return 0, jsonrpc.Errorf(ErrQuota, "operand too large").WithData(map[string]int{"limit": 1_000_000})
	}
	return p.A / p.B, nil
}

func newServer(cfg *config.Config, logger zerolog.Logger) *jsonrpc.Server {
	reg := jsonrpc.NewRegistry()
	reg.MustRegister(ErrQuota, 5001)

	srv := jsonrpc.NewServer(
		jsonrpc.WithServerRegistry(reg),
		jsonrpc.WithServerLogger(logger),
		jsonrpc.WithMaxConcurrency(cfg.Server.MaxConcurrency),
		jsonrpc.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	srv.RegisterFunc("test", func(ctx context.Context, _ *jsonrpc.Params) (any, error) {
		return nil, nil
	})
	// args, kwargs and args_kwargs report how many params arrived.
	count := func(ctx context.Context, p *jsonrpc.Params) (any, error) {
		return p.Len(), nil
	}
	srv.RegisterFunc("args", count)
	srv.RegisterFunc("kwargs", count)
	srv.RegisterFunc("args_kwargs", count)
	srv.RegisterFunc("mirror", func(ctx context.Context, p *jsonrpc.Params) (any, error) {
		if p.IsNamed() {
			return p.Named, nil
		}
		return p.Positional, nil
	})
	srv.RegisterFunc("exception", func(ctx context.Context, _ *jsonrpc.Params) (any, error) {
		return nil, errors.New("raised on request")
	})
	srv.RegisterFunc("whoami", func(ctx context.Context, _ *jsonrpc.Params) (any, error) {
		p, ok := auth.FromContext(ctx)
		if !ok {
			return nil, nil
		}
		return p.StableID(), nil
	})
	srv.RegisterReceiver("math", MathMethods{})
	return srv
}

// newHandler mounts srv with security headers and, when configured,
// authorization.
func newHandler(cfg *config.Config, srv *jsonrpc.Server, v auth.Verifier) http.Handler {
	var headerOpts []middleware.SecurityHeadersOption
	if !cfg.Server.HSTS {
		headerOpts = append(headerOpts, middleware.WithoutHSTS())
	}
	processors := []endpoint.Processor{middleware.NewAPISecurityHeaders(headerOpts...)}
	if p := cfg.Auth.Processor(v); p != nil {
		processors = append(processors, p)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, srv.Handler(processors...))
	return mux
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	issue := flag.String("issue", "", "print a token for this subject and exit")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of an issued token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	v, err := cfg.Auth.Verifier(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("mode", cfg.Auth.Mode).Msg("Failed to set up authorization")
	}

	if *issue != "" {
		issuer, ok := v.(config.Issuer)
		if !ok {
			logger.Fatal().Str("mode", cfg.Auth.Mode).Msg("Auth mode cannot issue tokens")
		}
		token, err := issuer.Issue(*issue, *ttl)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to issue token")
		}
		fmt.Println(token)
		return
	}

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newHandler(cfg, newServer(cfg, logger), v),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Server.Addr).Str("path", cfg.Server.Path).Str("auth", cfg.Auth.Mode).Msg("Serving JSON-RPC")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}
