// Command client calls the demo service started by example/server.
//
//	go run ./example/client -config rpcserve.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/mnehpets/rpcserve/config"
	"github.com/mnehpets/rpcserve/jsonrpc"
)

// ErrQuota mirrors the server's kind so that code 5001 decodes to it.
var ErrQuota = jsonrpc.NewKind("QuotaError", jsonrpc.ApplicationError)

func dial(cfg *config.Config, logger zerolog.Logger) *jsonrpc.Client {
	reg := jsonrpc.NewRegistry()
	reg.MustRegister(ErrQuota, 5001)

	opts := []jsonrpc.ClientOption{
		jsonrpc.WithRegistry(reg),
		jsonrpc.WithLogger(logger),
		jsonrpc.WithHTTPClient(&http.Client{Timeout: cfg.Client.Timeout}),
	}
	if hf := cfg.Auth.HeaderFunc(cfg.Client.Token); hf != nil {
		opts = append(opts, jsonrpc.WithHeaderFunc(hf))
	}
	return jsonrpc.Dial(cfg.Client.URL, opts...)
}

func run(ctx context.Context, c *jsonrpc.Client, logger zerolog.Logger) error {
	sum, err := jsonrpc.CallAs[int](ctx, c, "math.Add", jsonrpc.Named{"a": 2, "b": 3})
	if err != nil {
		return fmt.Errorf("math.Add: %w", err)
	}
	logger.Info().Int("sum", sum).Msg("math.Add")

	if err := c.Notify(ctx, "test"); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	add, err := c.Method("math.Add").Prepare(jsonrpc.Named{"a": 40, "b": 2})
	if err != nil {
		return err
	}
	div, err := c.Method("math.Div").Prepare(jsonrpc.Named{"a": 2_000_000, "b": 2})
	if err != nil {
		return err
	}
	mirror, err := c.Method("mirror").Prepare("a", 1, true)
	if err != nil {
		return err
	}
	results, err := c.Batch(ctx, []jsonrpc.BatchItem{
		add,
		c.Notification("test"),
		div,
		c.Method("whoami"),
		mirror,
		c.Method("exception"),
	})
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}
	for i, r := range results {
		ev := logger.Info().Int("slot", i)
		switch {
		case r.Absent:
			ev.Msg("notification")
		case errors.Is(r.Err, ErrQuota):
			ev.Err(r.Err).Msg("quota exceeded")
		case r.Err != nil:
			ev.Err(r.Err).Msg("call failed")
		default:
			ev.RawJSON("result", r.Value).Msg("ok")
		}
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stderr)

	c := dial(cfg, logger)
	defer c.Close()

	if err := run(context.Background(), c, logger); err != nil {
		logger.Error().Err(err).Msg("Client failed")
		os.Exit(1)
	}
}
