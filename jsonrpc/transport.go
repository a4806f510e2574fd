package jsonrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
)

// Transport carries one serialized JSON-RPC document to the server and
// returns the reply body. An empty reply means the server had nothing to
// return. Send must abort when ctx is cancelled.
type Transport interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// HeaderFunc prepares the headers of each outgoing HTTP request. It is the
// hook for attaching credentials.
type HeaderFunc func(ctx context.Context, h http.Header) error

// DefaultUserAgent is sent when no User-Agent header is configured.
var DefaultUserAgent = "rpcserve JSON-RPC client (Go: " + runtime.Version() + ")"

// maxReplyBytes bounds how much of a reply body is read.
const maxReplyBytes = 64 << 20

// HTTPTransport posts JSON-RPC documents to a single URL.
type HTTPTransport struct {
	URL string

	// Client is the HTTP client used for requests. Timeouts and connection
	// reuse are its concern. Defaults to http.DefaultClient.
	Client *http.Client

	// Header holds static headers added to every request.
	Header http.Header

	// PrepareHeaders, if set, runs after the static headers are applied.
	PrepareHeaders HeaderFunc
}

// NewHTTPTransport returns a transport posting to url with http.DefaultClient.
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{URL: url, Header: make(http.Header)}
}

func (t *HTTPTransport) Send(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, transportError(err)
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	if t.PrepareHeaders != nil {
		if err := t.PrepareHeaders(ctx, req.Header); err != nil {
			return nil, transportError(fmt.Errorf("prepare headers: %w", err))
		}
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer cleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, transportError(&StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, transportError(err)
	}
	return body, nil
}

// Close releases idle connections held by the transport's client.
func (t *HTTPTransport) Close() error {
	if t.Client != nil {
		t.Client.CloseIdleConnections()
	}
	return nil
}

// cleanlyCloseBody drains the body before closing so the connection can be
// reused.
func cleanlyCloseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxReplyBytes))
	_ = body.Close()
}
