package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("jsonrpc: client is closed")

// Client sends requests and batches through a Transport and correlates the
// replies by id.
type Client struct {
	transport     Transport
	ownsTransport bool
	registry      *Registry
	serializer    *Serializer
	ids           IDGenerator
	log           zerolog.Logger

	closed atomic.Bool
}

type clientConfig struct {
	registry      *Registry
	serializer    *Serializer
	ids           IDGenerator
	log           zerolog.Logger
	ownsTransport *bool

	httpClient     *http.Client
	header         http.Header
	prepareHeaders HeaderFunc
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithRegistry sets the registry used to decode error codes.
func WithRegistry(r *Registry) ClientOption {
	return func(c *clientConfig) { c.registry = r }
}

// WithSerializer sets the serializer used to encode params.
func WithSerializer(s *Serializer) ClientOption {
	return func(c *clientConfig) { c.serializer = s }
}

// WithIDGenerator sets the correlation id scheme. Defaults to UUIDGenerator.
func WithIDGenerator(g IDGenerator) ClientOption {
	return func(c *clientConfig) { c.ids = g }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *clientConfig) { c.log = l }
}

// WithOwnedTransport controls whether Close also closes the transport.
// NewClient defaults to false and Dial to true.
func WithOwnedTransport(owned bool) ClientOption {
	return func(c *clientConfig) { c.ownsTransport = &owned }
}

// WithHTTPClient sets the http.Client used by Dial.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithHeader adds a static header to every request made by Dial's transport.
func WithHeader(key, value string) ClientOption {
	return func(c *clientConfig) {
		if c.header == nil {
			c.header = make(http.Header)
		}
		c.header.Add(key, value)
	}
}

// WithHeaderFunc installs a header preparation hook on Dial's transport.
func WithHeaderFunc(fn HeaderFunc) ClientOption {
	return func(c *clientConfig) { c.prepareHeaders = fn }
}

// NewClient returns a client sending through t. The client does not close
// t unless WithOwnedTransport(true) is given.
func NewClient(t Transport, opts ...ClientOption) *Client {
	cfg := clientConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return newClient(t, false, &cfg)
}

// Dial returns a client posting to url over HTTP. The client owns its
// transport.
func Dial(url string, opts ...ClientOption) *Client {
	cfg := clientConfig{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	t := NewHTTPTransport(url)
	t.Client = cfg.httpClient
	if cfg.header != nil {
		t.Header = cfg.header
	}
	t.PrepareHeaders = cfg.prepareHeaders
	return newClient(t, true, &cfg)
}

func newClient(t Transport, owned bool, cfg *clientConfig) *Client {
	if cfg.ownsTransport != nil {
		owned = *cfg.ownsTransport
	}
	registry := cfg.registry
	if registry == nil {
		registry = Default()
	}
	serializer := cfg.serializer
	if serializer == nil {
		serializer = NewSerializer(registry)
	}
	ids := cfg.ids
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Client{
		transport:     t,
		ownsTransport: owned,
		registry:      registry,
		serializer:    serializer,
		ids:           ids,
		log:           cfg.log,
	}
}

// Method returns a request builder bound to the client's id scheme and
// serializer.
func (c *Client) Method(name string) *Method {
	return &Method{Name: name, ids: c.ids, serializer: c.serializer}
}

// Notification returns a notification builder bound to the client's
// serializer.
func (c *Client) Notification(name string) *Notification {
	return &Notification{Name: name, serializer: c.serializer}
}

// Call invokes method with positional args (or a single Named argument) and
// returns the raw result.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	req, err := c.Method(method).Prepare(args...)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// CallAs invokes method and decodes the result into a T.
func CallAs[T any](ctx context.Context, c *Client, method string, args ...any) (T, error) {
	var out T
	raw, err := c.Call(ctx, method, args...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &Error{Kind: ParseError, Code: CodeParseError, Message: "cannot decode result", cause: err}
	}
	return out, nil
}

// Notify sends a notification. It returns once the transport exchange
// completes; there is never a result.
func (c *Client) Notify(ctx context.Context, method string, args ...any) error {
	req, err := c.Notification(method).Prepare(args...)
	if err != nil {
		return err
	}
	_, err = c.Do(ctx, req)
	return err
}

// Do sends a single prepared item. For notifications the result is always
// nil.
func (c *Client) Do(ctx context.Context, item BatchItem) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	req, err := item.request()
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &SerializationError{Type: "Request", Err: err}
	}

	log := c.log.With().Str("method", req.Method).Logger()
	if req.IsNotification() {
		log.Debug().Msg("Sending JSON-RPC notification")
	} else {
		log.Debug().Stringer("id", req.ID).Msg("Sending JSON-RPC request")
	}

	body, err := c.send(ctx, payload)
	if err != nil {
		return nil, err
	}
	if req.IsNotification() {
		return nil, nil
	}

	var w wireResponse
	if err := decodeBody(body, &w); err != nil {
		return nil, err
	}
	if w.ID != nil && w.ID.IsValid() && *w.ID != *req.ID {
		return nil, &ProtocolError{Reason: "response id " + w.ID.String() + " does not match request id " + req.ID.String()}
	}
	return c.parseResponse(&w)
}

func (c *Client) send(ctx context.Context, payload []byte) ([]byte, error) {
	body, err := c.transport.Send(ctx, payload)
	if err != nil {
		if KindOf(err) != TransportError {
			err = transportError(err)
		}
		c.log.Debug().Err(err).Msg("JSON-RPC transport failure")
		return nil, err
	}
	return body, nil
}

func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return &Error{Kind: ParseError, Code: CodeParseError, Message: "empty response body"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &Error{Kind: ParseError, Code: CodeParseError, Message: "invalid response body", cause: err}
	}
	return nil
}

// parseResponse returns the result of w, or the error it carries decoded
// through the client's registry.
func (c *Client) parseResponse(w *wireResponse) (json.RawMessage, error) {
	errRaw := bytes.TrimSpace(w.Error)
	if len(errRaw) == 0 || bytes.Equal(errRaw, []byte("null")) {
		return w.Result, nil
	}
	if errRaw[0] != '{' {
		return nil, &ProtocolError{Reason: "error member is not an object"}
	}
	var obj struct {
		Code    *int            `json:"code"`
		Message *string         `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(errRaw, &obj); err != nil {
		return nil, &ProtocolError{Reason: "malformed error object: " + err.Error()}
	}
	code := CodeSystemError
	if obj.Code != nil {
		code = *obj.Code
	}
	msg := "Unknown error"
	if obj.Message != nil {
		msg = *obj.Message
	}
	var data any
	if len(obj.Data) > 0 {
		_ = json.Unmarshal(obj.Data, &data)
	}
	return nil, c.registry.Decode(code, msg, data)
}

// Result is one slot of a batch reply.
type Result struct {
	// Value is the raw result of a successful call.
	Value json.RawMessage
	// Err is the decoded failure of the call, if any.
	Err error
	// Absent marks the slot of a notification, which has no reply.
	Absent bool
}

// Decode unmarshals the slot's value into v, or returns the slot's error.
func (r Result) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Absent || len(r.Value) == 0 {
		return nil
	}
	return json.Unmarshal(r.Value, v)
}

type batchConfig struct {
	returnErrors bool
}

// BatchOption configures Client.Batch.
type BatchOption func(*batchConfig)

// ReturnErrors selects whether per-call errors are placed in their result
// slots (true, the default) or abort the batch with the first one in
// request order (false).
func ReturnErrors(embed bool) BatchOption {
	return func(c *batchConfig) { c.returnErrors = embed }
}

// Batch sends items as one JSON array and returns one Result per item in
// the original order. Reply order on the wire does not matter.
func (c *Client) Batch(ctx context.Context, items []BatchItem, opts ...BatchOption) ([]Result, error) {
	cfg := batchConfig{returnErrors: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if len(items) == 0 {
		return nil, Errorf(InvalidData, "empty batch")
	}

	reqs := make([]*Request, len(items))
	index := make(map[ID]int, len(items))
	for i, item := range items {
		req, err := item.request()
		if err != nil {
			return nil, err
		}
		if !req.IsNotification() {
			if _, dup := index[*req.ID]; dup {
				return nil, Errorf(InvalidData, "duplicate request id %s in batch", req.ID)
			}
			index[*req.ID] = i
		}
		reqs[i] = req
	}
	payload, err := json.Marshal(reqs)
	if err != nil {
		return nil, &SerializationError{Type: "[]Request", Err: err}
	}

	c.log.Debug().Int("items", len(reqs)).Int("calls", len(index)).Msg("Sending JSON-RPC batch")
	body, err := c.send(ctx, payload)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(reqs))
	for i, req := range reqs {
		if req.IsNotification() {
			results[i] = Result{Absent: true}
		}
	}
	if len(index) == 0 {
		return results, nil
	}

	replies, orphan, err := c.collectReplies(body, index)
	if err != nil {
		return nil, err
	}
	for i, req := range reqs {
		if req.IsNotification() {
			continue
		}
		var res Result
		if w, ok := replies[*req.ID]; ok {
			res.Value, res.Err = c.parseResponse(w)
		} else if orphan != nil {
			_, res.Err = c.parseResponse(orphan)
		} else {
			res.Err = Errorf(InvalidData, "no response for request id %s", req.ID)
		}
		if res.Err != nil && !cfg.returnErrors {
			return nil, res.Err
		}
		results[i] = res
	}
	return results, nil
}

// collectReplies maps reply ids to responses. A reply with a null id and an
// error (the server could not attribute the failure) is returned as orphan
// and applies to every unanswered call. Duplicate ids keep the first reply.
func (c *Client) collectReplies(body []byte, index map[ID]int) (map[ID]*wireResponse, *wireResponse, error) {
	trimmed := bytes.TrimSpace(body)
	var list []*wireResponse
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single wireResponse
		if err := decodeBody(trimmed, &single); err != nil {
			return nil, nil, err
		}
		list = []*wireResponse{&single}
	} else if err := decodeBody(trimmed, &list); err != nil {
		return nil, nil, err
	}

	replies := make(map[ID]*wireResponse, len(list))
	var orphan *wireResponse
	for _, w := range list {
		if w == nil {
			continue
		}
		if w.ID == nil || !w.ID.IsValid() {
			if orphan == nil {
				orphan = w
			}
			continue
		}
		if _, known := index[*w.ID]; !known {
			c.log.Warn().Stringer("id", w.ID).Msg("Ignoring JSON-RPC reply with unknown id")
			continue
		}
		if _, seen := replies[*w.ID]; seen {
			c.log.Warn().Stringer("id", w.ID).Msg("Ignoring duplicate JSON-RPC reply")
			continue
		}
		replies[*w.ID] = w
	}
	return replies, orphan, nil
}

// Close releases the transport if the client owns it. It is safe to call
// more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.ownsTransport && c.transport != nil {
		return c.transport.Close()
	}
	return nil
}
