package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mnehpets/rpcserve/endpoint"
)

// handleBody parses one HTTP request body and runs every call in it.
func (s *Server) handleBody(ctx context.Context, body []byte) endpoint.Renderer {
	body = bytes.Trim(body, jsonSpace)
	if !utf8.Valid(body) {
		return s.reject(ctx, Errorf(UnsupportedEncoding, "request body is not valid UTF-8"))
	}
	if i := bytes.IndexFunc(body, isControl); i >= 0 {
		return s.reject(ctx, Errorf(InvalidCharacter, "invalid character at offset %d", i))
	}
	if !json.Valid(body) {
		return s.reject(ctx, Errorf(ParseError, "parse error"))
	}

	switch body[0] {
	case '{':
		resp := s.handleItem(ctx, body)
		if resp == nil {
			return &endpoint.NoContentRenderer{}
		}
		return &endpoint.JSONRenderer{Value: resp}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return s.reject(ctx, Errorf(ParseError, "parse error"))
		}
		if len(items) == 0 {
			return s.reject(ctx, Errorf(InvalidData, "empty batch"))
		}
		out := s.handleBatch(ctx, items)
		if len(out) == 0 {
			return &endpoint.NoContentRenderer{}
		}
		return &endpoint.JSONRenderer{Value: out}
	default:
		return s.reject(ctx, Errorf(InvalidData, "request must be an object or an array"))
	}
}

// jsonSpace holds the only whitespace characters JSON allows between tokens.
const jsonSpace = " \t\r\n"

func isControl(r rune) bool {
	return r < 0x20 && r != '\t' && r != '\n' && r != '\r'
}

// reject answers a body that could not be read as requests at all.
func (s *Server) reject(ctx context.Context, err *Error) endpoint.Renderer {
	s.logger(ctx).Debug().Err(err).Msg("Rejected request body")
	return &endpoint.JSONRenderer{
		Status: http.StatusBadRequest,
		Value:  &Response{JSONRPC: Version, Error: s.registry.Encode(err)},
	}
}

// handleBatch runs the items concurrently and returns the responses in input
// order with notifications left out.
func (s *Server) handleBatch(ctx context.Context, items []json.RawMessage) []*Response {
	replies := make([]*Response, len(items))
	var g errgroup.Group
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i, raw := range items {
		g.Go(func() error {
			replies[i] = s.handleItem(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Response, 0, len(replies))
	for _, resp := range replies {
		if resp != nil {
			out = append(out, resp)
		}
	}
	return out
}

// inbound is a request whose members are checked one by one.
type inbound struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// handleItem runs one request and returns its response, or nil when none is
// owed.
func (s *Server) handleItem(ctx context.Context, raw json.RawMessage) *Response {
	var in inbound
	if len(raw) == 0 || raw[0] != '{' {
		return s.invalid(nil, "request must be an object")
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return s.invalid(nil, "malformed request")
	}

	var id *ID
	if len(in.ID) > 0 {
		var v ID
		if err := json.Unmarshal(in.ID, &v); err != nil {
			return s.invalid(nil, "id must be a string or a number")
		}
		if v.IsValid() {
			id = &v
		}
	}

	reason := ""
	var version, method string
	if err := json.Unmarshal(in.JSONRPC, &version); err != nil || version != Version {
		reason = `jsonrpc must be "2.0"`
	} else if err := json.Unmarshal(in.Method, &method); err != nil || method == "" {
		reason = "method must be a non-empty string"
	}
	params, err := parseParams(in.Params)
	if reason == "" && err != nil {
		reason = err.Error()
	}
	if reason != "" {
		if id == nil {
			s.logger(ctx).Debug().Str("reason", reason).Msg("Dropped invalid notification")
			return nil
		}
		return s.invalid(id, reason)
	}

	return s.invoke(ctx, &Request{JSONRPC: version, Method: method, Params: in.Params, ID: id}, params)
}

// invalid answers a malformed request.
func (s *Server) invalid(id *ID, reason string) *Response {
	err := Errorf(InvalidData, "invalid request: %s", reason)
	return &Response{JSONRPC: Version, Error: s.registry.Encode(err), ID: nullID(id)}
}

// nullID returns the id to echo; a nil id is written as JSON null.
func nullID(id *ID) *ID {
	if id == nil {
		return &ID{}
	}
	return id
}

func (s *Server) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

// invoke runs one call and builds its response. A panic anywhere on the way,
// including result and error encoding, becomes a ServerError for this call
// only.
func (s *Server) invoke(ctx context.Context, req *Request, params *Params) (resp *Response) {
	lc := s.logger(ctx).With().Str("method", req.Method)
	if req.ID != nil {
		lc = lc.Str("id", req.ID.String())
	}
	log := lc.Logger()
	ctx = log.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Recovered panic while building RPC response")
			if req.IsNotification() {
				resp = nil
				return
			}
			resp = &Response{
				JSONRPC: Version,
				ID:      req.ID,
				Error:   s.registry.Encode(Errorf(ServerError, "internal error")),
			}
		}
	}()

	start := time.Now()
	result, err := s.call(ctx, req.Method, params)
	log.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("Handled RPC call")

	if req.IsNotification() {
		return nil
	}
	resp = &Response{JSONRPC: Version, ID: req.ID}
	if err == nil {
		raw, serr := s.serializer.Marshal(result)
		if serr == nil {
			resp.Result = raw
			return resp
		}
		log.Error().Err(serr).Msg("Failed to serialize result")
		err = Errorf(ServerError, "result could not be serialized")
	}
	resp.Error = s.encodeError(log, err)
	return resp
}

// call runs the handler, turning a panic into a ServerError.
func (s *Server) call(ctx context.Context, method string, params *Params) (result any, err error) {
	h, ok := s.lookup(method)
	if !ok {
		return nil, Errorf(MethodNotFound, "Method %q not found", method)
	}
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Recovered panic in RPC handler")
			result, err = nil, Errorf(ServerError, "internal error")
		}
	}()
	return h.ServeRPC(ctx, params)
}

func (s *Server) encodeError(log zerolog.Logger, err error) *ErrorObject {
	if KindOf(err) == nil {
		log.Warn().Err(err).Msg("Uncategorized handler error")
	}
	obj := s.registry.Encode(err)
	if obj.Data == nil {
		return obj
	}
	out := *obj
	data, derr := s.serializer.Marshal(obj.Data)
	if derr != nil {
		log.Warn().Err(derr).Msg("Dropped unserializable error data")
		out.Data = nil
	} else {
		out.Data = data
	}
	return &out
}
