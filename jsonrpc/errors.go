package jsonrpc

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard and library-defined error codes.
const (
	CodeParseError          = -32700
	CodeUnsupportedEncoding = -32701
	CodeInvalidCharacter    = -32702
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
	CodeInvalidParams       = -32602
	CodeInternalError       = -32603
	CodeApplicationError    = -32500
	CodeSystemError         = -32400
	CodeTransportError      = -32300
)

// Codes from CodeReservedMin to CodeReservedMax are reserved for pre-defined
// errors and cannot be registered for application kinds.
const (
	CodeReservedMin = -32768
	CodeReservedMax = -32000
)

// Kind identifies a category of RPC failure. Kinds form a tree through their
// parent pointer; the Registry resolves codes by walking that chain.
//
// A *Kind is itself an error so handlers may return it directly, and so it
// can be used as an errors.Is target:
//
//	if errors.Is(err, jsonrpc.MethodNotFound) { ... }
type Kind struct {
	name   string
	parent *Kind
}

// NewKind declares a kind. parent may be nil for a new root, but
// application kinds normally descend from ApplicationError.
func NewKind(name string, parent *Kind) *Kind {
	return &Kind{name: name, parent: parent}
}

func (k *Kind) Name() string {
	if k == nil {
		return ""
	}
	return k.name
}

func (k *Kind) Parent() *Kind {
	if k == nil {
		return nil
	}
	return k.parent
}

func (k *Kind) Error() string { return k.Name() }

// Is reports whether target is k or one of k's ancestors.
func (k *Kind) Is(target error) bool {
	t, ok := target.(*Kind)
	return ok && k.Descends(t)
}

// Descends reports whether k is ancestor or one of its descendants.
func (k *Kind) Descends(ancestor *Kind) bool {
	for c := k; c != nil; c = c.parent {
		if c == ancestor {
			return true
		}
	}
	return false
}

// Built-in kinds.
var (
	Exception           = NewKind("Exception", nil)
	JSONRPCError        = NewKind("JSONRPCError", Exception)
	ParseError          = NewKind("ParseError", JSONRPCError)
	UnsupportedEncoding = NewKind("UnsupportedEncodingError", ParseError)
	InvalidCharacter    = NewKind("InvalidCharacterError", ParseError)
	ServerError         = NewKind("ServerError", JSONRPCError)
	InvalidData         = NewKind("InvalidData", ServerError)
	InvalidArguments    = NewKind("InvalidArguments", ServerError)
	ApplicationError    = NewKind("ApplicationError", JSONRPCError)
	MethodNotFound      = NewKind("MethodNotFound", ApplicationError)
	SystemError         = NewKind("SystemError", JSONRPCError)
	TransportError      = NewKind("TransportError", JSONRPCError)
)

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	if e == nil {
		return "jsonrpc: <nil>"
	}
	return e.Message
}

// Error is a decoded or raised RPC failure of a given kind.
type Error struct {
	Kind    *Kind
	Code    int
	Message string
	Data    any

	cause error
}

// Errorf returns an Error of kind k. The code is resolved by the registry
// that eventually encodes it.
func Errorf(k *Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	c := *e
	c.Data = data
	return &c
}

func (e *Error) Error() string {
	if e == nil {
		return "jsonrpc: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Name()
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches a *Kind target against e's kind chain.
func (e *Error) Is(target error) bool {
	k, ok := target.(*Kind)
	if !ok || e == nil {
		return false
	}
	return e.Kind.Descends(k)
}

// RPCKind exposes the kind for registry encoding.
func (e *Error) RPCKind() *Kind {
	if e == nil {
		return nil
	}
	return e.Kind
}

// kinded is implemented by application errors that carry their own kind.
type kinded interface {
	RPCKind() *Kind
}

// KindOf returns the kind carried by err, or nil if err is uncategorized.
func KindOf(err error) *Kind {
	var k kinded
	if errors.As(err, &k) {
		return k.RPCKind()
	}
	var kind *Kind
	if errors.As(err, &kind) {
		return kind
	}
	return nil
}

// StatusError reports a non-2xx HTTP reply seen by the client transport.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "unexpected HTTP status " + e.Status
	}
	return fmt.Sprintf("unexpected HTTP status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// transportError wraps a network or HTTP failure. These are never decoded
// through a registry and never appear on the wire.
func transportError(err error) *Error {
	return &Error{Kind: TransportError, Code: CodeTransportError, Message: "transport error", cause: err}
}

// ProtocolError is returned when a peer sends a response that violates the
// envelope format, such as an error member that is not an object.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "jsonrpc: protocol violation: " + e.Reason
}

// SerializationError is returned when a value has no registered encoder.
type SerializationError struct {
	Type string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jsonrpc: cannot serialize %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("jsonrpc: cannot serialize %s: no encoder registered", e.Type)
}

func (e *SerializationError) Unwrap() error { return e.Err }
