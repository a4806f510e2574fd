package jsonrpc

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrKindRegistered = errors.New("jsonrpc: kind already registered")
	ErrCodeRegistered = errors.New("jsonrpc: code already registered")
	ErrReservedCode   = errors.New("jsonrpc: code is reserved")
)

// Registry is a bidirectional table between error kinds and codes.
//
// Registration is append-only. A Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	codes map[*Kind]int
	kinds map[int]*Kind
}

var builtinCodes = []struct {
	kind *Kind
	code int
}{
	{ParseError, CodeParseError},
	{UnsupportedEncoding, CodeUnsupportedEncoding},
	{InvalidCharacter, CodeInvalidCharacter},
	{ServerError, CodeInternalError},
	{InvalidData, CodeInvalidRequest},
	{MethodNotFound, CodeMethodNotFound},
	{InvalidArguments, CodeInvalidParams},
	{ApplicationError, CodeApplicationError},
	{SystemError, CodeSystemError},
	{TransportError, CodeTransportError},
}

// NewRegistry returns an isolated registry holding only the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{
		codes: make(map[*Kind]int),
		kinds: make(map[int]*Kind),
	}
	for _, b := range builtinCodes {
		r.codes[b.kind] = b.code
		r.kinds[b.code] = b.kind
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used when no registry is
// supplied to a Client, Server or Serializer.
func Default() *Registry {
	return defaultRegistry
}

// Register binds kind to code. It fails if either side is already bound or
// if code lies in the reserved band.
func (r *Registry) Register(kind *Kind, code int) error {
	if kind == nil {
		return errors.New("jsonrpc: nil kind")
	}
	if code >= CodeReservedMin && code <= CodeReservedMax {
		return fmt.Errorf("%w: %d", ErrReservedCode, code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kinds[code]; ok {
		return fmt.Errorf("%w: %d", ErrCodeRegistered, code)
	}
	if _, ok := r.codes[kind]; ok {
		return fmt.Errorf("%w: %s", ErrKindRegistered, kind.Name())
	}
	r.codes[kind] = code
	r.kinds[code] = kind
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(kind *Kind, code int) {
	if err := r.Register(kind, code); err != nil {
		panic(err)
	}
}

// CodeFor returns the code of kind or of its nearest registered ancestor.
// Uncategorized kinds map to CodeInternalError.
func (r *Registry) CodeFor(kind *Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := kind; k != nil; k = k.parent {
		if code, ok := r.codes[k]; ok {
			return code
		}
	}
	return CodeInternalError
}

// KindFor returns the kind bound to code, or ServerError if none is.
func (r *Registry) KindFor(code int) *Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.kinds[code]; ok {
		return k
	}
	return ServerError
}

// Decode builds the error a client raises for a received error object.
// Unknown codes yield a ServerError that keeps the raw code.
func (r *Registry) Decode(code int, message string, data any) *Error {
	return &Error{Kind: r.KindFor(code), Code: code, Message: message, Data: data}
}

// Encode converts any error into a wire error object.
func (r *Registry) Encode(err error) *ErrorObject {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr != nil {
		code := rpcErr.Code
		if code == 0 {
			code = r.CodeFor(rpcErr.Kind)
		}
		msg := rpcErr.Message
		if msg == "" {
			msg = rpcErr.Kind.Name()
		}
		return &ErrorObject{Code: code, Message: msg, Data: rpcErr.Data}
	}
	var obj *ErrorObject
	if errors.As(err, &obj) && obj != nil {
		return obj
	}
	return &ErrorObject{Code: r.CodeFor(KindOf(err)), Message: err.Error()}
}

// Clone returns an independent copy of r.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{
		codes: make(map[*Kind]int, len(r.codes)),
		kinds: make(map[int]*Kind, len(r.kinds)),
	}
	for k, v := range r.codes {
		c.codes[k] = v
	}
	for k, v := range r.kinds {
		c.kinds[k] = v
	}
	return c
}
