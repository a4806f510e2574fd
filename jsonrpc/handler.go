package jsonrpc

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
)

// Handler serves one RPC method.
//
// Any error returned (or panic raised) is converted to an error object
// through the server's registry; it never escapes the server.
type Handler interface {
	ServeRPC(ctx context.Context, params *Params) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, params *Params) (any, error)

func (f HandlerFunc) ServeRPC(ctx context.Context, params *Params) (any, error) {
	return f(ctx, params)
}

// Typed adapts a function taking a typed params value.
//
// When P is a struct, positional params map to its exported fields in
// declaration order and named params map to fields by json tag. Every field
// is required unless its tag has omitempty. Fields tagged `json:"-"` are
// skipped.
//
// When P is not a struct, a single positional param or the whole named
// object is decoded into it.
//
//	srv.Register("math.add", jsonrpc.Typed(func(ctx context.Context, p struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}) (int, error) {
//	    return p.A + p.B, nil
//	}))
func Typed[P, R any](fn func(ctx context.Context, params P) (R, error)) Handler {
	b := newBinder(reflect.TypeFor[P]())
	return HandlerFunc(func(ctx context.Context, params *Params) (any, error) {
		var p P
		if err := b.bind(params, reflect.ValueOf(&p).Elem()); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	})
}

type paramField struct {
	index    int
	name     string
	required bool
}

// binder holds the reflection data needed to fill a params value.
type binder struct {
	typ    reflect.Type
	fields []paramField
}

func newBinder(t reflect.Type) *binder {
	b := &binder{typ: t}
	if t.Kind() != reflect.Struct {
		return b
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		required := true
		if tag := f.Tag.Get("json"); tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" || opt == "omitzero" {
					required = false
				}
			}
		}
		b.fields = append(b.fields, paramField{index: i, name: name, required: required})
	}
	return b
}

func (b *binder) bind(params *Params, dst reflect.Value) error {
	if b.typ.Kind() != reflect.Struct {
		return b.bindValue(params, dst)
	}
	if params.IsNamed() {
		raw, err := json.Marshal(params.Named)
		if err != nil {
			return Errorf(InvalidArguments, "invalid params")
		}
		if err := json.Unmarshal(raw, dst.Addr().Interface()); err != nil {
			return Errorf(InvalidArguments, "invalid params: %v", err)
		}
		for _, f := range b.fields {
			if _, ok := params.Named[f.name]; f.required && !ok {
				return Errorf(InvalidArguments, "missing param: %s", f.name)
			}
		}
		return nil
	}

	var positional []json.RawMessage
	if params != nil {
		positional = params.Positional
	}
	required := 0
	for _, f := range b.fields {
		if f.required {
			required++
		}
	}
	if len(positional) < required || len(positional) > len(b.fields) {
		return Errorf(InvalidArguments, "invalid number of params: got %d, want %d", len(positional), len(b.fields))
	}
	for i, raw := range positional {
		field := dst.Field(b.fields[i].index)
		if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
			return Errorf(InvalidArguments, "param %d (%s): %v", i, b.fields[i].name, err)
		}
	}
	return nil
}

func (b *binder) bindValue(params *Params, dst reflect.Value) error {
	var raw json.RawMessage
	switch {
	case params.IsNamed():
		var err error
		if raw, err = json.Marshal(params.Named); err != nil {
			return Errorf(InvalidArguments, "invalid params")
		}
	case params != nil && len(params.Positional) == 1:
		raw = params.Positional[0]
	case params == nil || len(params.Positional) == 0:
		return Errorf(InvalidArguments, "missing param")
	default:
		return Errorf(InvalidArguments, "invalid number of params: got %d, want 1", len(params.Positional))
	}
	if err := json.Unmarshal(raw, dst.Addr().Interface()); err != nil {
		return Errorf(InvalidArguments, "invalid params: %v", err)
	}
	return nil
}
