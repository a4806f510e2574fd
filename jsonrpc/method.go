package jsonrpc

import (
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces correlation ids. Implementations must be safe for
// concurrent use and must not repeat ids while calls are in flight.
type IDGenerator interface {
	NextID() ID
}

// UUIDGenerator issues random version 4 UUID string ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID() ID {
	return StringID(uuid.NewString())
}

// CounterGenerator issues increasing numeric ids starting at 1.
type CounterGenerator struct {
	n atomic.Int64
}

func (g *CounterGenerator) NextID() ID {
	return NumberID(g.n.Add(1))
}

// BatchItem is anything that can be placed in a batch: *Method,
// *Notification, or a prepared *Request.
type BatchItem interface {
	request() (*Request, error)
}

// Method builds call requests for one remote method. Every Prepare assigns
// a fresh id.
type Method struct {
	Name string

	ids        IDGenerator
	serializer *Serializer
}

// NewMethod returns a Method using random UUID ids and the default
// serializer. Client.Method binds the client's generator and serializer
// instead.
func NewMethod(name string) *Method {
	return &Method{Name: name}
}

// Prepare builds a request. Arguments become positional params, unless a
// single Named argument is given, in which case they are passed by name.
// A Named mixed with other arguments is just another positional value.
func (m *Method) Prepare(args ...any) (*Request, error) {
	params, err := encodeParams(m.serializer, args)
	if err != nil {
		return nil, err
	}
	ids := m.ids
	if ids == nil {
		ids = UUIDGenerator{}
	}
	id := ids.NextID()
	return &Request{JSONRPC: Version, Method: m.Name, Params: params, ID: &id}, nil
}

func (m *Method) request() (*Request, error) {
	return m.Prepare()
}

// Notification builds requests that carry no id and expect no reply.
type Notification struct {
	Name string

	serializer *Serializer
}

func NewNotification(name string) *Notification {
	return &Notification{Name: name}
}

// Prepare builds a notification request. The params rules are the same as
// for Method.Prepare.
func (n *Notification) Prepare(args ...any) (*Request, error) {
	params, err := encodeParams(n.serializer, args)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, Method: n.Name, Params: params}, nil
}

func (n *Notification) request() (*Request, error) {
	return n.Prepare()
}

func (r *Request) request() (*Request, error) {
	return r, nil
}

var defaultSerializer = NewSerializer(nil)

func encodeParams(s *Serializer, args []any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if s == nil {
		s = defaultSerializer
	}
	if len(args) == 1 {
		if named, ok := args[0].(Named); ok {
			return s.Marshal(named)
		}
	}
	return s.Marshal(args)
}
