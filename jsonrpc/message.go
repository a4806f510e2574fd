package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Version is the protocol version carried by every envelope.
const Version = "2.0"

// ID is a request correlation token. It holds either a string or a number
// and has no meaning beyond equality. The zero ID is invalid; requests that
// carry no ID are notifications.
//
// ID is comparable and may be used as a map key. Numbers are compared by
// their JSON text.
type ID struct {
	str   string
	isNum bool
	valid bool
}

func StringID(s string) ID {
	return ID{str: s, valid: true}
}

func NumberID(n int64) ID {
	return ID{str: strconv.FormatInt(n, 10), isNum: true, valid: true}
}

func (id ID) IsValid() bool { return id.valid }

func (id ID) IsNumber() bool { return id.isNum }

// String returns the token text. Numeric ids are rendered as their JSON
// number literal.
func (id ID) String() string {
	return id.str
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.valid {
		return []byte("null"), nil
	}
	if id.isNum {
		return []byte(id.str), nil
	}
	return json.Marshal(id.str)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0:
		return errors.New("jsonrpc: empty id")
	case bytes.Equal(data, []byte("null")):
		*id = ID{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("jsonrpc: id must be a string or number")
	}
	*id = ID{str: n.String(), isNum: true, valid: true}
	return nil
}

// Request is a call or notification envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`
}

// IsNotification reports whether r carries no correlation id.
func (r *Request) IsNotification() bool {
	return r.ID == nil || !r.ID.IsValid()
}

// Response is a reply envelope. Exactly one of Result and Error is set.
// ID is nil only when the failing input could not be attributed to a
// request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
	ID      *ID             `json:"id"`
}

// wireResponse is the client's view of a reply. The error member is kept
// raw so that malformed error objects can be detected.
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	ID      *ID             `json:"id"`
}

// Named marks a single argument to Prepare as by-name parameters.
type Named map[string]any

// Params are the decoded parameters handed to a Handler. At most one of
// Positional and Named is non-nil.
type Params struct {
	Positional []json.RawMessage
	Named      map[string]json.RawMessage
}

func parseParams(raw json.RawMessage) (*Params, error) {
	raw = bytes.TrimSpace(raw)
	p := &Params{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &p.Positional); err != nil {
			return nil, err
		}
		if p.Positional == nil {
			p.Positional = []json.RawMessage{}
		}
	case '{':
		if err := json.Unmarshal(raw, &p.Named); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("params must be an array or an object")
	}
	return p, nil
}

// Len returns the number of parameters of either form.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	if p.Named != nil {
		return len(p.Named)
	}
	return len(p.Positional)
}

// IsNamed reports whether the parameters were passed by name.
func (p *Params) IsNamed() bool {
	return p != nil && p.Named != nil
}

// Arg decodes the i'th positional parameter into v.
func (p *Params) Arg(i int, v any) error {
	if p == nil || i < 0 || i >= len(p.Positional) {
		return Errorf(InvalidArguments, "missing positional param %d", i)
	}
	if err := json.Unmarshal(p.Positional[i], v); err != nil {
		return Errorf(InvalidArguments, "param %d: %v", i, err)
	}
	return nil
}

// Get decodes the named parameter into v.
func (p *Params) Get(name string, v any) error {
	raw, ok := p.lookup(name)
	if !ok {
		return Errorf(InvalidArguments, "missing param: %s", name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return Errorf(InvalidArguments, "param %s: %v", name, err)
	}
	return nil
}

func (p *Params) lookup(name string) (json.RawMessage, bool) {
	if p == nil || p.Named == nil {
		return nil, false
	}
	raw, ok := p.Named[name]
	return raw, ok
}
