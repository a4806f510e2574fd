package jsonrpc

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// EncoderFunc converts v into a JSON-safe value. Encoders that hold
// containers call s.Encode for their elements.
type EncoderFunc func(s *Serializer, v any) (any, error)

type interfaceEncoder struct {
	iface reflect.Type
	fn    EncoderFunc
}

// Serializer converts application values into JSON-safe trees made of nil,
// bool, numbers, string, []any, map[string]any and json.RawMessage.
//
// Lookup order is: exact type, then registered interfaces (most recently
// registered first), then built-in handling by reflect kind. Structs are
// encoded field by field, so their fields go through the same lookup; a
// struct implementing encoding.TextMarshaler encodes as its text. Values
// that match none of these produce a *SerializationError.
type Serializer struct {
	registry *Registry

	mu         sync.RWMutex
	exact      map[reflect.Type]EncoderFunc
	interfaces []interfaceEncoder
}

// NewSerializer returns a serializer with the built-in encoders. Errors are
// encoded through registry, or Default() if registry is nil.
func NewSerializer(registry *Registry) *Serializer {
	if registry == nil {
		registry = Default()
	}
	s := &Serializer{
		registry: registry,
		exact:    make(map[reflect.Type]EncoderFunc),
	}
	s.Register(reflect.TypeFor[[]byte](), encodeBytes)
	s.Register(reflect.TypeFor[time.Time](), encodeTime)
	s.Register(reflect.TypeFor[Binary](), encodeBinary)
	s.Register(reflect.TypeFor[json.RawMessage](), encodeRaw)
	s.Register(reflect.TypeFor[json.Number](), encodeNumber)
	s.Register(reflect.TypeFor[Named](), encodeNamed)
	s.Register(reflect.TypeFor[Set](), encodeSet)
	s.RegisterInterface(reflect.TypeFor[json.Marshaler](), encodeMarshaler)
	s.RegisterInterface(reflect.TypeFor[error](), encodeError)
	return s
}

// Register installs fn for values whose dynamic type is exactly t,
// replacing any previous encoder for t.
func (s *Serializer) Register(t reflect.Type, fn EncoderFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exact[t] = fn
}

// RegisterInterface installs fn for values implementing iface. Later
// registrations take precedence over earlier ones.
func (s *Serializer) RegisterInterface(iface reflect.Type, fn EncoderFunc) {
	if iface.Kind() != reflect.Interface {
		panic("jsonrpc: RegisterInterface requires an interface type, got " + iface.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interfaces = append(s.interfaces, interfaceEncoder{iface: iface, fn: fn})
}

// Registry returns the registry used for error values.
func (s *Serializer) Registry() *Registry {
	return s.registry
}

func (s *Serializer) lookup(t reflect.Type) EncoderFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fn, ok := s.exact[t]; ok {
		return fn
	}
	for i := len(s.interfaces) - 1; i >= 0; i-- {
		if t.Implements(s.interfaces[i].iface) {
			return s.interfaces[i].fn
		}
	}
	return nil
}

// Encode converts v into a JSON-safe value.
func (s *Serializer) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if fn := s.lookup(rv.Type()); fn != nil {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, nil
		}
		return fn(s, v)
	}
	return s.encodeKind(rv)
}

// Marshal encodes v and renders it as JSON text.
func (s *Serializer) Marshal(v any) (json.RawMessage, error) {
	tree, err := s.Encode(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, &SerializationError{Type: fmt.Sprintf("%T", v), Err: err}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (s *Serializer) encodeKind(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return s.Encode(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return encodeBytes(s, rv.Bytes())
		}
		return s.encodeList(rv)
	case reflect.Array:
		return s.encodeList(rv)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		return s.encodeMap(rv)
	case reflect.Struct:
		if tm, ok := rv.Interface().(encoding.TextMarshaler); ok {
			b, err := tm.MarshalText()
			if err != nil {
				return nil, &SerializationError{Type: rv.Type().String(), Err: err}
			}
			return string(b), nil
		}
		out := make(map[string]any, rv.NumField())
		if err := s.encodeFields(rv, out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, &SerializationError{Type: rv.Type().String()}
}

// encodeFields adds the fields of the struct rv to out, named and filtered
// the way encoding/json does it: json tag names, "-", omitempty and
// omitzero. Untagged embedded structs are flattened; fields of the outer
// struct win over promoted ones. Unexported embedded structs are skipped.
func (s *Serializer) encodeFields(rv reflect.Value, out map[string]any) error {
	t := rv.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}
		if name == "" {
			name = sf.Name
		}
		if hasOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		if hasOption(opts, "omitzero") && fv.IsZero() {
			continue
		}
		v, err := s.Encode(fv.Interface())
		if err != nil {
			return err
		}
		out[name] = v
	}

	for _, ev := range embedded {
		promoted := make(map[string]any)
		if err := s.encodeFields(ev, promoted); err != nil {
			return err
		}
		for k, v := range promoted {
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}
	return nil
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

func (s *Serializer) encodeList(rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		v, err := s.Encode(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Serializer) encodeMap(rv reflect.Value) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := mapKey(iter.Key())
		if err != nil {
			return nil, err
		}
		v, err := s.Encode(iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// mapKey coerces a map key to the string form encoding/json would use, so
// that decoding into the original map type restores the keys.
func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "null", nil
		}
		k = k.Elem()
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		if err != nil {
			return "", &SerializationError{Type: k.Type().String(), Err: err}
		}
		return string(b), nil
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(k.Bool()), nil
	}
	return fmt.Sprint(k.Interface()), nil
}

func encodeBytes(_ *Serializer, v any) (any, error) {
	b := v.([]byte)
	if !utf8.Valid(b) {
		return nil, &SerializationError{Type: "[]byte", Err: errors.New("invalid UTF-8")}
	}
	return string(b), nil
}

func encodeTime(_ *Serializer, v any) (any, error) {
	return v.(time.Time).Format(time.RFC3339Nano), nil
}

func encodeRaw(_ *Serializer, v any) (any, error) {
	raw := v.(json.RawMessage)
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func encodeNumber(_ *Serializer, v any) (any, error) {
	return v.(json.Number), nil
}

func encodeNamed(s *Serializer, v any) (any, error) {
	return s.encodeMap(reflect.ValueOf(map[string]any(v.(Named))))
}

func encodeMarshaler(_ *Serializer, v any) (any, error) {
	b, err := v.(json.Marshaler).MarshalJSON()
	if err != nil {
		return nil, &SerializationError{Type: fmt.Sprintf("%T", v), Err: err}
	}
	return json.RawMessage(b), nil
}

func encodeError(s *Serializer, v any) (any, error) {
	obj := s.registry.Encode(v.(error))
	out := map[string]any{"code": obj.Code, "message": obj.Message}
	if obj.Data != nil {
		data, err := s.Encode(obj.Data)
		if err != nil {
			return nil, err
		}
		out["data"] = data
	}
	return out, nil
}

// Binary is a byte payload that travels as a tagged base64 object:
//
//	{"type":"binary","encoding":"base64","data":"..."}
type Binary []byte

func encodeBinary(_ *Serializer, v any) (any, error) {
	return map[string]any{
		"type":     "binary",
		"encoding": "base64",
		"data":     base64.StdEncoding.EncodeToString(v.(Binary)),
	}, nil
}

func (b Binary) MarshalJSON() ([]byte, error) {
	v, _ := encodeBinary(nil, b)
	return json.Marshal(v)
}

func (b *Binary) UnmarshalJSON(data []byte) error {
	var w struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Data     string `json:"data"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type != "binary" || w.Encoding != "base64" {
		return fmt.Errorf("jsonrpc: not a binary wrapper (type=%q encoding=%q)", w.Type, w.Encoding)
	}
	raw, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// Set is an unordered collection. It encodes as a JSON array whose order is
// the sorted order of the encoded members.
type Set map[any]struct{}

// NewSet returns a Set holding items.
func NewSet(items ...any) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func encodeSet(s *Serializer, v any) (any, error) {
	type member struct {
		key string
		val any
	}
	members := make([]member, 0, len(v.(Set)))
	for item := range v.(Set) {
		enc, err := s.Encode(item)
		if err != nil {
			return nil, err
		}
		key, err := json.Marshal(enc)
		if err != nil {
			return nil, &SerializationError{Type: fmt.Sprintf("%T", item), Err: err}
		}
		members = append(members, member{key: string(key), val: enc})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].key < members[j].key })
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m.val
	}
	return out, nil
}
