package jsonrpc

import (
	"context"
	"mime"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mnehpets/rpcserve/endpoint"
)

// DefaultMaxBodyBytes bounds the size of an inbound request body.
const DefaultMaxBodyBytes = 8 << 20

// Server dispatches JSON-RPC calls to registered handlers.
//
// Use s.Handler(processors...) to mount it, or pass s.Endpoint to
// endpoint.Handler directly.
type Server struct {
	mu      sync.RWMutex
	methods map[string]Handler

	registry       *Registry
	serializer     *Serializer
	log            zerolog.Logger
	maxConcurrency int
	maxBodyBytes   int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerRegistry sets the registry used to encode handler errors.
// Defaults to Default().
func WithServerRegistry(r *Registry) ServerOption {
	return func(s *Server) { s.registry = r }
}

// WithServerSerializer sets the serializer used to encode results.
func WithServerSerializer(sz *Serializer) ServerOption {
	return func(s *Server) { s.serializer = sz }
}

// WithServerLogger sets the server's logger. Handlers receive it, with method
// and id fields attached, through zerolog.Ctx.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithMaxConcurrency limits how many items of one batch run at once.
// Zero or less means no limit.
func WithMaxConcurrency(n int) ServerOption {
	return func(s *Server) { s.maxConcurrency = n }
}

// WithMaxBodyBytes limits the request body size. Zero or less disables the
// limit.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) { s.maxBodyBytes = n }
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		methods:      make(map[string]Handler),
		log:          zerolog.Nop(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = Default()
	}
	if s.serializer == nil {
		s.serializer = NewSerializer(s.registry)
	}
	return s
}

// Register binds h to the exact method name. It panics if the name is empty,
// h is nil or the name is already taken.
func (s *Server) Register(name string, h Handler) {
	if name == "" {
		panic("jsonrpc: empty method name")
	}
	if h == nil {
		panic("jsonrpc: nil handler for " + name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.methods[name]; exists {
		panic("jsonrpc: method name collision: " + name)
	}
	s.methods[name] = h
}

// RegisterFunc is Register for a plain function.
func (s *Server) RegisterFunc(name string, fn func(ctx context.Context, params *Params) (any, error)) {
	s.Register(name, HandlerFunc(fn))
}

// RegisterReceiver registers the exported methods of receiver with the
// signature
//
//	func (T) Name(ctx context.Context, params P) (R, error)
//
// where P is a struct. Method names are prefixed by namespace and a dot
// unless namespace is empty. A field `_ struct{} jsonrpc:"name"` in P
// overrides the method name. Methods with other signatures are skipped.
// It returns the registered names.
func (s *Server) RegisterReceiver(namespace string, receiver any) []string {
	val := reflect.ValueOf(receiver)
	typ := val.Type()

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if !m.IsExported() {
			continue
		}
		h, name := receiverMethod(val, m)
		if h == nil {
			continue
		}
		if namespace != "" {
			name = namespace + "." + name
		}
		s.Register(name, h)
		names = append(names, name)
	}
	return names
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

func receiverMethod(receiver reflect.Value, m reflect.Method) (Handler, string) {
	ft := m.Func.Type()
	if ft.NumIn() != 3 || ft.In(1) != contextType {
		return nil, ""
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return nil, ""
	}
	paramType := ft.In(2)
	if paramType.Kind() != reflect.Struct {
		return nil, ""
	}

	name := m.Name
	if f, ok := paramType.FieldByName("_"); ok {
		if tag := f.Tag.Get("jsonrpc"); tag != "" {
			name = tag
		}
	}

	b := newBinder(paramType)
	fn := m.Func
	return HandlerFunc(func(ctx context.Context, params *Params) (any, error) {
		p := reflect.New(paramType).Elem()
		if err := b.bind(params, p); err != nil {
			return nil, err
		}
		out := fn.Call([]reflect.Value{receiver, reflect.ValueOf(ctx), p})
		if err, _ := out[1].Interface().(error); err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}), name
}

// Methods returns the registered method names in sorted order.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) lookup(name string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.methods[name]
	return h, ok
}

// rpcParams captures the raw request body. Parsing happens inside the
// endpoint since JSON-RPC reports parse failures as error envelopes.
type rpcParams struct {
	Body []byte `body:"" maxLength:"0"`
}

// Endpoint is the endpoint function for JSON-RPC requests.
func (s *Server) Endpoint(w http.ResponseWriter, r *http.Request, params rpcParams) (endpoint.Renderer, error) {
	return s.handleBody(r.Context(), params.Body), nil
}

// Handler returns an http.Handler serving JSON-RPC over POST.
//
// Method and Content-Type are checked first, then processors run in order
// (authorization goes here), and only then is the body read.
func (s *Server) Handler(processors ...endpoint.Processor) http.Handler {
	chain := make([]endpoint.Processor, 0, len(processors)+2)
	chain = append(chain, endpoint.ProcessorFunc(checkRequest))
	chain = append(chain, processors...)
	chain = append(chain, endpoint.ProcessorFunc(s.limitBody))
	return endpoint.Handler(s.Endpoint, chain...)
}

func checkRequest(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	if !isJSONMediaType(r.Header.Get("Content-Type")) {
		return endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
	}
	return next(w, r)
}

func (s *Server) limitBody(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	if s.maxBodyBytes > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	}
	return next(w, r)
}

func isJSONMediaType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
