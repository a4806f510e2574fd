// Package jsonrpc is a JSON-RPC 2.0 engine: a client and a server sharing
// one error registry and one type serializer.
//
// It implements the JSON-RPC 2.0 specification (https://www.jsonrpc.org/specification)
// over HTTP POST (https://www.simple-is-better.org/json-rpc/transport_http.html).
//
// # Server
//
// Register handlers by exact method name and mount the server:
//
//	srv := jsonrpc.NewServer(jsonrpc.WithServerLogger(log))
//	srv.Register("math.add", jsonrpc.Typed(func(ctx context.Context, p AddParams) (int, error) {
//	    return p.A + p.B, nil
//	}))
//	http.Handle("/rpc", srv.Handler(authProcessor))
//
// Processors passed to Handler run before the body is read. Their errors
// become plain HTTP error responses, not JSON-RPC errors.
//
// Exported methods of a struct can be registered in one go:
//
//	srv.RegisterReceiver("math", &MathMethods{}) // -> "math.Add", ...
//
// Items of a batch run concurrently. Responses come back in input order with
// notifications left out; a body holding only notifications gets a 204.
//
// # Client
//
//	c := jsonrpc.Dial("http://localhost:8080/rpc")
//	defer c.Close()
//	sum, err := jsonrpc.CallAs[int](ctx, c, "math.add", 1, 2)
//
// Batch replies are matched by id, never by position:
//
//	results, err := c.Batch(ctx, []jsonrpc.BatchItem{
//	    c.Method("math.add"),
//	    c.Notification("log"),
//	})
//
// # Errors
//
// Failures are classified by *Kind. Kinds form a tree through explicit
// parent links, and a Registry maps kinds to wire codes in both directions:
//
//	var ErrQuota = jsonrpc.NewKind("QuotaError", jsonrpc.ApplicationError)
//	reg := jsonrpc.NewRegistry()
//	reg.MustRegister(ErrQuota, 5001)
//
//	return nil, jsonrpc.Errorf(ErrQuota, "over quota")
//
// A handler error without a kind is sent as an internal error (-32603)
// carrying the error's message. errors.Is(err, jsonrpc.ApplicationError)
// matches any descendant kind.
package jsonrpc
