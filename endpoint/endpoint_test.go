package endpoint

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type headerProcessor struct {
	Key   string
	Value string
}

func (hp headerProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if hp.Key != "" {
		w.Header().Set(hp.Key, hp.Value)
	}
	return next(w, r)
}

func textRenderer(body string) Renderer {
	return RendererFunc(func(w http.ResponseWriter, _ *http.Request) error {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(body))
		return err
	})
}

func TestHandler_Constructors(t *testing.T) {
	h1 := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return textRenderer("h1"), nil
	})
	hf := HandleFunc(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return textRenderer("hf"), nil
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)

	rec1 := httptest.NewRecorder()
	h1.ServeHTTP(rec1, req)
	if rec1.Body.String() != "h1" {
		t.Errorf("Handler failed: %q", rec1.Body.String())
	}

	rec2 := httptest.NewRecorder()
	hf(rec2, req)
	if rec2.Body.String() != "hf" {
		t.Errorf("HandleFunc failed: %q", rec2.Body.String())
	}
}

func TestHandler_ProcessorsRunInOrderBeforeEndpoint(t *testing.T) {
	var order []string
	step := func(name string) Processor {
		return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
			order = append(order, name)
			return next(w, r)
		})
	}

	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		order = append(order, "endpoint")
		return &NoContentRenderer{}, nil
	}, step("a"), headerProcessor{Key: "X-Test", Value: "1"}, step("b"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if got := strings.Join(order, ","); got != "a,b,endpoint" {
		t.Errorf("got order %q", got)
	}
	if rec.Header().Get("X-Test") != "1" {
		t.Error("processor header not kept")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestHandler_ParamsBoundFromRequest(t *testing.T) {
	type params struct {
		Body  string `body:""`
		Token string `header:"X-Token"`
	}
	var got params
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, p params) (Renderer, error) {
		got = p
		return &NoContentRenderer{}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))
	req.Header.Set("X-Token", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.Body != "payload" || got.Token != "abc" {
		t.Errorf("got %+v", got)
	}
}

func TestHandler_Errors(t *testing.T) {
	reject := func(err error) Processor {
		return ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
			return err
		})
	}
	ok := func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return &NoContentRenderer{}, nil
	}

	tests := []struct {
		name     string
		handler  http.Handler
		wantCode int
		wantBody string
	}{
		{
			"endpoint error from processor",
			Handler(ok, reject(Error(http.StatusUnauthorized, "no token", nil))),
			http.StatusUnauthorized, "no token",
		},
		{
			"empty message falls back to status text",
			Handler(ok, reject(Error(http.StatusForbidden, "", nil))),
			http.StatusForbidden, "Forbidden",
		},
		{
			"plain error is 500",
			Handler(ok, reject(errors.New("oops"))),
			http.StatusInternalServerError, "oops",
		},
		{
			"invalid status is 500",
			Handler(ok, reject(&EndpointError{Status: 42, Message: "weird"})),
			http.StatusInternalServerError, "weird",
		},
		{
			"endpoint func error",
			Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
				return nil, Error(http.StatusConflict, "busy", nil)
			}),
			http.StatusConflict, "busy",
		},
		{
			"nil renderer is 500",
			Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
				return nil, nil
			}),
			http.StatusInternalServerError, "nil renderer",
		},
		{
			"nil processor is 500",
			Handler(ok, nil),
			http.StatusInternalServerError, "nil processor",
		},
		{
			"nil endpoint is 500",
			Handler[struct{}](nil),
			http.StatusInternalServerError, "nil EndpointFunc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("got body %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
				t.Errorf("got Content-Type %q, want text/plain", ct)
			}
		})
	}
}

func TestHandler_FirstErrorStopsPipeline(t *testing.T) {
	var reached bool
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		reached = true
		return &NoContentRenderer{}, nil
	}, ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		return Error(http.StatusUnauthorized, "", nil)
	}), ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		reached = true
		return next(w, r)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if reached {
		t.Error("pipeline continued after an error")
	}
}

func TestError_KeepsExistingEndpointError(t *testing.T) {
	inner := Error(http.StatusUnauthorized, "inner", nil)
	if got := Error(http.StatusInternalServerError, "outer", inner); got != inner {
		t.Errorf("got %v, want the inner error", got)
	}

	cause := errors.New("cause")
	err := Error(http.StatusBadRequest, "bad", cause)
	if !errors.Is(err, cause) {
		t.Error("cause not preserved")
	}
	if err.Error() != "bad: cause" {
		t.Errorf("got %q", err.Error())
	}
}

type closingRenderer struct {
	closed bool
}

func (c *closingRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

func (c *closingRenderer) Close() error {
	c.closed = true
	return nil
}

func TestRendererCleanup(t *testing.T) {
	r := &closingRenderer{}
	h := Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (Renderer, error) {
		return r, nil
	})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if !r.closed {
		t.Error("renderer was not closed")
	}
}
