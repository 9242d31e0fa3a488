// Package api dispatches generic requests to the gateway operations and
// applies the response middleware shared by every route.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alechenninger/gatehouse/internal/gateway"
	"github.com/alechenninger/gatehouse/internal/logging"
	"github.com/alechenninger/gatehouse/internal/request"
)

// Default headers added to every response unless the handler set them
var defaultHeaders = map[string]string{
	"strict-transport-security": "max-age=31556926; includeSubDomains;",
	"vary":                      "Origin, Host, Sec-Fetch-Dest, Sec-Fetch-Mode, Sec-Fetch-Site",
	"cache-control":             "no-store",
}

// Authorizer is the gateway as seen by the router
type Authorizer interface {
	AuthorizeRequest(ctx context.Context, req *request.Request) (gateway.Decision, error)
	HandleLoginRedirect(ctx context.Context, req *request.Request) (gateway.Decision, error)
}

// Router maps verb and path to gateway operations
type Router struct {
	authorizer Authorizer
	logger     *slog.Logger
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter creates a router over authorizer
func NewRouter(authorizer Authorizer, opts ...RouterOption) *Router {
	r := &Router{
		authorizer: authorizer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle routes req. A nil response means the request passes through to the
// origin unchanged. Handler failures become a 500 response, never an error.
func (r *Router) Handle(ctx context.Context, req *request.Request) (*request.Response, error) {
	resp, err := r.route(ctx, req)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "RequestLogger",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
			slog.Int("status", http.StatusInternalServerError),
		)
		return &request.Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]any{},
			Body: map[string]any{
				"title":   "Unexpected error",
				"errorId": invocationID(ctx, req),
			},
		}, nil
	}
	if resp == nil {
		return nil, nil
	}

	r.applyMiddleware(ctx, req, resp)
	return resp, nil
}

func (r *Router) route(ctx context.Context, req *request.Request) (*request.Response, error) {
	var (
		d   gateway.Decision
		err error
	)

	switch strings.ToUpper(req.Method) {
	case http.MethodOptions:
		return nil, nil
	case http.MethodGet:
		if isLoginRedirect(req.Path) {
			d, err = r.authorizer.HandleLoginRedirect(ctx, req)
		} else {
			d, err = r.authorizer.AuthorizeRequest(ctx, req)
		}
	case http.MethodHead:
		d, err = r.authorizer.AuthorizeRequest(ctx, req)
	default:
		return &request.Response{
			StatusCode: http.StatusMethodNotAllowed,
			Headers:    map[string]any{"allow": "GET, HEAD, OPTIONS"},
			Body:       map[string]any{"title": "Method not allowed"},
		}, nil
	}

	if err != nil {
		return nil, err
	}
	return d.Response(), nil
}

func (r *Router) applyMiddleware(ctx context.Context, req *request.Request, resp *request.Response) {
	present := make(map[string]bool, len(resp.Headers))
	for name := range resp.Headers {
		present[strings.ToLower(name)] = true
	}
	for name, value := range defaultHeaders {
		if !present[name] {
			resp.SetHeader(name, value)
		}
	}

	if resp.StatusCode >= 400 {
		if body, ok := resp.Body.(map[string]any); ok {
			body["errorId"] = invocationID(ctx, req)
		}
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelInfo
	}
	r.logger.LogAttrs(ctx, level, "RequestLogger",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
	)
}

func isLoginRedirect(path string) bool {
	return strings.TrimRight(path, "/") == gateway.LoginRedirectPath
}

func invocationID(ctx context.Context, req *request.Request) string {
	if req.Context.InvocationID != "" {
		return req.Context.InvocationID
	}
	return logging.InvocationID(ctx)
}
