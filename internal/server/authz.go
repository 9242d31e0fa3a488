package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"

	"github.com/alechenninger/gatehouse/internal/headers"
	"github.com/alechenninger/gatehouse/internal/logging"
	"github.com/alechenninger/gatehouse/internal/origin"
	"github.com/alechenninger/gatehouse/internal/request"
)

// Handler handles a generic request; a nil response lets it through
type Handler interface {
	Handle(ctx context.Context, req *request.Request) (*request.Response, error)
}

// AuthzServer implements Envoy's ext_authz Authorization service on top of
// the same router the edge function runs.
type AuthzServer struct {
	authv3.UnimplementedAuthorizationServer

	handler Handler
	logger  *slog.Logger

	// defaults are origin custom headers used when a route sets no
	// context extension of the same name
	defaults map[string]string
}

// AuthzOption configures an AuthzServer
type AuthzOption func(*AuthzServer)

// WithAuthzLogger sets the server logger
func WithAuthzLogger(logger *slog.Logger) AuthzOption {
	return func(s *AuthzServer) {
		s.logger = logger
	}
}

// WithDefaultCustomHeaders sets the fallback origin custom headers
// (x-issuer, x-authress-application-id, x-service-name)
func WithDefaultCustomHeaders(h map[string]string) AuthzOption {
	return func(s *AuthzServer) {
		s.defaults = h
	}
}

// NewAuthzServer creates a new ext_authz server
func NewAuthzServer(handler Handler, opts ...AuthzOption) *AuthzServer {
	s := &AuthzServer{
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check implements the ext_authz check endpoint
func (s *AuthzServer) Check(ctx context.Context, req *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	httpReq := req.GetAttributes().GetRequest().GetHttp()
	if httpReq == nil {
		return s.denyResponse(codes.InvalidArgument, "no HTTP request attributes"), nil
	}

	invocationID := logging.NewInvocationID()
	ctx = logging.WithInvocationID(ctx, invocationID)

	genericReq := s.toRequest(req, invocationID)

	resp, err := s.handler.Handle(ctx, genericReq)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "Authorization check failed",
			slog.String("path", genericReq.Path),
			slog.String("error", err.Error()),
		)
		return s.denyResponse(codes.Internal, "unexpected error"), nil
	}

	if resp == nil {
		return &authv3.CheckResponse{
			Status: &status.Status{
				Code: int32(codes.OK),
			},
			HttpResponse: &authv3.CheckResponse_OkResponse{
				OkResponse: &authv3.OkHttpResponse{},
			},
		}, nil
	}

	return s.deniedWith(resp), nil
}

// toRequest converts the Envoy request attributes into a generic request
func (s *AuthzServer) toRequest(req *authv3.CheckRequest, invocationID string) *request.Request {
	httpReq := req.GetAttributes().GetRequest().GetHttp()

	h := headers.New()
	for name, value := range httpReq.GetHeaders() {
		h.Add(name, value)
	}
	if httpReq.GetHost() != "" && !h.Has("host") {
		h.Set("host", httpReq.GetHost())
	}
	if o := origin.Resolve(h); o != "" {
		h.Set("origin", o)
	}

	custom := headers.FromMap(s.defaults)
	for name, value := range req.GetAttributes().GetContextExtensions() {
		custom.Set(name, value)
	}

	path, rawQuery, _ := strings.Cut(httpReq.GetPath(), "?")
	if path == "" {
		path = "/"
	}

	query := make(map[string]string)
	values, _ := url.ParseQuery(rawQuery)
	for k, vs := range values {
		query[k] = vs[len(vs)-1]
	}

	return &request.Request{
		Path:            path,
		Method:          httpReq.GetMethod(),
		Headers:         h,
		QueryParameters: query,
		PathParameters:  map[string]string{request.ProxyParameter: strings.TrimPrefix(path, "/")},
		Context: request.Context{
			CustomHeaders: custom,
			RequestID:     httpReq.GetId(),
			InvocationID:  invocationID,
		},
	}
}

// deniedWith renders a generated response as an Envoy denied response
func (s *AuthzServer) deniedWith(resp *request.Response) *authv3.CheckResponse {
	statusCode := resp.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	var opts []*corev3.HeaderValueOption
	multi := make(map[string]bool, len(resp.MultiValueHeaders))
	for name, values := range resp.MultiValueHeaders {
		multi[strings.ToLower(name)] = true
		for _, v := range values {
			value, ok := headerValue(v)
			if !ok {
				continue
			}
			opts = append(opts, &corev3.HeaderValueOption{
				Header:       &corev3.HeaderValue{Key: strings.ToLower(name), Value: value},
				AppendAction: corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD,
			})
		}
	}
	for name, v := range resp.Headers {
		if multi[strings.ToLower(name)] {
			continue
		}
		value, ok := headerValue(v)
		if !ok {
			continue
		}
		opts = append(opts, &corev3.HeaderValueOption{
			Header:       &corev3.HeaderValue{Key: strings.ToLower(name), Value: value},
			AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
		})
	}

	return &authv3.CheckResponse{
		Status: &status.Status{
			Code:    int32(grpcCode(statusCode)),
			Message: http.StatusText(statusCode),
		},
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode(statusCode)},
				Headers: opts,
				Body:    responseBody(resp),
			},
		},
	}
}

// denyResponse creates a denial response
func (s *AuthzServer) denyResponse(code codes.Code, message string) *authv3.CheckResponse {
	return &authv3.CheckResponse{
		Status: &status.Status{
			Code:    int32(code),
			Message: message,
		},
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Body: message,
			},
		},
	}
}

func grpcCode(statusCode int) codes.Code {
	switch {
	case statusCode == http.StatusBadRequest:
		return codes.InvalidArgument
	case statusCode == http.StatusForbidden:
		return codes.PermissionDenied
	case statusCode == http.StatusServiceUnavailable:
		return codes.Unavailable
	case statusCode >= 500:
		return codes.Internal
	default:
		// redirects to the login page and anything else the router generates
		return codes.Unauthenticated
	}
}

func headerValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case bool:
		return strconv.FormatBool(t), true
	case int, int32, int64, float64:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

func responseBody(resp *request.Response) string {
	switch b := resp.Body.(type) {
	case nil:
		return ""
	case string:
		if resp.IsBase64Encoded {
			if data, err := base64.StdEncoding.DecodeString(b); err == nil {
				return string(data)
			}
		}
		return b
	case []byte:
		return string(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
