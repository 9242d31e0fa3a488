// Package edge adapts CloudFront Lambda@Edge events to generic requests and
// renders generic responses back into the CloudFront response envelope.
package edge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/alechenninger/gatehouse/internal/headers"
	"github.com/alechenninger/gatehouse/internal/logging"
	"github.com/alechenninger/gatehouse/internal/origin"
	"github.com/alechenninger/gatehouse/internal/request"
)

// ErrProtocol marks a malformed or unusable edge event. It is reported to
// CloudFront as a transient 503.
var ErrProtocol = errors.New("edge protocol error")

const pollutionMarker = "__proto__"

// Handler handles a generic request. A nil response passes the original
// request through to the origin.
type Handler interface {
	Handle(ctx context.Context, req *request.Request) (*request.Response, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req *request.Request) (*request.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req *request.Request) (*request.Response, error) {
	return f(ctx, req)
}

// Adapter converts CloudFront events for a downstream Handler
type Adapter struct {
	handler   Handler
	logger    *slog.Logger
	apiPrefix string
}

// Option configures an Adapter
type Option func(*Adapter)

// WithLogger sets the adapter logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithAPIPrefix sets the path prefix removed from request URIs. Default: /api
func WithAPIPrefix(prefix string) Option {
	return func(a *Adapter) {
		a.apiPrefix = strings.TrimRight(prefix, "/")
	}
}

// NewAdapter creates an adapter calling handler
func NewAdapter(handler Handler, opts ...Option) *Adapter {
	a := &Adapter{
		handler:   handler,
		logger:    slog.Default(),
		apiPrefix: "/api",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleEvent processes one CloudFront event. It always produces a result;
// failures are rendered as CloudFront responses rather than returned.
func (a *Adapter) HandleEvent(ctx context.Context, event Event) (result *Result, err error) {
	invocationID := logging.InvocationID(ctx)
	if invocationID == "" {
		invocationID = logging.NewInvocationID()
		ctx = logging.WithInvocationID(ctx, invocationID)
	}

	defer func() {
		if r := recover(); r != nil {
			result = a.failure(ctx, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()

	if len(event.Records) == 0 {
		return a.failure(ctx, fmt.Errorf("%w: event has no records", ErrProtocol)), nil
	}
	cf := event.Records[0].CF
	cfReq := cf.Request

	serialized, err := json.Marshal(cfReq)
	if err != nil {
		return a.failure(ctx, fmt.Errorf("%w: %w", ErrProtocol, err)), nil
	}
	if bytes.Contains(serialized, []byte(pollutionMarker)) {
		return a.rejectPollution(ctx, cfReq), nil
	}

	rawBody := decodeBodyText(cfReq.Body)
	if strings.Contains(rawBody, pollutionMarker) {
		return a.rejectPollution(ctx, cfReq), nil
	}

	req, err := a.toRequest(cf, rawBody, invocationID)
	if err != nil {
		return a.failure(ctx, err), nil
	}

	resp, err := a.handler.Handle(ctx, req)
	if err != nil {
		return a.failure(ctx, err), nil
	}
	if resp == nil {
		return &Result{Request: &cf.Request}, nil
	}

	return &Result{Response: a.toResponse(ctx, resp)}, nil
}

func (a *Adapter) rejectPollution(ctx context.Context, cfReq Request) *Result {
	a.logger.LogAttrs(ctx, slog.LevelInfo,
		"User attempted to prototype pollution attack, return a 400 immediately",
		slog.String("method", cfReq.Method),
		slog.String("uri", cfReq.URI),
	)
	return &Result{Response: &Response{
		Status:       "400",
		Headers:      Headers{},
		Body:         base64.StdEncoding.EncodeToString([]byte("{}")),
		BodyEncoding: "base64",
	}}
}

func (a *Adapter) toRequest(cf CloudFront, rawBody, invocationID string) (*request.Request, error) {
	cfReq := cf.Request
	if cfReq.URI == "" || !strings.HasPrefix(cfReq.URI, "/") {
		return nil, fmt.Errorf("%w: invalid request uri %q", ErrProtocol, cfReq.URI)
	}

	path := cfReq.URI
	if path == a.apiPrefix || strings.HasPrefix(path, a.apiPrefix+"/") {
		path = strings.TrimPrefix(path, a.apiPrefix)
	}
	if path == "" {
		path = "/"
	}

	h := headers.New()
	for name, values := range cfReq.Headers {
		for _, v := range values {
			h.Add(name, v.Value)
		}
	}
	if o := origin.Resolve(h); o != "" {
		h.Set("origin", o)
	}

	custom := headers.New()
	var originDomain string
	if oc := cfReq.Origin.config(); oc != nil {
		originDomain = oc.DomainName
		for name, values := range oc.CustomHeaders {
			for _, v := range values {
				custom.Add(name, v.Value)
			}
		}
	}

	return &request.Request{
		Path:            path,
		Method:          cfReq.Method,
		Headers:         h,
		QueryParameters: parseQuery(cfReq.QueryString),
		PathParameters:  map[string]string{request.ProxyParameter: strings.TrimPrefix(path, "/")},
		Body:            parseBody(rawBody),
		Context: request.Context{
			CustomHeaders: custom,
			OriginDomain:  originDomain,
			RequestID:     cf.Config.RequestID,
			InvocationID:  invocationID,
		},
	}, nil
}

// decodeBodyText returns the request body as text, or "" when absent or undecodable
func decodeBodyText(b *Body) string {
	if b == nil || b.Data == "" {
		return ""
	}
	if b.Encoding == "text" {
		return b.Data
	}
	data, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return ""
	}
	return string(data)
}

// parseBody decodes JSON, falling back to a URL-encoded form
func parseBody(text string) any {
	if text == "" {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		return v
	}

	values, err := url.ParseQuery(text)
	if err != nil || len(values) == 0 {
		return nil
	}
	return lastValues(values)
}

func parseQuery(qs string) map[string]string {
	// A malformed pair is skipped; the well-formed ones are kept.
	values, _ := url.ParseQuery(qs)
	return lastValues(values)
}

func lastValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[len(vs)-1]
		}
	}
	return out
}

func (a *Adapter) toResponse(ctx context.Context, resp *request.Response) *Response {
	out := &Response{
		Status:  strconv.Itoa(statusOrOK(resp.StatusCode)),
		Headers: a.convertHeaders(ctx, resp),
	}

	if body, ok := encodeBody(resp); ok {
		out.Body = body
		out.BodyEncoding = "base64"
	}
	return out
}

func statusOrOK(status int) int {
	if status == 0 {
		return 200
	}
	return status
}

// convertHeaders renders every header as a list of values. Multi-value
// headers replace single-value headers of the same name. A header with a
// non-primitive value is dropped.
func (a *Adapter) convertHeaders(ctx context.Context, resp *request.Response) Headers {
	out := make(Headers)
	invalid := make(map[string]bool)

	for name, v := range resp.Headers {
		key := strings.ToLower(name)
		if v == nil {
			continue
		}
		s, ok := primitive(v)
		if !ok {
			invalid[key] = true
			continue
		}
		if s != "" {
			out[key] = []HeaderValue{{Value: s}}
		}
	}

	for name, vs := range resp.MultiValueHeaders {
		key := strings.ToLower(name)
		if vs == nil {
			continue
		}

		list := make([]HeaderValue, 0, len(vs))
		valid := true
		for _, v := range vs {
			if v == nil {
				continue
			}
			s, ok := primitive(v)
			if !ok {
				valid = false
				break
			}
			if s != "" {
				list = append(list, HeaderValue{Value: s})
			}
		}

		delete(out, key)
		invalid[key] = !valid
		if valid && len(list) > 0 {
			out[key] = list
		}
	}

	var dropped []string
	for key, bad := range invalid {
		if bad {
			delete(out, key)
			dropped = append(dropped, key)
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		a.logger.LogAttrs(ctx, slog.LevelError,
			"Invalid header value found, it is an object when it must be a primitive",
			slog.Any("headers", dropped),
		)
	}
	return out
}

func primitive(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// encodeBody base64-encodes the response body, or reports false when there is none
func encodeBody(resp *request.Response) (string, bool) {
	switch b := resp.Body.(type) {
	case nil:
		return "", false
	case string:
		if b == "" {
			return "", false
		}
		if resp.IsBase64Encoded {
			return b, true
		}
		return base64.StdEncoding.EncodeToString([]byte(b)), true
	case []byte:
		if len(b) == 0 {
			return "", false
		}
		if resp.IsBase64Encoded {
			return string(b), true
		}
		return base64.StdEncoding.EncodeToString(b), true
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return "", false
		}
		return base64.StdEncoding.EncodeToString(data), true
	}
}

type coded interface {
	Code() string
}

// failure renders err. Protocol-class errors become a 503 so CloudFront
// treats them as transient; everything else becomes a 500.
func (a *Adapter) failure(ctx context.Context, err error) *Result {
	cors := Headers{"access-control-allow-origin": {{Value: "*"}}}

	var urlErr *url.Error
	if errors.Is(err, ErrProtocol) || errors.As(err, &urlErr) {
		a.logger.LogAttrs(ctx, slog.LevelWarn,
			"Failed to handle cloud front request due to an untracked URL error",
			slog.String("error", err.Error()),
		)
		return &Result{Response: &Response{
			Status:       "503",
			Headers:      cors,
			Body:         encodeJSON(map[string]any{"title": "Unavailable"}),
			BodyEncoding: "base64",
		}}
	}

	a.logger.LogAttrs(ctx, slog.LevelError,
		"Failed to handle cloud front request, and it should have been caught",
		slog.String("error", err.Error()),
	)

	detail := map[string]any{"message": err.Error()}
	var c coded
	if errors.As(err, &c) {
		detail["code"] = c.Code()
	}
	return &Result{Response: &Response{
		Status:  "500",
		Headers: cors,
		Body: encodeJSON(map[string]any{
			"title":   "Unexpected error in with CDN",
			"error":   detail,
			"errorId": logging.InvocationID(ctx),
		}),
		BodyEncoding: "base64",
	}}
}

func encodeJSON(v any) string {
	data, _ := json.Marshal(v)
	return base64.StdEncoding.EncodeToString(data)
}
