package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alechenninger/gatehouse/internal/edge"
	"github.com/alechenninger/gatehouse/internal/logging"
)

const maxEmulatedBody = 1 << 20

// EventHandler processes CloudFront events, as the Lambda@Edge function does
type EventHandler interface {
	HandleEvent(ctx context.Context, event edge.Event) (*edge.Result, error)
}

// Emulator serves plain HTTP by translating every request into a CloudFront
// origin-request event. Requests the adapter lets through are proxied to the
// configured origin, or answered with 204 when there is none.
type Emulator struct {
	handler  EventHandler
	origin   *url.URL
	proxy    *httputil.ReverseProxy
	custom   map[string]string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   *mux.Router
}

// EmulatorOption configures an Emulator
type EmulatorOption func(*Emulator)

// WithOrigin proxies pass-through requests to origin
func WithOrigin(origin *url.URL) EmulatorOption {
	return func(e *Emulator) {
		e.origin = origin
	}
}

// WithCustomHeaders sets the origin custom headers placed on every event
func WithCustomHeaders(h map[string]string) EmulatorOption {
	return func(e *Emulator) {
		e.custom = h
	}
}

// WithGatherer exposes gatherer at /metrics
func WithGatherer(g prometheus.Gatherer) EmulatorOption {
	return func(e *Emulator) {
		e.gatherer = g
	}
}

// WithEmulatorLogger sets the emulator logger
func WithEmulatorLogger(logger *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// NewEmulator creates the emulator HTTP handler
func NewEmulator(handler EventHandler, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		handler:  handler,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.origin != nil {
		e.proxy = httputil.NewSingleHostReverseProxy(e.origin)
	}
	e.router = e.routes()
	return e
}

func (e *Emulator) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", e.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(e.serveEdge)
	return r
}

// ServeHTTP implements http.Handler
func (e *Emulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.router.ServeHTTP(w, r)
}

func (e *Emulator) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e *Emulator) serveEdge(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithInvocationID(r.Context(), logging.NewInvocationID())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEmulatedBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	result, err := e.handler.HandleEvent(ctx, e.toEvent(r, body))
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "Edge handler failed", slog.String("error", err.Error()))
		http.Error(w, "edge handler failed", http.StatusBadGateway)
		return
	}

	if result.PassThrough() {
		if e.proxy == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		e.proxy.ServeHTTP(w, r)
		return
	}

	writeResponse(ctx, w, result.Response, e.logger)
}

// toEvent builds the origin-request event CloudFront would send for r
func (e *Emulator) toEvent(r *http.Request, body []byte) edge.Event {
	reqHeaders := make(edge.Headers, len(r.Header)+1)
	reqHeaders["host"] = []edge.HeaderValue{{Key: "Host", Value: r.Host}}
	for name, values := range r.Header {
		key := strings.ToLower(name)
		for _, v := range values {
			reqHeaders[key] = append(reqHeaders[key], edge.HeaderValue{Key: name, Value: v})
		}
	}

	custom := make(edge.Headers, len(e.custom))
	for name, value := range e.custom {
		custom[strings.ToLower(name)] = []edge.HeaderValue{{Key: name, Value: value}}
	}

	originConfig := &edge.OriginConfig{
		DomainName:    "localhost",
		Protocol:      "http",
		CustomHeaders: custom,
	}
	if e.origin != nil {
		originConfig.DomainName = e.origin.Hostname()
		originConfig.Protocol = e.origin.Scheme
		originConfig.Path = e.origin.Path
		if port, err := strconv.Atoi(e.origin.Port()); err == nil {
			originConfig.Port = port
		}
	}

	cfReq := edge.Request{
		ClientIP:    clientIP(r.RemoteAddr),
		Method:      r.Method,
		URI:         r.URL.Path,
		QueryString: r.URL.RawQuery,
		Headers:     reqHeaders,
		Origin:      &edge.Origin{Custom: originConfig},
	}
	if len(body) > 0 {
		cfReq.Body = &edge.Body{
			Encoding: "base64",
			Data:     base64.StdEncoding.EncodeToString(body),
		}
	}

	return edge.Event{Records: []edge.Record{{CF: edge.CloudFront{
		Config: edge.Config{
			DistributionDomainName: r.Host,
			DistributionID:         "EMULATOR",
			EventType:              "origin-request",
			RequestID:              logging.NewInvocationID(),
		},
		Request: cfReq,
	}}}}
}

func writeResponse(ctx context.Context, w http.ResponseWriter, resp *edge.Response, logger *slog.Logger) {
	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v.Value)
		}
	}

	status, err := strconv.Atoi(resp.Status)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "Edge response has an invalid status", slog.String("status", resp.Status))
		status = http.StatusBadGateway
	}

	var body []byte
	if resp.Body != "" {
		if resp.BodyEncoding == "base64" {
			body, err = base64.StdEncoding.DecodeString(resp.Body)
			if err != nil {
				logger.LogAttrs(ctx, slog.LevelError, "Edge response body is not base64", slog.String("error", err.Error()))
				body = nil
			}
		} else {
			body = []byte(resp.Body)
		}
	}
	if len(body) > 0 && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}

	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
