// Package logging builds the process logger: slog with redaction of
// credentials and an invocation id on every record.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Options configures New
type Options struct {
	// Level is debug, info, warn or error. Default: info
	Level string

	// Format is json or text. Default: json
	Format string

	// Writer defaults to os.Stderr
	Writer io.Writer
}

// New creates a redacting logger that tags records with the invocation id from context
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: Redact,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or text)", opts.Format)
	}

	return slog.New(&invocationHandler{Handler: handler}), nil
}

// ParseLevel maps a level name to a slog level; empty means info
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

type invocationKey struct{}

// NewInvocationID returns a fresh id correlating the logs and error responses of one invocation
func NewInvocationID() string {
	return uuid.NewString()
}

// WithInvocationID attaches id to ctx
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationID returns the id attached to ctx, or ""
func InvocationID(ctx context.Context) string {
	id, _ := ctx.Value(invocationKey{}).(string)
	return id
}

// invocationHandler adds invocation_id from the record's context
type invocationHandler struct {
	slog.Handler
}

func (h *invocationHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := InvocationID(ctx); id != "" {
		r.AddAttrs(slog.String("invocation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *invocationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &invocationHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *invocationHandler) WithGroup(name string) slog.Handler {
	return &invocationHandler{Handler: h.Handler.WithGroup(name)}
}

var (
	authorizationKey = regexp.MustCompile(`(?i)^(authorization|cookie|set-cookie)$`)
	bearerValue      = regexp.MustCompile(`(?i)^bearer\s`)
	secretKey        = regexp.MustCompile(`(?i)(secret|password|signature|verifier|refresh_?token|access_?key)`)
	jwtValue         = regexp.MustCompile(`(eyJ[A-Za-z0-9_-]{5,}\.eyJ[A-Za-z0-9_-]{5,})\.[A-Za-z0-9_-]+`)
)

// Redact is a slog ReplaceAttr function hiding credentials. Authorization
// values become {AUTHORIZATION}, secrets become {SECRET}, and JWT signatures
// anywhere in a string are replaced with <sig>.
func Redact(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	value := a.Value.String()
	if value == "" {
		return a
	}

	switch {
	case authorizationKey.MatchString(a.Key), bearerValue.MatchString(value):
		return slog.String(a.Key, "{AUTHORIZATION}")
	case secretKey.MatchString(a.Key), strings.EqualFold(a.Key, "code"):
		return slog.String(a.Key, "{SECRET}")
	}

	if jwtValue.MatchString(value) {
		return slog.String(a.Key, jwtValue.ReplaceAllString(value, "$1.<sig>"))
	}
	return a
}
