package probe

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alechenninger/gatehouse/internal/gateway"
	"github.com/alechenninger/gatehouse/internal/permission"
	"github.com/alechenninger/gatehouse/internal/request"
	"github.com/alechenninger/gatehouse/internal/trust"
)

// loggingObserver creates request-scoped logging probes
type loggingObserver struct {
	logger *slog.Logger
}

// NewLoggingGatewayObserver creates an observer that logs authorization events
// using structured logging with slog.
func NewLoggingGatewayObserver(logger *slog.Logger) gateway.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingObserver{
		logger: logger,
	}
}

func (o *loggingObserver) AuthorizationStarted(
	ctx context.Context,
	op gateway.Operation,
	req *request.Request,
) (context.Context, gateway.AuthorizationProbe) {
	attrs := []slog.Attr{
		slog.String("operation", string(op)),
	}

	if req != nil {
		attrs = append(attrs,
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("host", req.Host()),
		)
	}

	o.logger.LogAttrs(ctx, slog.LevelDebug, "Evaluating request", attrs...)

	return ctx, &loggingProbe{
		ctx:    ctx,
		logger: o.logger,
	}
}

// loggingProbe logs the events of a single evaluation
type loggingProbe struct {
	ctx    context.Context
	logger *slog.Logger
}

func (p *loggingProbe) InvalidConfiguration(reason string) {
	p.logger.LogAttrs(p.ctx, slog.LevelError,
		"Origin is misconfigured",
		slog.String("reason", reason),
	)
}

func (p *loggingProbe) IdentityValidated(identity *trust.Identity) {
	p.logger.LogAttrs(p.ctx, slog.LevelInfo,
		"User valid identity",
		slog.String("principal_id", identity.PrincipalID),
	)
}

func (p *loggingProbe) IdentityRejected(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelInfo,
		"User not authorized, falling back to re-authentication",
		slog.String("error", err.Error()),
	)
}

func (p *loggingProbe) PermissionChecked(principalID, resourceURI string, err error) {
	attrs := []slog.Attr{
		slog.String("principal_id", principalID),
		slog.String("resource", resourceURI),
	}

	switch {
	case err == nil:
		p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Permission granted", attrs...)
	case errors.Is(err, permission.ErrAccessDenied):
		p.logger.LogAttrs(p.ctx, slog.LevelInfo, "Permission denied", append(attrs, slog.String("error", err.Error()))...)
	default:
		p.logger.LogAttrs(p.ctx, slog.LevelError, "Permission check failed", append(attrs, slog.String("error", err.Error()))...)
	}
}

func (p *loggingProbe) LoginStarted(authenticationURL string) {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug,
		"Redirecting to login",
		slog.String("authentication_url", authenticationURL),
	)
}

func (p *loggingProbe) LoginFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelError,
		"Failed to get login url",
		slog.String("error", err.Error()),
	)
}

func (p *loggingProbe) CodeExchanged() {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Authorization code exchanged")
}

func (p *loggingProbe) CodeExchangeFailed(err error) {
	p.logger.LogAttrs(p.ctx, slog.LevelWarn,
		"Authorization code exchange failed, restarting login",
		slog.String("error", err.Error()),
	)
}

func (p *loggingProbe) Decided(d gateway.Decision) {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug,
		"Authorization decided",
		slog.String("decision", d.Kind.String()),
		slog.Int("status", d.StatusCode),
	)
}

func (p *loggingProbe) End() {
	p.logger.LogAttrs(p.ctx, slog.LevelDebug, "Evaluation completed")
}
