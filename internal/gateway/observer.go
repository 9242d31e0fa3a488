package gateway

import (
	"context"

	"github.com/alechenninger/gatehouse/internal/request"
	"github.com/alechenninger/gatehouse/internal/trust"
)

// Operation names the gateway entry point being evaluated
type Operation string

const (
	OperationAuthorize     Operation = "authorize_request"
	OperationLoginRedirect Operation = "login_redirect"
)

// Observer creates a probe for each request evaluation
type Observer interface {
	AuthorizationStarted(ctx context.Context, op Operation, req *request.Request) (context.Context, AuthorizationProbe)
}

// AuthorizationProbe receives the events of a single evaluation.
// End is always called last.
type AuthorizationProbe interface {
	InvalidConfiguration(reason string)
	IdentityValidated(identity *trust.Identity)
	IdentityRejected(err error)
	PermissionChecked(principalID, resourceURI string, err error)
	LoginStarted(authenticationURL string)
	LoginFailed(err error)
	CodeExchanged()
	CodeExchangeFailed(err error)
	Decided(decision Decision)
	End()
}

// NoOpObserver ignores all events
type NoOpObserver struct{}

func (NoOpObserver) AuthorizationStarted(ctx context.Context, _ Operation, _ *request.Request) (context.Context, AuthorizationProbe) {
	return ctx, NoOpProbe{}
}

// NoOpProbe ignores all events
type NoOpProbe struct{}

func (NoOpProbe) InvalidConfiguration(string) {}
func (NoOpProbe) IdentityValidated(*trust.Identity) {}
func (NoOpProbe) IdentityRejected(error) {}
func (NoOpProbe) PermissionChecked(string, string, error) {}
func (NoOpProbe) LoginStarted(string) {}
func (NoOpProbe) LoginFailed(error) {}
func (NoOpProbe) CodeExchanged() {}
func (NoOpProbe) CodeExchangeFailed(error) {}
func (NoOpProbe) Decided(Decision) {}
func (NoOpProbe) End() {}

// NewCompositeObserver fans events out to every observer
func NewCompositeObserver(observers ...Observer) Observer {
	return compositeObserver(observers)
}

type compositeObserver []Observer

func (c compositeObserver) AuthorizationStarted(ctx context.Context, op Operation, req *request.Request) (context.Context, AuthorizationProbe) {
	probes := make(compositeProbe, 0, len(c))
	for _, o := range c {
		var p AuthorizationProbe
		ctx, p = o.AuthorizationStarted(ctx, op, req)
		probes = append(probes, p)
	}
	return ctx, probes
}

type compositeProbe []AuthorizationProbe

func (c compositeProbe) InvalidConfiguration(reason string) {
	for _, p := range c {
		p.InvalidConfiguration(reason)
	}
}

func (c compositeProbe) IdentityValidated(identity *trust.Identity) {
	for _, p := range c {
		p.IdentityValidated(identity)
	}
}

func (c compositeProbe) IdentityRejected(err error) {
	for _, p := range c {
		p.IdentityRejected(err)
	}
}

func (c compositeProbe) PermissionChecked(principalID, resourceURI string, err error) {
	for _, p := range c {
		p.PermissionChecked(principalID, resourceURI, err)
	}
}

func (c compositeProbe) LoginStarted(authenticationURL string) {
	for _, p := range c {
		p.LoginStarted(authenticationURL)
	}
}

func (c compositeProbe) LoginFailed(err error) {
	for _, p := range c {
		p.LoginFailed(err)
	}
}

func (c compositeProbe) CodeExchanged() {
	for _, p := range c {
		p.CodeExchanged()
	}
}

func (c compositeProbe) CodeExchangeFailed(err error) {
	for _, p := range c {
		p.CodeExchangeFailed(err)
	}
}

func (c compositeProbe) Decided(decision Decision) {
	for _, p := range c {
		p.Decided(decision)
	}
}

func (c compositeProbe) End() {
	for _, p := range c {
		p.End()
	}
}
