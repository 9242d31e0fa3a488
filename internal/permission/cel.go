package permission

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	celhelpers "github.com/alechenninger/gatehouse/internal/cel"
)

// CELClient evaluates a boolean CEL policy locally.
//
// The policy sees principal, resource and action as strings and claims as the
// caller's verified token payload. For example:
//
//	resourceMatches(resource, "docs:/public/**") || hasRole(claims, "admin")
type CELClient struct {
	program cel.Program
	script  string
}

// NewCELClient compiles script. The script must evaluate to a bool.
func NewCELClient(script string) (*CELClient, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.StringType),
		cel.Variable("resource", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
		celhelpers.PermissionHelpersLibrary(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, iss := env.Compile(script)
	if iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile permission policy: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("permission policy must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &CELClient{program: program, script: script}, nil
}

// AuthorizeUser implements Client. A policy that errors at evaluation time,
// for example by reading a claim the token lacks, denies.
func (c *CELClient) AuthorizeUser(ctx context.Context, principalID, resourceURI string, action Action) error {
	var tokenClaims map[string]any
	if caller, ok := CallerFrom(ctx); ok && caller.Claims != nil {
		tokenClaims = caller.Claims
	} else {
		tokenClaims = map[string]any{}
	}

	out, _, err := c.program.ContextEval(ctx, map[string]any{
		"principal": principalID,
		"resource":  resourceURI,
		"action":    string(action),
		"claims":    tokenClaims,
	})
	if err != nil {
		return fmt.Errorf("%w: policy evaluation failed: %w", ErrAccessDenied, err)
	}

	if allowed, ok := out.Value().(bool); ok && allowed {
		return nil
	}
	return fmt.Errorf("%w: %s lacks %s on %s", ErrAccessDenied, principalID, action, resourceURI)
}
