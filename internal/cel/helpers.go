// Package cel provides CEL functions for permission policies over token claims.
package cel

import (
	"path"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// PermissionHelpersLibrary creates a CEL library with helpers for permission policies.
//
// Provides:
//   - hasRole(claims, roleName) - checks claims.roles or claims.realm_access.roles
//   - hasScope(claims, scope) - checks the space-separated scope claim
//   - resourceMatches(resource, pattern) - glob match; a trailing "**" matches any suffix
//   - safeToString(val) - converts value to string safely (returns empty string if nil)
func PermissionHelpersLibrary() cel.EnvOption {
	return cel.Lib(&permissionHelpersLib{})
}

type permissionHelpersLib struct{}

func (lib *permissionHelpersLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("hasRole",
			cel.Overload("hasRole_map_string",
				[]*cel.Type{cel.DynType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(lib.hasRole),
			),
		),

		cel.Function("hasScope",
			cel.Overload("hasScope_map_string",
				[]*cel.Type{cel.DynType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(lib.hasScope),
			),
		),

		cel.Function("resourceMatches",
			cel.Overload("resourceMatches_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(lib.resourceMatches),
			),
		),

		cel.Function("safeToString",
			cel.Overload("safeToString_any",
				[]*cel.Type{cel.DynType},
				cel.StringType,
				cel.UnaryBinding(lib.safeToString),
			),
		),
	}
}

func (lib *permissionHelpersLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}

// hasRole looks in the top-level roles claim, then realm_access.roles
func (lib *permissionHelpersLib) hasRole(claimsVal, roleVal ref.Val) ref.Val {
	roleName, ok := roleVal.Value().(string)
	if !ok {
		return types.Bool(false)
	}

	claimsMap, ok := claimsVal.Value().(map[string]any)
	if !ok {
		return types.Bool(false)
	}

	if containsString(claimsMap["roles"], roleName) {
		return types.Bool(true)
	}

	realmAccess, ok := claimsMap["realm_access"].(map[string]any)
	if !ok {
		return types.Bool(false)
	}
	return types.Bool(containsString(realmAccess["roles"], roleName))
}

func (lib *permissionHelpersLib) hasScope(claimsVal, scopeVal ref.Val) ref.Val {
	want, ok := scopeVal.Value().(string)
	if !ok {
		return types.Bool(false)
	}

	claimsMap, ok := claimsVal.Value().(map[string]any)
	if !ok {
		return types.Bool(false)
	}

	scope, ok := claimsMap["scope"].(string)
	if !ok {
		return types.Bool(false)
	}

	for _, s := range strings.Fields(scope) {
		if s == want {
			return types.Bool(true)
		}
	}
	return types.Bool(false)
}

func (lib *permissionHelpersLib) resourceMatches(resourceVal, patternVal ref.Val) ref.Val {
	resource, ok := resourceVal.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	pattern, ok := patternVal.Value().(string)
	if !ok {
		return types.Bool(false)
	}

	if prefix, found := strings.CutSuffix(pattern, "**"); found {
		return types.Bool(strings.HasPrefix(resource, prefix))
	}

	matched, err := path.Match(pattern, resource)
	if err != nil {
		return types.Bool(false)
	}
	return types.Bool(matched)
}

// safeToString converts a value to string safely
func (lib *permissionHelpersLib) safeToString(val ref.Val) ref.Val {
	if val.Type() == types.NullType {
		return types.String("")
	}

	nativeVal := val.Value()
	if nativeVal == nil {
		return types.String("")
	}

	result := types.DefaultTypeAdapter.NativeToValue(nativeVal).ConvertToType(types.StringType)
	if types.IsError(result) {
		return types.String("")
	}
	return result
}

func containsString(list any, want string) bool {
	switch l := list.(type) {
	case []any:
		for _, v := range l {
			if s, ok := v.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range l {
			if s == want {
				return true
			}
		}
	}
	return false
}
