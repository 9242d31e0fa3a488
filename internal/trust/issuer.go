package trust

import "strings"

// jwksPath is where the identity provider publishes its signing keys
const jwksPath = "/.well-known/openid-configuration/jwks"

// NormalizeIssuer canonicalizes an issuer so claimed and configured issuers
// compare equal regardless of scheme presence or trailing slashes.
// It prefixes https:// when no http(s) scheme is present and strips trailing slashes.
// NormalizeIssuer is idempotent.
func NormalizeIssuer(issuer string) string {
	issuer = strings.TrimRight(strings.TrimSpace(issuer), "/")
	if issuer == "" {
		return ""
	}
	lower := strings.ToLower(issuer)
	if !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		issuer = "https://" + issuer
	}
	return issuer
}

// JWKSURL returns the key set location for an issuer
func JWKSURL(issuer string) string {
	return NormalizeIssuer(issuer) + jwksPath
}
