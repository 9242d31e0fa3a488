package idp

import "golang.org/x/oauth2"

// ChallengeMethodS256 is the only PKCE challenge method gatehouse sends
const ChallengeMethodS256 = "S256"

// NewVerifier returns a random PKCE code verifier of 43 URL-safe characters
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// Challenge derives the S256 code challenge, base64url(sha256(verifier))
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
