package auth

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
)

// Kind is the classified type of a bearer credential.
type Kind int

const (
	// KindSupabase is the default: an opaque token handed to the
	// identity backend for introspection.
	KindSupabase Kind = iota
	// KindAPIKey is a reversible email/password encoding.
	KindAPIKey
	// KindCognito is a JWT whose issuer points at a Cognito user pool.
	KindCognito
)

func (k Kind) String() string {
	switch k {
	case KindAPIKey:
		return "api_key"
	case KindCognito:
		return "cognito"
	default:
		return "supabase"
	}
}

// jwtShape matches the strict three-segment base64url form of a JWS.
var jwtShape = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)

// Classify inspects a bearer credential and determines which provider
// adapter should handle it. JWT-shape detection takes priority over
// API-key decodability, which takes priority over the opaque default.
// Classify is a pure function and never fails: malformed input simply
// falls through to the Supabase path.
func Classify(bearer string) Kind {
	if cognitoIssued(bearer) {
		return KindCognito
	}
	if _, _, ok := DecodeAPIKey(bearer); ok {
		return KindAPIKey
	}
	return KindSupabase
}

func jwtShaped(bearer string) bool { return jwtShape.MatchString(bearer) }

// cognitoIssued reports whether the bearer looks like a JWT whose
// unverified payload names a Cognito issuer. Decode failures are
// deliberate fallthrough, not errors: the credential is then treated as
// whatever the remaining classification rules say it is.
func cognitoIssued(bearer string) bool {
	if !jwtShaped(bearer) {
		return false
	}
	segments := strings.Split(bearer, ".")
	payload, err := base64.RawURLEncoding.DecodeString(segments[1])
	if err != nil {
		return false
	}
	var claims struct {
		Iss string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return false
	}
	return strings.Contains(claims.Iss, "cognito")
}
