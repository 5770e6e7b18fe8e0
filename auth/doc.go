// Package auth implements the hybrid authentication resolver used by the
// TianGong LCA MCP server variants.
//
// An inbound bearer credential is classified as an API key (reversible
// to an email/password pair), a Cognito-issued JWT, or an opaque
// Supabase token, and dispatched to the matching
// provider adapter. All adapters share the Authenticator contract and
// produce a uniform Result. Provider rejections (bad password, invalid
// token, unknown user) are reported as structured Result values with
// Authenticated set to false; infrastructure failures (identity backend
// or cache unreachable) surface as ordinary errors.
//
// The API-key and Cognito paths consult a session cache to avoid
// repeated round trips to the identity provider. Cache maintenance is
// best-effort: a failed TTL refresh or cache write is logged and never
// fails the request.
package auth
