package auth

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// API keys are the base64url encoding (unpadded) of "email:password".
// The encoding is reversible on purpose: the key is exchanged for a
// fresh identity-backend session on first use and the decoded pair is
// never persisted.

// EncodeAPIKey builds the bearer form of an email/password pair.
func EncodeAPIKey(email, password string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(email + ":" + password))
}

// DecodeAPIKey reverses EncodeAPIKey. It reports ok=false for anything
// that does not decode to a printable "email:password" pair; callers
// treat that as "not an API key", never as an error.
func DecodeAPIKey(key string) (email, password string, ok bool) {
	if key == "" {
		return "", "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		// Tolerate padded variants produced by generic encoders.
		raw, err = base64.URLEncoding.DecodeString(key)
		if err != nil {
			return "", "", false
		}
	}
	if !utf8.Valid(raw) {
		return "", "", false
	}
	decoded := string(raw)
	idx := strings.IndexByte(decoded, ':')
	if idx <= 0 || idx == len(decoded)-1 {
		return "", "", false
	}
	email, password = decoded[:idx], decoded[idx+1:]
	if !strings.Contains(email, "@") {
		return "", "", false
	}
	for _, r := range decoded {
		if r < 0x20 || r == 0x7f {
			return "", "", false
		}
	}
	return email, password, true
}
