package auth

import (
	"encoding/json"
	"strings"
	"time"
)

// reuseBuffer is the safety margin before a session's declared expiry
// during which it is no longer considered reusable.
const reuseBuffer = 30 * time.Second

// DefaultCacheTTL is the flat cache lifetime used when a session has no
// usable expiry of its own.
const DefaultCacheTTL = time.Hour

// MaxCacheTTL caps expiry-derived cache lifetimes.
const MaxCacheTTL = time.Hour

// Nullable distinguishes a field that is explicitly null from one that
// is absent from its source. Present reports whether the field appeared
// at all; Valid reports whether it carried a typed value rather than an
// explicit null.
type Nullable[T any] struct {
	Value   T
	Valid   bool
	Present bool
}

// Some returns a Nullable holding v.
func Some[T any](v T) Nullable[T] { return Nullable[T]{Value: v, Valid: true, Present: true} }

// Null returns a Nullable that is present but explicitly null.
func Null[T any]() Nullable[T] { return Nullable[T]{Present: true} }

// IsZero reports absence, letting encoding/json's omitzero drop the field.
func (n Nullable[T]) IsZero() bool { return !n.Present }

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n *Nullable[T]) UnmarshalJSON(b []byte) error {
	n.Present = true
	if string(b) == "null" {
		n.Valid = false
		var zero T
		n.Value = zero
		return nil
	}
	if err := json.Unmarshal(b, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// Session is the canonical normalized session payload. AccessToken is
// always non-empty; RefreshToken and ExpiresAt keep the distinction
// between an explicit null and an absent field across round trips.
type Session struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken Nullable[string] `json:"refresh_token,omitzero"`
	ExpiresAt    Nullable[int64]  `json:"expires_at,omitzero"`
}

// Reusable reports whether the session's access token can be served from
// cache: its declared expiry must be more than 30 seconds away. A
// session without a declared expiry is never reusable.
func (s *Session) Reusable(now time.Time) bool {
	if s == nil || !s.ExpiresAt.Valid {
		return false
	}
	return time.Unix(s.ExpiresAt.Value, 0).Sub(now) > reuseBuffer
}

// CacheTTL derives a cache lifetime from the session's expiry, clamped
// to [1s, MaxCacheTTL]. It reports false when the session has no expiry
// or the expiry has already elapsed; callers on non-reusability-gated
// paths fall back to DefaultCacheTTL, reusability-gated paths skip the
// cache write entirely.
func (s *Session) CacheTTL(now time.Time) (time.Duration, bool) {
	if s == nil || !s.ExpiresAt.Valid {
		return 0, false
	}
	secs := s.ExpiresAt.Value - now.Unix()
	if secs <= 0 {
		return 0, false
	}
	if secs > int64(MaxCacheTTL/time.Second) {
		secs = int64(MaxCacheTTL / time.Second)
	}
	return time.Duration(secs) * time.Second, true
}

// Wrapper keys under which historical payload shapes nest the session.
var nestedSessionKeys = []string{"session", "supabaseSession", "supabaseSessionTokens"}

// NormalizeSession reconciles the historical shapes of cached and
// upstream session data into a canonical Session. It accepts JSON
// strings (only when they start with "{"), objects with snake_case or
// camelCase fields, and wrapper objects nesting the session one level
// deep. It returns nil, never an error, when no usable access token
// can be resolved.
func NormalizeSession(input any) *Session {
	return normalizeSession(input, true)
}

func normalizeSession(input any, allowNested bool) *Session {
	switch v := input.(type) {
	case nil:
		return nil
	case *Session:
		if v == nil || v.AccessToken == "" {
			return nil
		}
		cp := *v
		return &cp
	case Session:
		return normalizeSession(&v, allowNested)
	case []byte:
		return normalizeSession(string(v), allowNested)
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") {
			return nil
		}
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return nil
		}
		return normalizeSession(parsed, allowNested)
	case json.RawMessage:
		return normalizeSession(string(v), allowNested)
	case map[string]any:
		return normalizeRecord(v, allowNested)
	}
	return nil
}

func normalizeRecord(record map[string]any, allowNested bool) *Session {
	token, _ := coalesce(record, "access_token", "accessToken")
	if s, ok := token.(string); ok && s != "" {
		return &Session{
			AccessToken:  s,
			RefreshToken: normalizeNullableString(coalesce(record, "refresh_token", "refreshToken")),
			ExpiresAt:    normalizeNullableInt64(coalesce(record, "expires_at", "expiresAt")),
		}
	}

	if !allowNested {
		return nil
	}
	for _, key := range nestedSessionKeys {
		nested, ok := record[key]
		if !ok || nested == nil {
			continue
		}
		// Recurse a single level only; this also guards against
		// self-referential wrapper input.
		if s := normalizeSession(nested, false); s != nil {
			return s
		}
	}
	return nil
}

// coalesce resolves a field across its snake_case and camelCase
// spellings. A typed value on the first key wins. An explicit null on
// the first key yields the alternate key's typed value when one exists,
// and otherwise stays an explicit null so the distinction survives a
// normalize/marshal round trip.
func coalesce(record map[string]any, key, altKey string) (any, bool) {
	if v, ok := record[key]; ok {
		if v != nil {
			return v, true
		}
		if alt, ok := record[altKey]; ok && alt != nil {
			return alt, true
		}
		return nil, true
	}
	v, ok := record[altKey]
	return v, ok
}

// normalizeNullableString propagates strings and explicit nulls; any
// other source type is dropped as if the field were absent.
func normalizeNullableString(v any, present bool) Nullable[string] {
	if !present {
		return Nullable[string]{}
	}
	switch t := v.(type) {
	case string:
		return Some(t)
	case nil:
		return Null[string]()
	}
	return Nullable[string]{}
}

// normalizeNullableInt64 propagates numbers and explicit nulls; any
// other source type is dropped as if the field were absent.
func normalizeNullableInt64(v any, present bool) Nullable[int64] {
	if !present {
		return Nullable[int64]{}
	}
	switch t := v.(type) {
	case float64:
		return Some(int64(t))
	case int64:
		return Some(t)
	case int:
		return Some(int64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Some(i)
		}
	case nil:
		return Null[int64]()
	}
	return Nullable[int64]{}
}
