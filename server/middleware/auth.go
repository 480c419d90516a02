package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/teilomillet/campusgate/errors"
)

// Authentication accepts requests carrying one of keys, either in X-API-Key or as a
// bearer token. The verified key is stored in the request context for AuthenticatedKey.
// With no keys configured every request is accepted.
func Authentication(keys []string) func(http.Handler) http.Handler {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			accepted = append(accepted, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(accepted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())
			key := APIKey(r)
			if key == "" {
				errors.WriteError(w, errors.NewAuthError(requestID, "Missing API key", nil))
				return
			}
			if !validKey(accepted, []byte(key)) {
				errors.WriteError(w, errors.NewAuthError(requestID, "Invalid API key", nil))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyKey, key)))
		})
	}
}

// APIKey returns the key sent in X-API-Key, or the bearer token, or "".
func APIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// validKey compares against every key so the time taken does not reveal which one matched.
func validKey(accepted [][]byte, key []byte) bool {
	match := 0
	for _, k := range accepted {
		match |= subtle.ConstantTimeCompare(k, key)
	}
	return match == 1
}
