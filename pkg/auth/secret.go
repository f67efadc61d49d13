package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"ironwill/pkg/httpx"
)

const DefaultHeader = "X-Internal-Secret"

// SharedSecret guards internal routes with a pre-shared secret carried in
// header. Mismatches, including an absent header, get 401 before the request
// body is touched. An empty configured secret matches nothing.
func SharedSecret(header, secret string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultHeader
	}
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SecretMatches(r.Header.Get(header), want) {
				httpx.Detail(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecretMatches compares got against want in constant time.
func SecretMatches(got string, want []byte) bool {
	if len(want) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), want) == 1
}
