package middleware

import (
	"net/http"
	"regexp"
	"strings"
)

// CORS applies the fixed origin allow-list. Requests from origins that do not
// match are still answered, but with the default allowed origin in the header;
// the browser enforces the mismatch, so nothing is leaked by a hard failure.
// Preflight OPTIONS requests are terminated here with 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Set("Access-Control-Allow-Origin", resolveOrigin(origin, allowedOrigins))
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// resolveOrigin echoes origin when it matches the allow-list exactly or via a
// *-wildcard subdomain pattern, otherwise the first configured origin.
func resolveOrigin(origin string, allowed []string) string {
	for _, a := range allowed {
		if a == origin {
			return origin
		}
		if origin != "" && strings.Contains(a, "*") && matchWildcard(a, origin) {
			return origin
		}
	}
	if len(allowed) == 0 {
		return ""
	}
	return allowed[0]
}

func matchWildcard(pattern, origin string) bool {
	quoted := regexp.QuoteMeta(pattern)
	re, err := regexp.Compile("^" + strings.ReplaceAll(quoted, `\*`, `.*`) + "$")
	if err != nil {
		return false
	}
	return re.MatchString(origin)
}
