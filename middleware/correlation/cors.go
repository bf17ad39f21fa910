package correlation

import "net/http"

const (
	allowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	allowHeaders = "Authorization, Content-Type, X-Correlation-ID"
)

// Preflight answers every OPTIONS request with 200 and permissive CORS
// headers. Nothing else in the chain runs for it.
func Preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w.Header(), r)
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(Header, inboundOrNew(r))
		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusOK)
	})
}

func setCORS(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	if origin != "*" {
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	h.Set("Access-Control-Allow-Methods", allowMethods)
	h.Set("Access-Control-Allow-Headers", allowHeaders)
	h.Set("Access-Control-Expose-Headers", Header+", Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining")
}
