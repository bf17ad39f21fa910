package auth

import (
	"net/http"

	"healthcare-gateway/apierr"
	"healthcare-gateway/middleware/requestctx"

	"go.uber.org/zap"
)

type Options struct {
	Verifier TokenVerifier
	Logger   *zap.Logger
	// Public overrides IsPublic.
	Public func(path string) bool
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Public == nil {
		o.Public = IsPublic
	}
}

// Authenticate verifies the bearer token of every non-public request and
// records the identity in the request state. Public paths pass untouched.
func Authenticate(opts Options) func(next http.Handler) http.Handler {
	opts.defaults()
	log := opts.Logger.Named("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				log.Debug("missing bearer token", zap.String("path", r.URL.Path),
					zap.String("correlation_id", requestctx.CorrelationID(r.Context())))
				unauthorized(w)
				return
			}

			id, err := opts.Verifier.Verify(raw)
			if err != nil {
				log.Info("token rejected", zap.String("path", r.URL.Path),
					zap.String("correlation_id", requestctx.CorrelationID(r.Context())),
					zap.Error(err))
				unauthorized(w)
				return
			}

			st := requestctx.From(r.Context())
			if st == nil {
				st = &requestctx.State{}
				r = r.WithContext(requestctx.With(r.Context(), st))
			}
			st.SetIdentity(id)

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccess applies the access policy to authenticated requests. A
// non-public request that reaches it without an identity gets 401.
func RequireAccess(opts Options) func(next http.Handler) http.Handler {
	opts.defaults()
	log := opts.Logger.Named("authz")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Public(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := requestctx.IdentityFrom(r.Context())
			if !ok {
				unauthorized(w)
				return
			}

			if !Authorize(id, r.URL.Path, r.Method) {
				log.Warn("access denied",
					zap.Int64("user_id", id.UserID),
					zap.String("role", string(id.Role)),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("correlation_id", requestctx.CorrelationID(r.Context())))
				apierr.WriteKind(w, apierr.Forbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	apierr.WriteKind(w, apierr.InvalidToken)
}
