package correlation

import (
	"fmt"
	"net/http"

	"healthcare-gateway/apierr"

	"go.uber.org/zap"
)

// Recover turns a panic into the generic 500 body. It sits outside Logger,
// which has already logged the failure by the time the panic reaches here.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Debug("recovered panic", zap.String("panic", fmt.Sprint(rec)))
				apierr.WriteKind(w, apierr.InternalError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
