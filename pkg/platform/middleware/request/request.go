// Package request stamps every inbound request with a request ID and the
// operator identity it claims.
package request

import (
	"net/http"

	"github.com/google/uuid"

	"actiongate/pkg/requestcontext"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderOperator  = "X-Operator-ID"
)

// Context returns middleware that injects the request ID and operator.
func Context() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			ctx := requestcontext.WithRequestID(r.Context(), requestID)
			if op := r.Header.Get(HeaderOperator); op != "" {
				ctx = requestcontext.WithOperator(ctx, op)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
