package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/httputil"
	"actiongate/pkg/requestcontext"
)

// HeaderToken carries the operator token on every operator request.
const HeaderToken = "X-Admin-Token"

// RequireAdminToken rejects requests whose operator token does not match.
// An empty expected token rejects everything.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(HeaderToken)
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				if logger != nil {
					logger.WarnContext(ctx, "operator token mismatch",
						"request_id", requestcontext.RequestID(ctx),
						"path", r.URL.Path,
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
