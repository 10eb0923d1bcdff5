package middleware

import (
	"net/http"

	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
	"educhain/pkg/platform/httputil"
	"educhain/pkg/requestcontext"
)

// HolderIDHeader carries the holder account id set by the upstream
// authentication gateway.
const HolderIDHeader = "X-Holder-ID"

// RequireHolder rejects requests without a valid holder id and stores the
// parsed id in the request context.
func RequireHolder(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HolderIDHeader)
		if raw == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "holder identity required"))
			return
		}
		holder, err := id.ParseHolderID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed holder id"))
			return
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithHolderID(r.Context(), holder)))
	})
}
