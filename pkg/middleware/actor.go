package middleware

import (
	"net/http"
	"strings"

	"github.com/utafrali/commerce-core/pkg/logger"
)

// ActorHeader names the caller performing a write. The edge gateway sets it
// after authenticating the request.
const ActorHeader = "X-Actor-ID"

// Actor copies the X-Actor-ID header into the request context so domain code
// can attribute stock movements and payment actions to a caller.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(logger.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
