package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/commerce-core/pkg/logger"
)

// RequestLogger stores a logger carrying the correlation ID, actor and trace
// IDs in the request context, where handlers pick it up with
// logger.FromContext. Mount it after RequestLogging, Tracing and Actor.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if logger.ActorFromContext(ctx) == "" {
				if actor := r.Header.Get(ActorHeader); actor != "" {
					ctx = logger.WithActor(ctx, actor)
				}
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
