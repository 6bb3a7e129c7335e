package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type accountKey struct{}

func withAccount(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, accountKey{}, owner)
}

func accountFrom(ctx context.Context) string {
	owner, _ := ctx.Value(accountKey{}).(string)
	return owner
}

// requireAccount trusts the account header set by the auth proxy in front
// of the API.
func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(s.accountHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "account header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), owner)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := s.logger.Info()
		if status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("req_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
