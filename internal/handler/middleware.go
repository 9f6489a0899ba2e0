package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"eventgate/internal/model"
	"eventgate/internal/service"
	"eventgate/internal/util"
)

const (
	pinSessionHeader = "X-Pin-Session"
	pinSessionCookie = "pin_session"
)

type contextKey string

const sessionContextKey contextKey = "pin_session"

// SessionFromContext returns the validated PIN session placed by
// RequirePINSession.
func SessionFromContext(ctx context.Context) (model.PINSession, bool) {
	session, ok := ctx.Value(sessionContextKey).(model.PINSession)
	return session, ok
}

// sessionID pulls the presented session from the header, falling back to the
// cookie browsers carry.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(pinSessionHeader); id != "" {
		return id
	}
	if cookie, err := r.Cookie(pinSessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// RequirePINSession guards event routes. The presented session must exist,
// belong to the event in the URL and come from the client that opened it.
func RequirePINSession(pinService *service.PINSessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			eventID := chi.URLParam(r, "eventID")

			session, err := pinService.CheckSession(r.Context(), sessionID(r), eventID, clientOrigin(r), r.UserAgent())
			if err != nil {
				respondWithServiceError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerMiddleware logs every HTTP request with its outcome.
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
