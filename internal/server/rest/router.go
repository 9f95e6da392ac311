package rest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey string

const userIDKey ctxKey = "userID"

// Router builds the route tree:
//
//	POST  /auth/v1/signup
//	POST  /auth/v1/token?grant_type=password|refresh_token
//	GET   /rest/v1/health
//	POST  /rest/v1/{table}
//	PATCH /rest/v1/{table}/{id}
//	GET   /rest/v1/{table}[?include_deleted=true]
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Post("/signup", s.handleSignUp)
		r.Post("/token", s.handleToken)
	})

	r.Route("/rest/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(s.bearerAuth)
			r.Post("/{table}", s.handleInsert)
			r.Patch("/{table}/{id}", s.handleUpdate)
			r.Get("/{table}", s.handleSelect)
		})
	})

	return r
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *HTTPServer) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, storepb.ErrorBody{Code: storepb.CodeUnauthorized, Message: "missing token"})
			return
		}

		userID, err := s.users.Authenticate(token)
		if err != nil {
			if errors.Is(err, common.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, storepb.ErrorBody{Code: storepb.CodeTokenExpired, Message: err.Error()})
				return
			}
			writeError(w, http.StatusUnauthorized, storepb.ErrorBody{Code: storepb.CodeUnauthorized, Message: common.ErrInvalidToken.Error()})
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
