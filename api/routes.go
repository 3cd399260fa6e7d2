package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"mediawaiter/handlers"
)

// acceptRangesMiddleware advertises byte-range support on every response;
// streaming clients probe for it before issuing range requests.
func acceptRangesMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		next.ServeHTTP(w, r)
	})
}

// requestLogMiddleware tags each request with an id and logs its duration.
func requestLogMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set("X-Request-ID", id)
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request",
				"id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"duration", time.Since(start))
		})
	}
}

// Register mounts the waiter endpoints onto the provided router under the
// configured app-name prefix.
func Register(r *mux.Router, waiter *handlers.Waiter, appName string, logger *slog.Logger) {
	r.Use(requestLogMiddleware(logger), acceptRangesMiddleware)

	s := r.PathPrefix(appName).Subrouter()

	s.HandleFunc("/dir/{guid}", waiter.Dir).Methods(http.MethodGet)
	s.HandleFunc("/dir/{guid}/", waiter.Dir).Methods(http.MethodGet)

	s.HandleFunc("/file/{guid}", waiter.FileListing).Methods(http.MethodGet)
	s.HandleFunc("/file/{guid}/", waiter.FileListing).Methods(http.MethodGet)
	s.HandleFunc("/file/{guid}/{hash}", waiter.File).Methods(http.MethodGet)
	s.HandleFunc("/file/{guid}/{hash}/", waiter.File).Methods(http.MethodGet)

	s.HandleFunc("/stream/{guid}/{hash}", waiter.Stream).Methods(http.MethodGet)
	s.HandleFunc("/stream/{guid}/{hash}/", waiter.Stream).Methods(http.MethodGet)

	s.HandleFunc("/status", waiter.Status).Methods(http.MethodGet)
	s.HandleFunc("/status/", waiter.Status).Methods(http.MethodGet)

	s.HandleFunc("/viewed/{guid}", waiter.Viewed).Methods(http.MethodPost)
	s.HandleFunc("/viewed/{guid}/", waiter.Viewed).Methods(http.MethodPost)

	offsetMethods := []string{http.MethodGet, http.MethodPost, http.MethodDelete}
	s.HandleFunc("/offset/{guid}/{hash}", waiter.Offset).Methods(offsetMethods...)
	s.HandleFunc("/offset/{guid}/{hash}/", waiter.Offset).Methods(offsetMethods...)
}
