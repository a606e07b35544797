package middleware

import (
	"net/http"
	"time"

	"github.com/dtroode/keyhaven-identity/internal/logger"
)

// Logging logs method, path, status and duration for each request.
type Logging struct {
	logger *logger.Logger
}

func NewLogging(logger *logger.Logger) *Logging {
	return &Logging{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handle wraps next with request logging.
func (l *Logging) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		l.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
