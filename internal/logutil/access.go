package logutil

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

type (
	statusRecorder struct {
		http.ResponseWriter
		status int
	}
)

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(buf []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(buf)
}

// AccessLog attaches a request scoped logger to the request context
// and logs one line per request once the handler returns.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		log := GetOrDefault(r.Context()).With().
			Str("request.id", reqID).
			Str("http.method", r.Method).
			Str("http.path", r.URL.Path).
			Logger()
		rec := &statusRecorder{ResponseWriter: w}
		rec.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(rec, r.WithContext(WithLogger(r.Context(), log)))
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		log.Info().Int("http.status", rec.status).Dur("http.duration", time.Since(start)).Msg("Request served")
	})
}
