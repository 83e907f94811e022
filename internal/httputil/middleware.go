package httputil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/accessgate/internal/monitoring"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusColor(code int) string {
	s := strconv.Itoa(code)
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + s + colorReset
	case code >= 300 && code < 400:
		return colorYellow + s + colorReset
	case code >= 400:
		return colorBoldRed + s + colorReset
	}
	return s
}

// LoggingMiddleware logs method, path, status and duration of every request.
// Frame uploads are frequent, so quiet paths are logged only on failure.
func LoggingMiddleware(next http.Handler, quiet ...string) http.Handler {
	skip := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		skip[p] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		if skip[r.URL.Path] && sr.status < 400 {
			return
		}
		monitoring.Logf("[%s] %s %s%s%s %vms",
			statusColor(sr.status), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
