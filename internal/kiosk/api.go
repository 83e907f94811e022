package kiosk

import (
	"errors"
	"net/http"

	"github.com/banshee-data/accessgate/internal/httputil"
)

// Server exposes the coordinator to the touch UI and the capture process.
type Server struct {
	c *Coordinator
}

func NewServer(c *Coordinator) *Server {
	return &Server{c: c}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.status)
	mux.HandleFunc("/api/facial/start", s.action(s.c.StartFacial))
	mux.HandleFunc("/api/finger/start", s.action(s.c.StartFinger))
	mux.HandleFunc("/api/enroll/start", s.action(s.c.StartEnroll))
	mux.HandleFunc("/api/enroll/photo", s.enrollPhoto)
	mux.HandleFunc("/api/frame", s.frame)
	mux.HandleFunc("/api/cancel", s.cancel)
	return mux
}

// QuietPaths are polled many times a second and only logged on failure.
var QuietPaths = []string{"/api/frame", "/api/status"}

// Handler is ServeMux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return httputil.LoggingMiddleware(s.ServeMux(), QuietPaths...)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.c.Snapshot())
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrWrongState), errors.Is(err, ErrNoPendingEnrollment):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) action(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		if err := fn(); err != nil {
			s.writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.c.Snapshot())
	}
}

func (s *Server) readFrame(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	return body, true
}

func (s *Server) frame(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readFrame(w, r)
	if !ok {
		return
	}
	if len(body) == 0 {
		httputil.BadRequest(w, "empty frame")
		return
	}
	sent, err := s.c.SubmitFrame(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"sent": sent})
}

func (s *Server) enrollPhoto(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readFrame(w, r)
	if !ok {
		return
	}
	if err := s.c.SubmitEnrollPhoto(body); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.c.Snapshot())
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]bool{"cancelled": s.c.Cancel()})
}
