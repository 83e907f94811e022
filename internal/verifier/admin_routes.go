package verifier

import (
	"encoding/json"
	"net/http"
	"sort"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes exposes liveness sessions and gallery size on the tsweb
// debug page.
func (o *Orchestrator) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Liveness sessions", func() any {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.sessions)
	})
	debug.KVFunc("Gallery encodings", func() any {
		if o.gallery == nil {
			return "disabled"
		}
		return o.gallery.Len()
	})
	debug.HandleFunc("liveness-sessions", "Active blink challenges", func(w http.ResponseWriter, r *http.Request) {
		sessions := o.Sessions()
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].Device < sessions[j].Device })
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessions)
	})
	debug.HandleFunc("gallery", "Encodings per enrolled user", func(w http.ResponseWriter, r *http.Request) {
		if o.gallery == nil {
			http.Error(w, "face engine disabled", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(o.gallery.Users())
	})
}
