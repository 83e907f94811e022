package fingerprint

import (
	"fmt"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes exposes sensor diagnostics on the tsweb debug page.
func (s *Sensor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Fingerprint sensor", func() any {
		if !s.Available() {
			return "disabled"
		}
		exchanges, noResponse := s.Stats()
		return fmt.Sprintf("%d exchanges, %d without response", exchanges, noResponse)
	})
	debug.HandleFunc("fingerprint-slots", "Occupied fingerprint template slots", func(w http.ResponseWriter, r *http.Request) {
		if !s.Available() {
			http.Error(w, ErrDisabled.Error(), http.StatusServiceUnavailable)
			return
		}
		count, err := s.TemplateCount()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "templates: %d/%d\n", count, s.Capacity())
		for _, slot := range s.OccupiedSlots() {
			fmt.Fprintf(w, "%d\n", slot)
		}
	})
}
