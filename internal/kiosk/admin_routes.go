package kiosk

import (
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes shows the live session on the tsweb debug page.
func (c *Coordinator) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Kiosk state", func() any {
		s := c.Snapshot()
		if s.Pending != nil {
			return s.State.String() + " (pending " + s.Pending.Cedula + ")"
		}
		return s.State.String()
	})
}
