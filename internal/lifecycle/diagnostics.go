package lifecycle

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// newDiagnosticsServer builds the optional local loopback diagnostics
// server: the client-side analogue of the teacher's HTTP server
// (internal/httpapi/router.go), scoped to /healthz and /debug/sync/*.
func newDiagnosticsServer(addr string, c *Core) *http.Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/debug/sync/state", func(w http.ResponseWriter, r *http.Request) {
		status, lastErr := c.Engine.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   status,
			"lastError": lastErr,
			"online":   c.Monitor.Online(),
		})
	})

	r.Get("/debug/sync/metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"counters":       c.Metrics.Snapshot(),
			"recent":         c.Metrics.Recent(100),
			"schedulerStats": c.Scheduler.Snapshot(),
		})
	})

	return &http.Server{Addr: addr, Handler: r}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
