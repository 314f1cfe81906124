package server

import (
	"net/http"
	"os"

	"splitmailer/internal/config"
	"splitmailer/internal/job"
	"splitmailer/internal/store"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(cfg config.Config, jobSvc *job.Service, st *store.Store, dial job.Dialer) http.Handler {
	return newMux(cfg, jobSvc, st, dial)
}

func newMux(cfg config.Config, jobSvc *job.Service, st *store.Store, dial job.Dialer) http.Handler {
	h := &handler{
		cfg:    cfg,
		jobSvc: jobSvc,
		store:  st,
		dial:   dial,
	}

	mux := http.NewServeMux()

	handleMethod(mux, http.MethodGet, "/api/health", h.health)
	handleMethod(mux, http.MethodGet, "/api/defaults", h.defaults)
	handleMethod(mux, http.MethodPost, "/api/upload", h.upload)
	handleMethod(mux, http.MethodGet, "/api/list", h.list)
	handleMethod(mux, http.MethodPost, "/api/start", h.start)
	handleMethod(mux, http.MethodGet, "/api/logs", h.logs)
	handleMethod(mux, http.MethodPost, "/api/test-smtp", h.testSMTP)

	// Serve the UI when a static directory is present.
	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	// Apply middleware stack: recovery -> requestID -> cors -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = cors(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}

// handleMethod registers fn for a single HTTP method, mirroring the
// "METHOD /path" ServeMux patterns of Go 1.22+ on older toolchains:
// GET also matches HEAD, and other methods get 405 with an Allow header.
func handleMethod(mux *http.ServeMux, method, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}
