package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/promptrelay/internal/api"
	"github.com/gaspardpetit/promptrelay/internal/config"
	"github.com/gaspardpetit/promptrelay/internal/inflight"
	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/internal/serverstate"
)

// Options carries the collaborators the router mounts.
type Options struct {
	Version string
	// Registry is served on /metrics when metrics share the API port.
	Registry *prometheus.Registry
	// Inflight counts relay requests for shutdown draining.
	Inflight *inflight.Counter
}

// New constructs the HTTP handler for the relay server.
func New(cfg config.ServerConfig, relay http.Handler, opts Options) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Accept", "X-Request-Id"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	if opts.Inflight == nil {
		opts.Inflight = &inflight.Counter{}
	}
	r.With(opts.Inflight.Middleware()).Post(api.GenerateTextPath, relay.ServeHTTP)
	r.Get(api.HealthPath, HealthHandler)
	r.Get(api.OpenAPIPath, api.OpenAPIHandler(opts.Version, cfg.MaxPromptChars))
	r.Get(api.DocsPath, api.SwaggerHandler())

	if opts.Registry != nil && cfg.MetricsOnAPIPort() {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// HealthHandler reports 200 while the server accepts traffic and 503 when it
// is starting up or draining.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	st := serverstate.Snapshot()
	code := http.StatusOK
	if st.Status != serverstate.StatusReady || st.Draining {
		code = http.StatusServiceUnavailable
	}
	status := st.Status
	if status == serverstate.StatusReady {
		status = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status}); err != nil {
		logx.Log.Error().Err(err).Msg("write health")
	}
}
