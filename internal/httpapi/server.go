// Package httpapi exposes the orchestrator and agent registry over HTTP:
// the registration API and the orchestrator/session API, routed with
// chi.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/orchestra/internal/authn"
	"github.com/kadirpekel/orchestra/internal/observability"
	"github.com/kadirpekel/orchestra/internal/orchestrator"
	"github.com/kadirpekel/orchestra/internal/registry"
	"github.com/kadirpekel/orchestra/internal/router"
	"github.com/kadirpekel/orchestra/internal/sessionstore"
)

// Server owns the dependencies needed to answer every route.
type Server struct {
	reg *registry.Registry
	sessions *sessionstore.Store
	orch *orchestrator.Orchestrator
	rt *router.Router
	auth authn.Verifier
	log *slog.Logger
	tracer trace.Tracer
	metrics *observability.Metrics
}

// New builds a Server. tracer and metrics may be nil to disable tracing
// or metrics respectively (e.g. when TRACING_ENABLED/METRICS_ENABLED are
// off).
func New(reg *registry.Registry, sessions *sessionstore.Store, orch *orchestrator.Orchestrator, rt *router.Router, auth authn.Verifier, logger *slog.Logger, tracer trace.Tracer, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reg: reg, sessions: sessions, orch: orch, rt: rt, auth: auth, log: logger, tracer: tracer, metrics: metrics}
}

// Routes builds the chi router for the full HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(observability.HTTPMiddleware(s.tracer, s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	r.Group(func(r chi.Router) {
			r.Use(withAuth(s.auth))

			r.Post("/invoke", s.handleInvoke)

			r.Route("/sessions", func(r chi.Router) {
					r.Post("/", s.handleCreateSession)
					r.Get("/{sessionID}", s.handleGetSession)
					r.Post("/{sessionID}/history", s.handleAppendHistory)
					r.Post("/{sessionID}/invocations", s.handleRecordInvocation)
					r.Patch("/{sessionID}/status", s.handleSetSessionStatus)
					r.Delete("/{sessionID}", s.handleDeleteSession)
			})

			r.Route("/agents", func(r chi.Router) {
					r.Get("/", s.handleListAgents)
					r.Get("/{name}", s.handleGetAgent)
					r.Get("/schema", s.handleAgentSchema)

					r.Group(func(r chi.Router) {
							r.Use(requireRole("admin"))
							r.Post("/", s.handleRegisterLocal)
							r.Post("/remote", s.handleRegisterRemote)
							r.Post("/discover", s.handleDiscover)
							r.Delete("/{name}", s.handleDeleteAgent)
							r.Patch("/{name}/status", s.handleSetStatus)
					})

					// Capability/enabled mutation is gated owner-or-admin inside the
					// handlers themselves (requireOwnerOrAdmin), since it depends on
					// the target record's owner_user_id metadata, not a fixed role.
					r.Put("/{name}/capabilities", s.handleUpdateCapabilities)
					r.Patch("/{name}/enabled", s.handleSetEnabled)
			})
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				start := time.Now()
				ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
				next.ServeHTTP(ww, r)
				log.Info("http request",
					"method", r.Method, "path", r.URL.Path,
					"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
