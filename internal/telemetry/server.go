package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider supplies the data served by the /status endpoint. The
// reconciler/control loop implement it over their live fleet state.
type StatusProvider interface {
	Status(ctx context.Context) (StatusReport, error)
}

// StatusReport is the JSON body returned from /status.
type StatusReport struct {
	FleetSize   int       `json:"fleet_size"`
	FleetReady  int       `json:"fleet_ready"`
	LastPollAt  time.Time `json:"last_poll_at"`
	CycleActive bool      `json:"cycle_active"`
}

// Config controls which endpoints Server exposes.
type Config struct {
	// Enabled gates /metrics. When false no /metrics route is
	// registered and the metrics passed to NewServer may be nil.
	Enabled bool

	// Port is the listen port, matching the original engine's
	// hardcoded start_http_server(8000).
	Port int

	// StatusAuthSecret, if set, requires a bearer token signed with
	// this HS256 secret on /status. Empty disables auth on /status.
	StatusAuthSecret string
}

// statusClaims is a minimal JWT claim set for the /status bearer token;
// there is no user/password domain here, so unlike the claims this is
// adapted from, it carries no user identity, only standard registered
// claims.
type statusClaims struct {
	jwt.RegisteredClaims
}

// Server exposes Prometheus metrics and daemon status over HTTP.
type Server struct {
	cfg      Config
	metrics  *Metrics
	status   StatusProvider
	router   *chi.Mux
	server   *http.Server
}

// NewServer builds a telemetry HTTP server. metrics may be nil when
// cfg.Enabled is false; status may be nil if no /status endpoint is
// wanted.
func NewServer(cfg Config, metrics *Metrics, status StatusProvider) *Server {
	s := &Server{cfg: cfg, metrics: metrics, status: status}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", s.handleHealthz)

	if s.cfg.Enabled && s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	if s.status != nil {
		r.Group(func(r chi.Router) {
			if s.cfg.StatusAuthSecret != "" {
				r.Use(s.requireBearerToken)
			}
			r.Get("/status", s.handleStatus)
		})
	}

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.status.Status(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("status unavailable: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) requireBearerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" || tokenString == authHeader {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		_, err := jwt.ParseWithClaims(tokenString, &statusClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(s.cfg.StatusAuthSecret), nil
		})
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins serving on cfg.Port, defaulting to 8000 to match the
// original engine's start_http_server(8000).
func (s *Server) Start() error {
	port := s.cfg.Port
	if port == 0 {
		port = 8000
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
