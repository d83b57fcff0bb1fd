package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/fairyhunter13/recrank/internal/adapter/observability"
	"github.com/fairyhunter13/recrank/internal/config"
	"github.com/fairyhunter13/recrank/internal/domain"
	"github.com/fairyhunter13/recrank/internal/usecase/fusion"
	"github.com/fairyhunter13/recrank/internal/usecase/ranking"
)

// Server is the C9 request surface: it validates inputs, invokes the
// ranking and fusion pipelines, and shapes their output into the stable
// response envelope.
type Server struct {
	Cfg       config.Config
	Ranking   *ranking.Pipeline
	Fusion    *fusion.Pipeline
	Features  domain.FeatureStore
	Gateway   domain.BehaviorLogGateway
	Scorer    domain.Scorer
	Scheduler domain.Scheduler
	Batcher   domain.Batcher
	Clock     domain.Clock
}

// NewServer constructs a Server from its wired dependencies.
func NewServer(cfg config.Config, rk *ranking.Pipeline, fs *fusion.Pipeline, features domain.FeatureStore,
	gw domain.BehaviorLogGateway, scorer domain.Scorer, sched domain.Scheduler, batcher domain.Batcher, clock domain.Clock) *Server {
	return &Server{
		Cfg: cfg, Ranking: rk, Fusion: fs, Features: features,
		Gateway: gw, Scorer: scorer, Scheduler: sched, Batcher: batcher, Clock: clock,
	}
}

func (s *Server) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

// BuildRouter assembles the chi router and mounts every middleware and
// route this service exposes, in the same layered style the teacher's
// app.BuildRouter wires its own handlers.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(Recoverer())
	r.Use(chimiddleware.RealIP)
	r.Use(TraceMiddleware)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(AccessLog())
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.Cfg.CORSAllowOrigins, ","),
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	if s.Cfg.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(s.Cfg.RateLimitPerMin, time.Minute))
	}
	r.Use(TimeoutMiddleware(s.Cfg.HTTPWriteTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", observability.MetricsHandler().ServeHTTP)
	r.Get("/stats", s.handleStats)
	r.Post("/v1/rank", s.handleRank)
	r.Post("/v1/fuse", s.handleFuse)
	r.Post("/v1/ingest", s.handleIngest)

	return r
}
