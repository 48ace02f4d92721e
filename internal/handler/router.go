package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zhouzirui/hertscortex/backend/internal/handler/chatws"
	"github.com/zhouzirui/hertscortex/backend/internal/handler/persona"
	"github.com/zhouzirui/hertscortex/backend/internal/handler/stream"
	"github.com/zhouzirui/hertscortex/backend/internal/handler/study"
	"github.com/zhouzirui/hertscortex/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/hertscortex/backend/internal/middleware"
	"github.com/zhouzirui/hertscortex/backend/pkg/utils"
)

// Services groups what the routes need. Ingest also serves stored sessions to the chat routes.
type Services struct {
	Ingest study.Ingestor
	AI     interface {
		study.Asker
		stream.Chatter
	}
}

// Options 控制路由行为。
type Options struct {
	AllowedOrigins []string
	Streaming      bool
	Gatherer       prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services, opts Options, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	studyHandler := study.New(svc.Ingest, svc.AI, logger)
	personaHandler := persona.New()
	streamHandler := stream.New(svc.AI, svc.Ingest, opts.Streaming, logger)
	wsHandler := chatws.New(svc.AI, svc.Ingest, opts.Streaming, opts.AllowedOrigins, logger)

	r.Route("/api", func(api chi.Router) {
		studyHandler.RegisterRoutes(api)
		personaHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
