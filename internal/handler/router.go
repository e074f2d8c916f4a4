package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mdthorpe/llm-web-chat/internal/handler/chat"
	"github.com/mdthorpe/llm-web-chat/internal/handler/session"
	middlewarePkg "github.com/mdthorpe/llm-web-chat/internal/middleware"
	chatService "github.com/mdthorpe/llm-web-chat/internal/service/chat"
)

// Deps are the services the HTTP surface is wired to.
type Deps struct {
	Store    chatService.Store
	Catalog  chat.Catalog
	Sessions *session.Handler
	// Metrics serves /metrics; nil uses the default Prometheus registry.
	Metrics http.Handler
	Logger  zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metricsHandler)

	chatHandler := chat.New(deps.Store, deps.Catalog, deps.Logger)
	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
	})

	// 语音转写与对话共用一个升级入口
	deps.Sessions.RegisterRoutes(r)

	return r
}
