package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/medchat/backend/internal/handler/chat"
	"github.com/zhouzirui/medchat/backend/internal/handler/feedback"
	middlewarePkg "github.com/zhouzirui/medchat/backend/internal/middleware"
	chatModel "github.com/zhouzirui/medchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/medchat/backend/internal/service/chat"
	"github.com/zhouzirui/medchat/backend/pkg/utils"
)

// Responder is the reply pipeline the HTTP layer depends on.
type Responder interface {
	GenerateResponse(ctx context.Context, messages []chatModel.Message) string
	GenerateImprovedResponse(ctx context.Context, messages []chatModel.Message, originalResponse, feedback string) string
}

// Options carries the router's dependencies.
type Options struct {
	Store          chatService.Store
	Responder      Responder
	Logger         zerolog.Logger
	AllowedOrigins []string
	// Metrics is served at /metrics when set.
	Metrics http.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.AllowedOrigins))

	chatHandler := chat.New(opts.Store, opts.Responder, opts.Logger)
	feedbackHandler := feedback.New(opts.Store, opts.Responder, opts.Logger)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "Chat Bot API is running"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		feedbackHandler.RegisterRoutes(api)
	})

	return r
}
