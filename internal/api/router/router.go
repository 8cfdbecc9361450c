package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/whatsapp-assistant-relay/internal/http/middleware"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger   *logging.Logger
	Errors   *handlers.ErrorWriter
	Health   http.Handler
	Webhook  *handlers.WebhookHandler
	Messages *handlers.MessagesHandler
	// Assistant is optional; its routes are not mounted when nil.
	Assistant      *handlers.AssistantHandler
	MetricsHandler http.Handler

	PrivateAuthSecret  string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.Errors == nil {
		cfg.Errors = handlers.NewErrorWriter(cfg.Logger, false)
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":{"kind":"not_found","message":"route not found"}}`))
	})

	// Public endpoints (webhook, health checks)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Handle("/health", cfg.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			public.Get("/webhook", cfg.Webhook.Verify)
			public.Post("/webhook", cfg.Webhook.Receive)
		}
	})

	r.Group(func(private chi.Router) {
		private.Use(httpmiddleware.PrivateJWT(cfg.PrivateAuthSecret, cfg.Errors.WriteError))

		if cfg.Messages != nil {
			private.Post("/send", cfg.Messages.Send)
			private.Post("/sendMedia", cfg.Messages.SendMedia)
			private.Post("/markAsRead", cfg.Messages.MarkAsRead)
			private.Get("/messages/{conversationId}", cfg.Messages.List)
			private.Post("/processWithAI", cfg.Messages.ProcessWithAI)
		}

		if cfg.Assistant != nil {
			private.Route("/assistant", func(a chi.Router) {
				a.Post("/threads", cfg.Assistant.CreateThread)
				a.Route("/threads/{threadId}", func(t chi.Router) {
					t.Post("/messages", cfg.Assistant.AddMessage)
					t.Get("/messages", cfg.Assistant.ListMessages)
					t.Get("/messages/last", cfg.Assistant.LastMessage)
					t.Post("/runs", cfg.Assistant.CreateRun)
					t.Get("/runs/{runId}", cfg.Assistant.GetRun)
					t.Get("/runs/{runId}/wait", cfg.Assistant.WaitForRun)
				})
				a.Post("/files", cfg.Assistant.UploadFile)
			})
		}
	})

	return r
}
