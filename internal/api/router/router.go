package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/medspa-sms-coordinator/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medspa-sms-coordinator/internal/http/middleware"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	TelnyxWebhooks *handlers.TelnyxWebhookHandler
	Complications  *handlers.ComplicationHandler
	Admin          *handlers.AdminHandler
	MetricsHandler http.Handler

	// AdminAuthSecret enables the /admin routes. Without it they are not mounted.
	AdminAuthSecret string

	// PublicRateLimit caps per-IP requests on inbound POST endpoints. Zero disables it.
	PublicRateLimit float64
	PublicRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(inbound chi.Router) {
		if cfg.PublicRateLimit > 0 {
			inbound.Use(httpmiddleware.RateLimit(cfg.PublicRateLimit, cfg.PublicRateBurst))
		}
		if cfg.TelnyxWebhooks != nil {
			inbound.Post("/webhooks/telnyx/messages", cfg.TelnyxWebhooks.HandleMessages)
		}
	})

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.Admin != nil {
				admin.Route("/conversations/{phone}", func(conv chi.Router) {
					conv.Get("/", cfg.Admin.GetConversation)
					conv.Get("/status", cfg.Admin.ConversationStatus)
					conv.Post("/cancel", cfg.Admin.CancelConversation)
				})
				admin.Get("/audit", cfg.Admin.ListAuditEvents)
			}
			if cfg.Complications != nil {
				admin.Post("/complications", cfg.Complications.Create)
				admin.Get("/escalations/{id}", cfg.Complications.Get)
			}
		})
	}

	return otelhttp.NewHandler(r, "http.server",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/health" && req.URL.Path != "/metrics"
		}),
	)
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
