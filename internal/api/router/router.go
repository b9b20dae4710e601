package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/hotel-pms-backend/internal/api/httperr"
	"github.com/wolfman30/hotel-pms-backend/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/hotel-pms-backend/internal/http/middleware"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Config holds router configuration. Nil handlers leave their routes
// unmounted.
type Config struct {
	Logger             *logging.Logger
	StripeWebhook      *handlers.StripeWebhookHandler
	FakeCheckout       *handlers.FakeCheckoutHandler
	InternalBookings   *handlers.InternalBookingsHandler
	StaffBookings      *handlers.StaffBookingsHandler
	Ops                *handlers.OpsHandler
	WebhookLimiter     *httpmiddleware.RateLimiter
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	StaffAuthSecret string
	ServiceKey      string

	// DB is pinged by /health when set.
	DB HealthChecker
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.DB))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.StripeWebhook != nil {
			var webhook chi.Router = public
			if cfg.WebhookLimiter != nil {
				webhook = public.With(httpmiddleware.RateLimit(cfg.WebhookLimiter))
			}
			webhook.Post("/webhooks/stripe", cfg.StripeWebhook.Handle)
		}
		if cfg.FakeCheckout != nil {
			public.Mount("/payments/fake", cfg.FakeCheckout.Routes())
		}
	})

	// Guest booking flow, called service-to-service.
	if cfg.InternalBookings != nil {
		r.Route("/internal", func(internal chi.Router) {
			internal.Use(httpmiddleware.ServiceKey(cfg.ServiceKey))
			internal.Mount("/bookings", cfg.InternalBookings.Routes())
		})
	}

	// Staff console, scoped per property by X-Property-Id.
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpmiddleware.StaffJWT(cfg.StaffAuthSecret))
		if cfg.StaffBookings != nil {
			api.With(httpmiddleware.PropertyScope).Mount("/bookings", cfg.StaffBookings.Routes())
		}
		if cfg.Ops != nil {
			api.With(httpmiddleware.RequireRole("ops")).Mount("/ops", cfg.Ops.Routes())
		}
	})

	return r
}

func healthHandler(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				httperr.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httperr.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
