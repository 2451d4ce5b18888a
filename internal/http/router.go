package http

import (
	"log/slog"
	"net/http"

	"reelay/internal/auth"
	"reelay/internal/config"
	"reelay/internal/http/handler"
	mw "reelay/internal/http/middleware"
	"reelay/internal/hub"
	"reelay/internal/process"
	"reelay/internal/retry"
	"reelay/internal/videojob"
	"reelay/internal/webhook"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT, notifHub *hub.Hub, logger *slog.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	// Health stays outside the webhook gatekeeper, so it is never
	// rate-limited.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	origin, err := webhook.NewOriginGuard(cfg.WebhookAllowedCIDRs, cfg.WebhookPermissive)
	if err != nil {
		return nil, err
	}
	gatekeeper := webhook.NewGatekeeper(
		origin,
		webhook.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		webhook.NewSignatureVerifier(cfg.WebhookSigningSecret, logger),
		logger,
	)

	jobStore := &videojob.Store{DB: db}
	processor := &process.Processor{Store: jobStore, Notifier: notifHub, Logger: logger}
	retryRepo := &retry.Repo{DB: db}

	wh := &handler.WebhookHandler{
		Gatekeeper: gatekeeper,
		Applier:    processor,
		Retry:      retryRepo,
		Logger:     logger,
	}
	// No RealIP here: the origin guard and rate limiter key on the
	// source address, and X-Forwarded-For is attacker-controlled. The
	// webhook route sees only the transport RemoteAddr.
	r.Post("/webhooks/vidgen", wh.HandleCallback)

	// Browser-facing routes sit behind a trusted proxy in production;
	// RealIP is safe here because nothing keys a security decision on
	// the address.
	r.Group(func(r chi.Router) {
		r.Use(chimw.RealIP)

		eh := &handler.EventsHandler{Hub: notifHub, Logger: logger, PingInterval: cfg.PingInterval}
		r.With(auth.RequireAuth(jwtSvc)).Get("/events", eh.HandleEvents)

		vh := &handler.VideoHandler{Store: jobStore, Hub: notifHub, Logger: logger}
		r.Route("/videos", func(r chi.Router) {
			r.Use(auth.RequireAuth(jwtSvc))

			r.Post("/", vh.Create)
			r.Get("/{callbackID}", vh.Get)
		})
	})

	return r, nil
}
