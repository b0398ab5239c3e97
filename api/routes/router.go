package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/herfa-app/herfa-backend/api/controllers"
	webhookcontrollers "github.com/herfa-app/herfa-backend/api/controllers/webhooks"
	"github.com/herfa-app/herfa-backend/api/middleware"
	"github.com/herfa-app/herfa-backend/internal/appointments"
	"github.com/herfa-app/herfa-backend/internal/notifications"
	"github.com/herfa-app/herfa-backend/pkg/config"
	"github.com/herfa-app/herfa-backend/pkg/enums"
	"github.com/herfa-app/herfa-backend/pkg/logger"
	pkgredis "github.com/herfa-app/herfa-backend/pkg/redis"
)

// CacheStore backs idempotent replays and rate limit counters.
type CacheStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// Dependencies carries everything the HTTP surface calls into.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	Cache         CacheStore
	Tokens        middleware.TokenVerifier
	Readiness     map[string]controllers.Pinger
	Metrics       http.Handler
	Appointments  appointments.Service
	Wallets       controllers.WalletReader
	Notifications notifications.Service
	Paymob        webhookcontrollers.PaymobWebhookService
	PaymobGuard   webhookcontrollers.PaymobWebhookGuard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg, logg := deps.Config, deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	bookingPolicy := middleware.NewRateLimitPolicy(
		"booking",
		cfg.RateLimit.BookingWindow,
		cfg.RateLimit.BookingIPLimit,
		cfg.RateLimit.BookingUserLimit,
	)
	webhookPolicy := middleware.NewRateLimitPolicy(
		"paymob-webhook",
		cfg.RateLimit.WebhookWindow,
		cfg.RateLimit.WebhookIPLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.RateLimit(webhookPolicy, deps.Cache, logg)).
			Post("/paymob", webhookcontrollers.PaymobWebhook(deps.Paymob, cfg.Paymob.HMACSecret, deps.PaymobGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, logg))
		r.Use(middleware.Idempotency(deps.Cache, logg))

		r.Route("/wallet", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleCustomer, enums.UserRoleCraftsman))
			r.Get("/", controllers.GetWallet(deps.Wallets, enums.Currency(cfg.Settlement.Currency), logg))
			r.Get("/transactions", controllers.ListWalletTransactions(deps.Wallets, logg))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.With(
				middleware.RequireRole(logg, enums.UserRoleCustomer),
				middleware.RateLimit(bookingPolicy, deps.Cache, logg),
			).Post("/", controllers.BookAppointment(deps.Appointments, logg))
			r.Get("/", controllers.ListAppointments(deps.Appointments, logg))
			r.Get("/{appointmentId}", controllers.GetAppointment(deps.Appointments, logg))
			r.Post("/{appointmentId}/{action}", controllers.AppointmentAction(deps.Appointments, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Get("/unread-count", controllers.NotificationsUnreadCount(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Delete("/{notificationId}", controllers.DeleteNotification(deps.Notifications, logg))
		})
	})

	return r
}
