package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amingione/fas-checkout/pkg/health"
	"github.com/amingione/fas-checkout/pkg/middleware"
)

const serviceName = "checkout"

// NewRouter creates a chi router with all checkout routes registered.
func NewRouter(
	checkoutHandler *CheckoutHandler,
	webhookHandler *WebhookHandler,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofAllowedCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.RequestLogging(logger))

	// Operational endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, pprofAllowedCIDRs, logger)

	// Payment gateway webhook; authenticated by signature, not content type.
	r.Post("/webhooks/payment", webhookHandler.HandlePaymentEvent)

	// Checkout API endpoints
	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/sessions", checkoutHandler.StartSession)
		r.Get("/sessions/{id}", checkoutHandler.GetSession)
		r.Post("/sessions/{id}/events", checkoutHandler.DispatchEvent)

		r.Put("/carts/{id}/address", checkoutHandler.SyncAddress)
		r.Post("/rates", checkoutHandler.GetRates)

		r.Post("/payment-intents", checkoutHandler.CreateIntent)
		r.Put("/payment-intents/{id}", checkoutHandler.UpdateIntent)

		r.Post("/complete", checkoutHandler.Complete)
		r.Get("/orders", checkoutHandler.GetOrder)
	})

	return r
}

// ContentTypeJSON rejects writes that do not declare a JSON body.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				http.Error(w, `{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`, http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
