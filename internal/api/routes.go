package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/engage-analytics/internal/ratelimit"
)

// SetupRoutes wires the full route table. limiter may be nil to run the
// /track endpoints uncapped (tests, dev).
func SetupRoutes(h *Handlers, limiter *ratelimit.Limiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	// Public tracking endpoints, per-IP rate limited. These take traffic from
	// every mail client, proxy and link scanner touching our mail.
	r.Group(func(r chi.Router) {
		r.Use(rateLimit(limiter))
		r.Get("/track/open/{messageID}.png", h.TrackOpen)
		r.Get("/track/click/{messageID}", h.TrackClick)
	})

	r.Post("/webhooks/events", h.HandleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/campaigns/{campaignID}", h.GetCampaignAnalytics)
			r.Get("/contacts/{contactID}", h.GetContactEngagement)
			r.Get("/realtime", h.GetRealTimeMetrics)
			r.Get("/intelligence", h.GetIntelligence)
		})
		r.Route("/abtests", func(r chi.Router) {
			r.Post("/", h.CreateABTest)
			r.Get("/{testID}/results", h.GetABTestResults)
		})
		r.Post("/messages/send", h.SendMessage)
	})

	return r
}

func rateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if limiter != nil && !limiter.Allow(getIP(req)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
