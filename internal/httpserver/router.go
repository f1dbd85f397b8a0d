package httpserver

import (
	"log/slog"
	"net/http"

	"papertrade/internal/auth"
	"papertrade/internal/health"
	"papertrade/internal/metrics"
	"papertrade/internal/orders"
	"papertrade/internal/portfolio"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthHandler      *auth.Handler
	OrderHandler     *orders.Handler
	PortfolioHandler *portfolio.Handler
	HealthHandler    *health.Handler
	AuthService      TokenParser
	WSHandler        http.Handler
	MetricsHandler   http.Handler
	RateLimiter      *RateLimiter
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(RequestID)
	r.Use(Recovery(logger))
	r.Use(Logger(logger, d.Metrics))
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.AuthHandler.Register)
			r.Post("/login", d.AuthHandler.Login)
		})
		if d.WSHandler != nil {
			r.Get("/ws", d.WSHandler.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/me", authed(d.AuthHandler.Me))
			r.Delete("/me", authed(d.AuthHandler.Delete))
			r.Get("/portfolio", authed(d.PortfolioHandler.Summary))
			r.Post("/orders", authed(d.OrderHandler.Place))
			r.Get("/orders/history", authed(d.PortfolioHandler.History))
		})
	})
	return r
}
