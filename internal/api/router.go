package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"

	"animefinder/internal/auth"
	"animefinder/internal/catalog"
	"animefinder/internal/config"
	"animefinder/internal/db"
	"animefinder/internal/metrics"
)

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(cfg *config.Config, database *db.DB, registry *prometheus.Registry) *Server {
	collector := metrics.NewCollector(registry)

	tokenService := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	catalogClient := catalog.NewClient(
		cfg.Catalog.BaseURL,
		cfg.Catalog.RequestTimeout,
		cfg.Catalog.RatePerSecond,
		cfg.Catalog.Burst,
	)

	userRepo := db.NewUserRepository(database)

	authHandler := NewAuthHandler(userRepo, tokenService, hasher, cfg.Auth.SecureCookie)
	userHandler := NewUserHandler(userRepo)
	catalogHandler := NewCatalogHandler(catalogClient, collector)
	healthHandler := NewHealthHandler(database)

	authMiddleware := NewAuthMiddleware(tokenService)

	r := chi.NewRouter()
	r.Use(requestObserver(collector))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigin))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(registry))

	r.Route("/api", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB

		r.Route("/auth", func(r chi.Router) {
			credentialLimit := httprate.LimitByIP(10, time.Minute)

			r.With(credentialLimit).Post("/register", authHandler.Register)
			r.With(credentialLimit).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.With(credentialLimit).Post("/get-security-question", authHandler.GetSecurityQuestion)
			r.With(credentialLimit).Post("/reset-password", authHandler.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Get("/me", userHandler.GetMe)
				r.Post("/set-avatar", userHandler.SetAvatar)
			})
		})

		r.Route("/anime", func(r chi.Router) {
			r.Use(httprate.LimitByIP(60, time.Minute))
			r.Get("/", catalogHandler.Search)
			r.Get("/{id}/{section}", catalogHandler.Detail)
		})
	})

	return &Server{
		router: r,
		config: cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func corsMiddleware(allowedOrigin string) func(http.Handler) http.Handler {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if allowedOrigin != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requestObserver logs every request and records it on the metrics collector.
func requestObserver(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}

			collector.RecordHTTPRequest(r.Method, route, ww.Status(), duration)
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration.String(),
				"remote", r.RemoteAddr,
			)
		})
	}
}
