package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/aurax-platform/identity-api/internal/application/auth"
	"github.com/aurax-platform/identity-api/internal/application/otp"
	"github.com/aurax-platform/identity-api/internal/application/social"
	"github.com/aurax-platform/identity-api/internal/config"
	"github.com/aurax-platform/identity-api/internal/domain"
	"github.com/aurax-platform/identity-api/internal/metrics"
	"github.com/aurax-platform/identity-api/internal/transport/http/handler"
	appmiddleware "github.com/aurax-platform/identity-api/internal/transport/http/middleware"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10 — applied to code-issuing and login endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	otpSvc := otp.NewService(deps.OTPRepo, deps.Mailer, cfg.OTP, deps.Metrics)

	var signer auth.TokenSigner
	if deps.JWTProvider != nil {
		signer = deps.JWTProvider
	}
	authSvc := auth.NewService(deps.UserRepo, otpSvc, signer, deps.Ops)

	var resolver social.TokenResolver
	if deps.JWTProvider != nil {
		resolver = deps.JWTProvider
	}
	var avatars social.AvatarStore
	if deps.AvatarStore != nil {
		avatars = deps.AvatarStore
	}
	socialSvc := social.NewService(deps.Instagram, deps.UserRepo, resolver, avatars, deps.Metrics)

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc)
	igH := handler.NewInstagramHandler(socialSvc)
	adminH := handler.NewAdminHandler(otpSvc)

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/auth/register", authH.Register)
		r.With(sensitiveRL.Limit).Post("/auth/verify-email", authH.VerifyEmail)
		r.With(sensitiveRL.Limit).Post("/auth/login", authH.Login)
		r.With(sensitiveRL.Limit).Post("/auth/login-code/request", authH.RequestLoginCode)
		r.With(sensitiveRL.Limit).Post("/auth/login-code/verify", authH.LoginWithCode)
		r.With(sensitiveRL.Limit).Post("/auth/password-reset/request", authH.RequestPasswordReset)
		r.With(sensitiveRL.Limit).Post("/auth/password-reset/confirm", authH.ResetPassword)

		// The callback accepts an optional bearer; the handshake runs either way.
		r.Get("/instagram/oauth/url", igH.AuthorizationURL)
		r.With(sensitiveRL.Limit).Post("/instagram/oauth/callback", igH.Callback)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/instagram/connection-status", igH.Status)
			r.Get("/instagram/oauth/validate", igH.Validate)
			r.Post("/instagram/oauth/refresh", igH.Refresh)
			r.Post("/instagram/disconnect", igH.Disconnect)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/admin/otp-cleanup", adminH.TriggerOTPCleanup)
			})
		})
	})

	return r
}
