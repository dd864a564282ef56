package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/driftline/postforge/internal/auth"
)

// SetupRoutes configures all API routes. authManager may be nil in
// tests; the /api group then runs without the auth middleware and
// handlers read the user ID straight from the request context.
func SetupRoutes(h *Handlers, authManager *auth.Manager) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS - allow credentials for auth cookies
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.postforge.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Auth routes (no auth required)
	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Get("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	// API routes (protected by auth middleware)
	r.Route("/api", func(r chi.Router) {
		if authManager != nil {
			r.Use(authManager.RequireAuth)
		}

		// Gated generation
		r.Route("/generate", func(r chi.Router) {
			r.Post("/text", h.GenerateText)
			r.Post("/image", h.GenerateImage)
			r.Post("/video", h.GenerateVideo)
			r.Get("/video/{jobID}", h.GetVideoJob)
		})

		// Campaign batch generation
		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Get("/{campaignID}", h.GetCampaign)
			r.Post("/{campaignID}/generate", h.GenerateCampaign)
			r.Get("/{campaignID}/posts", h.ListCampaignPosts)
		})

		// Balances and billing
		r.Route("/entitlements", func(r chi.Router) {
			r.Get("/", h.GetEntitlements)
			r.Post("/trial", h.StartTrial)
			r.Post("/grant", h.GrantCredits)
		})

		// Email verification
		r.Route("/verification", func(r chi.Router) {
			r.Post("/send", h.SendVerificationCode)
			r.Post("/confirm", h.ConfirmVerificationCode)
		})
	})

	return r
}
