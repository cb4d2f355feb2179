package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router. Administrative endpoints sit behind the
// session cookie; platform-facing endpoints behind the service-key or bearer
// gate, selected per endpoint sensitivity.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware())
	}

	r.Get("/", a.handleHome)
	r.Post("/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireSession)
		r.Post("/set_ifttt_service_key", a.handleSetServiceKey)
		r.Post("/set_bunq_oauth_api_key", a.handleSubmitBunqKey)
		r.Get("/bunq_oauth_reauthorize", a.handleReauthorize)
		r.Get("/auth", a.handleOAuthCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.RequireServiceKey)
		r.Get("/ifttt/v1/status", a.handleIFTTTStatus)
		r.Post("/ifttt/v1/test/setup", a.handleIFTTTTestSetup)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.RequireBearer)
		r.Get("/ifttt/v1/user/info", a.handleIFTTTUserInfo)
	})

	return r
}
