// Package httpserver wires the HTTP surface: the authenticated Drive API,
// the public OAuth callback and webhook receiver, and the operational
// endpoints.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/eduspace/classdrive/internal/auth"
	"github.com/eduspace/classdrive/internal/config"
	"github.com/eduspace/classdrive/internal/http/ratelimit"
	"github.com/eduspace/classdrive/internal/metrics"
	"github.com/eduspace/classdrive/internal/store"
	"github.com/eduspace/classdrive/internal/syncer"
)

// NewRouter wires all HTTP routes.
func NewRouter(cfg *config.Config, st *store.Store, sync *syncer.Syncer, oauth OAuthProvider, verifier EmailVerifier, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	// OAuth callback: 5 requests per second, burst of 10.
	callbackLimiter := ratelimit.New(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// Webhook receiver: more permissive, Drive can burst notifications.
	webhookLimiter := ratelimit.New(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	driveHandler := NewDriveHandler(cfg, st, sync, oauth, verifier, log)
	webhookHandler := NewWebhookHandler(st, sync, log)

	r.With(callbackLimiter.Middleware()).Get("/auth/google/callback", driveHandler.Callback)
	r.With(webhookLimiter.Middleware()).Post("/webhooks/google-drive", webhookHandler.Receive)

	r.Route("/api/drive", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWT.Secret))
		r.Get("/connect", driveHandler.Connect)
		r.Get("/status", driveHandler.Status)
		r.Post("/folder", driveHandler.ConfigureFolder)
		r.Post("/sync-now/{classID}", driveHandler.SyncNow)
		r.Get("/recordings/{classID}", driveHandler.Recordings)
		r.Post("/disconnect", driveHandler.Disconnect)
	})

	return r
}
