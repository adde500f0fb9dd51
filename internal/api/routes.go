package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Pairing
	r.Route("/pairing", func(r chi.Router) {
		// Requesting a code requires an authenticated user; claiming one is
		// public because the mobile device holds no credentials yet.
		r.With(s.authMiddleware).Post("/request", s.HandleRequestPairing)
		r.Post("/claim", s.HandleClaimPairing)
	})

	// Device session self-service (bearer is the opaque session token)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/refresh", s.HandleRefreshSession)
		r.Post("/revoke", s.HandleRevokeSession)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		// Users
		r.Route("/users", func(r chi.Router) {
			r.Get("/me", s.HandleGetCurrentUser)
			r.With(s.adminMiddleware).Post("/", s.HandleCreateUser)
		})

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.HandleListDevices)
			r.Route("/{device_id}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Post("/fingerprint", s.HandleCheckFingerprint)
			})
		})

		// Session administration
		r.Route("/admin/sessions", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/", s.HandleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.HandleAdminRevokeSession)
				r.Post("/rotate", s.HandleAdminRotateSession)
			})
		})

		// Audit events
		r.Route("/audit-events", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/", s.HandleListAuditEvents)
		})

		// Cross-node broadcasts into gateway rooms
		r.Route("/broadcast", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/device/{device_id}", s.HandleBroadcastToDevice)
			r.Post("/user/{user_id}", s.HandleBroadcastToUser)
		})
	})
}
