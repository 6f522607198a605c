package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Sync triggers
	r.HandleFunc("/api/sync", deps.SyncHandler.SyncAll).Methods("POST")
	r.HandleFunc("/api/sync/diff", deps.DiffSyncHandler.Run).Methods("POST")
	r.HandleFunc("/api/sync/event/{eventId}", deps.SyncHandler.SyncEvent).Methods("POST")

	// Google integration
	r.HandleFunc("/api/integrations/google/auth/login", deps.GoogleAuth.OAuthLogin).Methods("GET")
	r.HandleFunc("/api/integrations/google/auth/logout", deps.GoogleAuth.OAuthLogout).Methods("DELETE")
	r.HandleFunc("/api/integrations/google/auth/callback", deps.GoogleAuth.OAuthCallback).Methods("GET")
	r.HandleFunc("/api/integrations/google/calendars", deps.GoogleHandler.ListCalendars).Methods("GET")
}
