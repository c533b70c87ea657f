package routes

import (
	"vibin_realtime/controllers"
	"vibin_realtime/middleware"
	"vibin_realtime/socket"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up the unauthenticated routes and the websocket endpoint.
// The hub checks the socket token itself because browsers cannot set headers
// on a websocket handshake.
func RegisterRoutes(r *mux.Router, hub *socket.Hub) {
	r.HandleFunc("/health", controllers.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/", controllers.WelcomeHandler).Methods("GET")
	r.HandleFunc("/ws", hub.ServeWS).Methods("GET")
}

// NewAPIRouter returns the /api subrouter; every route under it requires a
// valid bearer token.
func NewAPIRouter(r *mux.Router, verifier *middleware.TokenVerifier) *mux.Router {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.NewAuthMiddleware(verifier))
	return api
}
