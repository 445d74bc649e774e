// Package server wires HTTP handlers into a ServeMux for the chat relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up the landing page, health check, and the hub's WebSocket endpoint.
func SetupRoutes(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", IndexHandler)
	mux.HandleFunc("GET /health", HealthHandler)
	mux.HandleFunc("/ws", hub.ServeWS)
	return mux
}
