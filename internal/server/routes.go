package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes wires the gateway handlers into a router.
func SetupRoutes(g *Gateway) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", g.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", g.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws", g.WebSocketHandler)
	router.HandleFunc("/posts", g.PostsHandler).Methods(http.MethodGet)
	router.HandleFunc("/clients", g.ClientsHandler).Methods(http.MethodGet)
	return router
}
