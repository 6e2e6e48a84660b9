package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/Tyrowin/boardchat/internal/board"
	"github.com/gorilla/websocket"
)

// Gateway exposes the board server over HTTP: WebSocket sessions speaking the
// same line protocol, plus read-only status endpoints.
type Gateway struct {
	srv      *Server
	origins  originPolicy
	upgrader websocket.Upgrader
}

// NewGateway builds the HTTP front end for srv.
func NewGateway(srv *Server) *Gateway {
	g := &Gateway{
		srv:     srv,
		origins: newOriginPolicy(srv.cfg.Server.AllowedOrigins, srv.log),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.origins.allows(r) {
		return true
	}

	g.srv.log.Warn("Blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}

// WebSocketHandler upgrades the request and hands the connection to a
// session, exactly as the TCP listener does.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.srv.log.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	g.srv.log.Info("New WebSocket client connection", "remote_addr", r.RemoteAddr)
	g.srv.ServeConn(NewWSConnection(conn, r.RemoteAddr, g.srv.ConnectionOptions(), g.srv.log))
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (g *Gateway) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Board server is running! clients=%d posts=%d", g.srv.registry.Len(), g.srv.board.Len())
}

// PostsHandler returns the board snapshot as JSON, in append order.
func (g *Gateway) PostsHandler(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, struct {
		Posts []board.Post `json:"posts"`
	}{Posts: g.srv.board.Snapshot()})
}

// ClientsHandler lists the ids of connected, identified clients.
func (g *Gateway) ClientsHandler(w http.ResponseWriter, _ *http.Request) {
	ids := g.srv.registry.ClientIDs()
	sort.Strings(ids)
	g.writeJSON(w, struct {
		Count   int      `json:"count"`
		Clients []string `json:"clients"`
	}{Count: g.srv.registry.Len(), Clients: ids})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.srv.log.Error("Error writing JSON response", "error", err)
	}
}
