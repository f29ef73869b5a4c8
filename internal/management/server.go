package management

import (
	"log/slog"
	"net/http"

	"github.com/routetunnel/relay/internal/ingress"
	"github.com/routetunnel/relay/internal/registry"
	"github.com/routetunnel/relay/internal/store"
)

// Server is the top-level relay server: management API, tunnel WS upgrade,
// and public ingress forwarding all mounted on one mux.
type Server struct {
	cfg      *Config
	registry *registry.Registry
	mux      *http.ServeMux
}

// NewServer wires config, a route store, and a fresh Registry/Forwarder
// pair into a Server ready to run.
func NewServer(cfg *Config, st store.RouteStore, authProvider AuthProvider) *Server {
	reg := registry.New(store.Adapt(st), cfg.PingInterval)
	publicBase, wsBase := cfg.BaseURLs()
	routes := NewRoutes(reg, st, publicBase, wsBase)
	tunnelWS := NewTunnelWS(reg)
	forwarder := ingress.New(reg, cfg.TunnelTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tunnels", RequireBearerAuth(authProvider, routes.CreateTunnel))
	mux.HandleFunc("GET /api/tunnels", RequireBearerAuth(authProvider, routes.ListTunnels))
	mux.HandleFunc("GET /api/tunnels/public", routes.ListPublicTunnels)
	mux.HandleFunc("DELETE /api/tunnels/{route}", RequireBearerAuth(authProvider, routes.DeleteTunnel))
	mux.Handle("GET /api/tunnels/ws/tunnel", tunnelWS)
	mux.Handle("/r/{route}/{rest...}", forwarder)
	mux.Handle("/r/{route}", forwarder)

	return &Server{cfg: cfg, registry: reg, mux: mux}
}

// Run starts the HTTP server and blocks until it exits.
func (s *Server) Run() error {
	slog.Info("relay server starting", "addr", s.cfg.Addr())
	return http.ListenAndServe(s.cfg.Addr(), s.mux)
}

// Shutdown tears down the registry: closes every session and drains all
// pending requests.
func (s *Server) Shutdown() {
	s.registry.Shutdown()
}
