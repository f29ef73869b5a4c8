package management

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/routetunnel/relay/internal/registry"
	"github.com/routetunnel/relay/internal/wire"
)

const (
	closeMissingToken = 4401
	closeInvalidToken = 4403
	closeUnknownRoute = 4404
)

// TunnelWS upgrades GET /api/tunnels/ws/tunnel?token=... into the
// bidirectional frame channel a tunnel client speaks. It authenticates via
// the route token in the query string, not the bearer JWT used by the rest
// of the management surface.
type TunnelWS struct {
	registry *registry.Registry
	upgrader websocket.Upgrader
}

// NewTunnelWS creates a TunnelWS handler bound to reg.
func NewTunnelWS(reg *registry.Registry) *TunnelWS {
	return &TunnelWS{
		registry: reg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (t *TunnelWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	if token == "" {
		t.closeWith(conn, closeMissingToken, "missing token")
		return
	}

	session, err := t.registry.Attach(r.Context(), token, &wire.WSConn{Conn: conn})
	if err != nil {
		code := closeInvalidToken
		var regErr *registry.Error
		if errors.As(err, &regErr) && regErr.Kind == registry.KindRouteGone {
			code = closeUnknownRoute
		}
		t.closeWith(conn, code, err.Error())
		return
	}

	slog.Info("tunnel attached", "route", session.Route, "remote", r.RemoteAddr)
}

// closeWith sends a WS close control frame with the given code/reason and
// closes the underlying connection. All rejection paths (missing token,
// invalid token, unknown route) go through here so they behave uniformly:
// the handshake always completes first, then the specific failure is
// reported as a close code rather than an HTTP status.
func (t *TunnelWS) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	conn.Close()
}
