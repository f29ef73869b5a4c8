package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/routetunnel/relay/internal/wire"
)

// Tunnel manages the agent-side websocket connection to the relay. It never
// initiates a ping itself: the relay is the sole ping initiator, and the
// tunnel client only ever replies with pong.
type Tunnel struct {
	codec     *wire.Codec
	done      chan struct{}
	closeOnce sync.Once
	handler   *RequestHandler
}

// ConnectTunnel establishes a websocket connection to the relay's tunnel
// endpoint, optionally routing through a proxy, authenticating with the
// route's token carried in the query string.
func ConnectTunnel(ctx context.Context, cfg *Config, dialer *ProxyDialer) (*Tunnel, error) {
	wsDialer := websocket.Dialer{}
	if dialer != nil {
		wsDialer.NetDialContext = dialer.DialContext
	}

	url := cfg.Relay.URL + "?token=" + cfg.Relay.Token

	slog.Info("connecting to relay", "url", cfg.Relay.URL, "token", maskToken(cfg.Relay.Token))
	conn, _, err := wsDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialling relay: %w", err)
	}

	slog.Info("connected to relay", "token", maskToken(cfg.Relay.Token))
	return &Tunnel{
		codec:   wire.NewCodec(&wire.WSConn{Conn: conn}),
		done:    make(chan struct{}),
		handler: NewRequestHandler(cfg.Backend.TargetURL),
	}, nil
}

// Run starts processing frames from the relay. Blocks until the tunnel
// closes.
func (t *Tunnel) Run() error {
	return t.readLoop()
}

// Close shuts down the tunnel connection.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
		slog.Info("agent tunnel closed")
	})
}

// Done returns a channel that closes when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// readLoop reads frames from the relay and dispatches them: a ping gets an
// immediate pong, a request is handled against the local backend on its own
// goroutine so a slow backend can't stall delivery of other in-flight
// requests.
func (t *Tunnel) readLoop() error {
	defer t.Close()
	for {
		frame, err := t.codec.ReadFrame()
		if err != nil {
			select {
			case <-t.done:
				return nil
			default:
				return fmt.Errorf("reading frame: %w", err)
			}
		}
		if frame == nil {
			// malformed or unrecognised frame: ignored per wire contract.
			continue
		}

		switch f := frame.(type) {
		case *wire.Ping:
			if err := t.codec.WriteFrame(&wire.Pong{TS: f.TS}); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}
		case *wire.Request:
			go t.handleRequest(f)
		default:
			slog.Warn("unexpected frame type from relay", "frame", fmt.Sprintf("%T", f))
		}
	}
}

// handleRequest executes req against the local backend and writes the
// response frame back through the tunnel.
func (t *Tunnel) handleRequest(req *wire.Request) {
	resp := t.handler.HandleRequest(req)
	if err := t.codec.WriteFrame(resp); err != nil {
		slog.Error("failed to send response frame", "correlation_id", req.CorrelationID, "err", err)
	}
}

// maskToken returns a route token with everything but a short prefix
// redacted, safe to put in log lines that correlate reconnect attempts.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
