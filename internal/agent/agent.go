package agent

import (
	"context"
	"log/slog"
	"time"
)

// Agent manages the lifecycle of the tunnel connection to the relay,
// including proxy verification and automatic reconnection.
type Agent struct {
	cfg    *Config
	dialer *ProxyDialer
}

// New creates a new agent from the given configuration.
func New(cfg *Config) (*Agent, error) {
	var dialer *ProxyDialer
	if cfg.Proxy.URL != "" {
		var err error
		dialer, err = NewProxyDialer(cfg.Proxy.URL, cfg.Proxy.HealthTimeout)
		if err != nil {
			return nil, err
		}
	}
	return &Agent{cfg: cfg, dialer: dialer}, nil
}

// Run starts the agent. it verifies proxy routing, then enters the
// reconnect loop. blocks until the context is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if a.dialer != nil && a.cfg.Proxy.VerifyRouting {
		slog.Info("verifying proxy routing before connecting")
		if err := a.verifyProxy(ctx); err != nil {
			return err
		}
	}

	return a.reconnectLoop(ctx)
}

// verifyProxy checks that traffic is properly routed through the proxy.
func (a *Agent) verifyProxy(ctx context.Context) error {
	verifier := NewVerifier(a.dialer, a.cfg.Proxy.HealthTimeout)
	return verifier.VerifyRouting(ctx)
}

// reconnectLoop continuously attempts to attach the tunnel and maintain it.
// Every attempt presents the same route token, so the relay sees each
// reconnect as a reattach that supersedes the session's prior connection
// rather than a brand new route; the attempt count and masked token are
// logged together so operators can line up a reconnect burst here with the
// corresponding supersede events on the relay side.
func (a *Agent) reconnectLoop(ctx context.Context) error {
	delay := a.cfg.Tunnel.ReconnectDelay
	attempt := 0
	for {
		attempt++
		err := a.runTunnel(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("tunnel disconnected, reconnecting",
			"err", err, "delay", delay, "attempt", attempt, "token", maskToken(a.cfg.Relay.Token))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		// exponential backoff
		delay = delay * 2
		if delay > a.cfg.Tunnel.MaxReconnectDelay {
			delay = a.cfg.Tunnel.MaxReconnectDelay
		}
	}
}

// runTunnel connects to the relay and processes frames until disconnection.
func (a *Agent) runTunnel(ctx context.Context) error {
	tunnel, err := ConnectTunnel(ctx, a.cfg, a.dialer)
	if err != nil {
		return err
	}
	defer tunnel.Close()

	// start periodic proxy health checks if configured
	var stopCheck func()
	var checkFailed <-chan error
	if a.dialer != nil && a.cfg.Proxy.RecheckInterval > 0 {
		verifier := NewVerifier(a.dialer, a.cfg.Proxy.HealthTimeout)
		stopCheck, checkFailed = StartPeriodicCheck(verifier, a.cfg.Proxy.RecheckInterval)
		defer stopCheck()
	}

	// run tunnel in a goroutine
	tunnelErr := make(chan error, 1)
	go func() {
		tunnelErr <- tunnel.Run()
	}()

	// wait for tunnel error, health check failure, or context cancellation
	select {
	case err := <-tunnelErr:
		return err
	case err := <-checkFailed:
		slog.Error("proxy health check failed, closing tunnel", "err", err)
		tunnel.Close()
		return err
	case <-ctx.Done():
		tunnel.Close()
		return ctx.Err()
	}
}
