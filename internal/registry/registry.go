package registry

import (
	"context"
	"encoding/hex"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/routetunnel/relay/internal/wire"
)

// RouteNamePattern is the route identifier grammar: 3-64 chars of
// alphanumerics, underscore, or hyphen.
var RouteNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// RouteRecord is the persisted, read-only-to-the-core view of a route's
// ownership record. The Registry consults a RouteStore for token
// validation and last-connected bookkeeping only; it never mutates a
// record's ownership fields itself.
type RouteRecord struct {
	Route           string
	Token           string
	Description     string
	OwnerUserID     int64
	IsPublic        bool
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastConnectedAt *time.Time
}

// RouteStore is the external persisted-route contract the Registry
// consults during Attach. A nil store (the default) skips persisted
// validation entirely and trusts any token minted via CreateRoute.
type RouteStore interface {
	GetByToken(ctx context.Context, token string) (*RouteRecord, error)
	UpdateLastConnected(ctx context.Context, route string, when time.Time) error
}

// Registry binds routes to live Sessions. It exclusively owns the
// route→Session and token→route indices; everything else is delegated to
// the Session it hands back.
type Registry struct {
	mu           sync.RWMutex
	byRoute      map[string]*Session
	tokenToRoute map[string]string

	store        RouteStore
	pingInterval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Registry. store may be nil, in which case Attach trusts
// any token that matches an in-memory route (useful for tests and for
// deployments with no persisted backing at all).
func New(store RouteStore, pingInterval time.Duration) *Registry {
	r := &Registry{
		byRoute:      make(map[string]*Session),
		tokenToRoute: make(map[string]string),
		store:        store,
		pingInterval: pingInterval,
		stop:         make(chan struct{}),
	}
	go r.pingLoop()
	return r
}

// CreateRoute reserves route, mints a token, and registers a new DETACHED
// session. Fails with KindRouteExists if the route is already registered
// in-memory.
func (r *Registry) CreateRoute(route, description string) (*Session, string, error) {
	if !RouteNamePattern.MatchString(route) {
		return nil, "", newErr(KindMalformed, "route name does not match "+RouteNamePattern.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRoute[route]; exists {
		return nil, "", newErr(KindRouteExists, "route already exists: "+route)
	}
	id := uuid.New()
	token := hex.EncodeToString(id[:])
	session := newSession(route, token, description)
	r.byRoute[route] = session
	r.tokenToRoute[token] = route
	return session, token, nil
}

// GetSession returns the Session for route, or nil if none is registered.
func (r *Registry) GetSession(route string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRoute[route]
}

// ListSessions returns a snapshot of every registered session's state.
func (r *Registry) ListSessions() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byRoute))
	for _, s := range r.byRoute {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.snapshot())
	}
	return snaps
}

// DeleteRoute removes a route's session entirely: closes any live
// connection, drains its pending table with KindDisconnected, and removes
// it from both indices. Returns whether a route was present.
func (r *Registry) DeleteRoute(route string) bool {
	r.mu.Lock()
	session, exists := r.byRoute[route]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.byRoute, route)
	delete(r.tokenToRoute, session.Token)
	r.mu.Unlock()

	session.Close(newErr(KindDisconnected, "route deleted"))
	return true
}

// Attach validates token (against the store, when configured), binds the
// connection to the matching session, and starts its receive loop.
func (r *Registry) Attach(ctx context.Context, token string, conn wire.FrameConn) (*Session, error) {
	if r.store != nil {
		record, err := r.store.GetByToken(ctx, token)
		if err != nil {
			return nil, wrapErr(KindInvalidToken, "validating token against store", err)
		}
		if record == nil {
			return nil, newErr(KindInvalidToken, "token not recognised or inactive")
		}
	}

	r.mu.RLock()
	route, ok := r.tokenToRoute[token]
	r.mu.RUnlock()
	if !ok {
		return nil, newErr(KindInvalidToken, "token not recognised")
	}

	r.mu.RLock()
	session, ok := r.byRoute[route]
	r.mu.RUnlock()
	if !ok {
		return nil, newErr(KindRouteGone, "route was deleted before attach completed: "+route)
	}

	codec := wire.NewCodec(conn)
	session.Attach(codec)

	if r.store != nil {
		_ = r.store.UpdateLastConnected(ctx, route, time.Now())
	}

	go func() {
		loopErr := session.ReceiveLoop()
		if loopErr != nil {
			logSessionError(route, loopErr)
		}
		r.Detach(route, codec, wrapErr(KindDisconnected, "tunnel connection closed", loopErr))
	}()

	return session, nil
}

// Detach marks the session at route as detached, but only if codec is
// still its current connection. Idempotent and a no-op if codec has already
// been superseded by a later Attach (a stale detach racing a reattach must
// never tear down the new connection).
func (r *Registry) Detach(route string, codec *wire.Codec, reason error) {
	r.mu.RLock()
	session, ok := r.byRoute[route]
	r.mu.RUnlock()
	if !ok {
		return
	}
	session.Detach(codec, reason)
}

// SendIngress snapshots the session under the registry lock, then awaits
// the response without holding that lock, per the "no I/O under the index
// lock" rule.
func (r *Registry) SendIngress(ctx context.Context, route string, req *wire.Request, timeout time.Duration) (*wire.Response, error) {
	r.mu.RLock()
	session, ok := r.byRoute[route]
	r.mu.RUnlock()
	if !ok || !session.Connected() {
		return nil, newErr(KindNotConnected, "no attached session for route: "+route)
	}
	return session.SendRequest(ctx, req, timeout)
}

// PingConnected sends a ping to every currently-attached session. A send
// failure is treated as a failed connection: it is closed and the session
// detached with KindTransportError.
func (r *Registry) PingConnected() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byRoute))
	for _, s := range r.byRoute {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		codec, sendErr := s.SendPing()
		if codec == nil {
			continue
		}
		if sendErr != nil {
			slog.Warn("ping failed, detaching session", "route", s.Route, "err", sendErr)
			r.Detach(s.Route, codec, wrapErr(KindTransportError, "ping send failed", sendErr))
		}
	}
}

// pingLoop runs PingConnected every pingInterval until Shutdown.
func (r *Registry) pingLoop() {
	if r.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.PingConnected()
		case <-r.stop:
			return
		}
	}
}

// Shutdown stops the ping loop, closes every session's connection, and
// drains every pending table with KindDisconnected.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byRoute))
	for _, s := range r.byRoute {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(newErr(KindDisconnected, "registry shutting down"))
	}
}
