package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/routetunnel/relay/internal/wire"
)

// sweepInterval bounds how long a timed-out pending request can linger
// before ExpireDue notices it; the testable property requires the table to
// be empty within ~100ms of the deadline.
const sweepInterval = 25 * time.Millisecond

// Session is the runtime binding of one Route to an attached bidirectional
// connection. The Registry owns the Session map; a Session exclusively
// owns its correlation table and connection handle.
type Session struct {
	Route       string
	Token       string
	Description string
	CreatedAt   time.Time

	mu        sync.Mutex
	codec     *wire.Codec
	connected bool
	lastSeen  time.Time

	pending   *pendingTable
	closeOnce sync.Once
	done      chan struct{}
	sweepOnce sync.Once
}

// newSession creates a DETACHED session for route/token. It is attached by
// the Registry once a connector presents a valid token.
func newSession(route, token, description string) *Session {
	return &Session{
		Route:       route,
		Token:       token,
		Description: description,
		CreatedAt:   time.Now(),
		pending:     newPendingTable(),
		done:        make(chan struct{}),
	}
}

// Attach binds a new connection to the session, closing and draining any
// previous connection with KindSuperseded first. Safe to call repeatedly
// across reconnects.
func (s *Session) Attach(codec *wire.Codec) {
	s.mu.Lock()
	prev := s.codec
	prevPending := s.pending
	s.codec = codec
	s.pending = newPendingTable()
	s.connected = true
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
		prevPending.DrainAll(newErr(KindSuperseded, "session re-attached by a new connection"))
	}

	s.sweepOnce.Do(func() { go s.sweepLoop() })
}

// Detach marks the session as no-longer-connected, but only if codec is
// still its current connection. It is idempotent and a no-op when codec has
// already been superseded by a later Attach: a stale receive-loop goroutine
// detaching after its connection errored out must never tear down the
// newer connection that has since taken over.
func (s *Session) Detach(codec *wire.Codec, reason error) {
	s.mu.Lock()
	if s.codec != codec {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.codec = nil
	s.connected = false
	s.lastSeen = time.Now()
	s.mu.Unlock()

	codec.Close()
	pending.DrainAll(reason)
}

// Close tears the session down permanently regardless of which connection
// is current: detaches unconditionally and stops the sweep loop. Used on
// route deletion and registry shutdown.
func (s *Session) Close(reason error) {
	s.mu.Lock()
	codec := s.codec
	pending := s.pending
	s.codec = nil
	s.connected = false
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if codec != nil {
		codec.Close()
	}
	pending.DrainAll(reason)
	s.closeOnce.Do(func() { close(s.done) })
}

// Connected reports whether the session currently has a live connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastSeen returns the last time any inbound frame (or attach) was observed.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// currentPending returns the pending table for whichever connection is
// current, synchronized against Attach's swap.
func (s *Session) currentPending() *pendingTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// touchLastSeen bumps last_seen monotonically forward.
func (s *Session) touchLastSeen() {
	s.mu.Lock()
	now := time.Now()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.mu.Unlock()
}

// SendPing writes a ping frame on the current connection, if any, and
// returns that codec alongside any write error. The caller must detach
// using this specific codec (not just the session) so a ping failure never
// detaches a connection that has since been superseded by a reattach.
func (s *Session) SendPing() (*wire.Codec, error) {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	if codec == nil {
		return nil, nil
	}
	return codec, codec.WriteFrame(&wire.Ping{TS: float64(time.Now().UnixNano()) / 1e9})
}

// SendRequest allocates a correlation id, registers a pending sink,
// writes the request frame, and awaits either the matching response, ctx
// cancellation, or the timeout deadline.
func (s *Session) SendRequest(ctx context.Context, req *wire.Request, timeout time.Duration) (*wire.Response, error) {
	s.mu.Lock()
	codec := s.codec
	pending := s.pending
	s.mu.Unlock()
	if codec == nil {
		return nil, newErr(KindNotConnected, "session has no attached connection")
	}

	id := uuid.New()
	cid := hex.EncodeToString(id[:])
	req.CorrelationID = cid

	deadline := time.Now().Add(timeout)
	sink, err := pending.Insert(cid, deadline)
	if err != nil {
		return nil, err
	}

	if err := codec.WriteFrame(req); err != nil {
		pending.Remove(cid)
		return nil, wrapErr(KindTransportError, "writing request frame", err)
	}

	select {
	case res := <-sink:
		if res.err != nil {
			return nil, res.err
		}
		return res.response, nil
	case <-ctx.Done():
		pending.Remove(cid)
		return nil, wrapErr(KindDisconnected, "ingress caller cancelled", ctx.Err())
	}
}

// OnFrame dispatches a decoded inbound frame: response frames complete the
// matching pending sink, pong frames update liveness. Any other frame type
// (ping, request) is ignored.
func (s *Session) OnFrame(frame any) {
	s.touchLastSeen()
	switch f := frame.(type) {
	case *wire.Response:
		s.currentPending().Complete(f.CorrelationID, f)
	case *wire.Pong:
		// last_seen already bumped above; nothing else to do.
	}
}

// ReceiveLoop reads frames from the current connection until it errors or
// closes, dispatching each to OnFrame. Runs on the Session's own goroutine,
// started by the Registry after Attach.
func (s *Session) ReceiveLoop() error {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	if codec == nil {
		return fmt.Errorf("receive loop started on a detached session")
	}

	for {
		frame, err := codec.ReadFrame()
		if err != nil {
			return err
		}
		if frame == nil {
			// malformed or unrecognised frame: ignored per wire contract.
			continue
		}
		s.OnFrame(frame)
	}
}

// sweepLoop periodically expires due pending entries so a timed-out
// ingress caller doesn't wait on SendRequest's ctx path alone.
func (s *Session) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.currentPending().ExpireDue(time.Now())
		case <-s.done:
			return
		}
	}
}

// Snapshot is an immutable view of a Session's state for listing.
type Snapshot struct {
	Route       string
	Description string
	CreatedAt   time.Time
	LastSeen    *time.Time
	Connected   bool
}

// Snapshot returns an immutable view of the session's current state.
func (s *Session) Snapshot() Snapshot {
	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Route:       s.Route,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
		Connected:   s.connected,
	}
	if !s.lastSeen.IsZero() {
		ls := s.lastSeen
		snap.LastSeen = &ls
	}
	return snap
}

func logSessionError(route string, err error) {
	slog.Warn("session receive loop ended", "route", route, "err", err)
}
