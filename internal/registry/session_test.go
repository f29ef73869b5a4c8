package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/routetunnel/relay/internal/wire"
)

// startEchoClient drives the "client" side of a memPipe as if it were a
// tunnel client: it decodes each inbound request frame and immediately
// replies with a 200 response echoing the request body.
func startEchoClient(t *testing.T, clientSide *memPipe) *wire.Codec {
	t.Helper()
	codec := wire.NewCodec(clientSide)
	go func() {
		for {
			frame, err := codec.ReadFrame()
			if err != nil {
				return
			}
			req, ok := frame.(*wire.Request)
			if !ok {
				continue
			}
			resp := &wire.Response{
				CorrelationID: req.CorrelationID,
				StatusCode:    200,
				Headers:       map[string]string{"content-type": "text/plain"},
				BodyB64:       req.BodyB64,
			}
			_ = codec.WriteFrame(resp)
		}
	}()
	return codec
}

func Test_session_send_request_happy_path(t *testing.T) {
	serverSide, clientSide := newMemPipePair()
	startEchoClient(t, clientSide)

	s := newSession("svc", "tok", "")
	s.Attach(wire.NewCodec(serverSide))
	go s.ReceiveLoop()

	body := base64.StdEncoding.EncodeToString([]byte("hi"))
	req := &wire.Request{Method: "GET", Path: "/hello", BodyB64: &body}

	resp, err := s.SendRequest(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("send request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.CorrelationID != req.CorrelationID {
		t.Errorf("correlation id mismatch: got %q want %q", resp.CorrelationID, req.CorrelationID)
	}
}

func Test_session_send_request_not_connected(t *testing.T) {
	s := newSession("svc", "tok", "")
	_, err := s.SendRequest(context.Background(), &wire.Request{}, time.Second)
	var regErr *Error
	if !errors.As(err, &regErr) || regErr.Kind != KindNotConnected {
		t.Fatalf("expected KindNotConnected, got %v", err)
	}
}

func Test_session_send_request_timeout(t *testing.T) {
	serverSide, clientSide := newMemPipePair()
	// client never responds
	go func() {
		codec := wire.NewCodec(clientSide)
		for {
			if _, err := codec.ReadFrame(); err != nil {
				return
			}
		}
	}()

	s := newSession("slow", "tok", "")
	s.Attach(wire.NewCodec(serverSide))
	go s.ReceiveLoop()

	start := time.Now()
	_, err := s.SendRequest(context.Background(), &wire.Request{Method: "GET", Path: "/"}, 100*time.Millisecond)
	elapsed := time.Since(start)

	var regErr *Error
	if !errors.As(err, &regErr) || regErr.Kind != KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("timeout took too long: %v", elapsed)
	}
	if n := s.currentPending().Len(); n != 0 {
		t.Errorf("expected pending table empty after timeout, got %d", n)
	}
}

func Test_session_reattach_supersedes_prior_connection(t *testing.T) {
	serverSideA, clientSideA := newMemPipePair()
	// client A never replies, so its request stays pending until superseded
	go func() {
		codec := wire.NewCodec(clientSideA)
		for {
			if _, err := codec.ReadFrame(); err != nil {
				return
			}
		}
	}()

	s := newSession("svc", "tok", "")
	s.Attach(wire.NewCodec(serverSideA))
	go s.ReceiveLoop()

	resultCh := make(chan error, 1)
	go func() {
		_, err := s.SendRequest(context.Background(), &wire.Request{Method: "GET", Path: "/"}, 5*time.Second)
		resultCh <- err
	}()

	// give the request time to register in the pending table
	time.Sleep(50 * time.Millisecond)

	serverSideB, clientSideB := newMemPipePair()
	startEchoClient(t, clientSideB)
	s.Attach(wire.NewCodec(serverSideB))
	go s.ReceiveLoop()

	select {
	case err := <-resultCh:
		var regErr *Error
		if !errors.As(err, &regErr) || regErr.Kind != KindSuperseded {
			t.Fatalf("expected KindSuperseded, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for superseded result")
	}

	// a subsequent request should now route to client B successfully
	resp, err := s.SendRequest(context.Background(), &wire.Request{Method: "GET", Path: "/"}, time.Second)
	if err != nil {
		t.Fatalf("expected request to client B to succeed, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200 from client B, got %d", resp.StatusCode)
	}
}

func Test_session_detach_drains_pending_with_disconnected(t *testing.T) {
	serverSide, clientSide := newMemPipePair()
	go func() {
		codec := wire.NewCodec(clientSide)
		for {
			if _, err := codec.ReadFrame(); err != nil {
				return
			}
		}
	}()

	s := newSession("svc", "tok", "")
	codec := wire.NewCodec(serverSide)
	s.Attach(codec)
	go s.ReceiveLoop()

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := s.SendRequest(context.Background(), &wire.Request{Method: "GET", Path: "/"}, 5*time.Second)
			results <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)

	s.Detach(codec, newErr(KindDisconnected, "test detach"))

	for i := 0; i < n; i++ {
		select {
		case err := <-results:
			var regErr *Error
			if !errors.As(err, &regErr) || regErr.Kind != KindDisconnected {
				t.Fatalf("expected KindDisconnected, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for detach to resolve pending request")
		}
	}
}

// Test_session_send_request_survives_concurrent_reattach stresses
// SendRequest racing Attach: codec and pending must always be read as the
// pair Attach last installed together, never a stale codec matched with a
// fresher pending table (which would insert a correlation id nothing will
// ever complete, leaking it until the sweep's timeout).
func Test_session_send_request_survives_concurrent_reattach(t *testing.T) {
	s := newSession("svc", "tok", "")

	var wg sync.WaitGroup
	const rounds = 20
	for i := 0; i < rounds; i++ {
		serverSide, clientSide := newMemPipePair()
		startEchoClient(t, clientSide)
		s.Attach(wire.NewCodec(serverSide))
		go s.ReceiveLoop()

		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.SendRequest(context.Background(), &wire.Request{Method: "GET", Path: "/"}, 200*time.Millisecond)
			}()
		}
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.currentPending().Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected pending table to drain, got %d entries still pending", s.currentPending().Len())
}

func Test_session_detach_is_noop_for_superseded_codec(t *testing.T) {
	serverSideA, clientSideA := newMemPipePair()
	go func() {
		codec := wire.NewCodec(clientSideA)
		for {
			if _, err := codec.ReadFrame(); err != nil {
				return
			}
		}
	}()

	s := newSession("svc", "tok", "")
	staleCodec := wire.NewCodec(serverSideA)
	s.Attach(staleCodec)
	go s.ReceiveLoop()

	serverSideB, clientSideB := newMemPipePair()
	startEchoClient(t, clientSideB)
	s.Attach(wire.NewCodec(serverSideB))
	go s.ReceiveLoop()

	if !s.Connected() {
		t.Fatal("expected session to remain connected after reattach")
	}

	// a stale detach from the superseded connection A's own receive loop
	// must not tear down connection B.
	s.Detach(staleCodec, newErr(KindDisconnected, "stale connection closed"))

	if !s.Connected() {
		t.Fatal("expected stale detach to be a no-op, but session was disconnected")
	}

	resp, err := s.SendRequest(context.Background(), &wire.Request{Method: "GET", Path: "/"}, time.Second)
	if err != nil {
		t.Fatalf("expected request to still route to connection B, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected 200 from connection B, got %d", resp.StatusCode)
	}
}
