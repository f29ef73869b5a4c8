package management

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/routetunnel/relay/internal/registry"
)

func Test_tunnel_ws_closes_4401_on_missing_token(t *testing.T) {
	reg := registry.New(nil, time.Hour)
	defer reg.Shutdown()
	ts := httptest.NewServer(NewTunnelWS(reg))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a websocket close error, got %v", err)
	}
	if closeErr.Code != closeMissingToken {
		t.Errorf("expected close code %d, got %d", closeMissingToken, closeErr.Code)
	}
}

func Test_tunnel_ws_closes_4403_on_invalid_token(t *testing.T) {
	reg := registry.New(nil, time.Hour)
	defer reg.Shutdown()
	ts := httptest.NewServer(NewTunnelWS(reg))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=bogus"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a websocket close error, got %v", err)
	}
	if closeErr.Code != closeInvalidToken {
		t.Errorf("expected close code %d, got %d", closeInvalidToken, closeErr.Code)
	}
}

func Test_tunnel_ws_attaches_with_valid_token(t *testing.T) {
	reg := registry.New(nil, time.Hour)
	defer reg.Shutdown()
	_, token, err := reg.CreateRoute("svc", "")
	if err != nil {
		t.Fatalf("create route failed: %v", err)
	}

	ts := httptest.NewServer(NewTunnelWS(reg))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	if session := reg.GetSession("svc"); session == nil || !session.Connected() {
		t.Fatal("expected session to be connected after successful attach")
	}
}
