package wire

import (
	"testing"
)

func strptr(s string) *string { return &s }

func Test_encode_decode_request_round_trip(t *testing.T) {
	original := &Request{
		CorrelationID: "abc123",
		Method:        "GET",
		Path:          "/hello",
		Query:         map[string][]string{"x": {"1", "2"}},
		Headers:       map[string]string{"accept": "text/plain"},
		BodyB64:       nil,
	}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	req, ok := decoded.(*Request)
	if !ok {
		t.Fatalf("expected *Request, got %T", decoded)
	}
	if req.CorrelationID != original.CorrelationID {
		t.Errorf("correlation id mismatch: got %q, want %q", req.CorrelationID, original.CorrelationID)
	}
	if req.Path != original.Path {
		t.Errorf("path mismatch: got %q, want %q", req.Path, original.Path)
	}
	if len(req.Query["x"]) != 2 || req.Query["x"][0] != "1" || req.Query["x"][1] != "2" {
		t.Errorf("query mismatch: got %v", req.Query)
	}
}

func Test_encode_decode_response_round_trip(t *testing.T) {
	original := &Response{
		CorrelationID: "xyz",
		StatusCode:    200,
		Headers:       map[string]string{"content-type": "text/plain"},
		BodyB64:       strptr("aGk="),
	}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	resp, ok := decoded.(*Response)
	if !ok {
		t.Fatalf("expected *Response, got %T", decoded)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status mismatch: got %d", resp.StatusCode)
	}
	if resp.BodyB64 == nil || *resp.BodyB64 != "aGk=" {
		t.Errorf("body mismatch: got %v", resp.BodyB64)
	}
}

func Test_decode_unknown_type_is_ignored(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"handshake","whatever":1}`))
	if err != nil {
		t.Fatalf("expected no error for unknown type, got %v", err)
	}
	if decoded != nil {
		t.Fatalf("expected nil for unknown type, got %#v", decoded)
	}
}

func Test_decode_malformed_is_ignored(t *testing.T) {
	cases := [][]byte{
		[]byte("not json at all"),
		[]byte(`{}`),
		[]byte(`{"type":"request","correlation_id":123}`), // wrong type for correlation_id
	}
	for _, c := range cases {
		decoded, err := Decode(c)
		if err != nil {
			t.Errorf("expected nil error for %q, got %v", c, err)
		}
		if decoded != nil {
			t.Errorf("expected nil frame for %q, got %#v", c, decoded)
		}
	}
}

func Test_ping_pong_round_trip(t *testing.T) {
	data, err := Encode(&Ping{TS: 123.5})
	if err != nil {
		t.Fatalf("encode ping failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode ping failed: %v", err)
	}
	ping, ok := decoded.(*Ping)
	if !ok {
		t.Fatalf("expected *Ping, got %T", decoded)
	}
	if ping.TS != 123.5 {
		t.Errorf("ts mismatch: got %v", ping.TS)
	}

	data, err = Encode(&Pong{TS: 123.5})
	if err != nil {
		t.Fatalf("encode pong failed: %v", err)
	}
	decoded, err = Decode(data)
	if err != nil {
		t.Fatalf("decode pong failed: %v", err)
	}
	if _, ok := decoded.(*Pong); !ok {
		t.Fatalf("expected *Pong, got %T", decoded)
	}
}
