// Package ingress translates public HTTP traffic aimed at /r/{route}/...
// into tunnel wire requests and the wire responses back into HTTP
// responses.
package ingress

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/routetunnel/relay/internal/registry"
	"github.com/routetunnel/relay/internal/wire"
)

// hopByHopHeaders describe the edge hop, not the origin request, and are
// always stripped in both directions.
var hopByHopHeaders = map[string]struct{}{
	"transfer-encoding":   {},
	"upgrade":             {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
}

// Sender is the subset of Registry the forwarder depends on, so it can be
// exercised in tests without a real Registry.
type Sender interface {
	SendIngress(ctx context.Context, route string, req *wire.Request, timeout time.Duration) (*wire.Response, error)
}

// Forwarder is the net/http.Handler mounted under /r/{route}/... that
// forwards requests through the tunnel registry.
type Forwarder struct {
	registry Sender
	timeout  time.Duration
}

// New creates a Forwarder that forwards through reg with the given
// per-request timeout.
func New(reg Sender, timeout time.Duration) *Forwarder {
	return &Forwarder{registry: reg, timeout: timeout}
}

// ServeHTTP expects to be mounted so that r.PathValue("route") and
// r.PathValue("rest") are already populated (Go 1.22+ ServeMux patterns,
// e.g. "/r/{route}/{rest...}").
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.PathValue("route")
	rest := r.PathValue("rest")

	req, err := buildRequest(r, rest)
	if err != nil {
		slog.Error("failed to build tunnel request", "route", route, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp, err := f.registry.SendIngress(r.Context(), route, req, f.timeout)
	if err != nil {
		writeFailure(w, err)
		return
	}

	if err := writeResponse(w, resp); err != nil {
		slog.Error("failed to render tunnel response", "route", route, "err", err)
		http.Error(w, "invalid response from tunnel", http.StatusBadGateway)
	}
}

// buildRequest converts an inbound HTTP request into a wire.Request. The
// correlation id is left empty: the Session assigns it, never the caller.
func buildRequest(r *http.Request, rest string) (*wire.Request, error) {
	var bodyBytes []byte
	if r.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		r.Body.Close()
	}

	path := "/"
	if rest != "" {
		path = "/" + rest
	}

	query := make(map[string][]string, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		query[key] = append([]string(nil), values...)
	}

	headers := lowerCaseHeaders(r.Header)
	delete(headers, "host")
	delete(headers, "connection")
	stripHopByHop(headers)

	var bodyB64 *string
	if len(bodyBytes) > 0 {
		encoded := base64.StdEncoding.EncodeToString(bodyBytes)
		bodyB64 = &encoded
	}

	return &wire.Request{
		Method:  r.Method,
		Path:    path,
		Query:   query,
		Headers: headers,
		BodyB64: bodyB64,
	}, nil
}

// lowerCaseHeaders flattens an http.Header into a single string per key,
// lower-cased, joining repeated values with ", " in first-seen order.
func lowerCaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}

func stripHopByHop(headers map[string]string) {
	for name := range hopByHopHeaders {
		delete(headers, name)
	}
}

// writeResponse renders a wire.Response onto the http.ResponseWriter.
func writeResponse(w http.ResponseWriter, resp *wire.Response) error {
	headers := map[string]string{}
	for k, v := range resp.Headers {
		headers[k] = v
	}
	stripHopByHop(headers)

	for k, v := range headers {
		w.Header().Set(k, v)
	}

	var body []byte
	if resp.BodyB64 != nil && *resp.BodyB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(*resp.BodyB64)
		if err != nil {
			return err
		}
		body = decoded
	}

	w.WriteHeader(resp.StatusCode)
	if len(body) > 0 {
		_, err := w.Write(body)
		return err
	}
	return nil
}

// writeFailure maps a registry error kind to the corresponding public HTTP
// failure, per the forwarder's error taxonomy.
func writeFailure(w http.ResponseWriter, err error) {
	var regErr *registry.Error
	if errors.As(err, &regErr) {
		switch regErr.Kind {
		case registry.KindNotConnected:
			http.Error(w, "Tunnel not connected", http.StatusBadGateway)
			return
		case registry.KindTimeout:
			http.Error(w, "Tunnel timeout", http.StatusGatewayTimeout)
			return
		case registry.KindTransportError, registry.KindDisconnected, registry.KindSuperseded:
			http.Error(w, "Tunnel connection error", http.StatusBadGateway)
			return
		}
	}
	http.Error(w, "Tunnel error", http.StatusBadGateway)
}
