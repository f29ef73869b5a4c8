package agent

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/routetunnel/relay/internal/wire"
)

// RequestHandler processes tunnelled requests against the local backend.
type RequestHandler struct {
	targetURL string
	client    *http.Client
}

// NewRequestHandler creates a handler targeting the given backend url.
func NewRequestHandler(targetURL string) *RequestHandler {
	return &RequestHandler{
		targetURL: targetURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HandleRequest executes a wire.Request against the backend and returns the
// wire.Response to send back. Backend failures are folded into a 502
// response rather than returned as a Go error: the tunnel must always reply
// with something for the caller's correlation id.
func (h *RequestHandler) HandleRequest(req *wire.Request) *wire.Response {
	resp, err := h.forward(req)
	if err != nil {
		slog.Error("failed to handle request", "correlation_id", req.CorrelationID, "err", err)
		return errorResponse(req.CorrelationID, 502, "backend error: "+err.Error())
	}
	return resp
}

func (h *RequestHandler) forward(req *wire.Request) (*wire.Response, error) {
	backendURL := h.targetURL + req.Path
	if len(req.Query) > 0 {
		values := url.Values{}
		for k, vs := range req.Query {
			for _, v := range vs {
				values.Add(k, v)
			}
		}
		backendURL += "?" + values.Encode()
	}
	slog.Debug("forwarding request to backend", "method", req.Method, "url", backendURL)

	var bodyReader io.Reader
	if req.BodyB64 != nil && *req.BodyB64 != "" {
		body, err := base64.StdEncoding.DecodeString(*req.BodyB64)
		if err != nil {
			return nil, fmt.Errorf("decoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequest(req.Method, backendURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating backend request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	// override host to match the backend
	httpReq.Host = httpReq.URL.Host

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing backend request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = strings.Join(v, ", ")
		}
	}

	var bodyB64 *string
	if len(respBody) > 0 {
		encoded := base64.StdEncoding.EncodeToString(respBody)
		bodyB64 = &encoded
	}

	return &wire.Response{
		CorrelationID: req.CorrelationID,
		StatusCode:    resp.StatusCode,
		Headers:       headers,
		BodyB64:       bodyB64,
	}, nil
}

// errorResponse builds a wire.Response carrying a plain-text error body.
func errorResponse(correlationID string, status int, message string) *wire.Response {
	body := base64.StdEncoding.EncodeToString([]byte(message))
	return &wire.Response{
		CorrelationID: correlationID,
		StatusCode:    status,
		Headers:       map[string]string{"content-type": "text/plain"},
		BodyB64:       &body,
	}
}
