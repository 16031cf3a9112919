package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/pkg/httpclient"
)

const maxGatewayResponseBytes = 1 << 20

// ErrOutcomeUnknown marks a gateway failure that happened after the request
// may have reached the gateway, so the operation may still have taken effect.
var ErrOutcomeUnknown = errors.New("gateway outcome unknown")

func outcomeUnknown(err error) error {
	return fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
}

// neverSent reports whether err proves the request did not leave this
// process: the breaker refused it or no connection was made.
func neverSent(err error) bool {
	if errors.Is(err, httpclient.ErrCircuitOpen) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// HTTPDoer executes HTTP requests. httpclient.Client and
// httpclient.CircuitBreakerClient both satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// StatusError is a 4xx answer from a gateway.
type StatusError struct {
	Gateway string
	Status  int
	Body    []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Gateway, e.Status, strings.TrimSpace(string(e.Body)))
}

// GatewayClient sends authenticated JSON requests to a gateway API.
type GatewayClient struct {
	name    string
	baseURL string
	apiKey  string
	doer    HTTPDoer
}

// NewGatewayClient creates a client for the gateway at baseURL.
func NewGatewayClient(name, baseURL, apiKey string, doer HTTPDoer) *GatewayClient {
	return &GatewayClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		doer:    doer,
	}
}

// Call sends in as JSON and decodes a 2xx answer into out. It returns the raw
// answer so callers can keep it as the gateway response. Transport failures,
// 5xx answers and an open circuit become GatewayUnavailable, wrapping
// ErrOutcomeUnknown unless the request provably never left; 4xx answers are
// returned as *StatusError together with the raw body.
func (g *GatewayClient) Call(ctx context.Context, method, path string, in, out any) (json.RawMessage, error) {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", g.name, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", g.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.doer.Do(ctx, req)
	if err != nil {
		if !neverSent(err) {
			err = outcomeUnknown(err)
		}
		return nil, apperrors.GatewayUnavailable(g.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayResponseBytes))
	if err != nil {
		return nil, apperrors.GatewayUnavailable(g.name, outcomeUnknown(fmt.Errorf("read response: %w", err)))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, apperrors.GatewayUnavailable(g.name, outcomeUnknown(fmt.Errorf("status %d", resp.StatusCode)))
	case resp.StatusCode >= http.StatusBadRequest:
		return raw, &StatusError{Gateway: g.name, Status: resp.StatusCode, Body: raw}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, apperrors.GatewayUnavailable(g.name, outcomeUnknown(fmt.Errorf("decode response: %w", err)))
		}
	}
	return raw, nil
}
