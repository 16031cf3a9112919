// Package client talks to the platform services payments depend on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/pkg/httpclient"
	"github.com/utafrali/commerce-core/pkg/logger"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

const orderServiceName = "order"

// CircuitOpenFallback answers for the order service while its breaker is open.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("order service is temporarily unavailable, please retry later")
}

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// OrderClient reads orders from the order service and advances their status.
type OrderClient struct {
	httpClient HTTPDoer
	baseURL    string
	logger     *slog.Logger
}

// NewOrderClient creates a client for the order service at baseURL.
func NewOrderClient(httpClient HTTPDoer, baseURL string, logger *slog.Logger) *OrderClient {
	return &OrderClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

type orderEnvelope struct {
	Data *domain.Order `json:"data"`
}

// GetOrder fetches an order. An unknown order is a NotFound error.
func (c *OrderClient) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.orderURL(orderID), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create get order request: %w", err)
	}
	c.propagate(ctx, httpReq)

	resp, err := c.httpClient.Do(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("call order service: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, apperrors.NotFound("order", orderID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httpclient.ParseResponseError(resp, orderServiceName)
	}
	defer func() { _ = resp.Body.Close() }()

	var env orderEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if env.Data == nil {
		return nil, apperrors.NotFound("order", orderID)
	}
	return env.Data, nil
}

// UpdateStatus moves an order to status.
func (c *OrderClient) UpdateStatus(ctx context.Context, orderID, status string) error {
	body, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return fmt.Errorf("marshal order status request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.orderURL(orderID)+"/status", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create order status request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.propagate(ctx, httpReq)

	resp, err := c.httpClient.Do(ctx, httpReq)
	if err != nil {
		return fmt.Errorf("call order service: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return httpclient.ParseResponseError(resp, orderServiceName)
	}
	_ = resp.Body.Close()

	c.logger.InfoContext(ctx, "order status updated",
		slog.String("order_id", orderID),
		slog.String("status", status),
	)
	return nil
}

func (c *OrderClient) orderURL(orderID string) string {
	return c.baseURL + "/api/v1/orders/" + url.PathEscape(orderID)
}

func (c *OrderClient) propagate(ctx context.Context, req *http.Request) {
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}
}
