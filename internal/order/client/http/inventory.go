// Package httpclient talks to the inventory service over its HTTP API.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/internal/order/service"
	"github.com/Nobert1/event-driven-systems/platform/observability"
)

// InventoryClient implements service.InventoryClient against GET /find/{item_id}.
type InventoryClient struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

func NewInventoryClient(logger *zap.Logger, baseURL string, timeout time.Duration) *InventoryClient {
	return &InventoryClient{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  observability.NewHTTPClient("order", timeout),
	}
}

type itemResponse struct {
	Stock int64 `json:"stock"`
	Price int64 `json:"price"`
}

func (c *InventoryClient) ItemPrice(ctx context.Context, itemID string) (int64, error) {
	endpoint := fmt.Sprintf("%s/find/%s", c.baseURL, url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", service.ErrInventoryUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, service.ErrItemNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", service.ErrInventoryUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var item itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", service.ErrInventoryUnavailable, err)
	}
	c.logger.Debug("item priced", zap.String("item_id", itemID), zap.Int64("price", item.Price))
	return item.Price, nil
}
