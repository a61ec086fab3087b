package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dcarapic/hotmeals-sub000/internal/metrics"
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	"github.com/dcarapic/hotmeals-sub000/internal/patterns"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const serviceName = "ordering-client"

// API paths
const (
	PlaceOrderPath     = "/api/customer/orders"
	OrderStatusPath    = "/api/orders/%s/status"
	RestaurantMenuPath = "/api/restaurants/%s/menu"
)

// Config holds the settings of the platform API client
type Config struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	PlaceTimeout time.Duration
	BulkheadSize int
}

// Client calls the platform REST API. Every call goes through a bulkhead
// and a circuit breaker and honours the caller's context.
type Client struct {
	http         *resty.Client
	circuit      *patterns.CircuitBreakerWrapper
	bulkhead     *patterns.Bulkhead
	timeout      time.Duration
	placeTimeout time.Duration
}

// New creates a Client for cfg
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = patterns.DefaultTimeout
	}
	if cfg.PlaceTimeout <= 0 {
		cfg.PlaceTimeout = patterns.SlowServiceTimeout
	}
	if cfg.BulkheadSize <= 0 {
		cfg.BulkheadSize = 10
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0) // No automatic retries: placing an order is not idempotent
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader("X-Request-ID", uuid.NewString())
		return nil
	})

	return &Client{
		http:         httpClient,
		circuit:      patterns.NewCircuitBreaker("PlatformAPI", serviceName, countsAsSuccess),
		bulkhead:     patterns.NewBulkhead(cfg.BulkheadSize, "platform-api", serviceName),
		timeout:      cfg.Timeout,
		placeTimeout: cfg.PlaceTimeout,
	}
}

// CircuitState returns the state of the API circuit breaker
func (c *Client) CircuitState() string {
	return c.circuit.GetState()
}

// PlaceOrder sends a new order to the server. It is not idempotent.
func (c *Client) PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (*models.PlacedOrder, error) {
	var out models.OrderResponse
	err := c.do(ctx, "place_order", c.placeTimeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).Post(PlaceOrderPath)
	})
	if err != nil {
		return nil, err
	}
	return orderFrom(&out)
}

// UpdateOrderStatus requests a status transition for an order
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.PlacedOrder, error) {
	if !status.IsValid() {
		return nil, NewValidationError(fmt.Sprintf("unknown order status %q", status))
	}
	if orderID == "" {
		return nil, NewValidationError("order id is required")
	}

	var out models.OrderResponse
	path := fmt.Sprintf(OrderStatusPath, url.PathEscape(orderID))
	err := c.do(ctx, "update_order_status", c.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(models.UpdateStatusRequest{Status: status}).Put(path)
	})
	if err != nil {
		return nil, err
	}
	return orderFrom(&out)
}

// orderFrom rejects a successful response that carries no order
func orderFrom(out *models.OrderResponse) (*models.PlacedOrder, error) {
	if out.Order.OrderID == "" {
		log.Warn("Platform API returned an order without id")
		return nil, fmt.Errorf("%w: order has no id", ErrMalformedResponse)
	}
	if !out.Order.CurrentStatus.IsValid() {
		log.WithField("order_id", out.Order.OrderID).Warn("Platform API returned an order with unknown status")
		return nil, fmt.Errorf("%w: order %s has unknown status %q", ErrMalformedResponse, out.Order.OrderID, out.Order.CurrentStatus)
	}
	return &out.Order, nil
}

// FetchMenuItems lists the menu of a restaurant
func (c *Client) FetchMenuItems(ctx context.Context, restaurantID string) ([]models.MenuItemReference, error) {
	var out models.MenuResponse
	path := fmt.Sprintf(RestaurantMenuPath, url.PathEscape(restaurantID))
	err := c.do(ctx, "fetch_menu_items", c.timeout, &out, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(path)
	})
	if err != nil {
		return nil, err
	}

	for i := range out.MenuItems {
		if out.MenuItems[i].RestaurantID == "" {
			out.MenuItems[i].RestaurantID = restaurantID
		}
	}
	return out.MenuItems, nil
}

// do executes send with bulkhead, circuit breaker and timeout, then decodes
// a successful body into out.
func (c *Client) do(ctx context.Context, operation string, timeout time.Duration, out interface{}, send func(*resty.Request) (*resty.Response, error)) error {
	reqCtx, cancel := patterns.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.bulkhead.Execute(reqCtx, func() error {
		_, cbErr := c.circuit.Execute(func() (interface{}, error) {
			resp, httpErr := send(c.http.R().SetContext(reqCtx))
			if httpErr != nil {
				return nil, fmt.Errorf("HTTP error: %w", httpErr)
			}

			if !resp.IsSuccess() {
				return nil, statusError(resp)
			}

			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			return nil, nil
		})
		return cbErr
	})
	metrics.APIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	err = classify(ctx, err)
	outcome := "success"
	if err != nil {
		outcome = "defect"
		if category, ok := CategoryOf(err); ok {
			outcome = string(category)
		}
	}
	metrics.APIRequestsTotal.WithLabelValues(operation, outcome).Inc()

	if err != nil && outcome != string(CategoryAborted) {
		log.WithFields(log.Fields{
			"operation": operation,
			"outcome":   outcome,
		}).Warn("Platform API call failed: ", err)
	}
	return err
}

func statusError(resp *resty.Response) *Error {
	message := strings.TrimSpace(resp.String())
	var body models.APIError
	if json.Unmarshal(resp.Body(), &body) == nil {
		switch {
		case body.Message != "":
			message = body.Message
		case body.Error != "":
			message = body.Error
		}
	}
	if message == "" {
		message = resp.Status()
	}
	return &Error{
		Category:   categoryForStatus(resp.StatusCode()),
		StatusCode: resp.StatusCode(),
		Message:    message,
	}
}
