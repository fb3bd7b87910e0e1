package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"gridtap/pkg/order"
)

// Error carries a backend rejection verbatim. The reason is surfaced to
// the trader unmodified and the order is not retried automatically.
type Error struct {
	StatusCode int
	Reason     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend rejected (%d): %s", e.StatusCode, e.Reason)
}

// Client talks to the execution backend's HTTP API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

// CreateGridSession registers a grid session and its session-key
// delegation with the backend.
func (c *Client) CreateGridSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	var out CreateSessionResponse
	if err := c.post(ctx, "/grid/create-session", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelGridSession tears down a grid session server-side.
func (c *Client) CancelGridSession(ctx context.Context, req *CancelSessionRequest) error {
	return c.post(ctx, "/grid/cancel-session", req, nil)
}

// BatchCreateOrders submits signed orders for execution.
func (c *Client) BatchCreateOrders(ctx context.Context, req *BatchCreateRequest) (*BatchCreateResponse, error) {
	var out BatchCreateResponse
	if err := c.post(ctx, "/tap-to-trade/batch-create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders fetches the trader's orders in the given status.
func (c *Client) ListOrders(ctx context.Context, trader string, status order.Status) ([]*OrderRecord, error) {
	var out []*OrderRecord
	var errBody errorBody

	// The API contract is JSON regardless of what Content-Type the
	// backend advertises. Without forcing it, a missing header makes
	// resty skip unmarshalling and an empty result would read as "no
	// stale orders".
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("trader", trader).
		SetQueryParam("status", string(status)).
		SetResult(&out).
		SetError(&errBody).
		ForceContentType("application/json").
		Get("/tap-to-trade/orders")
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if resp.IsError() {
		return nil, &Error{StatusCode: resp.StatusCode(), Reason: errBody.Error}
	}
	return out, nil
}

// UpdateSignature replaces a stale nonce/signature on an order.
func (c *Client) UpdateSignature(ctx context.Context, req *UpdateSignatureRequest) error {
	return c.post(ctx, "/tap-to-trade/update-signature", req, nil)
}

// CancelOrder actively cancels an order.
func (c *Client) CancelOrder(ctx context.Context, req *CancelOrderRequest) error {
	return c.post(ctx, "/tap-to-trade/cancel-order", req, nil)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	var errBody errorBody

	req := c.http.R().SetContext(ctx).SetBody(body).SetError(&errBody).
		ForceContentType("application/json")
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.IsError() {
		reason := errBody.Error
		if reason == "" {
			reason = resp.Status()
		}
		return &Error{StatusCode: resp.StatusCode(), Reason: reason}
	}
	return nil
}
