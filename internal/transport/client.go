// File: internal/transport/client.go
package transport

import (
	"context"
	"fmt"

	"github.com/dang-hai/agentpulse/api/schemas"
)

// Client layers the typed control operations over any carrier.
type Client struct {
	t Transport
}

// NewClient wraps an already-configured carrier.
func NewClient(t Transport) *Client {
	return &Client{t: t}
}

// Transport exposes the underlying carrier for lifecycle calls.
func (c *Client) Transport() Transport { return c.t }

// Connect brings the carrier up.
func (c *Client) Connect(ctx context.Context) error { return c.t.Connect(ctx) }

// Disconnect tears the carrier down.
func (c *Client) Disconnect() error { return c.t.Disconnect() }

// List fetches summaries of registered components, optionally filtered by
// tag.
func (c *Client) List(ctx context.Context, tag string) ([]schemas.ExposeInfo, error) {
	raw, err := c.t.Request(ctx, schemas.MethodList, schemas.ListParams{Tag: tag})
	if err != nil {
		return nil, err
	}
	var out []schemas.ExposeInfo
	if err := schemas.DecodeResult(raw, &out); err != nil {
		return nil, fmt.Errorf("decode list result: %w", err)
	}
	return out, nil
}

// Discover fetches component metadata plus current state snapshots.
func (c *Client) Discover(ctx context.Context, tag, id string) ([]schemas.DiscoverInfo, error) {
	raw, err := c.t.Request(ctx, schemas.MethodDiscover, schemas.DiscoverParams{Tag: tag, ID: id})
	if err != nil {
		return nil, err
	}
	var out []schemas.DiscoverInfo
	if err := schemas.DecodeResult(raw, &out); err != nil {
		return nil, fmt.Errorf("decode discover result: %w", err)
	}
	return out, nil
}

// Get reads one key of one component.
func (c *Client) Get(ctx context.Context, id, key string) (schemas.Result, error) {
	return c.result(ctx, schemas.MethodGet, schemas.GetParams{ID: id, Key: key})
}

// Set writes one key of one component.
func (c *Client) Set(ctx context.Context, id, key string, value any) (schemas.Result, error) {
	return c.result(ctx, schemas.MethodSet, schemas.SetParams{ID: id, Key: key, Value: value})
}

// Call invokes one action of one component.
func (c *Client) Call(ctx context.Context, id, key string, args ...any) (schemas.Result, error) {
	return c.result(ctx, schemas.MethodCall, schemas.CallParams{ID: id, Key: key, Args: args})
}

func (c *Client) result(ctx context.Context, method schemas.Method, params any) (schemas.Result, error) {
	raw, err := c.t.Request(ctx, method, params)
	if err != nil {
		return schemas.Result{}, err
	}
	var out schemas.Result
	if err := schemas.DecodeResult(raw, &out); err != nil {
		return schemas.Result{}, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}
