// File: internal/transport/transport.go
//
// Package transport provides carrier-agnostic request/response channels
// between a controller and a controlled registry. Three interchangeable
// carriers exist: a full-duplex websocket, a unary-request/event-stream
// (SSE) pair, and a cross-process pipe. All of them correlate asynchronous
// request/response pairs through a shared pending table and dispatch inbound
// requests through a shared dispatcher.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dang-hai/agentpulse/api/schemas"
)

// Sentinel failure modes, surfaced verbatim so callers can match on them.
var (
	// ErrNotConnected rejects a Request issued while the carrier is down. A
	// disconnected send fails fast instead of hanging until a timeout.
	ErrNotConnected = errors.New("Not connected")
	// ErrConnectionClosed rejects every request still pending when the
	// carrier drops, deliberately or not.
	ErrConnectionClosed = errors.New("Connection closed")
)

// Transport is a correlated request/response channel. Implementations must
// be behaviorally interchangeable from the caller's perspective.
type Transport interface {
	// Connect establishes the carrier. It is idempotent: connecting an
	// already-connected transport is a no-op.
	Connect(ctx context.Context) error
	// Disconnect tears the carrier down and rejects all pending requests
	// with ErrConnectionClosed. It is idempotent.
	Disconnect() error
	// IsConnected reports carrier liveness.
	IsConnected() bool
	// Request sends one procedure invocation and blocks until the matching
	// response arrives, the context is done, or the connection drops.
	Request(ctx context.Context, method schemas.Method, params any) (json.RawMessage, error)
	// Notify sends a fire-and-forget request (register/unregister
	// notifications); no response is awaited.
	Notify(ctx context.Context, method schemas.Method, params any) error
}
