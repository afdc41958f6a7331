// File: internal/transport/sse_test.go
package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
)

func startSSEServer(t *testing.T) (*SSEServer, string) {
	t.Helper()
	d, _ := newTestDispatcher(t)
	server := NewSSEServer(d, zap.NewNop())
	r := chi.NewRouter()
	server.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return server, srv.URL
}

func TestSSERoundTrip(t *testing.T) {
	_, base := startSSEServer(t)
	ctx := context.Background()

	s := NewSSE(SSEConfig{BaseURL: base}, nil, zap.NewNop())
	require.NoError(t, s.Connect(ctx))
	defer s.Disconnect()
	assert.True(t, s.IsConnected())

	client := NewClient(s)
	infos, err := client.Discover(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "player", infos[0].ID)
	assert.Equal(t, float64(100), infos[0].State["health"])
	assert.Equal(t, "[action]", infos[0].State["heal"])

	res, err := client.Set(ctx, "player", "health", 50)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not settable")
}

func TestSSERequestWhileDisconnected(t *testing.T) {
	s := NewSSE(SSEConfig{BaseURL: "http://127.0.0.1:1"}, nil, zap.NewNop())
	_, err := s.Request(context.Background(), schemas.MethodList, schemas.ListParams{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSSEDisconnectRejectsPending(t *testing.T) {
	_, base := startSSEServer(t)
	ctx := context.Background()

	s := NewSSE(SSEConfig{BaseURL: base}, nil, zap.NewNop())
	require.NoError(t, s.Connect(ctx))

	ch := s.pending.add("orphan")
	require.NoError(t, s.Disconnect())

	select {
	case o := <-ch:
		assert.ErrorIs(t, o.err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected on disconnect")
	}
	assert.False(t, s.IsConnected())
}

func TestSSEServerNotifyAll(t *testing.T) {
	server, base := startSSEServer(t)
	ctx := context.Background()

	got := make(chan schemas.Request, 1)
	s := NewSSE(SSEConfig{BaseURL: base}, nil, zap.NewNop())
	s.SetRequestObserver(func(req schemas.Request) { got <- req })
	require.NoError(t, s.Connect(ctx))
	defer s.Disconnect()

	require.NoError(t, server.NotifyAll(ctx, schemas.MethodUnregister, schemas.UnregisterParams{ID: "hud"}))

	select {
	case req := <-got:
		assert.Equal(t, schemas.MethodUnregister, req.Method)
	case <-time.After(time.Second):
		t.Fatal("notification never reached the subscribed client")
	}
}

func TestSSEConnectRejectsConcurrentAttempt(t *testing.T) {
	_, base := startSSEServer(t)
	ctx := context.Background()

	s := NewSSE(SSEConfig{BaseURL: base}, nil, zap.NewNop())

	// a second Connect overlapping an in-flight dial must not race it
	s.mu.Lock()
	s.connecting = true
	s.mu.Unlock()
	err := s.Connect(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	s.mu.Lock()
	s.connecting = false
	s.mu.Unlock()
	require.NoError(t, s.Connect(ctx))
	defer s.Disconnect()

	// and once connected, Connect stays idempotent
	require.NoError(t, s.Connect(ctx))
	assert.True(t, s.IsConnected())
}

func TestSSERequestWithoutStreamIsRejected(t *testing.T) {
	_, base := startSSEServer(t)

	// a client that never opened its event stream has nowhere to receive
	// the response, so the POST is refused
	s := NewSSE(SSEConfig{BaseURL: base}, nil, zap.NewNop())
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	_, err := s.Request(context.Background(), schemas.MethodList, schemas.ListParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
