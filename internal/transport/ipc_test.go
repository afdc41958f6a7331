// File: internal/transport/ipc_test.go
package transport

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
)

// ipcPair cross-wires two in-process pipes: what one end writes, the other
// reads.
func ipcPair(t *testing.T) (*IPC, *IPC) {
	t.Helper()
	d, _ := newTestDispatcher(t)

	c2sReader, c2sWriter := io.Pipe()
	s2cReader, s2cWriter := io.Pipe()

	server := NewIPC(c2sReader, s2cWriter, d, zap.NewNop())
	controller := NewIPC(s2cReader, c2sWriter, nil, zap.NewNop())
	return server, controller
}

func TestIPCRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	server, controller := ipcPair(t)
	ctx := context.Background()
	require.NoError(t, server.Connect(ctx))
	require.NoError(t, controller.Connect(ctx))

	client := NewClient(controller)
	res, err := client.Call(ctx, "player", "heal", float64(1))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, float64(101), res.Value)

	res, err = client.Get(ctx, "ghost", "health")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Component not found: ghost")

	require.NoError(t, controller.Disconnect())
	require.NoError(t, server.Disconnect())
}

func TestIPCRequestWhileDisconnected(t *testing.T) {
	_, controller := ipcPair(t)
	_, err := controller.Request(context.Background(), schemas.MethodList, schemas.ListParams{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestIPCPeerExitRejectsPending(t *testing.T) {
	server, controller := ipcPair(t)
	ctx := context.Background()
	require.NoError(t, server.Connect(ctx))
	require.NoError(t, controller.Connect(ctx))

	ch := controller.pending.add("orphan")
	// the server going away closes the controller's read side
	require.NoError(t, server.Disconnect())

	select {
	case o := <-ch:
		assert.ErrorIs(t, o.err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected when the peer exited")
	}
	controller.Disconnect()
}

func TestIPCRequestContextCancel(t *testing.T) {
	// the peer drains frames but never answers them
	c2sReader, c2sWriter := io.Pipe()
	s2cReader, s2cWriter := io.Pipe()
	go io.Copy(io.Discard, c2sReader)
	defer s2cWriter.Close()

	controller := NewIPC(s2cReader, c2sWriter, nil, zap.NewNop())
	require.NoError(t, controller.Connect(context.Background()))
	defer controller.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := controller.Request(ctx, schemas.MethodList, schemas.ListParams{})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("request did not observe context cancellation")
	}
	assert.Equal(t, 0, controller.pending.size())
}
