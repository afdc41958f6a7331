// File: internal/transport/ipc.go
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
)

const ipcMaxFrameSize = 2 << 20

// IPC shuttles newline-delimited JSON frames over an arbitrary pipe pair.
// Both ends may issue requests; a nil dispatcher makes this a pure
// controller.
type IPC struct {
	r          io.Reader
	w          io.WriteCloser
	dispatcher *Dispatcher
	logger     *zap.Logger
	pending    *pendingTable
	onRequest  func(schemas.Request)

	mu        sync.Mutex
	connected bool
	writeMu   sync.Mutex
}

var _ Transport = (*IPC)(nil)

// NewIPC wraps an already-open pipe pair. Connect still has to be called
// before traffic flows.
func NewIPC(r io.Reader, w io.WriteCloser, dispatcher *Dispatcher, logger *zap.Logger) *IPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPC{
		r:          r,
		w:          w,
		dispatcher: dispatcher,
		logger:     logger.Named("transport.ipc"),
		pending:    newPendingTable(),
	}
}

// NewChildProcessIPC starts cmd with its stdio wired as the channel. The
// child reads requests from stdin and writes frames to stdout.
func NewChildProcessIPC(cmd *exec.Cmd, dispatcher *Dispatcher, logger *zap.Logger) (*IPC, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return NewIPC(stdout, stdin, dispatcher, logger), nil
}

// SetRequestObserver registers a callback for inbound requests, typically
// register/unregister notifications. Must be called before Connect.
func (t *IPC) SetRequestObserver(fn func(schemas.Request)) {
	t.onRequest = fn
}

// Connect starts the read loop. Idempotent.
func (t *IPC) Connect(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	t.connected = true
	go t.readLoop()
	return nil
}

// Disconnect closes the write side and rejects pending requests. Idempotent.
func (t *IPC) Disconnect() error {
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if !wasConnected {
		return nil
	}
	err := t.w.Close()
	t.pending.failAll(ErrConnectionClosed)
	return err
}

// IsConnected reports channel liveness.
func (t *IPC) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Request writes one frame and awaits its correlated response.
func (t *IPC) Request(ctx context.Context, method schemas.Method, params any) (json.RawMessage, error) {
	if !t.IsConnected() {
		return nil, ErrNotConnected
	}
	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return nil, err
	}

	ch := t.pending.add(req.ID)
	if err := t.writeFrame(req); err != nil {
		t.pending.take(req.ID)
		return nil, err
	}

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, o.err
		}
		if o.resp.Error != "" {
			return nil, errors.New(o.resp.Error)
		}
		return o.resp.Result, nil
	case <-ctx.Done():
		t.pending.take(req.ID)
		return nil, ctx.Err()
	}
}

// Notify writes one frame without awaiting the acknowledgement.
func (t *IPC) Notify(_ context.Context, method schemas.Method, params any) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return err
	}
	return t.writeFrame(req)
}

func (t *IPC) writeFrame(payload any) error {
	raw, err := schemas.Codec.Marshal(payload)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(raw); err != nil {
		return err
	}
	_, err = t.w.Write([]byte{'\n'})
	return err
}

// readLoop scans frames until the pipe drains, then rejects whatever was
// still pending.
func (t *IPC) readLoop() {
	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 64*1024), ipcMaxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		t.handleFrame(frame)
	}

	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()
	t.pending.failAll(ErrConnectionClosed)
	if wasConnected {
		t.logger.Info("channel closed", zap.Error(scanner.Err()))
	}
}

func (t *IPC) handleFrame(raw []byte) {
	parsed := schemas.ParseMessage(raw)
	switch parsed.Kind {
	case schemas.KindRequest:
		if t.onRequest != nil {
			t.onRequest(*parsed.Request)
		}
		var resp schemas.Response
		switch {
		case t.dispatcher != nil:
			resp = t.dispatcher.Dispatch(context.Background(), *parsed.Request)
		case t.onRequest != nil:
			resp, _ = schemas.NewResultResponse(parsed.Request.ID, schemas.Ack{Success: true})
		default:
			resp = schemas.NewErrorResponse(parsed.Request.ID, "peer does not accept requests")
		}
		if err := t.writeFrame(resp); err != nil {
			t.logger.Warn("failed to return response", zap.String("id", resp.ID), zap.Error(err))
		}
	case schemas.KindResponse:
		if !t.pending.resolve(*parsed.Response) {
			t.logger.Debug("unmatched response", zap.String("id", parsed.Response.ID))
		}
	default:
		t.logger.Warn("dropping invalid frame", zap.String("reason", parsed.Reason))
	}
}
