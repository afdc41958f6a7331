// File: internal/transport/websocket.go
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
)

const (
	// Time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	wsPongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than wsPongWait.
	wsPingPeriod = (wsPongWait * 9) / 10
	// Maximum message size allowed from peer.
	wsMaxMessageSize = 2 << 20 // 2MB
)

// WebSocketConfig configures the dial-side duplex carrier.
type WebSocketConfig struct {
	URL                  string
	DialTimeout          time.Duration
	Reconnect            bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

func (c *WebSocketConfig) applyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
}

// wsSession is one live dialed connection plus its teardown signal.
type wsSession struct {
	conn *websocket.Conn
	done chan struct{}
}

// WebSocket is the full-duplex carrier. It issues correlated requests,
// dispatches inbound requests to the local dispatcher (when one is set), and
// reconnects after unexpected closes with a fixed delay and a bounded
// attempt count that resets on success.
type WebSocket struct {
	cfg        WebSocketConfig
	dispatcher *Dispatcher
	logger     *zap.Logger
	pending    *pendingTable

	// onRequest observes inbound requests (server notifications). Set
	// before Connect. With no dispatcher, observed requests are acked
	// instead of rejected.
	onRequest func(schemas.Request)

	mu         sync.Mutex
	session    *wsSession
	connected  bool
	connecting bool
	closed     bool
	attempts   int

	writeMu sync.Mutex
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket builds the dial-side carrier. dispatcher may be nil for a
// pure controller that never receives requests; inbound requests are then
// answered with an error response instead of being dropped.
func NewWebSocket(cfg WebSocketConfig, dispatcher *Dispatcher, logger *zap.Logger) *WebSocket {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocket{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.Named("transport.ws"),
		pending:    newPendingTable(),
	}
}

// SetRequestObserver registers a callback for inbound requests, typically
// register/unregister notifications. Must be called before Connect.
func (w *WebSocket) SetRequestObserver(fn func(schemas.Request)) {
	w.onRequest = fn
}

// Connect dials the configured URL. Idempotent; concurrent attempts are
// rejected rather than raced.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.connected {
		w.mu.Unlock()
		return nil
	}
	if w.connecting {
		w.mu.Unlock()
		return errors.New("connection attempt already in progress")
	}
	w.connecting = true
	w.closed = false
	w.mu.Unlock()

	err := w.dial(ctx)

	w.mu.Lock()
	w.connecting = false
	if err == nil {
		w.attempts = 0
	}
	w.mu.Unlock()
	return err
}

// dial performs one connection attempt and, on success, installs the session
// and starts its pumps.
func (w *WebSocket) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.cfg.URL, err)
	}

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	session := &wsSession{conn: conn, done: make(chan struct{})}
	w.mu.Lock()
	w.session = session
	w.connected = true
	w.mu.Unlock()

	go w.readLoop(session)
	go w.pingLoop(session)
	w.logger.Info("connected", zap.String("url", w.cfg.URL))
	return nil
}

// Disconnect tears down deliberately: no reconnection follows, and every
// pending request is rejected with ErrConnectionClosed exactly once.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	w.closed = true
	session := w.session
	w.session = nil
	w.connected = false
	w.mu.Unlock()

	if session != nil {
		w.writeMu.Lock()
		_ = session.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		w.writeMu.Unlock()
		_ = session.conn.Close()
		close(session.done)
	}
	w.pending.failAll(ErrConnectionClosed)
	return nil
}

// IsConnected reports carrier liveness.
func (w *WebSocket) IsConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Request issues one correlated request. A disconnected transport rejects
// immediately with ErrNotConnected.
func (w *WebSocket) Request(ctx context.Context, method schemas.Method, params any) (json.RawMessage, error) {
	w.mu.Lock()
	session := w.session
	connected := w.connected
	w.mu.Unlock()
	if !connected || session == nil {
		return nil, ErrNotConnected
	}

	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return nil, err
	}

	ch := w.pending.add(req.ID)
	if err := w.writeJSON(session.conn, req); err != nil {
		w.pending.take(req.ID)
		return nil, fmt.Errorf("send request: %w", err)
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
		w.pending.take(req.ID)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget request without registering a waiter; the
// peer's acknowledgement is absorbed as an unmatched response.
func (w *WebSocket) Notify(_ context.Context, method schemas.Method, params any) error {
	w.mu.Lock()
	session := w.session
	connected := w.connected
	w.mu.Unlock()
	if !connected || session == nil {
		return ErrNotConnected
	}
	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return err
	}
	return w.writeJSON(session.conn, req)
}

func (w *WebSocket) writeJSON(conn *websocket.Conn, v any) error {
	raw, err := schemas.Codec.Marshal(v)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// readLoop pumps inbound messages until the connection fails, then hands
// over to drop handling.
func (w *WebSocket) readLoop(session *wsSession) {
	for {
		_, raw, err := session.conn.ReadMessage()
		if err != nil {
			w.handleDrop(session, err)
			return
		}
		w.handleInbound(session, raw)
	}
}

// handleInbound classifies one payload: requests are dispatched and
// answered, responses settle pending waiters, invalid payloads are logged
// and dropped.
func (w *WebSocket) handleInbound(session *wsSession, raw []byte) {
	parsed := schemas.ParseMessage(raw)
	switch parsed.Kind {
	case schemas.KindRequest:
		if w.onRequest != nil {
			w.onRequest(*parsed.Request)
		}
		var resp schemas.Response
		switch {
		case w.dispatcher != nil:
			resp = w.dispatcher.Dispatch(context.Background(), *parsed.Request)
		case w.onRequest != nil:
			resp, _ = schemas.NewResultResponse(parsed.Request.ID, schemas.Ack{Success: true})
		default:
			resp = schemas.NewErrorResponse(parsed.Request.ID, "peer does not accept requests")
		}
		if err := w.writeJSON(session.conn, resp); err != nil {
			w.logger.Warn("failed to send response", zap.String("id", resp.ID), zap.Error(err))
		}
	case schemas.KindResponse:
		if !w.pending.resolve(*parsed.Response) {
			w.logger.Debug("unmatched response", zap.String("id", parsed.Response.ID))
		}
	default:
		w.logger.Warn("dropping invalid payload", zap.String("reason", parsed.Reason))
	}
}

func (w *WebSocket) pingLoop(session *wsSession) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-session.done:
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := session.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			w.writeMu.Unlock()
			if err != nil {
				_ = session.conn.Close()
				return
			}
		}
	}
}

// handleDrop reacts to an unexpected close: pending requests are rejected,
// then reconnection starts if enabled and the close was not deliberate.
func (w *WebSocket) handleDrop(session *wsSession, cause error) {
	w.mu.Lock()
	if w.session != session {
		// A deliberate Disconnect already detached this session.
		w.mu.Unlock()
		return
	}
	w.session = nil
	w.connected = false
	closed := w.closed
	w.mu.Unlock()

	close(session.done)
	_ = session.conn.Close()
	w.pending.failAll(ErrConnectionClosed)

	if closed || !w.cfg.Reconnect {
		w.logger.Info("connection closed", zap.Error(cause))
		return
	}
	w.logger.Warn("connection lost, scheduling reconnect", zap.Error(cause))
	go w.reconnectLoop()
}

// reconnectLoop retries connecting with a fixed delay, up to the configured
// attempt bound. The counter resets on success. The connecting guard ensures
// attempts are never issued concurrently with another connection attempt.
func (w *WebSocket) reconnectLoop() {
	for {
		w.mu.Lock()
		if w.closed || w.connected || w.connecting {
			w.mu.Unlock()
			return
		}
		if w.attempts >= w.cfg.MaxReconnectAttempts {
			w.mu.Unlock()
			w.logger.Error("giving up on reconnection",
				zap.Int("attempts", w.cfg.MaxReconnectAttempts))
			return
		}
		w.attempts++
		attempt := w.attempts
		w.connecting = true
		w.mu.Unlock()

		time.Sleep(w.cfg.ReconnectDelay)

		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DialTimeout)
		err := w.dial(ctx)
		cancel()

		w.mu.Lock()
		w.connecting = false
		if err == nil {
			w.attempts = 0
			w.mu.Unlock()
			w.logger.Info("reconnected", zap.Int("attempt", attempt))
			return
		}
		w.mu.Unlock()
		w.logger.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max", w.cfg.MaxReconnectAttempts),
			zap.Error(err))
	}
}

// -- Accept side --

// WebSocketServer is the accept-side peer: an http.Handler that upgrades
// connections, dispatches inbound requests against the local registry, and
// can push register/unregister notifications to every connected controller.
type WebSocketServer struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	peers map[*wsServerPeer]struct{}
}

type wsServerPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *wsServerPeer) writeJSON(v any) error {
	raw, err := schemas.Codec.Marshal(v)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteMessage(websocket.TextMessage, raw)
}

// NewWebSocketServer builds the accept-side handler over a dispatcher.
func NewWebSocketServer(dispatcher *Dispatcher, logger *zap.Logger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketServer{
		dispatcher: dispatcher,
		logger:     logger.Named("transport.ws.server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The host process decides who may reach this listener; the
			// handshake itself does not gate origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers: make(map[*wsServerPeer]struct{}),
	}
}

// ServeHTTP upgrades one connection and pumps it until it closes.
func (s *WebSocketServer) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	peer := &wsServerPeer{conn: conn}
	s.mu.Lock()
	s.peers[peer] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("controller connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		s.mu.Lock()
		delete(s.peers, peer)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info("controller disconnected", zap.String("remote", r.RemoteAddr))
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("controller read error", zap.Error(err))
			}
			return
		}
		if out, ok := s.dispatcher.HandleRaw(r.Context(), raw); ok {
			peer.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := conn.WriteMessage(websocket.TextMessage, out)
			peer.writeMu.Unlock()
			if err != nil {
				s.logger.Warn("failed to send response", zap.Error(err))
				return
			}
		}
	}
}

// NotifyAll pushes one notification request to every connected controller,
// best effort. Acknowledgement responses come back through the read loop and
// are absorbed by HandleRaw.
func (s *WebSocketServer) NotifyAll(_ context.Context, method schemas.Method, params any) error {
	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	peers := make([]*wsServerPeer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.writeJSON(req); err != nil {
			s.logger.Warn("notification send failed",
				zap.String("method", string(method)), zap.Error(err))
		}
	}
	return nil
}

// Close drops every connected peer.
func (s *WebSocketServer) Close() {
	s.mu.Lock()
	peers := make([]*wsServerPeer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[*wsServerPeer]struct{})
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close()
	}
}
