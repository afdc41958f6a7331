// File: internal/transport/sse.go
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dang-hai/agentpulse/api/schemas"
)

const (
	sseHeartbeatPeriod = 15 * time.Second
	sseStreamBuffer    = 64
	sseMaxRequestBody  = 2 << 20 // 2MB, mirrors the websocket read limit
)

// SSEServer is the event-stream half of the unary-request carrier: each
// controller holds one long-lived GET stream for responses and
// notifications, and POSTs its requests individually.
type SSEServer struct {
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu      sync.Mutex
	streams map[string]chan []byte
}

// NewSSEServer builds the server half over a dispatcher.
func NewSSEServer(dispatcher *Dispatcher, logger *zap.Logger) *SSEServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSEServer{
		dispatcher: dispatcher,
		logger:     logger.Named("transport.sse.server"),
		streams:    make(map[string]chan []byte),
	}
}

// Mount attaches the two endpoints onto a chi router.
func (s *SSEServer) Mount(r chi.Router) {
	r.Get("/events", s.handleEvents)
	r.Post("/requests", s.handleRequest)
}

// handleEvents holds one controller's event stream open, writing queued
// frames and heartbeat comments until the controller goes away.
func (s *SSEServer) handleEvents(rw http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		http.Error(rw, "missing client id", http.StatusBadRequest)
		return
	}
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan []byte, sseStreamBuffer)
	s.mu.Lock()
	s.streams[clientID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.streams[clientID] == ch {
			delete(s.streams, clientID)
		}
		s.mu.Unlock()
		s.logger.Info("event stream closed", zap.String("client", clientID))
	}()

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)
	flusher.Flush()
	s.logger.Info("event stream opened", zap.String("client", clientID))

	heartbeat := time.NewTicker(sseHeartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			if _, err := fmt.Fprintf(rw, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(rw, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleRequest accepts one unary payload, dispatches it, and queues the
// response onto the caller's event stream.
func (s *SSEServer) handleRequest(rw http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		http.Error(rw, "missing client id", http.StatusBadRequest)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, sseMaxRequestBody))
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}

	out, hasResponse := s.dispatcher.HandleRaw(r.Context(), raw)
	if hasResponse {
		if !s.push(clientID, out) {
			http.Error(rw, "no event stream for client", http.StatusConflict)
			return
		}
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (s *SSEServer) push(clientID string, frame []byte) bool {
	s.mu.Lock()
	ch, ok := s.streams[clientID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- frame:
		return true
	default:
		s.logger.Warn("event stream backed up, dropping frame", zap.String("client", clientID))
		return true
	}
}

// NotifyAll queues one notification request onto every open event stream.
func (s *SSEServer) NotifyAll(_ context.Context, method schemas.Method, params any) error {
	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return err
	}
	frame, err := schemas.Codec.Marshal(req)
	if err != nil {
		return err
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.push(id, frame)
	}
	return nil
}

// SSEConfig configures the controller half of the carrier.
type SSEConfig struct {
	// BaseURL is the mount point of the server half, e.g.
	// "http://127.0.0.1:7465/control/sse".
	BaseURL        string
	ConnectTimeout time.Duration
	HTTPClient     *http.Client
}

func (c *SSEConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// SSE is the controller half: requests go out as unary POSTs, responses and
// notifications stream back over one long-lived event stream.
type SSE struct {
	cfg        SSEConfig
	dispatcher *Dispatcher
	logger     *zap.Logger
	pending    *pendingTable
	clientID   string
	onRequest  func(schemas.Request)

	mu         sync.Mutex
	connected  bool
	connecting bool
	cancel     context.CancelFunc
}

var _ Transport = (*SSE)(nil)

// NewSSE builds the stream carrier. dispatcher may be nil for a pure
// controller.
func NewSSE(cfg SSEConfig, dispatcher *Dispatcher, logger *zap.Logger) *SSE {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSE{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.Named("transport.sse"),
		pending:    newPendingTable(),
		clientID:   uuid.New().String(),
	}
}

// SetRequestObserver registers a callback for inbound requests, typically
// register/unregister notifications. Must be called before Connect.
func (s *SSE) SetRequestObserver(fn func(schemas.Request)) {
	s.onRequest = fn
}

// Connect opens the event stream and resolves once the server has accepted
// it. Idempotent; concurrent attempts are rejected rather than raced.
func (s *SSE) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.connecting {
		s.mu.Unlock()
		return errors.New("connection attempt already in progress")
	}
	s.connecting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	streamCtx, cancel := context.WithCancel(context.Background())
	url := fmt.Sprintf("%s/events?client=%s", strings.TrimRight(s.cfg.BaseURL, "/"), s.clientID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	type dialResult struct {
		resp *http.Response
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		resp, err := s.cfg.HTTPClient.Do(req)
		dialCh <- dialResult{resp, err}
	}()

	var resp *http.Response
	select {
	case r := <-dialCh:
		resp, err = r.resp, r.err
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	case <-time.After(s.cfg.ConnectTimeout):
		cancel()
		return fmt.Errorf("connect to %s: timeout after %s", url, s.cfg.ConnectTimeout)
	}
	if err != nil {
		cancel()
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("open event stream: unexpected status %s", resp.Status)
	}

	s.mu.Lock()
	s.connected = true
	s.cancel = cancel
	s.mu.Unlock()

	go s.readStream(resp.Body, cancel)
	s.logger.Info("connected", zap.String("url", url))
	return nil
}

// Disconnect closes the stream and rejects pending requests. Idempotent.
func (s *SSE) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.pending.failAll(ErrConnectionClosed)
	return nil
}

// IsConnected reports stream liveness.
func (s *SSE) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Request POSTs one payload and awaits its streamed response.
func (s *SSE) Request(ctx context.Context, method schemas.Method, params any) (json.RawMessage, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return nil, err
	}

	ch := s.pending.add(req.ID)
	if err := s.post(ctx, req); err != nil {
		s.pending.take(req.ID)
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
		s.pending.take(req.ID)
		return nil, ctx.Err()
	}
}

// Notify POSTs a fire-and-forget request; the acknowledgement streams back
// and is absorbed as unmatched.
func (s *SSE) Notify(ctx context.Context, method schemas.Method, params any) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	req, err := schemas.NewRequest(method, params)
	if err != nil {
		return err
	}
	return s.post(ctx, req)
}

func (s *SSE) post(ctx context.Context, payload any) error {
	raw, err := schemas.Codec.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/requests?client=%s", strings.TrimRight(s.cfg.BaseURL, "/"), s.clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send request: status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// readStream consumes the event stream until it ends, then marks the carrier
// disconnected and rejects whatever was still pending.
func (s *SSE) readStream(body io.ReadCloser, cancel context.CancelFunc) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), sseMaxRequestBody)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue // comments, blank separators
		}
		s.handleFrame([]byte(strings.TrimPrefix(line, "data: ")))
	}

	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.cancel = nil
	s.mu.Unlock()
	cancel()
	s.pending.failAll(ErrConnectionClosed)
	if wasConnected {
		s.logger.Warn("event stream ended", zap.Error(scanner.Err()))
	}
}

func (s *SSE) handleFrame(raw []byte) {
	parsed := schemas.ParseMessage(raw)
	switch parsed.Kind {
	case schemas.KindResponse:
		if !s.pending.resolve(*parsed.Response) {
			s.logger.Debug("unmatched response", zap.String("id", parsed.Response.ID))
		}
	case schemas.KindRequest:
		if s.onRequest != nil {
			s.onRequest(*parsed.Request)
		}
		var resp schemas.Response
		switch {
		case s.dispatcher != nil:
			resp = s.dispatcher.Dispatch(context.Background(), *parsed.Request)
		case s.onRequest != nil:
			resp, _ = schemas.NewResultResponse(parsed.Request.ID, schemas.Ack{Success: true})
		default:
			resp = schemas.NewErrorResponse(parsed.Request.ID, "peer does not accept requests")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.post(ctx, resp); err != nil {
			s.logger.Warn("failed to return response", zap.String("id", resp.ID), zap.Error(err))
		}
		cancel()
	default:
		s.logger.Warn("dropping invalid frame", zap.String("reason", parsed.Reason))
	}
}
