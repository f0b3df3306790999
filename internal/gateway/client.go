// Package gateway implements the websocket RPC client for the remote
// execution gateway.
//
// A Client holds one persistent connection. Each Request gets a fresh
// correlation id and resolves when the response frame carrying that id
// arrives; concurrent requests are independent of each other.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextain/naia-agent/internal/observability"
)

const (
	maxFrameBytes = 8 << 20
	writeWait     = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Request before Connect succeeds or
	// after Close.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrConnectionClosed fails requests still pending when the connection
	// is closed locally or drops.
	ErrConnectionClosed = errors.New("gateway: connection closed")

	// ErrAlreadyConnected is returned by Connect on a live client.
	ErrAlreadyConnected = errors.New("gateway: already connected")

	// ErrInvalidResponse fails a request whose response frame does not
	// match the frame schema.
	ErrInvalidResponse = errors.New("gateway: invalid response frame")
)

// RPCError is a failure reported by the gateway in a response frame.
type RPCError struct {
	Method  string
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway %s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s (%s)", e.Method, e.Message, e.Code)
}

// Auth carries the credentials presented during the handshake.
type Auth struct {
	Token  string
	Device *DeviceIdentity
}

// Options configures a Client.
type Options struct {
	ClientID string
	Version  string

	// HandshakeTimeout bounds dialing and the connect exchange.
	HandshakeTimeout time.Duration

	// ChallengeTimeout is how long Connect waits for an optional
	// connect.challenge event before sending connect without a nonce.
	ChallengeTimeout time.Duration

	Dialer *websocket.Dialer
	Header http.Header

	// OnEvent receives gateway events other than the handshake challenge.
	// It runs on the read goroutine and must not block.
	OnEvent func(event string, payload json.RawMessage)

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

type rpcResult struct {
	payload json.RawMessage
	err     error
}

type pendingCall struct {
	method string
	done   chan rpcResult
}

// Client is a correlated request/response client over one websocket.
type Client struct {
	opts   Options
	logger *observability.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]*pendingCall
	methods   []string
	challenge chan string
	url       string
}

// New creates an unconnected client.
func New(opts Options) *Client {
	if opts.ClientID == "" {
		opts.ClientID = "naia-agent"
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ChallengeTimeout <= 0 {
		opts.ChallengeTimeout = 2 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Client{
		opts:    opts,
		logger:  logger.WithFields("component", "gateway"),
		pending: make(map[string]*pendingCall),
	}
}

// Connect dials url and performs the protocol handshake. The client is
// usable for Request only after Connect returns nil.
func (c *Client) Connect(ctx context.Context, url string, auth Auth) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	conn, resp, err := c.opts.Dialer.DialContext(ctx, url, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("gateway dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	challenge := make(chan string, 1)
	c.mu.Lock()
	c.conn = conn
	c.url = url
	c.challenge = challenge
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	go c.readLoop(conn)

	var nonce string
	timer := time.NewTimer(c.opts.ChallengeTimeout)
	select {
	case nonce = <-challenge:
	case <-timer.C:
	case <-ctx.Done():
	}
	timer.Stop()

	params := connectParams{
		MinProtocol: protocolVersion,
		MaxProtocol: protocolVersion,
		Client: clientInfo{
			ID:       c.opts.ClientID,
			Version:  c.opts.Version,
			Platform: runtime.GOOS,
			Mode:     "backend",
		},
		UserAgent: c.opts.ClientID + "/" + c.opts.Version,
	}
	if auth.Token != "" {
		params.Auth = &authPayload{Token: auth.Token}
	}
	if auth.Device != nil {
		device, err := auth.Device.payload(nonce)
		if err != nil {
			c.logger.Warn(ctx, "device assertion unavailable, connecting without it", "error", err)
		} else {
			params.Device = device
		}
	}

	payload, err := c.call(ctx, "connect", params)
	if err != nil {
		c.teardown(conn, ErrConnectionClosed)
		return fmt.Errorf("gateway handshake: %w", err)
	}
	var hello helloPayload
	if err := json.Unmarshal(payload, &hello); err != nil || hello.Type != "hello-ok" {
		c.teardown(conn, ErrConnectionClosed)
		return fmt.Errorf("gateway handshake: unexpected hello payload")
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return fmt.Errorf("gateway handshake: %w", ErrConnectionClosed)
	}
	c.connected = true
	c.methods = append([]string(nil), hello.Features.Methods...)
	c.mu.Unlock()

	c.logger.Info(ctx, "gateway connected",
		"url", url,
		"protocol", hello.Protocol,
		"methods", len(hello.Features.Methods),
		"challenged", nonce != "",
	)
	return nil
}

// IsConnected reports whether the handshake completed and the connection
// is still open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// AvailableMethods returns the methods advertised in the hello payload.
func (c *Client) AvailableMethods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.methods...)
}

// HasMethod reports whether the gateway advertised method. An empty
// advertisement is treated as "unknown" and reports true.
func (c *Client) HasMethod(method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.methods) == 0 {
		return true
	}
	for _, m := range c.methods {
		if m == method {
			return true
		}
	}
	return false
}

// Request sends method with params and waits for the correlated response.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}

	ctx, span := c.opts.Tracer.TraceGatewayRPC(ctx, method)
	defer span.End()
	start := time.Now()

	payload, err := c.call(ctx, method, params)

	status := "ok"
	var rpcErr *RPCError
	switch {
	case err == nil:
	case errors.As(err, &rpcErr):
		status = "error"
	default:
		status = "disconnected"
	}
	c.opts.Metrics.RecordGatewayRPC(method, status, time.Since(start).Seconds())
	c.opts.Tracer.RecordError(span, err)
	return payload, err
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	done := make(chan rpcResult, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = &pendingCall{method: method, done: done}
	c.mu.Unlock()

	data, err := json.Marshal(frame{Type: frameTypeRequest, ID: id, Method: method, Params: params})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if err := c.write(conn, data); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	select {
	case res := <-done:
		return res.payload, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.teardown(conn, ErrConnectionClosed)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(context.Background(), "gateway read ended", "error", err)
			}
			return
		}
		f, err := decodeInbound(data)
		if err != nil {
			if id := responseID(data); id != "" && c.reject(id, err) {
				continue
			}
			c.logger.Warn(context.Background(), "dropping gateway frame", "error", err)
			continue
		}
		switch f.Type {
		case frameTypeResponse:
			c.resolve(f)
		case frameTypeEvent:
			c.handleEvent(f)
		}
	}
}

func (c *Client) resolve(f *frame) {
	c.mu.Lock()
	call, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug(context.Background(), "response for unknown request", "id", f.ID)
		return
	}

	if f.OK != nil && *f.OK {
		call.done <- rpcResult{payload: f.Payload}
		return
	}
	rpcErr := &RPCError{Method: call.method, Message: "request failed"}
	if f.Error != nil {
		rpcErr.Code = f.Error.Code
		rpcErr.Message = f.Error.Message
	}
	call.done <- rpcResult{err: rpcErr}
}

// reject fails the pending call id with a malformed-response error. It
// reports false when no such call is pending.
func (c *Client) reject(id string, cause error) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.logger.Warn(context.Background(), "invalid gateway response", "id", id, "method", call.method, "error", cause)
	call.done <- rpcResult{err: fmt.Errorf("%w for %s: %v", ErrInvalidResponse, call.method, cause)}
	return true
}

func (c *Client) handleEvent(f *frame) {
	if f.Event == eventConnectChallenge {
		var p challengePayload
		_ = json.Unmarshal(f.Payload, &p)
		c.mu.Lock()
		ch := c.challenge
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- p.Nonce:
			default:
			}
		}
		return
	}
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(f.Event, f.Payload)
	}
}

// teardown detaches conn and fails every pending request with cause. It
// is a no-op if conn is no longer the active connection.
func (c *Client) teardown(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn || conn == nil {
		c.mu.Unlock()
		return
	}
	wasConnected := c.connected
	url := c.url
	c.conn = nil
	c.connected = false
	c.challenge = nil
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()

	for _, call := range pending {
		call.done <- rpcResult{err: cause}
	}
	if wasConnected {
		c.logger.Info(context.Background(), "gateway disconnected", "url", url, "failed_pending", len(pending))
	}
}

// Close closes the connection and fails all pending requests. Subsequent
// requests fail with ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.teardown(conn, ErrConnectionClosed)
	return nil
}
