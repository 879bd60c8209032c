package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manifest-network/eventstream/internal/stream"
)

const (
	DefaultPingInterval = 10 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	writeWait           = 10 * time.Second
	eventBufferSize     = 256
	websocketPath       = "/websocket"
)

var errClientClosed = errors.New("websocket client closed")

type WSConfig struct {
	// URL is the node RPC address. http(s) is mapped to ws(s) and /websocket is appended.
	URL          string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Dialer       *websocket.Dialer
}

// WSClient is a Tendermint websocket subscription. It implements stream.Subscriber.
type WSClient struct {
	endpoint     string
	pingInterval time.Duration
	readTimeout  time.Duration
	dialer       *websocket.Dialer
	events       chan stream.Event

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

var _ stream.Subscriber = (*WSClient)(nil)

func NewWSClient(cfg WSConfig) (*WSClient, error) {
	endpoint, err := WebsocketURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	c := &WSClient{
		endpoint:     endpoint,
		pingInterval: cfg.PingInterval,
		readTimeout:  cfg.ReadTimeout,
		dialer:       cfg.Dialer,
		events:       make(chan stream.Event, eventBufferSize),
	}
	if c.pingInterval <= 0 {
		c.pingInterval = DefaultPingInterval
	}
	if c.readTimeout <= 0 {
		c.readTimeout = DefaultReadTimeout
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	return c, nil
}

// WebsocketURL turns a node RPC address into its websocket endpoint.
func WebsocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid websocket url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid websocket url %q: missing host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, websocketPath) {
		u.Path += websocketPath
	}
	return u.String(), nil
}

func (c *WSClient) Events() <-chan stream.Event { return c.events }

// Connect dials the node, replacing any previous connection. Lifecycle events still
// queued from the previous connection are dropped.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClientClosed
	}
	c.teardownLocked()
	c.mu.Unlock()
	c.wg.Wait()
	c.dropStaleLifecycle()

	slog.Debug("Dialing websocket", "endpoint", c.endpoint)
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.endpoint, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return errClientClosed
	}
	done := make(chan struct{})
	c.conn, c.done = conn, done

	select {
	case c.events <- stream.Event{Type: stream.EventConnected}:
	case <-ctx.Done():
		c.teardownLocked()
		return ctx.Err()
	}

	c.wg.Add(2)
	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int    `json:"id"`
	Params  any    `json:"params"`
}

// Subscribe asks the node for the events matching query.
func (c *WSClient) Subscribe(_ context.Context, query string) error {
	return c.write(rpcRequest{
		JSONRPC: "2.0",
		Method:  "subscribe",
		ID:      0,
		Params:  map[string]string{"query": query},
	})
}

func (c *WSClient) write(req rpcRequest) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("failed to send %s: not connected", req.Method)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send %s: %w", req.Method, err)
	}
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			select {
			case <-done:
			case c.events <- stream.Event{Type: stream.EventConnectionFailed, Err: err}:
			}
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			slog.Warn("Failed to extend read deadline", "error", err)
		}
		select {
		case <-done:
			return
		case c.events <- stream.Event{Type: stream.EventMessage, Payload: payload}:
		}
	}
}

// pingLoop keeps the connection alive. A missing pong makes the read deadline expire.
func (c *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("Failed to send ping", "error", err)
				return
			}
		}
	}
}

// dropStaleLifecycle discards the connected and failure events the previous connection
// left queued, keeping its messages in order. No loop may be running.
func (c *WSClient) dropStaleLifecycle() {
	var kept []stream.Event
	for drained := false; !drained; {
		select {
		case ev := <-c.events:
			if ev.Type == stream.EventMessage {
				kept = append(kept, ev)
			} else {
				slog.Debug("Dropping stale connection event", "type", ev.Type)
			}
		default:
			drained = true
		}
	}
	for _, ev := range kept {
		c.events <- ev
	}
}

// teardownLocked stops the current connection's goroutines. c.mu must be held.
func (c *WSClient) teardownLocked() {
	if c.conn == nil {
		return
	}
	close(c.done)
	c.conn.Close()
	c.conn, c.done = nil, nil
}

// Close sends unsubscribe_all and closes the connection. Later calls are no-ops.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.write(rpcRequest{JSONRPC: "2.0", Method: "unsubscribe_all", ID: 1, Params: map[string]string{}}); err != nil {
			slog.Debug("Failed to unsubscribe", "error", err)
		}
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			slog.Debug("Failed to send close frame", "error", err)
		}
		c.writeMu.Unlock()
	}

	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
	c.wg.Wait()
	slog.Debug("Websocket closed", "endpoint", c.endpoint)
	return nil
}
