// Package hass implements device.Transport over the Home Assistant
// WebSocket API.
//
// Protocol summary:
//
//	server: {"type":"auth_required"}
//	client: {"type":"auth","access_token":"..."}
//	server: {"type":"auth_ok"} | {"type":"auth_invalid","message":"..."}
//	client: {"id":N,"type":"get_states"}
//	client: {"id":N,"type":"call_service","domain":"...","service":"...","service_data":{...},"target":{"entity_id":"..."}}
//	server: {"id":N,"type":"result","success":true,"result":...}
package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mediaremote/internal/device"
)

// ErrAuth is returned when Home Assistant rejects the access token.
var ErrAuth = errors.New("home assistant authentication failed")

// Config configures a Client.
type Config struct {
	URL         string        // e.g. ws://homeassistant.local:8123/api/websocket
	Token       string        // long-lived access token
	ReadTimeout time.Duration // per-request response timeout
	Retries     int           // connection attempts before giving up
	RetryDelay  time.Duration
}

// EntityState is one entry of a get_states result.
type EntityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Client manages WebSocket communication with Home Assistant.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
	cfg    Config
	logger *slog.Logger
}

var _ device.Transport = (*Client)(nil)

// New creates a client and establishes the initial authenticated connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}

	c := &Client{cfg: cfg, logger: logger}
	if err := c.connectWithRetry(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
	Message     string `json:"message,omitempty"`
}

// connect dials and authenticates. Caller must hold c.mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	d := websocket.Dialer{
		HandshakeTimeout: 2 * time.Second,
	}
	conn, _, err := d.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var hello authMessage
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		conn.Close()
		return fmt.Errorf("unexpected greeting %q", hello.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: c.cfg.Token}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	var reply authMessage
	if err := conn.ReadJSON(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("read auth reply: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
	case "auth_invalid":
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAuth, reply.Message)
	default:
		conn.Close()
		return fmt.Errorf("unexpected auth reply %q", reply.Type)
	}

	c.conn = conn
	return nil
}

// connectWithRetry attempts to connect, retrying on transient failures.
// Authentication failures are not retried.
func (c *Client) connectWithRetry(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		err := c.connect(ctx)
		if err == nil {
			c.logger.Info("connected to home assistant", "url", c.cfg.URL)
			return nil
		}
		if errors.Is(err, ErrAuth) {
			return err
		}
		lastErr = err
		c.logger.Warn("connection failed; retrying...", "error", err, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", c.cfg.Retries, lastErr)
}

// ensureConnected checks connection and reconnects if necessary.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Warn("connection lost; reconnecting...")
	return c.connectWithRetry(ctx)
}

// dropConn closes a broken connection so the next request reconnects.
// Callers hold c.mu.
func (c *Client) dropConn() {
	if c.conn == nil {
		return
	}
	c.conn.Close()
	c.conn = nil
}

type resultMessage struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// request sends a command and waits for the result frame carrying the same id.
// Frames for other ids (events, stale results) are skipped.
func (c *Client) request(ctx context.Context, msg map[string]any) (json.RawMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("no websocket connection")
	}

	c.nextID++
	id := c.nextID
	msg["id"] = id

	if err := c.conn.WriteJSON(msg); err != nil {
		c.dropConn()
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer func() {
		if c.conn != nil {
			c.conn.SetReadDeadline(time.Time{})
		}
	}()

	for {
		var res resultMessage
		if err := c.conn.ReadJSON(&res); err != nil {
			c.dropConn()
			return nil, err
		}
		if res.Type != "result" || res.ID != id {
			c.logger.Debug("skipping unrelated frame", "type", res.Type, "id", res.ID)
			continue
		}
		if !res.Success {
			if res.Error != nil {
				return nil, fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
			}
			return nil, fmt.Errorf("request %v failed", msg["type"])
		}
		return res.Result, nil
	}
}

// States returns the state of every entity.
func (c *Client) States(ctx context.Context) ([]EntityState, error) {
	raw, err := c.request(ctx, map[string]any{"type": "get_states"})
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}
	var states []EntityState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("parse states: %w", err)
	}
	return states, nil
}

// Attributes returns the attributes of entityID.
func (c *Client) Attributes(ctx context.Context, entityID string) (map[string]any, error) {
	states, err := c.States(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range states {
		if st.EntityID != entityID {
			continue
		}
		if st.State == "unavailable" {
			return nil, device.Unavailable(entityID, "")
		}
		if st.Attributes == nil {
			return map[string]any{}, nil
		}
		return st.Attributes, nil
	}
	return nil, device.Unavailable(entityID, "")
}

// Attribute returns one attribute of entityID.
func (c *Client) Attribute(ctx context.Context, entityID, name string) (any, error) {
	attrs, err := c.Attributes(ctx, entityID)
	if err != nil {
		return nil, err
	}
	v, ok := attrs[name]
	if !ok || v == nil {
		return nil, device.Unavailable(entityID, name)
	}
	return v, nil
}

// CallService invokes service on entityID.
func (c *Client) CallService(ctx context.Context, service, entityID string, data map[string]any) error {
	domain, name, err := device.SplitService(service)
	if err != nil {
		return err
	}
	if data == nil {
		data = map[string]any{}
	}
	msg := map[string]any{
		"type":         "call_service",
		"domain":       domain,
		"service":      name,
		"service_data": data,
		"target":       map[string]any{"entity_id": entityID},
	}
	if _, err := c.request(ctx, msg); err != nil {
		return fmt.Errorf("call service %s: %w", service, err)
	}
	c.logger.Debug("call_service", "service", service, "entity_id", entityID, "data", data)
	return nil
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConn()
	return nil
}
