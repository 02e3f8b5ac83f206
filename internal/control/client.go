package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
)

// ErrNotRunning is returned when no daemon answers on the endpoint.
var ErrNotRunning = errors.New("psnwatch is not running for this account")

// Client talks to a running daemon's control API.
type Client struct {
	base     string
	endpoint Endpoint
	http     *http.Client
}

// NewClient returns a Client for e.
func NewClient(e Endpoint) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return Dial(ctx, e)
		},
		DisableKeepAlives: true,
	}
	base := "http://psnwatch"
	if e.Network == "tcp" {
		base = "http://" + e.Address
	}
	return &Client{
		base:     base,
		endpoint: e,
		http:     &http.Client{Transport: transport, Timeout: 10 * time.Second},
	}
}

// Status returns the loop status.
func (c *Client) Status(ctx context.Context) (monitor.Status, error) {
	var st monitor.Status
	err := c.call(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Toggles returns the notification toggles.
func (c *Client) Toggles(ctx context.Context) (notify.Settings, error) {
	var s notify.Settings
	err := c.call(ctx, http.MethodGet, "/toggles", nil, &s)
	return s, err
}

// SetToggle sets toggle name, or flips it when enabled is nil.
func (c *Client) SetToggle(ctx context.Context, name notify.Toggle, enabled *bool) (ToggleResponse, error) {
	var resp ToggleResponse
	err := c.call(ctx, http.MethodPost, "/toggles/"+string(name), ToggleRequest{Enabled: enabled}, &resp)
	return resp, err
}

// Intervals returns the poll intervals.
func (c *Client) Intervals(ctx context.Context) (Intervals, error) {
	var iv Intervals
	err := c.call(ctx, http.MethodGet, "/intervals", nil, &iv)
	return iv, err
}

// SetIntervals replaces the poll intervals.
func (c *Client) SetIntervals(ctx context.Context, iv Intervals) (Intervals, error) {
	var out Intervals
	err := c.call(ctx, http.MethodPut, "/intervals", iv, &out)
	return out, err
}

// AdjustOnline moves the online interval by steps.
func (c *Client) AdjustOnline(ctx context.Context, steps int) (Intervals, error) {
	var out Intervals
	err := c.call(ctx, http.MethodPost, "/intervals/adjust", AdjustRequest{Steps: steps}, &out)
	return out, err
}

// Log returns the last lines of the daemon's log file.
func (c *Client) Log(ctx context.Context, lines int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/log?lines=%d", c.base, lines), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}
	return string(body), nil
}

// Events subscribes to the live event feed and calls fn with every update
// until ctx is done, the daemon stops or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(json.RawMessage) error) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return Dial(ctx, c.endpoint)
		},
		HandshakeTimeout: 10 * time.Second,
	}
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/events"
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			return apiError(resp.StatusCode, body)
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading event feed: %w", err)
		}
		if err := fn(json.RawMessage(data)); err != nil {
			return err
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		return nil, err
	}
	return resp, nil
}

func apiError(status int, body []byte) error {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("control API: %s (HTTP %d)", e.Error, status)
	}
	return fmt.Errorf("control API: HTTP %d", status)
}
