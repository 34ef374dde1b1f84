package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PollingTransport is the HTTP long-polling fallback. The server holds
// each poll open until it has frames to deliver or its poll timeout
// elapses.
type PollingTransport struct {
	// Client defaults to an http.Client with a 60s timeout, which must
	// exceed the server's poll timeout.
	Client *http.Client
}

// Name implements Transport.
func (t *PollingTransport) Name() string {
	return "polling"
}

type handshakeResponse struct {
	SID string `json:"sid"`
}

// Dial implements Transport.
func (t *PollingTransport) Dial(
	ctx context.Context,
	baseURL string,
	params url.Values,
) (Conn, error) {
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	base := strings.TrimRight(baseURL, "/")

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, base+"/handshake?"+params.Encode(), nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating handshake request: %w", err)
	}

	var hs handshakeResponse
	if err := doJSON(client, req, &hs); err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	if hs.SID == "" {
		return nil, fmt.Errorf("polling handshake: server returned no session id")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollingConn{
		client: client,
		base:   base,
		sid:    url.Values{"sid": {hs.SID}}.Encode(),
		ctx:    connCtx,
		cancel: cancel,
	}, nil
}

type pollingConn struct {
	client *http.Client
	base   string
	sid    string

	ctx    context.Context
	cancel context.CancelFunc

	// pending is only touched by the reading goroutine.
	pending []Frame
}

func (c *pollingConn) ReadFrame() (Frame, error) {
	for len(c.pending) == 0 {
		req, err := http.NewRequestWithContext(
			c.ctx, http.MethodGet, c.base+"/poll?"+c.sid, nil,
		)
		if err != nil {
			return Frame{}, fmt.Errorf("creating poll request: %w", err)
		}

		var frames []Frame
		if err := doJSON(c.client, req, &frames); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrTransportDisconnected, err)
		}
		c.pending = frames
	}

	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func (c *pollingConn) WriteFrame(f Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	req, err := http.NewRequestWithContext(
		c.ctx, http.MethodPost, c.base+"/emit?"+c.sid, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating emit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := doJSON(c.client, req, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportDisconnected, err)
	}
	return nil
}

func (c *pollingConn) Close() error {
	c.cancel()
	return nil
}

// doJSON executes req and decodes a 2xx JSON body into result.
func doJSON(client *http.Client, req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if result == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, result)
}
