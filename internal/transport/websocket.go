package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexwire/chatgate/internal/model"
)

// Close codes the session gateway uses for auth-level rejections.
const (
	closeAuthRevoked  = 4401
	closeTenantBanned = 4403
)

// envelope is the JSON framing spoken with the session gateway.
type envelope struct {
	Type       string `json:"type"` // message | qr | paired | ack | send
	ID         string `json:"id,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Body       []byte `json:"body,omitempty"`
	Code       string `json:"code,omitempty"`
	Credential []byte `json:"credential,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WSDialerOpts configures the websocket dialer.
type WSDialerOpts struct {
	GatewayURL       string
	HandshakeTimeout time.Duration // default 20s
}

// WSDialer dials the external network's session gateway over websocket.
type WSDialer struct {
	opts WSDialerOpts
	log  *zap.Logger
}

func NewWSDialer(opts WSDialerOpts, log *zap.Logger) *WSDialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 20 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WSDialer{opts: opts, log: log}
}

func (d *WSDialer) Dial(ctx context.Context, tenantID string, creds *model.Credentials) (Conn, error) {
	header := http.Header{}
	header.Set("X-Tenant-ID", tenantID)
	if creds != nil {
		header.Set("Authorization", "Bearer "+base64.StdEncoding.EncodeToString(creds.Blob))
	}

	wd := websocket.Dialer{HandshakeTimeout: d.opts.HandshakeTimeout}
	ws, resp, err := wd.DialContext(ctx, d.opts.GatewayURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, Terminal(fmt.Errorf("gateway rejected session: status=%d", resp.StatusCode))
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	c := &wsConn{
		ws:       ws,
		tenantID: tenantID,
		frames:   make(chan Frame, 32),
		done:     make(chan struct{}),
		pending:  make(map[string]chan error),
		log:      d.log.With(zap.String("tenant", tenantID)),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws       *websocket.Conn
	tenantID string
	frames   chan Frame
	done     chan struct{} // closed by Close, unblocks readLoop frame sends

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	pending map[string]chan error
	err     error
	closed  bool

	log *zap.Logger
}

func (c *wsConn) Frames() <-chan Frame { return c.frames }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.ws.Close()
}

// Send writes a send envelope and waits for the matching ack.
func (c *wsConn) Send(ctx context.Context, m model.OutboundMessage) error {
	ack := make(chan error, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[m.ID] = ack
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, m.ID)
		c.mu.Unlock()
	}()

	env := envelope{Type: "send", ID: m.ID, To: m.To, Body: m.Body}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write send frame: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ack:
		return err
	}
}

func (c *wsConn) readLoop() {
	defer close(c.frames)

	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.fail(classifyClose(err))
			return
		}

		var f Frame
		switch env.Type {
		case "message":
			f = Frame{Kind: FrameMessage, From: env.From, Body: env.Body}
		case "qr":
			f = Frame{Kind: FrameQRCode, Code: env.Code}
		case "paired":
			f = Frame{
				Kind: FramePaired,
				Credentials: &model.Credentials{
					TenantID:  c.tenantID,
					Blob:      env.Credential,
					UpdatedAt: time.Now(),
				},
			}
		case "ack":
			c.settle(env)
			continue
		default:
			c.log.Debug("ignoring unknown frame", zap.String("type", env.Type))
			continue
		}

		// the consumer stops reading once the session ends; Close unblocks
		// a send stuck on a full buffer so the goroutine exits
		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) settle(env envelope) {
	c.mu.Lock()
	ack, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	var err error
	if env.Status == "error" {
		err = fmt.Errorf("send rejected: %s", env.Error)
	}
	// the buffer can already be full when the sender gave up on its ack
	// deadline; never let an abandoned send wedge the read loop
	select {
	case ack <- err:
	default:
	}
}

// fail records the death cause and unblocks in-flight sends.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	for id, ack := range c.pending {
		select {
		case ack <- err:
		default:
		}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

func classifyClose(err error) error {
	if websocket.IsCloseError(err, closeAuthRevoked, closeTenantBanned) {
		return Terminal(fmt.Errorf("gateway closed session: %w", err))
	}
	return fmt.Errorf("transport closed: %w", err)
}

var _ Dialer = (*WSDialer)(nil)
