package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexwire/chatgate/internal/model"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// gatewayStub upgrades each connection and hands it to serve.
func gatewayStub(t *testing.T, serve func(ws *websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		if serve != nil {
			serve(ws)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialStub(t *testing.T, srv *httptest.Server) Conn {
	t.Helper()
	d := NewWSDialer(WSDialerOpts{GatewayURL: wsURL(srv)}, nil)
	conn, err := d.Dial(context.Background(), "t1", &model.Credentials{TenantID: "t1", Blob: []byte("token")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWSDialer_TerminalOnHandshakeRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewWSDialer(WSDialerOpts{GatewayURL: wsURL(srv)}, nil)
	_, err := d.Dial(context.Background(), "t1", &model.Credentials{TenantID: "t1", Blob: []byte("token")})
	require.Error(t, err)
	assert.True(t, IsTerminal(err), "auth rejection must not be retried")
}

func TestWSConn_SendAckRoundTrip(t *testing.T) {
	type handshake struct{ tenant, auth string }
	seen := make(chan handshake, 1)

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- handshake{tenant: r.Header.Get("X-Tenant-ID"), auth: r.Header.Get("Authorization")}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var env envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		_ = ws.WriteJSON(envelope{Type: "ack", ID: env.ID})
		_ = ws.WriteJSON(envelope{Type: "message", From: "peer", Body: []byte("hello")})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn := dialStub(t, srv)

	hs := <-seen
	assert.Equal(t, "t1", hs.tenant)
	assert.Equal(t, "Bearer "+base64.StdEncoding.EncodeToString([]byte("token")), hs.auth)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Send(ctx, model.OutboundMessage{ID: "m1", TenantID: "t1", To: "peer", Body: []byte("hi")}))

	select {
	case f := <-conn.Frames():
		assert.Equal(t, FrameMessage, f.Kind)
		assert.Equal(t, "peer", f.From)
		assert.Equal(t, []byte("hello"), f.Body)
	case <-time.After(time.Second):
		t.Fatal("inbound frame never surfaced")
	}
}

func TestWSConn_SendFailsAfterTransportDeath(t *testing.T) {
	srv := gatewayStub(t, nil) // server hangs up immediately
	conn := dialStub(t, srv)

	require.Eventually(t, func() bool { return conn.Err() != nil },
		time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, conn.Send(ctx, model.OutboundMessage{ID: "m1", To: "peer"}))
}

func TestWSConn_CloseUnblocksBackloggedReadLoop(t *testing.T) {
	srv := gatewayStub(t, func(ws *websocket.Conn) {
		// overflow the frame buffer while nobody consumes Frames()
		for i := 0; i < 64; i++ {
			if err := ws.WriteJSON(envelope{Type: "message", From: "peer", Body: []byte("x")}); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	conn := dialStub(t, srv)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.Close())

	// a closed conn must still terminate its read loop: the frame channel
	// drains and then closes
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frame channel never closed, read loop leaked")
		}
	}
}

func TestWSConn_FailToleratesAbandonedAck(t *testing.T) {
	srv := gatewayStub(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	c := dialStub(t, srv).(*wsConn)

	// an abandoned send: the sender hit its ack deadline and left, its ack
	// buffer already holds a value
	ack := make(chan error, 1)
	ack <- errors.New("stale")
	c.mu.Lock()
	c.pending["m1"] = ack
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.fail(errors.New("transport died"))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fail blocked on a full ack buffer")
	}
	assert.Error(t, c.Err())
}

func TestWSConn_SettleToleratesAbandonedAck(t *testing.T) {
	srv := gatewayStub(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	c := dialStub(t, srv).(*wsConn)

	ack := make(chan error, 1)
	ack <- errors.New("stale")
	c.mu.Lock()
	c.pending["m1"] = ack
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.settle(envelope{Type: "ack", ID: "m1"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("settle blocked on a full ack buffer")
	}

	c.mu.Lock()
	_, pending := c.pending["m1"]
	c.mu.Unlock()
	assert.False(t, pending, "settled entry must be removed")
}
