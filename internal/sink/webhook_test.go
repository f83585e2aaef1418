package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexwire/chatgate/internal/model"
)

func testEvent() model.Event {
	return model.Event{
		ID:       "ev1",
		TenantID: "t1",
		Kind:     model.EventMessageInbound,
		Payload:  model.InboundMessage{From: "peer", Body: []byte("hi")},
		At:       time.Now().UTC(),
	}
}

func TestWebhook_DeliversSignedJSON(t *testing.T) {
	type captured struct {
		body        []byte
		signature   string
		contentType string
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			body:        body,
			signature:   r.Header.Get(SignatureHeader),
			contentType: r.Header.Get("Content-Type"),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(model.SinkTarget{
		Name:   "hook",
		Kind:   model.SinkWebhook,
		URL:    srv.URL,
		Secret: "shh",
	}, time.Second)

	ev := testEvent()
	require.NoError(t, hook.Deliver(context.Background(), ev))

	c := <-got
	assert.Equal(t, "application/json", c.contentType)
	assert.Equal(t, Sign("shh", c.body), c.signature)

	var decoded model.Event
	require.NoError(t, json.Unmarshal(c.body, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, ev.TenantID, decoded.TenantID)
	assert.Equal(t, ev.Kind, decoded.Kind)
}

func TestWebhook_NoSecretNoSignature(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhook(model.SinkTarget{Name: "hook", Kind: model.SinkWebhook, URL: srv.URL}, time.Second)
	require.NoError(t, hook.Deliver(context.Background(), testEvent()))
	assert.Empty(t, <-got)
}

func TestWebhook_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := NewWebhook(model.SinkTarget{Name: "hook", Kind: model.SinkWebhook, URL: srv.URL}, time.Second)
	err := hook.Deliver(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestWebhook_HonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	hook := NewWebhook(model.SinkTarget{Name: "hook", Kind: model.SinkWebhook, URL: srv.URL}, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, hook.Deliver(ctx, testEvent()))
}

func TestSign_Deterministic(t *testing.T) {
	a := Sign("secret", []byte(`{"id":"ev1"}`))
	b := Sign("secret", []byte(`{"id":"ev1"}`))
	c := Sign("other", []byte(`{"id":"ev1"}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // hex sha256
}

func TestNew_SelectsByKind(t *testing.T) {
	hook, err := New(model.SinkTarget{Name: "w", Kind: model.SinkWebhook, URL: "https://example.com"}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, model.SinkWebhook, hook.Kind())

	_, err = New(model.SinkTarget{Name: "x", Kind: model.SinkKind("bogus")}, Deps{})
	assert.Error(t, err)
}
