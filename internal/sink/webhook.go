package sink

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexwire/chatgate/internal/model"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body, keyed by
// the target's secret.
const SignatureHeader = "X-Chatgate-Signature"

type Webhook struct {
	target model.SinkTarget
	client *http.Client
}

func NewWebhook(target model.SinkTarget, defaultTimeout time.Duration) *Webhook {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		target: target,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *Webhook) Name() string         { return w.target.Name }
func (w *Webhook) Kind() model.SinkKind { return model.SinkWebhook }
func (w *Webhook) Close() error         { return nil }

func (w *Webhook) Deliver(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.target.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.target.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.target.Secret, body))
	}

	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return fmt.Errorf("webhook %s: status=%d", w.target.Name, res.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
