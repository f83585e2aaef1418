package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nexwire/chatgate/internal/model"
)

// Push publishes events on a redis channel for push-style consumers.
type Push struct {
	target model.SinkTarget
	rdb    *redis.Client
}

func NewPush(target model.SinkTarget, rdb *redis.Client) (*Push, error) {
	if target.Channel == "" {
		return nil, fmt.Errorf("push sink %s: empty channel", target.Name)
	}
	if rdb == nil {
		return nil, fmt.Errorf("push sink %s: redis not configured", target.Name)
	}
	return &Push{target: target, rdb: rdb}, nil
}

func (p *Push) Name() string         { return p.target.Name }
func (p *Push) Kind() model.SinkKind { return model.SinkPush }
func (p *Push) Close() error         { return nil }

func (p *Push) Deliver(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.rdb.Publish(ctx, p.target.Channel, body).Err()
}
