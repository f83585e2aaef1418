// Package sink implements the closed set of external event destinations:
// webhook, kafka topic, redis push channel. All variants sit behind one
// delivery interface selected by tenant configuration.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexwire/chatgate/internal/model"
)

// Sink delivers one event to one external destination. Deliver returning nil
// means the destination accepted the event.
type Sink interface {
	Name() string
	Kind() model.SinkKind
	Deliver(ctx context.Context, ev model.Event) error
	Close() error
}

// Deps carries the process-wide resources sinks are built from.
type Deps struct {
	KafkaBrokers      []string
	KafkaBatchTimeout time.Duration
	KafkaWriteTimeout time.Duration
	Redis             *redis.Client
	DefaultTimeout    time.Duration
}

// New builds the sink variant selected by target.Kind.
func New(target model.SinkTarget, deps Deps) (Sink, error) {
	switch target.Kind {
	case model.SinkWebhook:
		return NewWebhook(target, deps.DefaultTimeout), nil
	case model.SinkKafka:
		return NewKafka(target, deps)
	case model.SinkPush:
		return NewPush(target, deps.Redis)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", target.Kind)
	}
}
