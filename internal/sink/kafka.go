package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexwire/chatgate/internal/kafka"
	"github.com/nexwire/chatgate/internal/model"
)

type Kafka struct {
	target   model.SinkTarget
	producer *kafka.Producer
}

func NewKafka(target model.SinkTarget, deps Deps) (*Kafka, error) {
	if target.Topic == "" {
		return nil, fmt.Errorf("kafka sink %s: empty topic", target.Name)
	}
	if len(deps.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka sink %s: no brokers configured", target.Name)
	}
	p := kafka.NewProducerFromConfig(kafka.Config{
		Brokers:      deps.KafkaBrokers,
		Topic:        target.Topic,
		BatchTimeout: deps.KafkaBatchTimeout,
		WriteTimeout: deps.KafkaWriteTimeout,
	})
	return &Kafka{target: target, producer: p}, nil
}

func (k *Kafka) Name() string         { return k.target.Name }
func (k *Kafka) Kind() model.SinkKind { return model.SinkKafka }
func (k *Kafka) Close() error         { return k.producer.Close() }

func (k *Kafka) Deliver(ctx context.Context, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return k.producer.Publish(ctx, []byte(ev.TenantID), value)
}
