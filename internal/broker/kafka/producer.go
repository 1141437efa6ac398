package kafka

import (
	"context"

	"github.com/BearBump/CarparkFinder/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// PublishFeedSynced writes m keyed by its resource type.
func (p *Producer) PublishFeedSynced(ctx context.Context, topic string, m messages.FeedSynced) error {
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "feed synced")
	}
	key, value, err := m.Encode()
	if err != nil {
		return errors.Wrap(err, "marshal feed synced")
	}
	return p.Publish(ctx, topic, key, value)
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
