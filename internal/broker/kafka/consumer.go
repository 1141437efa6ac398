package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/CarparkFinder/internal/broker/messages"
	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FeedSyncedHandler reacts to one decoded, valid feed.synced event. Wrap an
// error with backoff.Permanent to skip retries.
type FeedSyncedHandler func(ctx context.Context, m messages.FeedSynced) error

type Consumer struct {
	r messageReader

	retryTries   uint
	retryInitial time.Duration
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r, retryTries: 5, retryInitial: 200 * time.Millisecond}
}

// WithRetry sets how often a failing handler is retried per message.
func (c *Consumer) WithRetry(tries uint, initial time.Duration) *Consumer {
	if tries > 0 {
		c.retryTries = tries
	}
	if initial > 0 {
		c.retryInitial = initial
	}
	return c
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler and commits it only after the handler
// succeeded. The first handler error stops consumption.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumeFeedSynced decodes feed.synced events and passes them to h.
// Undecodable or invalid events are committed and skipped. Handler errors are
// retried with exponential backoff; once the tries run out the event is logged
// and committed, so a single event never stalls the stream. Only fetch, commit
// or shutdown end consumption.
func (c *Consumer) ConsumeFeedSynced(ctx context.Context, h FeedSyncedHandler) error {
	return c.Consume(ctx, func(key, value []byte) error {
		var m messages.FeedSynced
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip undecodable feed synced message", "key", string(key), "error", err.Error())
			return nil
		}
		if err := m.Validate(); err != nil {
			slog.Warn("skip invalid feed synced message", "key", string(key), "cycle_id", m.CycleID, "error", err.Error())
			return nil
		}

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.retryInitial
		bo.MaxInterval = 5 * time.Second

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, h(ctx, m)
		}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.retryTries))
		if err != nil {
			if ctx.Err() != nil {
				// leave it uncommitted for the next owner of the partition
				return ctx.Err()
			}
			slog.Error("drop feed synced message", "cycle_id", m.CycleID, "resource", m.ResourceType, "error", err.Error())
		}
		return nil
	})
}
