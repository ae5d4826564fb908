package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nhasan-dev/bazar-orders-service/internal/domain"
	"github.com/nhasan-dev/bazar-orders-service/internal/logger"
)

type ConsumerConfig struct {
	Brokers string
	Topic   string
	GroupID string
}

// EventHandler processes one order event. Returning an error keeps the
// message uncommitted so it is retried.
type EventHandler interface {
	HandleOrderEvent(ctx context.Context, ev domain.OrderEvent) error
}

// StartConsumer reads the order-events topic and feeds the handler (the
// notification worker in this service). Malformed messages are committed and
// skipped; handler failures are retried with a small backoff.
func StartConsumer(ctx context.Context, h EventHandler, cfg ConsumerConfig) (*kafka.Reader, error) {
	brokers := strings.Split(cfg.Brokers, ",")

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  0,
		StartOffset:     kafka.FirstOffset,
		ReadLagInterval: -1,
	})

	logger.Info("kafka consumer starting", "brokers", cfg.Brokers, "topic", cfg.Topic, "group", cfg.GroupID)

	go func() {
		defer r.Close()

		backoff := time.Millisecond * 300
		for {
			m, err := r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka fetch error", "err", err)
				time.Sleep(backoff)
				continue
			}

			var ev domain.OrderEvent
			if err = json.Unmarshal(m.Value, &ev); err != nil {
				logger.Warn("kafka invalid json. skip and commit", "err", err)
				_ = r.CommitMessages(ctx, m)
				continue
			}

			if err = h.HandleOrderEvent(ctx, ev); err != nil {
				logger.Warn("kafka handle event failed, will retry", "type", ev.Type, "order_id", ev.OrderID, "err", err)
				time.Sleep(backoff)
				continue
			}

			if err := r.CommitMessages(ctx, m); err != nil {
				logger.Warn("[kafka] commit failed", "err", err)
			}
		}
	}()
	return r, nil
}
