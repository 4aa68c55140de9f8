package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/studio-ops/console/libs/kafkax"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Consumer subscribes to the change-feed topic and drives the reconciler.
// Events are keyed by entity id on the producer side, so per-id ordering holds
// within a partition and the reconciler can trust delivery order.
type Consumer struct {
	reader     *kafka.Reader
	reconciler *Reconciler
	logger     *slog.Logger
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func NewConsumer(logger *slog.Logger, reconciler *Reconciler, cfg Config) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:     reader,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Run loops until ctx is cancelled. The initial full load happens here too, so
// a restart never depends on locally cached state. A read error marks the store
// stale and forces a fresh resync before consuming resumes; a bad event is
// dropped and logged without touching the store.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	c.resyncUntilDone(ctx)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("change feed read error", "err", err)
			c.reconciler.store.SetStale(true)
			time.Sleep(1 * time.Second)
			c.resyncUntilDone(ctx)
			continue
		}

		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	_, span := otel.Tracer("feed").Start(ctxMsg, "feed.apply",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := kafkax.ExtractEventMeta(msg)

	ev, err := ParseChangeEvent(msg.Value)
	if err != nil {
		c.logger.Error("dropping change event", "err", err, "event_id", meta.EventID)
		span.RecordError(err)
		return
	}

	if err := c.reconciler.Apply(ev); err != nil {
		if errors.Is(err, ErrMalformedEvent) {
			c.logger.Error("dropping change event", "err", err, "event_id", meta.EventID)
		} else {
			c.logger.Error("apply change event", "err", err, "event_id", meta.EventID)
		}
		span.RecordError(err)
	}
}

// resyncUntilDone retries the full reload with a flat backoff. Transient fetch
// failures are logged and retried; the store keeps serving last-known-good data.
func (c *Consumer) resyncUntilDone(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.reconciler.Resync(ctx); err != nil {
			c.logger.Error("resync failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}
		return
	}
}
