package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/application"
	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/idempotency"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/tracing"
)

// Reader is the subset of kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// paymentCaptured is the payment service's signal that a checkout paid;
// it closes the reservation by confirming it.
type paymentCaptured struct {
	TenantID      string `json:"tenantId"`
	ReservationID string `json:"reservationId"`
}

// Consumer confirms reservations when payment events arrive. Duplicate
// deliveries are dropped via the idempotency store; confirm itself is also
// idempotent, so the two layers together make redelivery harmless.
type Consumer struct {
	log    *slog.Logger
	reader Reader
	engine *application.Engine
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, engine *application.Engine, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return newConsumer(log, r, engine, idem)
}

func newConsumer(log *slog.Logger, reader Reader, engine *application.Engine, idem *idempotency.Store) *Consumer {
	return &Consumer{
		log:    log,
		reader: reader,
		engine: engine,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		key := c.idem.MessageKey(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		c.handle(ctx, msg)
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentCaptured")
	defer span.End()

	var ev paymentCaptured
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed", "err", err)
		return
	}
	if ev.TenantID == "" || ev.ReservationID == "" {
		c.log.Warn("payment event missing identity", "offset", msg.Offset)
		return
	}

	err := c.engine.Confirm(msgCtx, ev.TenantID, ev.ReservationID)
	switch {
	case err == nil:
		c.log.Info("reservation confirmed from payment event",
			"tenant_id", ev.TenantID, "reservation_id", ev.ReservationID)
	case errors.Is(err, domain.ErrAlreadyTerminal):
		// Checkout lost the race against the sweeper; the payment flow
		// compensates downstream, we only record the ordering here.
		c.log.Warn("payment arrived for terminal reservation",
			"tenant_id", ev.TenantID, "reservation_id", ev.ReservationID, "err", err)
	default:
		c.log.Error("confirm failed",
			"tenant_id", ev.TenantID, "reservation_id", ev.ReservationID, "err", err)
	}
}
