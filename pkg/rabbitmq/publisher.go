package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"worker-asset-processing/config"
	"worker-asset-processing/dto"
)

const routingKeyPrefix = "asset.job."

// Publisher emits job lifecycle events. Publishing is best effort: callers log
// the error and carry on.
type Publisher interface {
	Publish(ctx context.Context, event dto.JobEvent) error
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type publisher struct {
	mu       sync.Mutex
	ch       amqpChannel
	exchange string
	workerID string
	now      func() time.Time
}

// NewPublisher opens a channel on conn and declares the events exchange.
func NewPublisher(ctx context.Context, conn *amqp.Connection, cfg *config.RabbitMQ, workerID string) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newPublisher(ctx, ch, cfg, workerID)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()
	return p, nil
}

func newPublisher(ctx context.Context, ch amqpChannel, cfg *config.RabbitMQ, workerID string) (*publisher, error) {
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.Kind, true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("exchange", cfg.ExchangeName).Msg("failed to declare exchange")
		return nil, err
	}
	return &publisher{
		ch:       ch,
		exchange: cfg.ExchangeName,
		workerID: workerID,
		now:      time.Now,
	}, nil
}

func (p *publisher) Publish(ctx context.Context, event dto.JobEvent) error {
	if event.WorkerID == "" {
		event.WorkerID = p.workerID
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%s:%d", event.JobID, event.Status, event.Attempts),
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

// RoutingKey is asset.job.<status>.
func RoutingKey(event dto.JobEvent) string {
	return routingKeyPrefix + event.Status.String()
}

type noopPublisher struct{}

// NewNoopPublisher is used when no broker is configured.
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, dto.JobEvent) error {
	return nil
}
