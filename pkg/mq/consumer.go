package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"notifysync/pkg/logger"
	"notifysync/pkg/trace"
	"notifysync/pkg/util"
)

// MessageHandler processes one delivery. The routing key is passed
// through so a consumer bound to several keys can tell them apart.
type MessageHandler func(ctx context.Context, routingKey string, data json.RawMessage) error

type Consumer struct {
	channel     *amqp091.Channel
	queue       amqp091.Queue
	bindingKeys []string
	handler     MessageHandler
	conn        *amqp091.Connection
	logger      *zap.Logger
}

// NewConsumer creates a consumer whose queue is bound to every given
// routing key. The queue is auto-deleted: it exists only while the
// subscriber is alive, which is the right shape for a per-device
// subscription.
func NewConsumer(url, queueName string, bindingKeys []string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		false, // durable
		true,  // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, key := range bindingKeys {
		if err := ch.QueueBind(
			q.Name,
			key,
			ExchangeName,
			false,
			nil,
		); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	logger.Info("Consumer initialized",
		zap.Strings("binding_keys", bindingKeys),
		zap.String("queue", q.Name),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:        conn,
		channel:     ch,
		queue:       q,
		bindingKeys: bindingKeys,
		logger:      logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks until the
// channel is closed and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("queue", c.queue.Name),
	)

	// Every delivery ends in exactly one ack or nack.
	for msg := range deliveries {
		func() {
			ctx := trace.WithContext(context.Background(), trace.GenerateTraceID())
			log := logger.WithTrace(ctx, c.logger)

			log.Debug("Received message",
				zap.String("routing_key", msg.RoutingKey),
				zap.String("queue", c.queue.Name),
				zap.Int("message_size", len(msg.Body)),
			)

			// Recover so a panicking handler still nacks its message.
			defer func() {
				if r := recover(); r != nil {
					log.Error("Handler panic recovered",
						zap.String("routing_key", msg.RoutingKey),
						zap.String("queue", c.queue.Name),
						zap.Any("panic", r),
					)
					if err := msg.Nack(false, !msg.Redelivered); err != nil {
						log.Error("Failed to nack message after panic",
							zap.String("routing_key", msg.RoutingKey),
							zap.Error(err),
						)
					}
				}
			}()

			if err := c.handler(ctx, msg.RoutingKey, msg.Body); err != nil {
				// Retryable errors get one redelivery; everything else
				// (and second failures) is dropped.
				retryable, errType := util.IsRetryableError(err)
				requeue := retryable && !msg.Redelivered
				log.Error("Handler error",
					zap.String("routing_key", msg.RoutingKey),
					zap.String("queue", c.queue.Name),
					zap.String("error_type", errType),
					zap.Bool("requeue", requeue),
					zap.Error(err),
				)
				if err := msg.Nack(false, requeue); err != nil {
					log.Error("Failed to nack message",
						zap.String("routing_key", msg.RoutingKey),
						zap.Error(err),
					)
				}
				return
			}

			if err := msg.Ack(false); err != nil {
				log.Error("Failed to ack message",
					zap.String("routing_key", msg.RoutingKey),
					zap.Error(err),
				)
			}
		}()
	}

	return nil
}
