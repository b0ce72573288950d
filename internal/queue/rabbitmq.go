package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mawule-gabriel/synthesis/pkg/logger"
)

const (
	ExchangeName = "synthesis"

	deadLetterSuffix = ".dead"
	publishTimeout   = 5 * time.Second
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery channel, usually because the connection dropped.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewRabbitMQ connects and declares the work queue together with its
// dead-letter queue.
func NewRabbitMQ(url, queueName string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch, queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("RabbitMQ connected successfully", zap.String("queue", queueName))

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		queue:   queueName,
	}, nil
}

func declareTopology(ch *amqp.Channel, queueName string) error {
	err := ch.ExchangeDeclare(
		ExchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	deadLetter := queueName + deadLetterSuffix
	queues := []struct {
		name string
		args amqp.Table
	}{
		{deadLetter, nil},
		{queueName, amqp.Table{
			"x-dead-letter-exchange":    ExchangeName,
			"x-dead-letter-routing-key": deadLetter,
		}},
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
		if err := ch.QueueBind(q.name, q.name, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.name, err)
		}
	}

	return nil
}

// Publish publishes a message to the work queue
func (r *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := r.channel.PublishWithContext(
		ctx,
		ExchangeName, // exchange
		r.queue,      // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Debug("Message published to queue",
		zap.String("queue", r.queue),
		zap.Int("size", len(body)))

	return nil
}

// PublishTask publishes a TranscriptionTask to the work queue
func (r *RabbitMQ) PublishTask(ctx context.Context, task *TranscriptionTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return r.Publish(ctx, body)
}

// Handler processes one delivery body.
type Handler func(ctx context.Context, body []byte) error

// Consume runs concurrency handlers over the work queue until ctx is done.
// The broker never hands out more than concurrency unacknowledged messages.
func (r *RabbitMQ) Consume(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	if err := r.channel.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.channel.Consume(
		r.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Info("Starting to consume messages",
		zap.String("queue", r.queue),
		zap.Int("concurrency", concurrency))

	return dispatch(ctx, msgs, concurrency, handler)
}

func dispatch(ctx context.Context, msgs <-chan amqp.Delivery, concurrency int, handler Handler) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case msg, ok := <-msgs:
					if !ok {
						return ErrDeliveriesClosed
					}
					handleDelivery(ctx, msg, handler)
				}
			}
		})
	}

	return g.Wait()
}

func handleDelivery(ctx context.Context, msg amqp.Delivery, handler Handler) {
	logger.Debug("Received message", zap.Int("size", len(msg.Body)))

	err := handler(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			logger.Error("Failed to ack message", zap.Error(ackErr))
		}
	case errors.Is(err, ErrPermanent):
		logger.Error("Dropping message after permanent failure", zap.Error(err))
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error("Failed to reject message", zap.Error(nackErr))
		}
	default:
		logger.Warn("Failed to handle message, requeueing", zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("Failed to requeue message", zap.Error(nackErr))
		}
	}
}

// Close RabbitMQ connection
func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
