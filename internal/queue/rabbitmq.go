package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talky/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	QueueNameScoreAttempts = "score_attempts"
	ExchangeName           = "talky"
)

// ErrReject wraps handler errors that must not be redelivered.
var ErrReject = errors.New("reject message")

// Handler processes one delivery body.
type Handler func(ctx context.Context, body []byte) error

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
}

// NewRabbitMQ connects and declares the exchange and score queue
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("RabbitMQ connected successfully")

	return &RabbitMQ{
		conn:    conn,
		channel: ch,
		url:     url,
	}, nil
}

func declare(ch *amqp.Channel) error {
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

	_, err = ch.QueueDeclare(
		QueueNameScoreAttempts, // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		QueueNameScoreAttempts, // queue name
		QueueNameScoreAttempts, // routing key
		ExchangeName,           // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Publish publishes a message to the queue
func (r *RabbitMQ) Publish(ctx context.Context, queueName string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := r.channel.PublishWithContext(
		ctx,
		ExchangeName, // exchange
		queueName,    // routing key
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
		zap.String("queue", queueName),
		zap.Int("size", len(body)))

	return nil
}

// PublishTask publishes a ScoreTask to the score queue
func (r *RabbitMQ) PublishTask(ctx context.Context, task *ScoreTask) error {
	body, err := EncodeTask(task)
	if err != nil {
		return err
	}
	return r.Publish(ctx, QueueNameScoreAttempts, body)
}

// EncodeTask marshals a task for the wire
func EncodeTask(task *ScoreTask) ([]byte, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	return body, nil
}

// DecodeTask unmarshals a delivery body. Bodies that cannot be decoded are
// wrapped with ErrReject.
func DecodeTask(body []byte) (*ScoreTask, error) {
	var task ScoreTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal task: %v", ErrReject, err)
	}
	if task.AttemptID == "" {
		return nil, fmt.Errorf("%w: task has no attempt id", ErrReject)
	}
	return &task, nil
}

// Consume delivers messages to handler until ctx is done or the channel
// closes. Failed deliveries are requeued unless the error wraps ErrReject.
func (r *RabbitMQ) Consume(ctx context.Context, queueName string, handler Handler) error {
	err := r.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := r.channel.ConsumeWithContext(
		ctx,
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Info("Starting to consume messages", zap.String("queue", queueName))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", queueName)
			}
			logger.Debug("Received message", zap.Int("size", len(msg.Body)))

			err := handler(ctx, msg.Body)
			switch {
			case err == nil:
				msg.Ack(false)
			case errors.Is(err, ErrReject):
				logger.Error("Rejecting message", zap.Error(err))
				msg.Nack(false, false)
			default:
				logger.Error("Failed to handle message", zap.Error(err))
				msg.Nack(false, true)
			}
		}
	}
}

// Ping reports whether the broker connection is still open
func (r *RabbitMQ) Ping(context.Context) error {
	if r.conn == nil || r.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
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
