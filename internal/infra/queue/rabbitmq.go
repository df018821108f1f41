package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
)

// RabbitPairingQueue реализует очередь задач подбора поверх AMQP.
type RabbitPairingQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitPairingQueue подключается к брокеру и объявляет очередь.
func NewRabbitPairingQueue(url, queueName string) (*RabbitPairingQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queueName, err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	return &RabbitPairingQueue{conn: conn, channel: ch, queue: queueName}, nil
}

// Close освобождает канал и соединение.
func (q *RabbitPairingQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}

// Enqueue публикует задачу в очередь.
func (q *RabbitPairingQueue) Enqueue(ctx context.Context, job domain.PairingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("queue", "enqueue", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Подтверждение с ok=false возвращает
// сообщение брокеру с requeue.
func (q *RabbitPairingQueue) Receive(ctx context.Context) (domain.PairingJob, domain.AckFunc, error) {
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.PairingJob{}, nil, fmt.Errorf("consume %s: %w", q.queue, err)
		}
		q.deliveries = deliveries
	}
	for {
		select {
		case <-ctx.Done():
			return domain.PairingJob{}, nil, ctx.Err()
		case msg, ok := <-q.deliveries:
			if !ok {
				return domain.PairingJob{}, nil, fmt.Errorf("consume %s: channel closed", q.queue)
			}
			var job domain.PairingJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				// Битое сообщение возвращать бессмысленно.
				_ = msg.Nack(false, false)
				continue
			}
			ack := func(ok bool) error {
				if ok {
					return msg.Ack(false)
				}
				return msg.Nack(false, true)
			}
			return job, ack, nil
		}
	}
}
