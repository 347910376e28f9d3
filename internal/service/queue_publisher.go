// Package service holds outbound adapters the ledger publishes through.
package service

import (
    "context"
    "encoding/json"
    "time"

    "github.com/labstack/gommon/log"
    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/parking-reservation/internal/queue"
)

// QueuePublisher sends booking events to a durable RabbitMQ queue.  It
// dials per event; failures are logged and returned but never affect the
// booking that produced the event.
type QueuePublisher struct {
    URL   string
    Queue string
}

var _ queue.Sink = (*QueuePublisher)(nil)

func NewQueuePublisher(url, queueName string) *QueuePublisher {
    return &QueuePublisher{URL: url, Queue: queueName}
}

// Publish implements queue.Sink.
func (p *QueuePublisher) Publish(ctx context.Context, ev queue.BookingEvent) error {
    body, err := encodeEvent(ev)
    if err != nil {
        return err
    }
    conn, err := amqp.Dial(p.URL)
    if err != nil {
        log.Warnf("rabbitmq: dial failed: %v", err)
        return err
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return err
    }
    defer func() { _ = ch.Close() }()

    if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
        log.Warnf("rabbitmq: queue declare failed: %v", err)
        return err
    }
    return ch.PublishWithContext(ctx, "", p.Queue, false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Type:         ev.Type,
        MessageId:    ev.BookingID,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    })
}

func encodeEvent(ev queue.BookingEvent) ([]byte, error) {
    if ev.OccurredAt == "" {
        ev.OccurredAt = time.Now().UTC().Format(time.RFC3339)
    }
    return json.Marshal(ev)
}
