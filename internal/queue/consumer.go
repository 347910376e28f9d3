package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/labstack/gommon/log"
    amqp "github.com/rabbitmq/amqp091-go"
)

const maxBackoff = 30 * time.Second

// StartBookingConsumer reads booking events from queueName and appends one
// line per event to logPath.  It reconnects with exponential backoff until
// ctx is cancelled, then returns ctx.Err().  Malformed messages are
// rejected without requeue.
func StartBookingConsumer(ctx context.Context, url, queueName, logPath string) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Warnf("booking-consumer: dial failed: %v; retrying in %s", err, backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            backoff = min(backoff*2, maxBackoff)
            continue
        }
        backoff = time.Second

        err = consume(ctx, conn, queueName, logPath)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Warnf("booking-consumer: %v; reconnecting", err)
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func consume(ctx context.Context, conn *amqp.Connection, queueName, logPath string) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Warnf("booking-consumer: qos: %v", err)
    }
    if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, queueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := handleMessage(logPath, d.Body); err != nil {
            log.Errorf("booking-consumer: %v", err)
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

func handleMessage(logPath string, body []byte) error {
    var ev BookingEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    line, err := formatLine(ev)
    if err != nil {
        return err
    }
    if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
        return fmt.Errorf("mkdir: %w", err)
    }
    f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func formatLine(ev BookingEvent) (string, error) {
    var b strings.Builder
    fmt.Fprintf(&b, "[%s] ", ev.OccurredAt)
    switch ev.Type {
    case EventBookingReserved:
        fmt.Fprintf(&b, "Booking reserved | booking_id=%s | user_id=%s | vehicle_id=%s | lot=%q | planned_hours=%g | amount=%.2f | method=%s",
            ev.BookingID, ev.UserID, ev.VehicleID, ev.LotName, ev.PlannedHours, ev.Amount, ev.PaymentMethod)
    case EventBookingClosed:
        actual := "-"
        if ev.ActualHours != nil {
            actual = fmt.Sprintf("%g", *ev.ActualHours)
        }
        fmt.Fprintf(&b, "Booking %s | booking_id=%s | user_id=%s | lot=%q | actual_hours=%s | amount=%.2f",
            ev.Status, ev.BookingID, ev.UserID, ev.LotName, actual, ev.Amount)
    case EventLotCapacity:
        fmt.Fprintf(&b, "Lot capacity | lot_id=%s | lot=%q", ev.ParkingLotID, ev.LotName)
    default:
        return "", fmt.Errorf("unknown event type %q", ev.Type)
    }
    fmt.Fprintf(&b, " | available=%d/%d\n", ev.AvailableSpaces, ev.TotalSpaces)
    return b.String(), nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
