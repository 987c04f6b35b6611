package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StartSeatEventConsumer connects to the broker, binds an exclusive
// auto-delete queue to the seat.events fanout exchange and feeds the
// decoded events to handle.  Events originating from this instance
// (matching origin) are dropped, since the local hub already fanned
// them out.  The function runs a reconnect loop with capped backoff
// until the context is cancelled.
func StartSeatEventConsumer(ctx context.Context, url, origin string, handle func(SeatEvent)) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("seat-events: failed to dial broker: %v; retrying in %s", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(ctx, conn, origin, handle); err != nil {
			log.Printf("seat-events: consume loop ended: %v; reconnecting", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, origin string, handle func(SeatEvent)) error {
	defer func() { _ = conn.Close() }()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(seatEventsExchange, "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	// Exclusive and auto-delete: each instance gets its own transient
	// copy of the stream and leaves nothing behind on disconnect.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", seatEventsExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			var ev SeatEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Printf("seat-events: drop malformed event: %v", err)
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			if ev.Origin != origin {
				handle(ev)
			}
			_ = d.Ack(false)
		}
	}
}
