package rabbitmq

import (
	"fmt"
	"log"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Decision tells the consume loop what to do with a delivery after the
// handler returns.
type Decision int

const (
	// Ack removes the message: handled, or a no-op the handler chose to drop.
	Ack Decision = iota
	// NackRequeue returns the message to the queue for another attempt.
	// Used for repository or external-service failures.
	NackRequeue
	// NackDrop discards the message without requeueing. Used for payloads
	// that will never decode.
	NackDrop
)

// Handler processes one delivery body and decides its fate.
type Handler func(body []byte) Decision

type Consumer struct {
	conn *amqp.Connection
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	return &Consumer{conn: conn}, nil
}

// Consume declares the queue, binds it to the events exchange under the given
// routing key and runs the handler for each delivery on a dedicated channel.
// Prefetch is 1 so deliveries for a queue are processed strictly in order.
func (c *Consumer) Consume(queueName, routingKey string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("no handler provided")
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return err
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	if err := ch.QueueBind(q.Name, routingKey, EventsExchange, false, nil); err != nil {
		ch.Close()
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return err
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return err
	}

	go func() {
		for d := range msgs {
			switch handler(d.Body) {
			case Ack:
				d.Ack(false)
			case NackRequeue:
				log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" queue=%s routing_key=%s", q.Name, d.RoutingKey)
				d.Nack(false, true)
			case NackDrop:
				log.Printf("level=warn component=rabbitmq_consumer msg=\"undecodable message; dropping\" queue=%s routing_key=%s", q.Name, d.RoutingKey)
				d.Nack(false, false)
			}
		}
	}()

	return nil
}

func (c *Consumer) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
