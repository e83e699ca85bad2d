/**
 * @description
 * This package provides the RabbitMQ producer and consumer used by the
 * affiliation-service. The producer publishes citizen lifecycle events to a
 * durable topic exchange and encapsulates connection handling plus a one-shot
 * channel-reopen retry so a transient broker hiccup does not surface as event
 * loss where a retry would have succeeded.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/govcarpeta/affiliation-service/internal/domain"
)

// EventsExchange is the durable topic exchange all citizen events flow through.
const EventsExchange = "carpeta.events"

// ErrPublisherUnavailable is returned by the fallback publisher so callers can
// take their publish-failure paths (roll back or log and continue).
var ErrPublisherUnavailable = errors.New("rabbitmq publisher unavailable")

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// EventProducerFallback is a minimal publisher used when RabbitMQ is
// unavailable at startup. Publishes are logged and reported as failed.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" routing_key=%s", routingKey)
	return ErrPublisherUnavailable
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a persistent JSON message to the events exchange with the
// given routing key.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // type
		true,           // durable
		false,          // autoDelete
		false,          // internal
		false,          // noWait
		nil,            // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" err=%v", err)
		// Attempt simple channel reopen once
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if err2 := p.channel.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err2 != nil {
					return err2
				}
			} else {
				return chErr
			}
		} else {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" routing_key=%s err=%v", routingKey, err)
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	err = p.channel.PublishWithContext(ctx, EventsExchange, routingKey, false, false, msg)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" routing_key=%s err=%v", routingKey, err)
		// One-shot retry: reopen channel and try again
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if exErr := p.channel.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); exErr == nil {
					if err = p.channel.PublishWithContext(ctx, EventsExchange, routingKey, false, false, msg); err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// PublishRegisterCitizenRequested asks operator-connectivity to register the
// citizen with the external authority.
func PublishRegisterCitizenRequested(ctx context.Context, p Publisher, event domain.RegisterCitizenRequested) error {
	return p.Publish(ctx, domain.EventRegisterCitizenRequested, event)
}

// PublishUnregisterCitizenRequested asks operator-connectivity to remove the
// citizen from the external authority.
func PublishUnregisterCitizenRequested(ctx context.Context, p Publisher, event domain.UnregisterCitizenRequested) error {
	return p.Publish(ctx, domain.EventUnregisterCitizenRequested, event)
}

// PublishDocumentsDownloadRequested asks the document service to ingest the
// citizen's files from the source operator.
func PublishDocumentsDownloadRequested(ctx context.Context, p Publisher, event domain.DocumentsDownloadRequested) error {
	return p.Publish(ctx, domain.EventDocumentsDownloadRequested, event)
}

// PublishAffiliationCreated announces a completed affiliation.
func PublishAffiliationCreated(ctx context.Context, p Publisher, idCitizen int64) error {
	return p.Publish(ctx, domain.EventAffiliationCreated, domain.CitizenEvent{IDCitizen: idCitizen})
}

// PublishUserTransferred announces that a citizen left this operator so
// downstream services can release its data.
func PublishUserTransferred(ctx context.Context, p Publisher, idCitizen int64) error {
	return p.Publish(ctx, domain.EventUserTransferred, domain.CitizenEvent{IDCitizen: idCitizen})
}
