package events

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Event types published to the queue.
const (
	TypeJobSent         = "job.sent"
	TypeJobFailed       = "job.failed"
	TypeDecisionVerdict = "decision.verdict"
	TypeInboundReply    = "inbound.reply"
	TypeLinkHit         = "inbound.linkhit"
)

// Event is the envelope published for every bridge-side occurrence.
type Event struct {
	Type      string      `json:"type"`
	InstallID string      `json:"install_id"`
	At        time.Time   `json:"at"`
	Payload   interface{} `json:"payload"`
}

// Publisher pushes bridge events to RabbitMQ. Publishing is optional: with no
// RABBITMQ_URL the publisher is disabled and every Publish is a no-op.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	enabled bool
}

// NewPublisherFromEnv connects using RABBITMQ_URL and RABBITMQ_QUEUE.
// A missing URL or a failed connection yields a disabled publisher, never an
// error; event publishing must not block the bridge.
func NewPublisherFromEnv() *Publisher {
	url := os.Getenv("RABBITMQ_URL")
	queue := os.Getenv("RABBITMQ_QUEUE")
	if queue == "" {
		queue = "sms_bridge_events"
	}

	p := &Publisher{queue: queue}
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. Event publishing disabled.")
		return p
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, event publishing disabled")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, event publishing disabled")
		_ = conn.Close()
		return p
	}

	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return p
}

// Publish serializes and queues one event. Failures are logged, not returned;
// the store remains the source of truth and the event stream is best-effort.
func (p *Publisher) Publish(eventType, installID string, payload interface{}) {
	if p == nil || !p.enabled {
		return
	}

	body, err := json.Marshal(Event{
		Type:      eventType,
		InstallID: installID,
		At:        time.Now(),
		Payload:   payload,
	})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Failed to marshal event")
		return
	}

	_, err = p.channel.QueueDeclare(p.queue, true, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = p.channel.Publish("", p.queue, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Str("queue", p.queue).Msg("Could not publish event")
		return
	}
	log.Debug().Str("eventType", eventType).Str("queue", p.queue).Msg("Published event")
}

// Close tears down the connection.
func (p *Publisher) Close() {
	if p == nil || !p.enabled {
		return
	}
	_ = p.channel.Close()
	_ = p.conn.Close()
}
