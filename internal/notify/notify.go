// Package notify publishes completed practices to an AMQP exchange so
// downstream consumers can pick up the analysis.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Event is the message body for one completed practice.
type Event struct {
	PracticeID  string    `json:"practice_id"`
	SessionID   string    `json:"session_id"`
	OwnerID     string    `json:"owner_id"`
	AttemptID   string    `json:"attempt_id"`
	StoragePath string    `json:"storage_path"`
	VideoURL    string    `json:"video_url"`
	Source      string    `json:"source,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher sends one Event per completed finalize attempt.
type Publisher struct {
	ch         Channel
	conn       *amqp.Connection
	exchange   string
	routingKey string
	logger     *slog.Logger

	mu   sync.Mutex
	sent map[string]bool
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url string, exchange string, routingKey string, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p, err := NewPublisher(ch, exchange, routingKey, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares exchange on ch and returns a publisher bound to it.
func NewPublisher(ch Channel, exchange string, routingKey string, logger *slog.Logger) (*Publisher, error) {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
		sent:       map[string]bool{},
	}, nil
}

// Publish sends ev as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode practice event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx,
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     uuid.NewString(),
			CorrelationId: ev.AttemptID,
			Timestamp:     ev.CompletedAt,
			Type:          "practice.completed",
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish practice %s: %w", ev.PracticeID, err)
	}
	return nil
}

// Observe publishes the first Completed snapshot of each attempt. Failures
// are logged; the practice itself already succeeded.
func (p *Publisher) Observe(ctx context.Context, snap practice.Snapshot) {
	if snap.State != fsm.StateCompleted || snap.ResultID == "" {
		return
	}
	key := snap.SessionID + "/" + snap.AttemptID
	p.mu.Lock()
	if p.sent[key] {
		p.mu.Unlock()
		return
	}
	p.sent[key] = true
	p.mu.Unlock()

	ev := Event{
		PracticeID:  snap.ResultID,
		SessionID:   snap.SessionID,
		OwnerID:     snap.OwnerID,
		AttemptID:   snap.AttemptID,
		StoragePath: snap.StoragePath,
		VideoURL:    snap.PublicURL,
		Source:      string(snap.Source),
		CompletedAt: snap.At,
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Publish(ctx, ev); err != nil {
		if p.logger != nil {
			p.logger.Error("practice notification failed", slog.String("result_id", snap.ResultID), slog.Any("error", err))
		}
		return
	}
	if p.logger != nil {
		p.logger.Info("practice notification sent", slog.String("result_id", snap.ResultID), slog.String("exchange", p.exchange))
	}
}

// Close closes the channel and, when Dial opened it, the connection.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
