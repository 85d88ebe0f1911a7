package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/surveyforge/backend/internal/domain"
)

const (
	routingKeyUserRegistered = "user.registered"
	routingKeyPasswordReset  = "user.password_reset"
)

// UserRegisteredEvent is consumed by the welcome-email worker.
type UserRegisteredEvent struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	At       string `json:"at"`
}

// PasswordResetEvent is consumed by the reset-email worker. Token is the
// plaintext reset secret the email must carry.
type PasswordResetEvent struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Token     string `json:"token"`
	ExpiresIn string `json:"expires_in"`
	At        string `json:"at"`
}

// AMQPPublisher publishes notification events to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	resetTTL time.Duration
}

func NewAMQPPublisher(url, exchange string, resetTTL time.Duration) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, resetTTL: resetTTL}, nil
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func (p *AMQPPublisher) UserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, routingKeyUserRegistered, UserRegisteredEvent{
		UserID:   user.ID.String(),
		Email:    user.Email,
		FullName: user.FullName,
		At:       time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *AMQPPublisher) PasswordResetRequested(ctx context.Context, user *domain.User, token string) error {
	return p.publish(ctx, routingKeyPasswordReset, PasswordResetEvent{
		UserID:    user.ID.String(),
		Email:     user.Email,
		Token:     token,
		ExpiresIn: p.resetTTL.String(),
		At:        time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *AMQPPublisher) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
