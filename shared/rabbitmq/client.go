package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned when publishing on a closed client
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrNacked is returned when the broker refuses a message
	ErrNacked = errors.New("message nacked by RabbitMQ")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	VHost         string
	Exchange      Exchange
	RetryAttempts int
	RetryInterval time.Duration
	Heartbeat     time.Duration
	Publish       PublishPolicy
}

// Exchange describes the exchange every message is published to
type Exchange struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
}

// PublishPolicy controls retries of a failed publish. Zero values fall back
// to 3 retries starting at 100ms and doubling.
type PublishPolicy struct {
	Retries    int
	Delay      time.Duration
	Multiplier float64
}

func (p PublishPolicy) withDefaults() PublishPolicy {
	if p.Retries <= 0 {
		p.Retries = 3
	}
	if p.Delay <= 0 {
		p.Delay = 100 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// DSN returns the AMQP connection URL
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.VHost,
	}
	return u.String()
}

// Client publishes to a single exchange over a confirm-mode channel. It is
// safe for concurrent use; publishes are serialized on the channel.
type Client struct {
	config  *Config
	logger  *slog.Logger
	conn    *amqp.Connection
	channel *amqp.Channel

	mu        sync.Mutex
	connected bool
}

// NewClient dials RabbitMQ, retrying RetryAttempts times, and declares the
// exchange
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{config: config, logger: logger}

	if err := c.dial(ctx); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	if err := c.setup(); err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", config.Exchange.Name),
		slog.String("exchange_type", config.Exchange.Type),
	)
	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	attempts := max(c.config.RetryAttempts, 1)
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	var err error
	for attempt := 1; ; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		if c.conn, err = amqp.DialConfig(c.config.DSN(), amqpConfig); err == nil {
			return nil
		}

		c.logger.Warn("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt == attempts {
			return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryInterval):
		}
	}
}

// setup opens the channel, declares the exchange and enables publisher
// confirms
func (c *Client) setup() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	ex := c.config.Exchange
	if err := ch.ExchangeDeclare(ex.Name, ex.Type, ex.Durable, ex.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	c.channel = ch
	c.connected = true
	go c.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

// watch marks the client disconnected when the broker closes the channel
func (c *Client) watch(closed <-chan *amqp.Error) {
	err, ok := <-closed

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if ok && err != nil {
		c.logger.Error("RabbitMQ channel closed", slog.String("reason", err.Reason), slog.Int("code", err.Code))
	}
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// PublishWithRetry publishes body under routingKey and waits for the broker
// to confirm it. Failed attempts are retried with exponential backoff; a
// closed client fails immediately.
func (c *Client) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	policy := c.config.Publish.withDefaults()
	delay := policy.Delay

	var err error
	for attempt := 0; ; attempt++ {
		if err = c.publish(ctx, routingKey, body, contentType); err == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("routing_key", routingKey),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}
		if errors.Is(err, ErrNotConnected) || attempt == policy.Retries {
			break
		}

		c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
			slog.String("routing_key", routingKey),
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
	}

	return fmt.Errorf("failed to publish %s: %w", routingKey, err)
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}

	confirm, err := c.channel.PublishWithDeferredConfirmWithContext(ctx,
		c.config.Exchange.Name,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNacked
	}
	return nil
}
