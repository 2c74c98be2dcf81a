package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the client has no live channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	URL                string        `yaml:"url" env:"RABBITMQ_URL"`
	Host               string        `yaml:"host" env:"RABBITMQ_HOST"`
	Port               int           `yaml:"port" env:"RABBITMQ_PORT"`
	User               string        `yaml:"user" env:"RABBITMQ_USER"`
	Password           string        `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost              string        `yaml:"vhost" env:"RABBITMQ_VHOST"`
	QueueDurable       bool          `yaml:"queue_durable" env:"RABBITMQ_QUEUE_DURABLE"`
	RetryAttempts      int           `yaml:"retry_attempts" env:"RABBITMQ_RETRY_ATTEMPTS"`
	RetryInterval      time.Duration `yaml:"retry_interval" env:"RABBITMQ_RETRY_INTERVAL"`
	Heartbeat          time.Duration `yaml:"heartbeat" env:"RABBITMQ_HEARTBEAT"`
	PublishRetries     int           `yaml:"publish_retries" env:"RABBITMQ_PUBLISH_RETRIES"`
	PublishRetryDelay  time.Duration `yaml:"publish_retry_delay" env:"RABBITMQ_PUBLISH_RETRY_DELAY"`
	PublishBackoffMult float64       `yaml:"publish_backoff_mult" env:"RABBITMQ_PUBLISH_BACKOFF_MULT"`
}

// DSN returns the AMQP URL, built from the parts when URL is empty
func (c *Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

// Message is one message fetched with Get
type Message struct {
	Tag         uint64
	Body        []byte
	Redelivered bool
	Headers     amqp.Table
}

// Client represents a RabbitMQ client. Tasks are published to the default
// exchange with the queue name as routing key.
type Client struct {
	config *Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		config:   config,
		logger:   logger,
		declared: make(map[string]bool),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.config.DSN(), amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.logger.Info("Successfully connected to RabbitMQ")
	return nil
}

func (c *Client) ch() (*amqp.Channel, error) {
	if c.channel == nil || c.channel.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

// DeclareQueue declares a queue once per client
func (c *Client) DeclareQueue(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.declared[name] {
		return nil
	}
	ch, err := c.ch()
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(
		name,                  // name
		c.config.QueueDurable, // durable
		false,                 // auto-delete
		false,                 // exclusive
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	c.declared[name] = true
	return nil
}

// QueueDepth returns the number of ready messages in the queue
func (c *Client) QueueDepth(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.ch()
	if err != nil {
		return 0, err
	}
	q, err := ch.QueueDeclarePassive(name, c.config.QueueDurable, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", name, err)
	}
	return q.Messages, nil
}

// Get fetches one message without auto-ack. ok is false when the queue is empty.
func (c *Client) Get(name string) (Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.ch()
	if err != nil {
		return Message{}, false, err
	}
	d, ok, err := ch.Get(name, false)
	if err != nil {
		return Message{}, false, fmt.Errorf("failed to get message from %s: %w", name, err)
	}
	if !ok {
		return Message{}, false, nil
	}
	return Message{Tag: d.DeliveryTag, Body: d.Body, Redelivered: d.Redelivered, Headers: d.Headers}, true, nil
}

// Ack acknowledges a delivery
func (c *Client) Ack(tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.ch()
	if err != nil {
		return err
	}
	if err := ch.Ack(tag, false); err != nil {
		return fmt.Errorf("failed to ack delivery %d: %w", tag, err)
	}
	return nil
}

// Nack rejects a delivery, optionally requeueing it
func (c *Client) Nack(tag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.ch()
	if err != nil {
		return err
	}
	if err := ch.Nack(tag, false, requeue); err != nil {
		return fmt.Errorf("failed to nack delivery %d: %w", tag, err)
	}
	return nil
}

func (c *Client) publish(ctx context.Context, queue string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.ch()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishWithRetry publishes a message with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, queue string, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publish(ctx, queue, body, contentType)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.String("queue", queue),
					slog.Int("attempt", attempt+1),
				)
			}
			return nil
		}
		if errors.Is(err, ErrNotConnected) {
			return err
		}
		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.String("queue", queue),
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("failed to publish message: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.String("queue", queue),
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
			return err
		}
	}
	return nil
}
