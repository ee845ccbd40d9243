// Package redis provides a Redis Pub/Sub implementation of the messaging
// interfaces.
package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/common/messaging"
)

// Config holds Redis client configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Client implements messaging.Client on Redis Pub/Sub.
type Client struct {
	rdb    *redis.Client
	owned  bool
	logger *logging.Logger

	mu     sync.Mutex
	subs   []*subscription
	closed bool
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config, logger *logging.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	c := NewFromRedis(rdb, logger)
	c.owned = true
	return c, nil
}

// NewFromRedis wraps an existing go-redis client. Close does not close rdb.
func NewFromRedis(rdb *redis.Client, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{rdb: rdb, logger: logger}
}

// Publish sends data to channel.
func (c *Client) Publish(ctx context.Context, channel string, data []byte) error {
	if c.isClosed() {
		return messaging.ErrClosed
	}
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel until the subscription or client is closed.
// The subscription is confirmed by the server before Subscribe returns, so
// messages published afterwards are never missed.
func (c *Client) Subscribe(channel string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	if c.isClosed() {
		return nil, messaging.ErrClosed
	}

	ctx := context.Background()
	ps := c.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	s := &subscription{ps: ps, channel: channel, done: make(chan struct{})}
	s.valid.Store(true)

	go func() {
		defer close(s.done)
		for msg := range ps.Channel() {
			m := &messaging.Message{
				Channel:   msg.Channel,
				Data:      []byte(msg.Payload),
				Timestamp: time.Now(),
			}
			if err := handler(ctx, m); err != nil {
				c.logger.Warn("message handler failed", logging.Channel(msg.Channel), logging.Error(err))
			}
		}
		s.valid.Store(false)
	}()

	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	return s, nil
}

// Close unsubscribes everything. The underlying client is closed only when it
// was created by NewClient.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if c.owned {
		return c.rdb.Close()
	}
	return nil
}

// IsConnected reports whether the client is open. go-redis reconnects
// lazily, so liveness is checked with Ping.
func (c *Client) IsConnected() bool {
	return !c.isClosed()
}

// Ping round-trips a PING to Redis.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type subscription struct {
	ps      *redis.PubSub
	channel string
	valid   atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// Unsubscribe closes the Pub/Sub connection and waits for the delivery loop
// to exit, so no handler runs after it returns.
func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
		s.valid.Store(false)
	})
	return err
}

func (s *subscription) Channel() string {
	return s.channel
}

func (s *subscription) IsValid() bool {
	return s.valid.Load()
}
