// Package messaging provides abstractions for the broadcast channel the hub
// listens on. Services publish and subscribe through these interfaces without
// being coupled to Redis or NATS.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by clients after Close.
var ErrClosed = errors.New("messaging client closed")

// Message represents a payload received from or sent to the broker.
type Message struct {
	// Channel is the topic the message was published to.
	Channel string

	// Data is the raw message payload.
	Data []byte

	// Timestamp is when the message was received.
	Timestamp time.Time
}

// MessageHandler processes a received message. Returned errors are logged by
// the backend; pub/sub delivery is not retried.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription to a channel.
type Subscription interface {
	// Unsubscribe stops receiving messages on this subscription.
	Unsubscribe() error

	// Channel returns the channel this subscription is listening to.
	Channel() string

	// IsValid returns true if the subscription is still active.
	IsValid() bool
}

// Publisher publishes messages to channels.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Close() error
}

// Subscriber subscribes to messages on channels.
// Each subscriber receives all messages (fan-out).
type Subscriber interface {
	Subscribe(channel string, handler MessageHandler) (Subscription, error)
	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber

	// IsConnected returns true if the client is connected to the broker.
	IsConnected() bool

	// Ping performs a round trip to the broker.
	Ping(ctx context.Context) error
}
