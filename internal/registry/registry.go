// Package registry tracks live client connections and their session
// interest. It is the only shared mutable state of the hub; every operation is
// serialized by one mutex.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/internal/metrics"
	"github.com/telhawk-systems/resulthub/internal/models"
	"github.com/telhawk-systems/resulthub/internal/tokens"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrTooManyConnections = errors.New("too many connections")
)

// DefaultSendBuffer is the outbound queue length per connection.
const DefaultSendBuffer = 64

type connection struct {
	id       string
	identity *tokens.Identity
	session  string
	send     chan []byte
}

// Registry owns the connection table. Connections are referenced by id
// everywhere else.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*connection
	buffer   int
	maxConns int
	logger   *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// WithMaxConnections caps the number of registered connections. Zero means
// unlimited.
func WithMaxConnections(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxConns = n
		}
	}
}

func New(logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Registry{
		conns:  make(map[string]*connection),
		buffer: DefaultSendBuffer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a connection and returns its id and the ordered outbound
// stream. The stream is closed by Unregister.
func (r *Registry) Register() (string, <-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		metrics.ConnectionsRejected.Inc()
		return "", nil, ErrTooManyConnections
	}

	c := &connection{
		id:   uuid.New().String(),
		send: make(chan []byte, r.buffer),
	}
	r.conns[c.id] = c
	metrics.Connections.Set(float64(len(r.conns)))
	return c.id, c.send, nil
}

// Unregister removes the connection and closes its stream. Unknown ids are
// ignored so disconnect paths may call it more than once.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return
	}
	delete(r.conns, id)
	close(c.send)
	metrics.Connections.Set(float64(len(r.conns)))
}

// CloseAll unregisters every connection. Writers observe their closed stream
// and shut the socket down.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.conns)
	for id, c := range r.conns {
		delete(r.conns, id)
		close(c.send)
	}
	metrics.Connections.Set(0)
	return n
}

// SetIdentity marks the connection authenticated.
func (r *Registry) SetIdentity(id string, identity *tokens.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	c.identity = identity
	return nil
}

// Identity returns the verified identity, or nil while unauthenticated.
func (r *Registry) Identity(id string) *tokens.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[id]; ok {
		return c.identity
	}
	return nil
}

// SetSubscription sets the session interest. An empty session unsets it.
// The change applies to every broadcast that acquires the lock afterwards.
func (r *Registry) SetSubscription(id, session string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	c.session = session
	return nil
}

// Subscription returns the current session interest, empty when unset.
func (r *Registry) Subscription(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[id]; ok {
		return c.session
	}
	return ""
}

// BroadcastToSession enqueues env on every connection subscribed to session
// and returns the number of connections that accepted it. A connection whose
// queue is full is skipped and logged; its own disconnect path cleans it up.
func (r *Registry) BroadcastToSession(session string, env models.Envelope) int {
	if session == "" {
		return 0
	}

	data, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("failed to marshal envelope", logging.MsgType(env.MsgType), logging.Error(err))
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, c := range r.conns {
		if c.session != session {
			continue
		}
		if err := r.enqueue(c, data); err != nil {
			r.logger.Warn("dropped envelope",
				logging.ConnID(c.id),
				logging.SessionID(session),
				logging.MsgType(env.MsgType),
				logging.Error(err),
			)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.EnvelopesSent.WithLabelValues(env.MsgType).Add(float64(delivered))
	}
	return delivered
}

// Send enqueues env on a single connection, behind anything already queued.
func (r *Registry) Send(id string, env models.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrConnectionNotFound
	}
	if err := r.enqueue(c, data); err != nil {
		return err
	}
	metrics.EnvelopesSent.WithLabelValues(env.MsgType).Inc()
	return nil
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// enqueue must be called with r.mu held.
func (r *Registry) enqueue(c *connection, data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		metrics.DeliveryErrors.Inc()
		return ErrSendBufferFull
	}
}
