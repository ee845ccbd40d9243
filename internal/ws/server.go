// Package ws upgrades HTTP requests to websocket connections and pumps
// envelopes and requests between the socket and the hub.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/common/middleware"
	"github.com/telhawk-systems/resulthub/internal/registry"
)

// Registry tracks live connections and owns their outbound streams.
type Registry interface {
	Register() (string, <-chan []byte, error)
	Unregister(id string)
}

// RequestHandler processes one inbound client message.
type RequestHandler interface {
	Handle(ctx context.Context, connID string, raw []byte)
}

// Options tunes the socket keepalive and limits.
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func (o *Options) applyDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
}

// Server is the http.Handler mounted at the websocket path.
type Server struct {
	registry Registry
	handler  RequestHandler
	opts     Options
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

func NewServer(reg Registry, handler RequestHandler, opts Options, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	opts.applyDefaults()
	origins := middleware.NewOriginChecker(opts.AllowedOrigins)

	return &Server{
		registry: reg,
		handler:  handler,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     origins.Check,
		},
		logger: logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithContext(r.Context()).With(logging.RemoteAddr(r.RemoteAddr))

	// Reserve the slot first so an over-limit client gets a plain 503.
	id, outbound, err := s.registry.Register()
	if errors.Is(err, registry.ErrTooManyConnections) {
		logger.Warn("rejecting connection", logging.Error(err))
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		logger.Error("failed to register connection", logging.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.registry.Unregister(id)
		logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	logger = logger.With(logging.ConnID(id))
	logger.Info("client connected")

	done := make(chan struct{})
	go s.writePump(conn, outbound, done, logger)

	// The request context stays live until ServeHTTP returns, so the read
	// loop runs on this goroutine.
	s.readPump(r.Context(), id, conn, logger)

	s.registry.Unregister(id)
	<-done
	logger.Info("client disconnected")
}

func (s *Server) readPump(ctx context.Context, id string, conn *websocket.Conn, logger *logging.Logger) {
	conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn("websocket read failed", logging.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			logger.Debug("ignoring non-text frame", "frame_type", msgType)
			continue
		}
		s.handler.Handle(ctx, id, data)
	}
}

// writePump drains the connection's outbound stream until the registry
// closes it, then closes the socket. It also owns keepalive pings.
func (s *Server) writePump(conn *websocket.Conn, outbound <-chan []byte, done chan<- struct{}, logger *logging.Logger) {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Warn("websocket write failed", logging.Error(err))
				// Unblock the reader so the connection is unregistered.
				_ = conn.Close()
				drain(outbound)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(outbound)
				return
			}
		}
	}
}

// drain discards envelopes until the registry closes the stream.
func drain(outbound <-chan []byte) {
	for range outbound {
	}
}
