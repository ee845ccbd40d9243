// Package dispatcher consumes the broadcast channel and fans translated
// envelopes out to subscribed connections.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/common/messaging"
	"github.com/telhawk-systems/resulthub/internal/metrics"
	"github.com/telhawk-systems/resulthub/internal/models"
)

var (
	ErrAlreadyStarted = errors.New("dispatcher already started")
	ErrShutdown       = errors.New("dispatcher shut down")
)

// State of the dispatcher.
type State int

const (
	StateIdle State = iota
	StateSubscribed
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribed:
		return "subscribed"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Broadcaster delivers an envelope to every connection subscribed to session.
type Broadcaster interface {
	BroadcastToSession(session string, env models.Envelope) int
}

// Translator builds the ordered envelopes for one event.
type Translator interface {
	Translate(ctx context.Context, ev *models.Event) []models.Envelope
}

// pending is one event whose translation may still be running.
type pending struct {
	eventID string
	envs    []models.Envelope
	done    chan struct{}
}

// lane delivers the events of one session in arrival order.
type lane struct {
	queue []*pending
}

// Dispatcher subscribes to one channel. Each event is translated in its own
// goroutine; delivery goes through a per-session lane so envelopes of one
// session leave in arrival order while a slow lookup never delays another
// session.
type Dispatcher struct {
	subscriber  messaging.Subscriber
	channel     string
	translator  Translator
	broadcaster Broadcaster
	logger      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	subscription messaging.Subscription
	lanes        map[string]*lane
	wg           sync.WaitGroup
}

func New(subscriber messaging.Subscriber, channel string, translator Translator, broadcaster Broadcaster, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	if channel == "" {
		channel = messaging.ChannelResults
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		subscriber:  subscriber,
		channel:     channel,
		translator:  translator,
		broadcaster: broadcaster,
		logger:      logger.With(logging.Channel(channel)),
		ctx:         ctx,
		cancel:      cancel,
		lanes:       make(map[string]*lane),
	}
}

// Start subscribes to the channel. It may be called once.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateSubscribed:
		return ErrAlreadyStarted
	case StateShutdown:
		return ErrShutdown
	}

	sub, err := d.subscriber.Subscribe(d.channel, d.handleMessage)
	if err != nil {
		return err
	}
	d.subscription = sub
	d.state = StateSubscribed
	d.logger.Info("subscribed to broadcast channel")
	return nil
}

// Stop unsubscribes and waits for queued events to be delivered or for ctx
// to end, in which case in-flight lookups are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateShutdown {
		d.mu.Unlock()
		return nil
	}
	sub := d.subscription
	d.state = StateShutdown
	d.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()

	d.logger.Info("dispatcher stopped")
	return err
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) handleMessage(_ context.Context, msg *messaging.Message) error {
	ev, err := models.DecodeEvent(msg.Data)
	if err != nil {
		metrics.EventsTotal.WithLabelValues(metrics.OutcomeDecodeError).Inc()
		d.logger.Warn("dropping undecodable payload", logging.Error(err))
		return nil
	}

	if ev.IsHeartbeat() {
		metrics.EventsTotal.WithLabelValues(metrics.OutcomeHeartbeat).Inc()
		return nil
	}

	session := ev.SessionID()
	if session == "" {
		metrics.EventsTotal.WithLabelValues(metrics.OutcomeNoSession).Inc()
		d.logger.Warn("event has no session id, skipping delivery", logging.EventID(ev.ID))
		return nil
	}

	d.dispatch(session, ev)
	return nil
}

func (d *Dispatcher) dispatch(session string, ev *models.Event) {
	p := &pending{eventID: ev.ID, done: make(chan struct{})}

	d.mu.Lock()
	if d.state != StateSubscribed {
		d.mu.Unlock()
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(p.done)
		p.envs = d.translator.Translate(d.ctx, ev)
	}()

	l, ok := d.lanes[session]
	if !ok {
		l = &lane{}
		d.lanes[session] = l
		metrics.ActiveLanes.Inc()
		d.wg.Add(1)
		go d.runLane(session, l)
	}
	l.queue = append(l.queue, p)
	d.mu.Unlock()
}

// runLane exits and removes the lane as soon as its queue is empty.
func (d *Dispatcher) runLane(session string, l *lane) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(l.queue) == 0 {
			delete(d.lanes, session)
			metrics.ActiveLanes.Dec()
			d.mu.Unlock()
			return
		}
		p := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		d.mu.Unlock()

		<-p.done
		delivered := 0
		for _, env := range p.envs {
			delivered += d.broadcaster.BroadcastToSession(session, env)
		}
		metrics.EventsTotal.WithLabelValues(metrics.OutcomeDelivered).Inc()
		d.logger.Debug("event dispatched",
			logging.EventID(p.eventID),
			logging.SessionID(session),
			"envelopes", delivered,
		)
	}
}
