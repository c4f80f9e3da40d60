package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tidwall/gjson"

	"github.com/mor/automatr/rules"
)

// ErrDeliveriesClosed is returned when the broker closes the delivery channel
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Delivery dispositions reported to the DeliveryRecorder
const (
	DispositionAcked     = "acked"
	DispositionRejected  = "rejected"
	DispositionAckFailed = "ack_failed"
)

// Handler processes one decoded event
type Handler interface {
	Handle(ctx context.Context, ev rules.Event) error
}

// DeliveryRecorder is told how each delivery was settled
type DeliveryRecorder interface {
	Delivery(workflow, disposition string)
}

// State is the lifecycle stage of a Listener
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConsuming  State = "consuming"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Config describes one subscription
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	// Workflow names the subscription in logs, metrics and the consumer tag
	Workflow string
	Prefetch int
}

// Listener subscribes one workflow to the exchange and feeds its events,
// one at a time, to the handler
type Listener struct {
	cfg      Config
	handler  Handler
	recorder DeliveryRecorder
	logger   *slog.Logger
	state    atomic.Value
}

// New creates a listener; recorder may be nil
func New(cfg Config, handler Handler, recorder DeliveryRecorder, logger *slog.Logger) *Listener {
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		cfg:      cfg,
		handler:  handler,
		recorder: recorder,
		logger:   logger.With("workflow", cfg.Workflow, "routing_key", cfg.RoutingKey),
	}
	l.state.Store(StateIdle)
	return l
}

// Workflow returns the workflow name this listener serves
func (l *Listener) Workflow() string {
	return l.cfg.Workflow
}

// State returns the current lifecycle stage
func (l *Listener) State() State {
	return l.state.Load().(State)
}

func (l *Listener) setState(s State) {
	l.state.Store(s)
}

// Run connects, declares an exclusive server-named queue bound to the
// exchange with the routing key and consumes until ctx is done or the
// broker goes away.
func (l *Listener) Run(ctx context.Context) error {
	l.setState(StateConnecting)

	conn, err := amqp.Dial(l.cfg.URL)
	if err != nil {
		l.setState(StateFailed)
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		l.setState(StateFailed)
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		l.setState(StateFailed)
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	if err := ch.QueueBind(q.Name, l.cfg.RoutingKey, l.cfg.Exchange, false, nil); err != nil {
		l.setState(StateFailed)
		return fmt.Errorf("rabbitmq queue bind: %w", err)
	}

	if err := ch.Qos(l.cfg.Prefetch, 0, false); err != nil {
		l.setState(StateFailed)
		return fmt.Errorf("rabbitmq qos: %w", err)
	}

	consumerTag := fmt.Sprintf("automatr-%s-%s", l.cfg.Workflow, uuid.NewString())
	deliveries, err := ch.Consume(q.Name, consumerTag, false, true, false, false, nil)
	if err != nil {
		l.setState(StateFailed)
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	l.logger.Info("listening for events", "queue", q.Name, "exchange", l.cfg.Exchange,
		"prefetch", l.cfg.Prefetch)
	return l.consume(ctx, deliveries)
}

func (l *Listener) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	l.setState(StateConsuming)
	for {
		select {
		case <-ctx.Done():
			l.setState(StateStopped)
			l.logger.Info("listener stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				l.setState(StateFailed)
				return ErrDeliveriesClosed
			}
			l.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery acknowledges a decodable delivery before handing it to the
// handler. A failure while handling therefore loses the event; undecodable
// bodies are rejected without requeue.
func (l *Listener) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ev, err := Decode(d)
	if err != nil {
		l.logger.Warn("rejecting undecodable delivery", "error", err, "body_size", len(d.Body))
		if rerr := d.Reject(false); rerr != nil {
			l.logger.Error("failed to reject delivery", "error", rerr)
		}
		l.record(DispositionRejected)
		return
	}

	if err := d.Ack(false); err != nil {
		l.logger.Error("failed to ack delivery, skipping event", "event_id", ev.ID, "error", err)
		l.record(DispositionAckFailed)
		return
	}
	l.record(DispositionAcked)

	l.logger.Info("event received", "event_id", ev.ID, "melding_url", ev.CaseURL)
	if err := l.handler.Handle(ctx, ev); err != nil {
		l.logger.Warn("event not handled", "event_id", ev.ID, "error", err)
	}
}

func (l *Listener) record(disposition string) {
	if l.recorder != nil {
		l.recorder.Delivery(l.cfg.Workflow, disposition)
	}
}

// Decode turns a delivery body into an event. The body must be a JSON object;
// the case reference is read from _links.melding.href and may be absent.
func Decode(d amqp.Delivery) (rules.Event, error) {
	if !gjson.ValidBytes(d.Body) {
		return rules.Event{}, errors.New("body is not valid JSON")
	}
	body := gjson.ParseBytes(d.Body)
	if !body.IsObject() {
		return rules.Event{}, fmt.Errorf("body is a JSON %s, not an object", body.Type)
	}

	return rules.Event{
		ID:         uuid.NewString(),
		RoutingKey: d.RoutingKey,
		CaseURL:    body.Get("_links.melding.href").String(),
		ReceivedAt: time.Now().UTC(),
	}, nil
}
