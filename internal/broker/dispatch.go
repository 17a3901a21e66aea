package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casualjim/linebroker/internal/protocol"
	"github.com/casualjim/linebroker/internal/registry"
	"github.com/casualjim/linebroker/pkg/slogx"
	"github.com/casualjim/linebroker/pkg/uuidx"
	"github.com/fogfish/opts"
)

// Dispatcher applies parsed commands to the registry and fans published
// messages out to subscribers.
type Dispatcher struct {
	registry *Registry
	relay    Relay
	logger   *slog.Logger
}

var (
	// WithRelay mirrors published messages through r.
	WithRelay = opts.ForName[Dispatcher, Relay]("relay")
	// WithLogger replaces slog.Default().
	WithLogger = opts.ForName[Dispatcher, *slog.Logger]("logger")
)

// New creates a dispatcher for reg.
func New(reg *Registry, options ...opts.Option[Dispatcher]) (*Dispatcher, error) {
	if reg == nil {
		return nil, fmt.Errorf("broker: registry is required")
	}
	d := &Dispatcher{registry: reg}
	if err := opts.Apply(d, options); err != nil {
		return nil, err
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With(slogx.LoggerName("dispatcher"))
	return d, nil
}

// Registry returns the registry the dispatcher works against.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Attach starts receiving messages from the relay, if there is one.
func (d *Dispatcher) Attach(ctx context.Context) error {
	if d.relay == nil {
		return nil
	}
	return d.relay.Listen(ctx, func(ctx context.Context, msg Message) {
		_, _ = d.Inject(ctx, msg)
	})
}

// Dispatch executes cmd on behalf of from.
//
// Protocol and semantic errors are logged and returned; they never change
// the registry. The caller keeps the connection open for those.
func (d *Dispatcher) Dispatch(ctx context.Context, from Subscriber, cmd protocol.Command) error {
	log := d.logger.With(slogx.Conn(uuidx.Short(from.ID())))

	switch cmd.Kind {
	case protocol.Publish:
		_, err := d.publish(ctx, from, Message{Topic: cmd.Topic, Payload: cmd.Payload, Sender: from.ID()})
		return err

	case protocol.Subscribe:
		err := d.registry.Subscribe(cmd.Topic, from)
		switch {
		case err == nil:
			log.Info("client subscribed", slogx.Topic(cmd.Topic))
		case errors.Is(err, registry.ErrAlreadySubscribed):
			log.Warn("client already subscribed to the topic", slogx.Topic(cmd.Topic))
		case errors.Is(err, registry.ErrNoSuchTopic):
			log.Warn("client tried to subscribe to non-existing topic", slogx.Topic(cmd.Topic))
		}
		return err

	case protocol.Unsubscribe:
		err := d.registry.Unsubscribe(cmd.Topic, from)
		switch {
		case err == nil:
			log.Info("client unsubscribed", slogx.Topic(cmd.Topic))
		case errors.Is(err, registry.ErrNotSubscribed):
			log.Warn("client was not subscribed to the topic", slogx.Topic(cmd.Topic))
		case errors.Is(err, registry.ErrNoSuchTopic):
			log.Warn("client tried unsubscribing from topic that doesn't exist", slogx.Topic(cmd.Topic))
		}
		return err

	default:
		cause := cmd.Err
		if cause == nil {
			cause = protocol.ErrUnknownCommand
		}
		log.Warn("malformed command", slogx.Error(cause))
		return fmt.Errorf("%w: %w", ErrMalformed, cause)
	}
}

// Publish fans msg out to every subscriber of its topic except the sender.
// from may be nil for messages without a local sender.
func (d *Dispatcher) Publish(ctx context.Context, from Subscriber, msg Message) (DeliveryReport, error) {
	if from != nil {
		msg.Sender = from.ID()
	}
	return d.publish(ctx, from, msg)
}

func (d *Dispatcher) publish(ctx context.Context, from Subscriber, msg Message) (DeliveryReport, error) {
	var sender Subscriber = nobody{}
	if from != nil {
		sender = from
	}

	targets, err := d.registry.Publish(msg.Topic, sender)
	if err != nil {
		d.logger.Warn("client tried to publish to a non-existent topic",
			slogx.Conn(uuidx.Short(msg.Sender)), slogx.Topic(msg.Topic))
		return DeliveryReport{Topic: msg.Topic}, err
	}

	report := d.Fanout(ctx, msg, targets)
	d.logger.Info("message published",
		slogx.Conn(uuidx.Short(msg.Sender)),
		slogx.Topic(msg.Topic),
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", report.Failed),
	)

	if d.relay != nil {
		if err := d.relay.Forward(ctx, msg); err != nil {
			d.logger.Error("failed to relay message", slogx.Topic(msg.Topic), slogx.Error(err))
			return report, fmt.Errorf("broker: relay: %w", err)
		}
	}
	return report, nil
}

// Inject delivers a message from outside the broker to every subscriber of
// its topic. Unknown topics are dropped.
func (d *Dispatcher) Inject(ctx context.Context, msg Message) (DeliveryReport, error) {
	targets, err := d.registry.Subscribers(msg.Topic)
	if err != nil {
		d.logger.Warn("dropping relayed message for unknown topic", slogx.Topic(msg.Topic))
		return DeliveryReport{Topic: msg.Topic}, err
	}
	report := d.Fanout(ctx, msg, targets)
	d.logger.Debug("relayed message delivered",
		slogx.Topic(msg.Topic),
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// DeliveryReport summarizes one fan-out.
type DeliveryReport struct {
	Topic     string
	Delivered int
	Failed    int
}

// Fanout sends the notification for msg to every target. A failing target is
// logged and skipped; it never stops delivery to the others.
func (d *Dispatcher) Fanout(ctx context.Context, msg Message, targets []Subscriber) DeliveryReport {
	report := DeliveryReport{Topic: msg.Topic}
	if len(targets) == 0 {
		return report
	}

	line := protocol.FormatNotification(msg.Topic, msg.Payload)
	for _, target := range targets {
		if err := target.Send(ctx, line); err != nil {
			report.Failed++
			d.logger.Warn("failed to deliver message",
				slogx.Conn(uuidx.Short(target.ID())),
				slogx.Topic(msg.Topic),
				slogx.Error(err),
			)
			continue
		}
		report.Delivered++
	}
	return report
}

// nobody stands in for the sender of messages that have none.
type nobody struct{}

func (nobody) ID() string                         { return "" }
func (nobody) Send(context.Context, []byte) error { return nil }
