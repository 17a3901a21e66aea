package broker

import (
	"context"
	"errors"
	"time"

	"github.com/casualjim/linebroker/internal/registry"
)

var (
	ErrMalformed   = errors.New("broker: malformed command")
	ErrRelayClosed = errors.New("broker: relay closed")
)

// Subscriber is a connection the dispatcher can deliver notifications to.
// Send must not block longer than the subscriber's own delivery budget.
type Subscriber interface {
	registry.Member
	Send(ctx context.Context, line []byte) error
}

// Registry is the subscription registry the dispatcher works against.
type Registry = registry.Registry[Subscriber]

// NewRegistry provisions a registry for topics.
func NewRegistry(topics ...string) (*Registry, error) {
	return registry.New[Subscriber](topics...)
}

// Message is one published payload. It only lives for the duration of a dispatch.
type Message struct {
	Topic   string
	Payload string
	// Sender is the ID of the publishing connection, empty for messages that
	// came in through a relay.
	Sender string
}

// InboundFunc receives messages that a relay picked up from other brokers.
type InboundFunc func(context.Context, Message)

// Relay mirrors locally published messages to other broker instances and
// hands their messages back.
type Relay interface {
	// Forward sends a locally published message to the other brokers.
	Forward(context.Context, Message) error
	// Listen registers fn for messages published on other brokers.
	// Messages forwarded by this relay never reach fn.
	Listen(ctx context.Context, fn InboundFunc) error
	Close() error
}

// Envelope is the form a Message travels in between brokers.
type Envelope struct {
	Origin    string    `json:"origin"`
	Topic     string    `json:"topic"`
	Sender    string    `json:"sender,omitempty"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(origin string, msg Message) Envelope {
	return Envelope{
		Origin:    origin,
		Topic:     msg.Topic,
		Sender:    msg.Sender,
		Payload:   msg.Payload,
		Timestamp: time.Now().UTC(),
	}
}

// Message drops the routing fields of the envelope.
func (e Envelope) Message() Message {
	return Message{Topic: e.Topic, Payload: e.Payload, Sender: e.Sender}
}
