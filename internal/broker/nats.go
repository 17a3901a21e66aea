package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/casualjim/linebroker/pkg/slogx"
	"github.com/casualjim/linebroker/pkg/uuidx"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix namespaces broker traffic on a shared NATS server.
const DefaultSubjectPrefix = "linebroker"

type natsRelay struct {
	client *nats.Conn
	prefix string
	origin string

	mu  sync.Mutex
	sub *nats.Subscription
}

// NATS creates a relay that mirrors messages over client. Topic t travels on
// subject "<prefix>.<t>". The caller owns client and closes it after the relay.
func NATS(client *nats.Conn, prefix string) Relay {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &natsRelay{
		client: client,
		prefix: strings.TrimSuffix(prefix, "."),
		origin: uuidx.NewString(),
	}
}

func (r *natsRelay) subject(topic string) string {
	return r.prefix + "." + topic
}

func (r *natsRelay) Forward(ctx context.Context, msg Message) error {
	if r.client.IsClosed() {
		return ErrRelayClosed
	}
	eb, err := json.Marshal(newEnvelope(r.origin, msg))
	if err != nil {
		return err
	}
	return r.client.Publish(r.subject(msg.Topic), eb)
}

func (r *natsRelay) Listen(ctx context.Context, fn InboundFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return fmt.Errorf("broker: nats relay is already listening")
	}

	sub, err := r.client.Subscribe(r.prefix+".>", func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			slog.Error("failed to unmarshal relayed message", slogx.Error(err), slog.String("subject", m.Subject))
			return
		}
		if env.Origin == r.origin {
			return
		}
		fn(ctx, env.Message())
	})
	if err != nil {
		return err
	}
	r.sub = sub
	return nil
}

func (r *natsRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		slog.Error("failed to unsubscribe relay", slogx.Error(err))
		return err
	}
	return nil
}
