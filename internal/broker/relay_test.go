package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayFactory returns two relays connected to each other.
type relayFactory func(t *testing.T) (Relay, Relay)

type relayTest struct {
	name string
	test func(t *testing.T, createRelays relayFactory)
}

func runRelayAcceptanceTests(t *testing.T, name string, factory relayFactory) {
	tests := []relayTest{
		{"delivers to peer brokers", testRelayDeliversToPeers},
		{"ignores its own messages", testRelayIgnoresOwnMessages},
		{"drops unknown topics on the receiving side", testRelayDropsUnknownTopics},
		{"stops after close", testRelayStopsAfterClose},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", name, tt.name), func(t *testing.T) {
			tt.test(t, factory)
		})
	}
}

func TestRelayImplementations(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		runRelayAcceptanceTests(t, "Local", func(t *testing.T) (Relay, Relay) {
			hub := Local()
			a, b := hub.Relay(), hub.Relay()
			t.Cleanup(func() {
				_ = a.Close()
				_ = b.Close()
			})
			return a, b
		})
	})

	t.Run("NATS", func(t *testing.T) {
		nc, err := nats.Connect(nats.DefaultURL)
		if err != nil {
			t.Skipf("no NATS server at %s: %v", nats.DefaultURL, err)
		}
		nc.Close()

		runRelayAcceptanceTests(t, "NATS", func(t *testing.T) (Relay, Relay) {
			prefix := fmt.Sprintf("linebroker-test-%d", time.Now().UnixNano())
			ncA, err := nats.Connect(nats.DefaultURL)
			require.NoError(t, err)
			ncB, err := nats.Connect(nats.DefaultURL)
			require.NoError(t, err)
			a, b := NATS(ncA, prefix), NATS(ncB, prefix)
			t.Cleanup(func() {
				_ = a.Close()
				_ = b.Close()
				ncA.Close()
				ncB.Close()
			})
			return a, b
		})
	})
}

// linkedDispatchers wires a dispatcher onto each relay.
func linkedDispatchers(t *testing.T, createRelays relayFactory, topicsB ...string) (*Dispatcher, *Dispatcher) {
	t.Helper()
	relayA, relayB := createRelays(t)

	regA, err := NewRegistry("weather")
	require.NoError(t, err)
	if len(topicsB) == 0 {
		topicsB = []string{"weather"}
	}
	regB, err := NewRegistry(topicsB...)
	require.NoError(t, err)

	a, err := New(regA, WithRelay(relayA))
	require.NoError(t, err)
	b, err := New(regB, WithRelay(relayB))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Attach(ctx))
	require.NoError(t, b.Attach(ctx))
	if nc, ok := relayB.(*natsRelay); ok {
		require.NoError(t, nc.client.Flush())
	}
	return a, b
}

func testRelayDeliversToPeers(t *testing.T, createRelays relayFactory) {
	a, b := linkedDispatchers(t, createRelays)

	local, remote := newRecorder("local"), newRecorder("remote")
	require.NoError(t, a.Registry().Subscribe("weather", local))
	require.NoError(t, b.Registry().Subscribe("weather", remote))

	publisher := newRecorder("publisher")
	_, err := a.Publish(context.Background(), publisher, Message{Topic: "weather", Payload: "sunny today"})
	require.NoError(t, err)

	want := []string{"[Message] Topic: weather Data: sunny today\r\n"}
	assert.Equal(t, want, local.Lines())
	assert.Eventually(t, func() bool {
		return len(remote.Lines()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, remote.Lines())
}

func testRelayIgnoresOwnMessages(t *testing.T, createRelays relayFactory) {
	a, b := linkedDispatchers(t, createRelays)

	local := newRecorder("local")
	require.NoError(t, a.Registry().Subscribe("weather", local))
	remote := newRecorder("remote")
	require.NoError(t, b.Registry().Subscribe("weather", remote))

	_, err := a.Publish(context.Background(), nil, Message{Topic: "weather", Payload: "once"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(remote.Lines()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	// a relayed copy coming back to the origin would show up as a second line
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, local.Lines(), 1)
}

func testRelayDropsUnknownTopics(t *testing.T, createRelays relayFactory) {
	a, b := linkedDispatchers(t, createRelays, "battery_topic")

	remote := newRecorder("remote")
	require.NoError(t, b.Registry().Subscribe("battery_topic", remote))

	_, err := a.Publish(context.Background(), nil, Message{Topic: "weather", Payload: "x"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, remote.Lines())
	assert.False(t, b.Registry().HasTopic("weather"))
}

func testRelayStopsAfterClose(t *testing.T, createRelays relayFactory) {
	relayA, relayB := createRelays(t)

	got := make(chan Message, 1)
	require.NoError(t, relayB.Listen(context.Background(), func(_ context.Context, msg Message) {
		got <- msg
	}))
	require.NoError(t, relayB.Close())

	_ = relayA.Forward(context.Background(), Message{Topic: "weather", Payload: "late"})

	select {
	case msg := <-got:
		t.Fatalf("closed relay received %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEnvelopeJSON(t *testing.T) {
	env := newEnvelope("origin-1", Message{Topic: "weather", Payload: "sunny today", Sender: "conn-1"})

	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"origin":"origin-1"`)
	assert.Contains(t, string(b), `"payload":"sunny today"`)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, env.Message(), decoded.Message())
	assert.True(t, env.Timestamp.Equal(decoded.Timestamp))
}
