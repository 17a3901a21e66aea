package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/casualjim/linebroker/internal/protocol"
	"github.com/casualjim/linebroker/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDead = errors.New("subscriber is gone")

// recordingSubscriber keeps every line it is sent.
type recordingSubscriber struct {
	id   string
	fail bool

	mu    sync.Mutex
	lines []string
}

func newRecorder(id string) *recordingSubscriber {
	return &recordingSubscriber{id: id}
}

func (r *recordingSubscriber) ID() string { return r.id }

func (r *recordingSubscriber) Send(_ context.Context, line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errDead
	}
	r.lines = append(r.lines, string(line))
	return nil
}

func (r *recordingSubscriber) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg, err := NewRegistry("weather", "speed_topic", "battery_topic")
	require.NoError(t, err)
	d, err := New(reg)
	require.NoError(t, err)
	return d
}

func dispatch(t *testing.T, d *Dispatcher, from Subscriber, line string) error {
	t.Helper()
	return d.Dispatch(context.Background(), from, protocol.Parse(line))
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestDispatchSubscribe(t *testing.T) {
	d := newDispatcher(t)
	a := newRecorder("a")

	require.NoError(t, dispatch(t, d, a, "SUBSCRIBE weather"))
	assert.ErrorIs(t, dispatch(t, d, a, "SUBSCRIBE weather"), registry.ErrAlreadySubscribed)
	assert.ErrorIs(t, dispatch(t, d, a, "SUBSCRIBE unknown_topic"), registry.ErrNoSuchTopic)

	subs, err := d.Registry().Subscribers("weather")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "a", subs[0].ID())
	assert.Empty(t, a.Lines(), "no acknowledgment is written to the client")
}

func TestDispatchUnsubscribe(t *testing.T) {
	d := newDispatcher(t)
	a := newRecorder("a")

	assert.ErrorIs(t, dispatch(t, d, a, "UNSUBSCRIBE weather"), registry.ErrNotSubscribed)
	assert.ErrorIs(t, dispatch(t, d, a, "UNSUBSCRIBE unknown_topic"), registry.ErrNoSuchTopic)

	require.NoError(t, dispatch(t, d, a, "SUBSCRIBE weather"))
	require.NoError(t, dispatch(t, d, a, "UNSUBSCRIBE weather"))

	subs, err := d.Registry().Subscribers("weather")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDispatchMalformed(t *testing.T) {
	d := newDispatcher(t)
	a := newRecorder("a")

	for _, line := range []string{"", "HELLO", "PUBLISH weather", "SUBSCRIBE a b"} {
		err := dispatch(t, d, a, line)
		assert.ErrorIs(t, err, ErrMalformed, "line %q", line)
	}

	err := dispatch(t, d, a, "SUBSCRIBE")
	var argErr *protocol.ArgCountError
	assert.ErrorAs(t, err, &argErr)

	for _, topic := range d.Registry().Topics() {
		subs, _ := d.Registry().Subscribers(topic)
		assert.Empty(t, subs, "malformed commands never mutate the registry")
	}
}

func TestDispatchPublish(t *testing.T) {
	t.Run("fans out to subscribers except the sender", func(t *testing.T) {
		d := newDispatcher(t)
		a, b, c := newRecorder("a"), newRecorder("b"), newRecorder("c")
		require.NoError(t, dispatch(t, d, a, "SUBSCRIBE weather"))
		require.NoError(t, dispatch(t, d, b, "SUBSCRIBE weather"))

		require.NoError(t, dispatch(t, d, b, "PUBLISH weather sunny today"))
		require.NoError(t, dispatch(t, d, c, "PUBLISH weather rain   later"))

		assert.Equal(t, []string{
			"[Message] Topic: weather Data: sunny today\r\n",
			"[Message] Topic: weather Data: rain   later\r\n",
		}, a.Lines())
		assert.Equal(t, []string{"[Message] Topic: weather Data: rain   later\r\n"}, b.Lines())
		assert.Empty(t, c.Lines())
	})

	t.Run("unknown topic delivers nothing", func(t *testing.T) {
		d := newDispatcher(t)
		a, b := newRecorder("a"), newRecorder("b")
		require.NoError(t, dispatch(t, d, a, "SUBSCRIBE weather"))

		err := dispatch(t, d, b, "PUBLISH unknown_topic hello")
		assert.ErrorIs(t, err, registry.ErrNoSuchTopic)
		assert.Empty(t, a.Lines())
		assert.False(t, d.Registry().HasTopic("unknown_topic"))
	})

	t.Run("a failing subscriber does not stop the others", func(t *testing.T) {
		d := newDispatcher(t)
		a, dead, c := newRecorder("a"), newRecorder("dead"), newRecorder("c")
		dead.fail = true
		for _, s := range []*recordingSubscriber{a, dead, c} {
			require.NoError(t, dispatch(t, d, s, "SUBSCRIBE speed_topic"))
		}

		report, err := d.Publish(context.Background(), nil, Message{Topic: "speed_topic", Payload: "88"})
		require.NoError(t, err)
		assert.Equal(t, DeliveryReport{Topic: "speed_topic", Delivered: 2, Failed: 1}, report)
		assert.Equal(t, []string{"[Message] Topic: speed_topic Data: 88\r\n"}, a.Lines())
		assert.Equal(t, []string{"[Message] Topic: speed_topic Data: 88\r\n"}, c.Lines())
	})

	t.Run("removed member is never a target", func(t *testing.T) {
		d := newDispatcher(t)
		a, b := newRecorder("a"), newRecorder("b")
		require.NoError(t, dispatch(t, d, a, "SUBSCRIBE weather"))
		d.Registry().RemoveMember(a)

		report, err := d.Publish(context.Background(), b, Message{Topic: "weather", Payload: "x"})
		require.NoError(t, err)
		assert.Zero(t, report.Delivered+report.Failed)
		assert.Empty(t, a.Lines())
	})
}

func TestInject(t *testing.T) {
	d := newDispatcher(t)
	a := newRecorder("a")
	require.NoError(t, dispatch(t, d, a, "SUBSCRIBE battery_topic"))

	report, err := d.Inject(context.Background(), Message{Topic: "battery_topic", Payload: "low", Sender: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, []string{"[Message] Topic: battery_topic Data: low\r\n"}, a.Lines())

	_, err = d.Inject(context.Background(), Message{Topic: "nope", Payload: "x"})
	assert.ErrorIs(t, err, registry.ErrNoSuchTopic)
}

type failingRelay struct {
	forwarded []Message
}

func (f *failingRelay) Forward(_ context.Context, msg Message) error {
	f.forwarded = append(f.forwarded, msg)
	return ErrRelayClosed
}
func (f *failingRelay) Listen(context.Context, InboundFunc) error { return nil }
func (f *failingRelay) Close() error                              { return nil }

func TestRelayFailureKeepsLocalDelivery(t *testing.T) {
	reg, err := NewRegistry("weather")
	require.NoError(t, err)
	relay := &failingRelay{}
	d, err := New(reg, WithRelay(relay))
	require.NoError(t, err)

	a, b := newRecorder("a"), newRecorder("b")
	require.NoError(t, dispatch(t, d, a, "SUBSCRIBE weather"))

	err = dispatch(t, d, b, "PUBLISH weather hail")
	assert.ErrorIs(t, err, ErrRelayClosed)
	assert.Equal(t, []string{"[Message] Topic: weather Data: hail\r\n"}, a.Lines())
	require.Len(t, relay.forwarded, 1)
	assert.Equal(t, Message{Topic: "weather", Payload: "hail", Sender: "b"}, relay.forwarded[0])
}
