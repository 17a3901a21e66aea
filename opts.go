package linebroker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/casualjim/linebroker/internal/broker"
	"github.com/fogfish/opts"
)

// Defaults used when the matching option is not given.
const (
	DefaultMaxClients            = 16
	DefaultQueueSize             = 64
	DefaultMaxLineBytes          = 1024
	DefaultSlowSubscriberTimeout = 100 * time.Millisecond
	DefaultWriteTimeout          = 5 * time.Second
)

var (
	// WithMaxClients caps the number of connections served at the same time.
	// Connections beyond the cap are told the server is busy and closed.
	// Zero or a negative value removes the cap.
	//
	// Example:
	//  New(topics, WithMaxClients(16))
	WithMaxClients = opts.ForName[Server, int]("maxClients")

	// WithQueueSize sets how many notifications may wait to be written to one
	// connection.
	WithQueueSize = opts.ForName[Server, int]("queueSize")

	// WithMaxLineBytes sets the longest line a client may send. A longer line
	// ends the connection.
	WithMaxLineBytes = opts.ForName[Server, int]("maxLineBytes")

	// WithSlowSubscriberTimeout bounds how long a publish waits for room in a
	// subscriber's queue before the message is dropped for that subscriber.
	WithSlowSubscriberTimeout = opts.ForName[Server, time.Duration]("slowSubscriberTimeout")

	// WithWriteTimeout sets the deadline for each write to a client socket.
	WithWriteTimeout = opts.ForName[Server, time.Duration]("writeTimeout")

	// WithLogger replaces slog.Default().
	WithLogger = opts.ForName[Server, *slog.Logger]("logger")

	// WithRelay mirrors published messages to other brokers. The server closes
	// the relay when it shuts down.
	//
	// Example:
	//  New(topics, WithRelay(broker.NATS(nc, broker.DefaultSubjectPrefix)))
	WithRelay = opts.ForName[Server, broker.Relay]("relay")
)

func (s *Server) checkOptions() error {
	switch {
	case s.queueSize <= 0:
		return fmt.Errorf("%w: queue size must be positive, got %d", ErrInvalidOption, s.queueSize)
	case s.maxLineBytes <= 0:
		return fmt.Errorf("%w: max line bytes must be positive, got %d", ErrInvalidOption, s.maxLineBytes)
	case s.slowSubscriberTimeout <= 0:
		return fmt.Errorf("%w: slow subscriber timeout must be positive, got %s", ErrInvalidOption, s.slowSubscriberTimeout)
	case s.writeTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive, got %s", ErrInvalidOption, s.writeTimeout)
	}
	return nil
}
