package linebroker

import "errors"

var (
	// ErrServerClosed is returned by Serve and ServeConn once Shutdown has started.
	ErrServerClosed = errors.New("linebroker: server closed")
	// ErrConnClosed is returned when sending to a connection that is torn down.
	ErrConnClosed = errors.New("linebroker: connection closed")
	// ErrSlowSubscriber is returned when a connection's outbound queue stays
	// full for longer than the slow subscriber timeout. The message is dropped
	// for that connection only.
	ErrSlowSubscriber = errors.New("linebroker: slow subscriber")
	// ErrInvalidOption is wrapped by New for out of range settings.
	ErrInvalidOption = errors.New("linebroker: invalid option")
)
