/*
Package linebroker is a small topic based publish/subscribe broker that
speaks a line oriented text protocol over TCP.

Clients connect, subscribe to topics the broker was started with, and publish
payloads to them. Every other subscriber of the topic receives a copy of the
message. The publisher never receives its own message.

# Protocol

Each command is one line terminated by LF or CRLF:

	PUBLISH <topic> <payload...>
	SUBSCRIBE <topic>
	UNSUBSCRIBE <topic>

The broker writes nothing back for commands. Subscribers receive
notifications in the form

	[Message] Topic: <topic> Data: <payload>

terminated by CRLF. Unknown topics, repeated subscriptions and malformed lines
are logged on the server and otherwise ignored; the connection stays open.

# Basic Usage

	srv, err := linebroker.New([]string{"speed_topic", "battery_topic"},
		linebroker.WithMaxClients(16),
		linebroker.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", ":8080")
	if err != nil {
		return err
	}
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, linebroker.ErrServerClosed) {
			logger.Error("serve failed", slogx.Error(err))
		}
	}()

	<-ctx.Done()
	_ = srv.Shutdown(context.Background())

# Delivery

Delivery is best effort. Each connection owns a bounded queue of outgoing
notifications. When a subscriber's queue stays full for longer than the slow
subscriber timeout, the message is dropped for that subscriber only. A
connection that goes away loses all of its subscriptions at once.

Several brokers can share their traffic through a relay, see WithRelay and
the internal broker package.
*/
package linebroker
