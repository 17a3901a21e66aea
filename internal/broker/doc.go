// Package broker executes protocol commands against the subscription
// registry and delivers published messages.
//
// Design decisions:
//   - One registry: the Dispatcher never keeps subscriber state of its own;
//     every decision comes from a registry snapshot.
//   - Best-effort fan-out: each Subscriber.Send is bounded by the subscriber,
//     and a failure is logged and skipped so one dead or slow client cannot
//     hold up the rest.
//   - No echo: a publisher never receives its own message.
//   - Optional relay: a Relay mirrors published messages to other brokers and
//     injects theirs. Local() links brokers in one process, NATS() links
//     brokers through a NATS server.
//
// Example usage:
//
//	reg, err := broker.NewRegistry("speed_topic", "battery_topic")
//	if err != nil {
//	    return err
//	}
//	d, err := broker.New(reg, broker.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	// for every line a connection sends
//	_ = d.Dispatch(ctx, conn, protocol.Parse(line))
package broker
