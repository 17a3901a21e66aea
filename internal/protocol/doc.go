// Package protocol implements the single-line text protocol spoken between
// clients and the broker.
//
// A client line is one of:
//
//	PUBLISH <topic> <payload...>
//	SUBSCRIBE <topic>
//	UNSUBSCRIBE <topic>
//
// Parse turns a line into a Command, a tagged value whose Kind is one of
// Publish, Subscribe, Unsubscribe or Malformed. Malformed commands carry the
// reason in Command.Err: ErrEmptyLine, ErrUnknownCommand, or an
// *ArgCountError.
//
// Subscribers receive published messages as
//
//	[Message] Topic: <topic> Data: <payload>\r\n
//
// built by FormatNotification.
package protocol
