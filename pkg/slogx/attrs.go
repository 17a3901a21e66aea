package slogx

import (
	"fmt"
	"log/slog"
)

// Attribute keys shared by every component that logs about connections and topics.
const (
	KeyLoggerName = "logger"
	KeyConn       = "conn"
	KeyRemote     = "remote"
	KeyTopic      = "topic"
)

// Error returns a slog.Attr with key "error" and the error's message.
// A nil error is rendered as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// ByteString logs a byte slice as a string.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// Stringer logs value.String() under key. A nil value is logged as an empty string.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	if value == nil {
		return slog.String(key, "")
	}
	return slog.String(key, value.String())
}

// LoggerName names the component that emits a log record.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Conn identifies a client connection.
func Conn(id string) slog.Attr {
	return slog.String(KeyConn, id)
}

// Remote logs the peer address of a connection.
func Remote(addr fmt.Stringer) slog.Attr {
	return Stringer(KeyRemote, addr)
}

// Topic logs a topic name.
func Topic(name string) slog.Attr {
	return slog.String(KeyTopic, name)
}
