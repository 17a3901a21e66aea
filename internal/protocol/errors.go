package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyLine is reported for a line without any tokens.
	ErrEmptyLine = errors.New("protocol: empty line")

	// ErrUnknownCommand is reported when the leading token is not a broker keyword.
	ErrUnknownCommand = errors.New("protocol: unknown command")
)

// ArgCountError is reported when a command has the wrong number of arguments.
type ArgCountError struct {
	Command string
	Want    string
	Got     int
}

func (e *ArgCountError) Error() string {
	return fmt.Sprintf("protocol: %s: wrong number of arguments: want %s, got %d", e.Command, e.Want, e.Got)
}
