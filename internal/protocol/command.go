package protocol

import (
	"fmt"
	"strings"
	"unicode"
)

// Wire keywords. They are case-sensitive.
const (
	KeywordPublish     = "PUBLISH"
	KeywordSubscribe   = "SUBSCRIBE"
	KeywordUnsubscribe = "UNSUBSCRIBE"
)

// LineTerminator ends every line the broker writes.
const LineTerminator = "\r\n"

// Kind tags the variant held by a Command.
type Kind uint8

const (
	// Malformed is a line that could not be turned into a broker command.
	// Command.Err holds the reason.
	Malformed Kind = iota
	Publish
	Subscribe
	Unsubscribe
)

func (k Kind) String() string {
	switch k {
	case Publish:
		return KeywordPublish
	case Subscribe:
		return KeywordSubscribe
	case Unsubscribe:
		return KeywordUnsubscribe
	default:
		return "MALFORMED"
	}
}

// Command is the structured form of one protocol line.
type Command struct {
	Kind    Kind
	Topic   string
	Payload string
	// Err is set only for Malformed commands.
	Err error
}

// Valid reports whether the command can be dispatched.
func (c Command) Valid() bool {
	return c.Kind != Malformed
}

// String renders the command in its wire form, without the line terminator.
func (c Command) String() string {
	switch c.Kind {
	case Publish:
		return KeywordPublish + " " + c.Topic + " " + c.Payload
	case Subscribe, Unsubscribe:
		return c.Kind.String() + " " + c.Topic
	default:
		if c.Err != nil {
			return "MALFORMED: " + c.Err.Error()
		}
		return "MALFORMED"
	}
}

// arity is the accepted argument count range for a command. max < 0 means unbounded.
type arity struct {
	min, max int
}

func (a arity) accepts(n int) bool {
	return n >= a.min && (a.max < 0 || n <= a.max)
}

func (a arity) String() string {
	switch {
	case a.max < 0:
		return fmt.Sprintf("at least %d", a.min)
	case a.min == a.max:
		return fmt.Sprintf("exactly %d", a.min)
	default:
		return fmt.Sprintf("between %d and %d", a.min, a.max)
	}
}

var commands = map[string]struct {
	kind  Kind
	arity arity
}{
	KeywordPublish:     {Publish, arity{min: 2, max: -1}},
	KeywordSubscribe:   {Subscribe, arity{min: 1, max: 1}},
	KeywordUnsubscribe: {Unsubscribe, arity{min: 1, max: 1}},
}

// Parse converts one line of text into a Command.
//
// The line may still carry its terminator; trailing CR and LF are removed.
// Arguments are whitespace-delimited tokens after the keyword. The PUBLISH
// payload is the rest of the line after the topic token, kept verbatim.
// Parse never checks whether a topic exists.
func Parse(line string) Command {
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Kind: Malformed, Err: ErrEmptyLine}
	}

	keyword := fields[0]
	def, ok := commands[keyword]
	if !ok {
		return Command{Kind: Malformed, Err: fmt.Errorf("%w: %q", ErrUnknownCommand, keyword)}
	}

	if args := len(fields) - 1; !def.arity.accepts(args) {
		return Command{Kind: Malformed, Err: &ArgCountError{
			Command: keyword,
			Want:    def.arity.String(),
			Got:     args,
		}}
	}

	cmd := Command{Kind: def.kind, Topic: fields[1]}
	if def.kind == Publish {
		_, rest := cutToken(line)
		_, rest = cutToken(rest)
		cmd.Payload = strings.TrimLeftFunc(rest, unicode.IsSpace)
	}
	return cmd
}

// cutToken skips leading whitespace and splits off the first token.
func cutToken(s string) (token, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// FormatNotification renders the line delivered to subscribers for a published message.
func FormatNotification(topic, payload string) []byte {
	var b strings.Builder
	b.Grow(len("[Message] Topic:  Data: ") + len(topic) + len(payload) + len(LineTerminator))
	b.WriteString("[Message] Topic: ")
	b.WriteString(topic)
	b.WriteString(" Data: ")
	b.WriteString(payload)
	b.WriteString(LineTerminator)
	return []byte(b.String())
}

// Usage returns the help text for a broker command.
func Usage(k Kind) string {
	switch k {
	case Publish:
		return "command: PUBLISH <TOPIC_NAME> <TOPIC_DATA>\nexample: PUBLISH sample_topic sample topic data"
	case Subscribe:
		return "command: SUBSCRIBE <TOPIC_NAME>\nusage: SUBSCRIBE sample_topic"
	case Unsubscribe:
		return "command: UNSUBSCRIBE <TOPIC_NAME>\nusage: UNSUBSCRIBE sample_topic"
	default:
		return ""
	}
}

// KindOf returns the command kind for a keyword.
func KindOf(keyword string) (Kind, bool) {
	def, ok := commands[keyword]
	return def.kind, ok
}

// FormatError renders a line the broker writes before it drops a connection.
func FormatError(reason string) []byte {
	return []byte("[Error] " + reason + LineTerminator)
}
