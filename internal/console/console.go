// Package console is the interactive command line client for the broker.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/linebroker/internal/protocol"
	"github.com/fatih/color"
	"github.com/fogfish/opts"
)

// Local commands handled by the console itself.
const (
	cmdConnect    = "CONNECT"
	cmdDisconnect = "DISCONNECT"
	cmdHelp       = "HELP"
	cmdExit       = "EXIT"
)

const connectUsage = "command: CONNECT <PORT> <CLIENT_NAME>\nusage: CONNECT 8080 sample_client_name"

// Console is an interactive broker client. It reads commands from in, checks
// them before anything goes on the wire and prints what the broker sends.
type Console struct {
	in          io.Reader
	out         io.Writer
	host        string
	dialTimeout time.Duration

	outMu sync.Mutex

	mu   sync.Mutex
	conn net.Conn
	name string
	wg   sync.WaitGroup
}

var (
	// WithHost sets the broker host CONNECT dials. Defaults to 127.0.0.1.
	WithHost = opts.ForName[Console, string]("host")
	// WithDialTimeout bounds CONNECT.
	WithDialTimeout = opts.ForName[Console, time.Duration]("dialTimeout")
)

// New creates a console that reads from in and writes to out.
func New(in io.Reader, out io.Writer, options ...opts.Option[Console]) (*Console, error) {
	c := &Console{
		in:          in,
		out:         out,
		host:        "127.0.0.1",
		dialTimeout: 5 * time.Second,
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, err
	}
	return c, nil
}

// Run reads commands until EXIT, end of input or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	defer c.wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Split(bufio.ScanLines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.println("Client application, enter commands")
	for {
		c.prompt()
		select {
		case <-ctx.Done():
			c.disconnect(false)
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				c.println("Exiting...")
				c.disconnect(false)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if c.Execute(ctx, line) {
				return nil
			}
		}
	}
}

// Execute runs one command line. It reports whether the console should exit.
func (c *Console) Execute(ctx context.Context, line string) (exit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	fields := strings.Fields(line)
	switch keyword := fields[0]; keyword {
	case cmdHelp:
		c.printHelp()
	case cmdExit:
		c.disconnect(false)
		return true
	case cmdDisconnect:
		c.disconnect(true)
	case cmdConnect:
		if len(fields)-1 != 2 {
			c.println("CONNECT: Wrong number of arguments")
			c.println(connectUsage)
			return false
		}
		c.connect(ctx, fields[1], fields[2])
	default:
		if _, ok := protocol.KindOf(keyword); !ok {
			c.println("Unknown command called!")
			c.printHelp()
			return false
		}
		cmd := protocol.Parse(line)
		if !cmd.Valid() {
			var argErr *protocol.ArgCountError
			if errors.As(cmd.Err, &argErr) {
				c.println(keyword + ": Wrong number of arguments")
				kind, _ := protocol.KindOf(keyword)
				c.println(protocol.Usage(kind))
			} else {
				c.println(cmd.Err.Error())
			}
			return false
		}
		c.send(cmd)
	}
	return false
}

func (c *Console) connect(ctx context.Context, portArg, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.println(color.RedString("Client is already connected to the server."))
		return
	}

	port, err := strconv.Atoi(portArg)
	if err != nil {
		c.println(color.RedString("Port number invalid input, must be integer!"))
		return
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.host, strconv.Itoa(port)))
	if err != nil {
		c.println(color.RedString("Connecting to the server failed!"))
		return
	}
	c.conn = conn
	c.name = name

	c.wg.Add(1)
	go c.receive(conn)

	c.println(fmt.Sprintf("Connected to server on port %d", port))
}

// disconnect closes the current connection. When report is set, a missing
// connection is reported to the user.
func (c *Console) disconnect(report bool) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.name = ""
	c.mu.Unlock()

	if conn == nil {
		if report {
			c.println(color.RedString("Client is not connected to the server"))
		}
		return
	}
	_ = conn.Close()
	c.println("Disconnected from the server")
}

func (c *Console) send(cmd protocol.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.println(color.RedString("Client is not connected, call CONNECT first."))
		return
	}
	if _, err := io.WriteString(c.conn, cmd.String()+protocol.LineTerminator); err != nil {
		c.println(color.RedString("Failed to send command: %v", err))
	}
}

// receive prints lines from the broker until conn closes. If the broker
// closed it, the console drops the connection.
func (c *Console) receive(conn net.Conn) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		c.println(color.GreenString("%s", scanner.Text()))
	}

	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.name = ""
	}
	c.mu.Unlock()

	if current {
		_ = conn.Close()
		if err := scanner.Err(); err != nil {
			c.println(color.RedString("Failed to receive data from server"))
		}
		c.println("Disconnected from the server")
	}
}

// Connected reports whether the console holds a broker connection.
func (c *Console) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Console) printHelp() {
	c.println(`
List of available commands:
CONNECT <PORT> <CLIENT_NAME>
DISCONNECT
PUBLISH <TOPIC_NAME> <DATA>
SUBSCRIBE <TOPIC_NAME>
UNSUBSCRIBE <TOPIC_NAME>
HELP
EXIT`)
}

// prompt shows the client name once connected.
func (c *Console) prompt() {
	c.mu.Lock()
	name := c.name
	c.mu.Unlock()

	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprint(c.out, color.CyanString("%s> ", name))
}

func (c *Console) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, s)
}
