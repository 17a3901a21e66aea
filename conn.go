package linebroker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/casualjim/linebroker/internal/protocol"
	"github.com/casualjim/linebroker/pkg/slogx"
	"github.com/casualjim/linebroker/pkg/uuidx"
)

// clientConn is one accepted client. The registry only ever sees it through
// its ID and Send.
type clientConn struct {
	id     string
	nc     net.Conn
	logger *slog.Logger

	out          chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	slowTimeout  time.Duration
	writeTimeout time.Duration
}

func (s *Server) newConn(nc net.Conn) *clientConn {
	id := uuidx.NewString()
	return &clientConn{
		id:           id,
		nc:           nc,
		logger:       s.logger.With(slogx.Conn(uuidx.Short(id))),
		out:          make(chan []byte, s.queueSize),
		done:         make(chan struct{}),
		slowTimeout:  s.slowSubscriberTimeout,
		writeTimeout: s.writeTimeout,
	}
}

func (c *clientConn) ID() string {
	return c.id
}

// Send queues line for the writer. It waits at most the slow subscriber
// timeout for room in the queue.
func (c *clientConn) Send(ctx context.Context, line []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.out <- line:
		return nil
	default:
	}

	timer := time.NewTimer(c.slowTimeout)
	defer timer.Stop()

	select {
	case c.out <- line:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSlowSubscriber
	}
}

// close stops the writer and closes the socket, which also ends the read loop.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.nc.Close()
	})
}

func (c *clientConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writeLoop drains the outbound queue until the connection closes. A failed
// write closes the connection.
func (c *clientConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case line := <-c.out:
			if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil && !c.closed() {
				c.logger.Debug("failed to set write deadline", slogx.Error(err))
			}
			if _, err := c.nc.Write(line); err != nil {
				if !c.closed() {
					c.logger.Error("failed to write to client", slogx.Error(err))
				}
				c.close()
				return
			}
		}
	}
}

// serve runs the connection until the client goes away or the server closes
// it. Every subscription the connection holds is removed before serve returns.
func (s *Server) serve(c *clientConn) {
	c.logger.Info("client connected", slogx.Remote(c.nc.RemoteAddr()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	defer func() {
		topics := s.registry.RemoveMember(c)
		c.close()
		<-writerDone
		s.conns.Del(c.id)
		c.logger.Info("client disconnected", slog.Any("topics", topics))
	}()

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, min(s.maxLineBytes, 4096)), s.maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		c.logger.Debug("received line", slog.String("line", line))
		_ = s.dispatcher.Dispatch(s.ctx, c, protocol.Parse(line))
	}

	err := scanner.Err()
	switch {
	case err == nil || c.closed():
	case errors.Is(err, bufio.ErrTooLong):
		c.logger.Warn("client sent a line longer than the limit", slog.Int("max_line_bytes", s.maxLineBytes))
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
	default:
		c.logger.Error("failed to read from client", slogx.Error(err))
	}
}
