package linebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/linebroker/internal/broker"
	"github.com/casualjim/linebroker/internal/protocol"
	"github.com/casualjim/linebroker/pkg/slogx"
	"github.com/fogfish/opts"
	"golang.org/x/sync/semaphore"
)

// Server accepts client connections and serves the broker protocol on them.
//
// All connections share one subscription registry. Each admitted connection
// runs in its own goroutine with a second goroutine writing its notifications.
type Server struct {
	maxClients            int
	queueSize             int
	maxLineBytes          int
	slowSubscriberTimeout time.Duration
	writeTimeout          time.Duration
	logger                *slog.Logger
	relay                 broker.Relay

	registry   *broker.Registry
	dispatcher *broker.Dispatcher
	gate       *semaphore.Weighted
	conns      *haxmap.Map[string, *clientConn]

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	wg         sync.WaitGroup
	listeners  map[net.Listener]struct{}
	closing    bool
	closeRelay sync.Once
}

// New creates a server for the provisioned topics.
func New(topics []string, options ...opts.Option[Server]) (*Server, error) {
	s := &Server{
		maxClients:            DefaultMaxClients,
		queueSize:             DefaultQueueSize,
		maxLineBytes:          DefaultMaxLineBytes,
		slowSubscriberTimeout: DefaultSlowSubscriberTimeout,
		writeTimeout:          DefaultWriteTimeout,
		conns:                 haxmap.New[string, *clientConn](),
		listeners:             make(map[net.Listener]struct{}),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, err
	}
	if err := s.checkOptions(); err != nil {
		return nil, err
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	reg, err := broker.NewRegistry(topics...)
	if err != nil {
		return nil, err
	}
	s.registry = reg

	dopts := []opts.Option[broker.Dispatcher]{broker.WithLogger(s.logger)}
	if s.relay != nil {
		dopts = append(dopts, broker.WithRelay(s.relay))
	}
	s.dispatcher, err = broker.New(reg, dopts...)
	if err != nil {
		return nil, err
	}

	if s.maxClients > 0 {
		s.gate = semaphore.NewWeighted(int64(s.maxClients))
	}
	s.logger = s.logger.With(slogx.LoggerName("server"))

	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.dispatcher.Attach(s.ctx); err != nil {
		s.cancel()
		return nil, fmt.Errorf("linebroker: attach relay: %w", err)
	}
	return s, nil
}

// Topics lists the provisioned topics.
func (s *Server) Topics() []string {
	return s.registry.Topics()
}

// ConnectedClients is the number of connections currently being served.
func (s *Server) ConnectedClients() int {
	return int(s.conns.Len())
}

// Serve accepts connections on ln until ln fails or Shutdown is called.
// It always returns a non-nil error; after Shutdown that is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.logger.Info("listening for clients", slog.String("addr", ln.Addr().String()), slog.Any("topics", s.Topics()))

	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.shuttingDown() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept failed, retrying", slogx.Error(err), slog.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if s.gate != nil && !s.gate.TryAcquire(1) {
			s.reject(nc)
			continue
		}
		go func() {
			if s.gate != nil {
				defer s.gate.Release(1)
			}
			_ = s.ServeConn(nc)
		}()
	}
}

// ServeConn serves the protocol on nc and returns when the connection ends.
// It does not pass through the admission gate.
func (s *Server) ServeConn(nc net.Conn) error {
	c := s.newConn(nc)
	if !s.trackConn(c) {
		_ = nc.Close()
		return ErrServerClosed
	}
	defer s.wg.Done()

	s.serve(c)
	return nil
}

// reject tells a client over the connection cap that the server is busy.
func (s *Server) reject(nc net.Conn) {
	s.logger.Warn("rejecting client, too many connections",
		slogx.Remote(nc.RemoteAddr()),
		slog.Int("max_clients", s.maxClients),
	)
	_ = nc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_, _ = nc.Write(protocol.FormatError("server busy"))
	_ = nc.Close()
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

// trackConn registers c with the live table and the wait group, unless the
// server is shutting down.
func (s *Server) trackConn(c *clientConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	s.conns.Set(c.id, c)
	return true
}

func (s *Server) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown stops accepting, closes every live connection and waits for their
// handlers to finish, or for ctx to expire. The relay is closed last.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	s.mu.Unlock()

	var errs []error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	s.cancel()
	s.conns.ForEach(func(_ string, c *clientConn) bool {
		c.close()
		return true
	})

	joined := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.relay != nil {
		s.closeRelay.Do(func() {
			if err := s.relay.Close(); err != nil {
				errs = append(errs, fmt.Errorf("linebroker: close relay: %w", err))
			}
		})
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}
