package uds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/pulsebar/pkg/core"
)

// DefaultReadBuffer is the size of the per-connection read buffer.
const DefaultReadBuffer = 1024

// ErrSocketInUse is returned by Listen when another process is accepting
// connections on the socket path.
var ErrSocketInUse = errors.New("socket is in use by a running server")

// Sink receives decoded samples and human-readable activity lines.
type Sink interface {
	SetSample(s core.Sample)
	AppendLog(line string)
}

// Server listens on a Unix domain socket and feeds decoded samples to a Sink.
type Server struct {
	socketPath string
	listener   net.Listener
	ownsSocket bool
	closed     bool
	sink       Sink
	readBuffer int
	clients    map[net.Conn]struct{}
	mu         sync.Mutex
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, sink Sink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		sink:       sink,
		readBuffer: DefaultReadBuffer,
		clients:    make(map[net.Conn]struct{}),
		logger:     logger,
	}
}

// SetReadBuffer sets the size of each connection's read buffer.
func (s *Server) SetReadBuffer(n int) {
	if n > 0 {
		s.readBuffer = n
	}
}

// SocketPath returns the path the server binds.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Listen binds the socket. A stale file at the path is removed first; a
// socket something still accepts on (e.g. a systemd socket unit) is left
// alone and ErrSocketInUse is returned.
func (s *Server) Listen() error {
	if conn, err := net.DialTimeout("unix", s.socketPath, time.Second); err == nil {
		conn.Close()
		return fmt.Errorf("listen %s: %w", s.socketPath, ErrSocketInUse)
	}
	// Best-effort: a missing file is the common case.
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.ownsSocket = true
	s.mu.Unlock()
	s.logger.Info("server listening", "socket", s.socketPath)
	return nil
}

// UseListener adopts an already bound listener, e.g. one passed in by systemd.
// The socket file is left in place on shutdown.
func (s *Server) UseListener(ln net.Listener) {
	s.mu.Lock()
	s.listener = ln
	s.ownsSocket = false
	s.mu.Unlock()
	s.logger.Info("server using inherited listener", "addr", ln.Addr().String())
}

// Start binds the socket and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or the listener is closed.
// Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("serve: server is not listening")
	}

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil // shutting down
			}
			s.logger.Error("accept error", "err", err)
			backoff = nextBackoff(backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.clients[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Shutdown closes the listener and every live connection, then waits for
// the connection handlers to return.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.clients {
		conn.Close()
	}
	owns := s.ownsSocket
	s.mu.Unlock()

	s.wg.Wait()
	if owns {
		os.Remove(s.socketPath)
	}
}

// Clients returns the number of live connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.event("client connected")

	buf := make([]byte, s.readBuffer)
	w := bufio.NewWriter(conn)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := s.reply(w, buf[:n]); werr != nil {
				if !errors.Is(werr, net.ErrClosed) {
					s.event(fmt.Sprintf("failed to reply to client: %v", werr), "err", werr)
				}
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.event("client disconnected")
			case errors.Is(err, net.ErrClosed):
				// closed by Shutdown
			default:
				s.event(fmt.Sprintf("failed to read from client: %v", err), "err", err)
			}
			return
		}
	}
}

// reply decodes one payload, updates the sink and writes the response.
func (s *Server) reply(w *bufio.Writer, payload []byte) error {
	s.event("received from client: " + strings.TrimSpace(Text(payload)))

	sample, err := Decode(payload)
	if err != nil {
		s.event(fmt.Sprintf("parse error: %v", err), "err", err)
	} else {
		s.sink.SetSample(sample)
	}

	if _, err := w.Write(Reply(err)); err != nil {
		return err
	}
	return w.Flush()
}

// event records a line in the sink's event log and mirrors it to the logger.
func (s *Server) event(line string, attrs ...any) {
	s.sink.AppendLog(line)
	s.logger.Info(line, attrs...)
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(d*2, time.Second)
}
