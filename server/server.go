package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// Server is a TCP server that answers length-prefixed decode requests.
type Server struct {
	handler *Handler
	auth    *Authenticator

	listener net.Listener
	conns    map[net.Conn]struct{}
	running  bool
	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer creates a new Server. auth may be nil to accept every
// connection.
func NewServer(handler *Handler, auth *Authenticator) *Server {
	return &Server{
		handler: handler,
		auth:    auth,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start starts the server on the specified address.
// This method blocks until the server is stopped or fails. A stopped
// server can be started again.
func (s *Server) Start(address string) error {
	quit, err := s.listen(address)
	if err != nil {
		return err
	}
	defer s.Stop()

	s.acceptLoop(quit)
	return nil
}

// StartAsync starts the server in a background goroutine.
func (s *Server) StartAsync(address string) error {
	quit, err := s.listen(address)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(quit)
	}()
	return nil
}

func (s *Server) listen(address string) (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, fmt.Errorf("server is already running")
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = lis
	s.quit = make(chan struct{})
	s.running = true
	Logger().Info("decode server listening",
		zap.String("addr", lis.Addr().String()),
		zap.Bool("auth", s.auth.IsEnabled()),
	)
	return s.quit, nil
}

// Addr returns the listener's address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for the
// connection handlers to return.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.quit)
	if err := s.listener.Close(); err != nil {
		Logger().Debug("failed to close listener", zap.Error(err))
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop(quit chan struct{}) {
	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			Logger().Warn("accept failed", zap.Error(err))
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		go s.handleConnection(conn, quit)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// handleConnection handles a single client connection.
func (s *Server) handleConnection(conn net.Conn, quit chan struct{}) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	log := Logger().With(zap.String("remote", conn.RemoteAddr().String()))

	if s.auth.IsEnabled() {
		if err := s.auth.Handshake(conn); err != nil {
			log.Info("authentication failed", zap.Error(err))
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		data, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("failed to read request", zap.Error(err))
			}
			return
		}

		response, err := s.handler.Process(ctx, data)
		if err != nil {
			log.Error("failed to process request", zap.Error(err))
			return
		}

		if err := WriteMessage(conn, response); err != nil {
			log.Debug("failed to write response", zap.Error(err))
			return
		}
	}
}
