package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paate57/among-pale/internal/config"
)

// SessionHandler processes one upgraded connection. HandleSession returns when the
// session ends; the Server closes the connection afterwards.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn *Conn) error
}

// RoomCounter reports the number of active rooms for the health endpoint.
type RoomCounter interface {
	Len() int
}

// Server listens for HTTP requests, upgrades those on the configured path to
// WebSocket, and dispatches each connection to a SessionHandler.
type Server struct {
	cfg     config.ServerConfig
	wsCfg   config.WebSocketConfig
	handler SessionHandler
	rooms   RoomCounter
	logger  *zap.Logger

	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	mu         sync.Mutex
	running    bool
	stopped    bool
}

// NewServer creates a WebSocket server.
//
// Precondition: cfg and wsCfg must be validated; handler and logger must be non-nil.
// rooms may be nil, in which case /healthz omits the room count.
// Postcondition: Returns a Server ready to be started with ListenAndServe.
func NewServer(cfg config.ServerConfig, wsCfg config.WebSocketConfig, handler SessionHandler, rooms RoomCounter, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		wsCfg:   wsCfg,
		handler: handler,
		rooms:   rooms,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving the upgrade path and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.serveHealth)
	mux.HandleFunc(s.cfg.Path, s.serveWS)
	return mux
}

// ListenAndServe starts the listener and serves until Stop is called.
// This method blocks until the server is stopped.
//
// Precondition: The server must not already be running.
// Postcondition: The listener is closed when this method returns.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop closes the listener, cancels every session and waits for them to finish,
// bounded by the configured shutdown timeout.
//
// Postcondition: No new connections are accepted; active sessions were signalled.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	close(s.quit)
	srv := s.httpServer
	s.mu.Unlock()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error {
			return srv.Shutdown(gctx)
		})
	}
	g.Go(func() error {
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-gctx.Done():
			return fmt.Errorf("waiting for sessions: %w", gctx.Err())
		}
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("websocket server shutdown incomplete", zap.Error(err))
		return
	}
	s.logger.Info("websocket server stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.rooms != nil {
		body["rooms"] = s.rooms.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	select {
	case <-s.quit:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.logger.Debug("upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		raw.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.handleConn(NewConn(raw, uuid.NewString(), s.wsCfg))
}

// handleConn runs a single session to completion.
func (s *Server) handleConn(conn *Conn) {
	defer s.wg.Done()
	start := time.Now()
	addr := conn.RemoteAddr().String()

	s.logger.Info("client connected",
		zap.String("conn_id", conn.ID()),
		zap.String("remote_addr", addr),
	)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel context when quit signal received
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.handler.HandleSession(ctx, conn); err != nil {
		s.logger.Debug("session ended",
			zap.String("conn_id", conn.ID()),
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		s.logger.Info("session ended cleanly",
			zap.String("conn_id", conn.ID()),
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
