// ABOUTME: Websocket front end for the access point Service
// ABOUTME: One reader loop and one writer goroutine per connection with ping keepalive
package accesspoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Thalhammer/libspotify-embedded/internal/metrics"
)

const (
	// DefaultPort is the listen port when none is configured.
	DefaultPort = 4070

	// DefaultPath is the websocket endpoint.
	DefaultPath = "/ap"

	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
	writeBufSize  = 32 * 1024
)

// ServerConfig configures a websocket Server.
type ServerConfig struct {
	// Port to listen on (default: 4070). Ignored when Listener is set.
	Port int

	// Path of the websocket endpoint (default: /ap)
	Path string

	// Listener overrides Port, mainly for tests.
	Listener net.Listener

	// Metrics exposes /metrics on the same listener.
	Metrics bool

	Service *Service
	Logger  zerolog.Logger
}

// Server accepts websocket connections and hands them to the Service.
type Server struct {
	config   ServerConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger

	httpServer *http.Server
	mux        *http.ServeMux
	listener   net.Listener

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// NewServer creates a server. Start begins listening.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		log:    config.Logger.With().Str("component", "ap-server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: writeBufSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	if config.Metrics {
		s.mux.Handle("/metrics", metrics.Handler())
	}
	return s, nil
}

// Addr returns the bound address once Start has been called.
func (s *Server) Addr() net.Addr {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the listener without serving. Start calls it when needed.
func (s *Server) Listen() error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln := s.config.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	s.listener = ln
	return nil
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.log.Info().Str("addr", s.listener.Addr().String()).Str("name", s.config.Service.Name()).Msg("access point listening")

	s.httpServer = &http.Server{Handler: s.mux}
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-s.stopChan:
		s.log.Info().Msg("access point shutting down")
	case err := <-errChan:
		s.log.Error().Err(err).Msg("http server error")
		return err
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("http shutdown error")
	}

	s.wg.Wait()
	s.log.Info().Msg("access point stopped")
	return nil
}

// Stop ends Start. Open connections are closed.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	down := s.isShutdown
	s.shutdownMu.RUnlock()
	if down {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new connection")

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn)
}

// handleConnection reads frames into the peer until the socket closes.
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	peer := s.config.Service.NewPeer()
	defer peer.Close()

	kick := make(chan struct{}, 1)
	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.peerWriter(conn, peer, kick, done)
	}()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if err := peer.Feed(data); err != nil {
			s.log.Warn().Err(err).Str("peer", peer.ID()).Msg("closing peer")
			return
		}
		select {
		case kick <- struct{}{}:
		default:
		}
		if peer.Closed() {
			return
		}
	}
}

// peerWriter drains peer output as binary messages.
func (s *Server) peerWriter(conn *websocket.Conn, peer *Peer, kick <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	buf := make([]byte, writeBufSize)
	drain := func() bool {
		for {
			n := peer.Read(buf)
			if n == 0 {
				return true
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				return false
			}
		}
	}

	for {
		select {
		case <-kick:
			if !drain() {
				return
			}
		case <-peer.Wake():
			if !drain() {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-done:
			drain()
			return
		case <-s.stopChan:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		}
	}
}
