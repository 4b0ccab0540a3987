// Package ws handles WebSocket connection management: upgrading HTTP
// connections, binding each socket to an authenticated user, running a read
// goroutine per connection, and draining per-connection outbound queues.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/nexa/messenger/internal/metrics"
	"github.com/nexa/messenger/internal/protocol"
	"github.com/nexa/messenger/internal/ratelimit"
	"github.com/nexa/messenger/internal/registry"
)

// Authenticator supplies the verified user identity for an upgrade request.
// Implementations typically validate a token from the request headers or
// query string; the identity they return is fixed for the connection's
// lifetime.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// SessionRecorder mirrors live connections into shared storage so other
// instances can see them. The Redis-backed session.Store implements it.
type SessionRecorder interface {
	Create(ctx context.Context, connID, userID string) error
	Touch(ctx context.Context, connID string) error
	Delete(ctx context.Context, connID string) error
}

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	SendQueueSize  int           // per-connection outbound queue capacity
	ReadTimeout    time.Duration // max idle time between client frames
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		SendQueueSize:  64,
		ReadTimeout:    90 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades HTTP connections to WebSocket and runs one read goroutine
// per connection. Connections register with the shared registry so the
// dispatcher can resolve fan-out; the per-connection writer goroutines keep
// slow sockets from stalling anyone else.
type Server struct {
	config       ServerConfig
	registry     *registry.Registry
	sessionStore SessionRecorder // Redis-backed connection records, may be nil
	limiter      *ratelimit.Limiter
	auth         Authenticator
	onMessage    func(conn *Connection, data []byte)
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server with the given configuration, registry,
// authenticator, and message callback. The onMessage function is called from
// the connection's read goroutine for every complete text frame.
func NewServer(config ServerConfig, reg *registry.Registry, sessionStore SessionRecorder, auth Authenticator, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:       config,
		registry:     reg,
		sessionStore: sessionStore,
		auth:         auth,
		onMessage:    onMessage,
		done:         make(chan struct{}),
	}
}

// Start configures the HTTP server and begins accepting WebSocket
// connections. It blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	// Start the heartbeat monitor to detect and close dead connections.
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (queue=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.SendQueueSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the request, upgrades it to a WebSocket
// connection, registers the connection, and starts its read goroutine.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.registry.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		allowed, _ := s.limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		cancel()
		if !allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	userID, err := s.auth.Authenticate(r)
	if err != nil {
		log.Printf("ws: authentication failed: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	connID := uuid.New().String()
	c := newConnection(connID, userID, conn, s.config.SendQueueSize, s.config.WriteTimeout)

	// Registering fires the connection-opened hook, which drives presence.
	s.registry.Register(c)
	metrics.ConnectionsTotal.Inc()

	// Record the connection in Redis so other instances can see it.
	if s.sessionStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.sessionStore.Create(ctx, connID, userID); err != nil {
			log.Printf("ws: failed to create redis record for conn=%s: %v", connID, err)
		}
	}

	// Confirm the handshake with the connection's identity.
	connectedMsg, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		ConnectionID: connID,
		UserID:       userID,
	})
	if err != nil {
		log.Printf("ws: failed to build connected message for conn=%s: %v", connID, err)
	} else if !c.Enqueue(connectedMsg) {
		log.Printf("ws: failed to send connected message for conn=%s", connID)
	}

	log.Printf("ws: new connection conn=%s user=%s (total=%d)", connID, userID, s.registry.Count())

	go s.readLoop(c)
}

// handleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.registry.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads frames from the connection until it fails or closes. It
// uses wsutil.NextReader so control frames (ping, pong, close) are observed
// alongside data frames.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		case <-c.Done():
			return
		default:
		}

		if s.config.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		header, reader, err := wsutil.NextReader(c.conn, ws.StateServerSide)
		if err != nil {
			// A deadline may fire mid-frame, and the stream cannot be
			// resumed at a frame boundary afterwards, so any read error
			// closes the connection. Healthy clients answer the heartbeat
			// ping well inside the idle window.
			return
		}

		// Any frame proves the connection is alive.
		c.TouchPing()

		if header.OpCode.IsControl() {
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.writeFrame(ws.OpPong, nil); err != nil {
					return
				}
			}
			// Pong: nothing else to do.
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}

		if len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// RemoveConnection unregisters and closes a connection. It is exported so
// the heartbeat monitor can evict dead connections. The registry unregister
// fires the connection-closed hook exactly once, which drives presence.
func (s *Server) RemoveConnection(c *Connection) {
	// Only the goroutine that wins the unregister proceeds with cleanup;
	// this prevents double work when a read error and a heartbeat timeout
	// race to remove the same connection.
	if !s.registry.Unregister(c.ID()) {
		return
	}

	c.Close()
	metrics.ConnectionsTotal.Dec()

	if s.sessionStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.sessionStore.Delete(ctx, c.ID()); err != nil {
			log.Printf("ws: failed to delete redis record for conn=%s: %v", c.ID(), err)
		}
	}

	log.Printf("ws: connection closed conn=%s user=%s (total=%d)", c.ID(), c.UserID(), s.registry.Count())
}

// SendMessage enqueues a text frame on the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	conn := s.registry.Get(connID)
	if conn == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	if !conn.Enqueue(data) {
		return ErrQueueFull
	}
	return nil
}

// SetRateLimiter installs the Redis-backed limiter used to throttle upgrade
// attempts per client IP. A nil limiter disables the check.
func (s *Server) SetRateLimiter(l *ratelimit.Limiter) {
	s.limiter = l
}

// Registry returns the connection registry for external access (e.g., by the
// heartbeat monitor or message handlers).
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Shutdown performs a graceful shutdown: it stops the HTTP listener, signals
// the read loops and heartbeat to exit, and closes every active connection.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	for _, conn := range s.registry.All() {
		if c, ok := conn.(*Connection); ok {
			s.RemoveConnection(c)
		}
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
