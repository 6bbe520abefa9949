// Package relay implements the signaling relay: a WebSocket server that
// pairs two clients probing with the same code and password and forwards
// their offer, answer and candidate envelopes to each other.
//
// The relay never inspects descriptors. It only needs the envelope type to
// route, so forwarded frames are passed through byte for byte.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/pairlink/internal/message"
	"github.com/1ureka/pairlink/internal/util"
)

const (
	defaultMaxMessageSize = 64 * 1024
	writeTimeout          = 5 * time.Second
	shutdownTimeout       = 3 * time.Second
)

// Options tune a Server.
type Options struct {
	// MaxMessageSize caps inbound frames. Defaults to 64 KiB.
	MaxMessageSize int64
}

// Server pairs relay clients by secret. It implements http.Handler so it can
// be mounted on any mux or wrapped by httptest.
type Server struct {
	upgrader       websocket.Upgrader
	maxMessageSize int64

	mu      sync.Mutex
	waiting map[message.Secret]*client // one unmatched prober per secret
	clients map[string]*client
}

// client is one WebSocket connection. partner and secret are guarded by the
// server mutex; writes by the client's own mutex.
type client struct {
	id   string
	conn *websocket.Conn
	wmu  sync.Mutex

	secret  message.Secret
	probed  bool
	partner *client
}

// NewServer creates a relay with no clients.
func NewServer(opts Options) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxMessageSize: opts.MaxMessageSize,
		waiting:        make(map[message.Secret]*client),
		clients:        make(map[string]*client),
	}
}

// ListenAndServe serves the relay on addr at /ws until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve accepts relay connections on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("relay listening on %s", listener.Addr())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Waiting returns how many clients are waiting for a peer.
func (s *Server) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting)
}

// Clients returns how many clients are connected.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("relay upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(s.maxMessageSize)

	c := &client{id: uuid.NewString()[:8], conn: conn}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	util.LogDebug("[relay %s] connected from %s", c.id, conn.RemoteAddr())

	defer func() {
		s.leave(c)
		conn.Close()
		util.LogDebug("[relay %s] disconnected", c.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := message.Decode(data)
		if err != nil {
			util.LogWarning("[relay %s] dropping envelope: %v", c.id, err)
			continue
		}

		switch env.Type {
		case message.TypeProbe:
			s.pair(c, *env.Data)
		case message.TypeOffer, message.TypeAnswer, message.TypeCandidate:
			s.forward(c, env.Type, data)
		default:
			util.LogWarning("[relay %s] dropping %q envelope", c.id, env.Type)
		}
	}
}

// pair matches c with a waiting prober of the same secret, or opens a room.
// The waiting side is told it initiates.
func (s *Server) pair(c *client, secret message.Secret) {
	s.mu.Lock()
	if c.probed {
		s.mu.Unlock()
		util.LogWarning("[relay %s] repeated probe ignored", c.id)
		return
	}
	c.probed = true
	c.secret = secret

	peer, ok := s.waiting[secret]
	if !ok {
		s.waiting[secret] = c
		s.mu.Unlock()
		util.LogDebug("[relay %s] room opened", c.id)
		c.write(message.NewRoom())
		return
	}

	delete(s.waiting, secret)
	c.partner = peer
	peer.partner = c
	s.mu.Unlock()

	util.LogInfo("[relay] paired %s (initiator) with %s", peer.id, c.id)
	peer.write(message.Match(true))
	c.write(message.Match(false))
}

// forward passes a peer-to-peer frame to c's partner unchanged.
func (s *Server) forward(c *client, t message.Type, data []byte) {
	s.mu.Lock()
	peer := c.partner
	s.mu.Unlock()

	if peer == nil {
		util.LogWarning("[relay %s] no partner for %s, dropping", c.id, t)
		return
	}
	peer.writeRaw(data)
}

// leave removes c from the relay. Its partner stays connected but unpaired.
func (s *Server) leave(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, c.id)
	if c.probed && s.waiting[c.secret] == c {
		delete(s.waiting, c.secret)
	}
	if c.partner != nil {
		c.partner.partner = nil
		c.partner = nil
	}
}

func (c *client) write(env message.Envelope) {
	data, err := message.Encode(env)
	if err != nil {
		util.LogError("[relay %s] encode %s: %v", c.id, env.Type, err)
		return
	}
	c.writeRaw(data)
}

func (c *client) writeRaw(data []byte) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		util.LogDebug("[relay %s] write failed: %v", c.id, err)
	}
}
