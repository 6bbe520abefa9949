package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/pairlink/internal/message"
)

// Relay is the session's view of the signaling relay: ordered, at-least-once
// delivery of envelopes to and from the paired peer.
type Relay interface {
	// Send delivers an envelope to the relay. It is safe for concurrent use.
	Send(message.Envelope) error
	// Receive blocks for the next envelope. Errors wrapping
	// message.ErrMalformed are per-envelope; any other error means the
	// relay connection is gone.
	Receive() (message.Envelope, error)
	// Close releases the connection. It is idempotent.
	Close() error
}

// Compile-time interface check.
var _ Relay = (*WSRelay)(nil)

// WSRelay is a Relay over a gorilla WebSocket connection. Writes are
// serialized by a mutex; reads happen on the session's reader goroutine.
type WSRelay struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the relay at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*WSRelay, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return NewWSRelay(conn), nil
}

// NewWSRelay wraps an established WebSocket connection.
func NewWSRelay(conn *websocket.Conn) *WSRelay {
	return &WSRelay{conn: conn}
}

// Send writes an envelope as a JSON text frame, guarded by a mutex.
func (r *WSRelay) Send(env message.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.WriteJSON(env)
}

// Receive reads the next frame, text or binary, and decodes it.
func (r *WSRelay) Receive() (message.Envelope, error) {
	_, data, err := r.conn.ReadMessage()
	if err != nil {
		return message.Envelope{}, err
	}
	return message.Decode(data)
}

// Close sends a normal-closure frame and closes the connection.
func (r *WSRelay) Close() error {
	r.closeOnce.Do(func() {
		// Best-effort: the peer may already be gone.
		r.mu.Lock()
		_ = r.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "signaling complete"))
		r.mu.Unlock()
		r.closeErr = r.conn.Close()
	})
	return r.closeErr
}
