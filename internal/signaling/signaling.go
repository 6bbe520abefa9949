// Package signaling runs the relay side of pairing: it matches relay
// envelopes to negotiation actions and, through Establish, takes a caller
// from a code+password to an open direct channel. Relay and WebRTC details
// stay internal; callers receive a ready-to-use Link.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/pairlink/internal/message"
	"github.com/1ureka/pairlink/internal/transport"
	"github.com/1ureka/pairlink/internal/util"
)

// ErrChannelClosed is returned by Establish when the session ends normally
// before the direct channel ever opened.
var ErrChannelClosed = errors.New("direct channel closed before it opened")

// Config describes one pairing attempt.
type Config struct {
	RelayURL   string
	Secret     message.Secret
	Initiate   bool          // Start as initiator instead of Join
	EagerOffer bool          // create the offer before probing
	Timeout    time.Duration // bound on establishment; zero means ctx only
	Transport  transport.Config
}

// Link is an established direct channel. The relay connection is already
// closed by the time a Link is returned.
type Link struct {
	session   *Session
	transport *transport.Transport
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Establish executes the full pairing flow:
//  1. Connect to the relay
//  2. Create a Transport
//  3. Start or Join the session for cfg.Secret
//  4. Wait for the direct channel to open
//  5. Close the relay connection
//  6. Return the ready Link
//
// onMessage receives every inbound channel message and must not block.
func Establish(ctx context.Context, cfg Config, onMessage func([]byte)) (*Link, error) {
	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// 1. Connect to the relay.
	relay, err := Dial(waitCtx, cfg.RelayURL)
	if err != nil {
		return nil, err
	}
	util.LogDebug("relay connected: %s", cfg.RelayURL)

	// 2. Create Transport.
	tr, err := transport.NewTransport(ctx, cfg.Transport)
	if err != nil {
		relay.Close()
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	// 3. Run the session.
	opened := make(chan struct{})
	var openOnce sync.Once
	session := NewSession(relay, tr, Options{
		EagerOffer: cfg.EagerOffer,
		Hooks: Hooks{
			OnOpen:    func() { openOnce.Do(func() { close(opened) }) },
			OnMessage: onMessage,
		},
	})

	sessCtx, sessCancel := context.WithCancel(ctx)
	go session.Run(sessCtx)

	if cfg.Initiate {
		session.Start(cfg.Secret.Code, cfg.Secret.Pass)
	} else {
		session.Join(cfg.Secret.Code, cfg.Secret.Pass)
	}

	// 4. Wait for result.
	select {
	case <-opened:
		// 5. The session treats the relay drop as expected from here on.
		util.LogDebug("direct channel established, closing relay")
		relay.Close()
		return &Link{session: session, transport: tr, cancel: sessCancel}, nil

	case <-session.Done():
		sessCancel()
		tr.Close()
		if err := session.Err(); err != nil {
			return nil, fmt.Errorf("signaling failed: %w", err)
		}
		return nil, ErrChannelClosed

	case <-waitCtx.Done():
		sessCancel()
		tr.Close()
		return nil, waitCtx.Err()
	}
}

// ID returns the session identifier used in logs.
func (l *Link) ID() string { return l.session.ID() }

// Send queues data for the peer.
func (l *Link) Send(data []byte) error { return l.transport.Send(data) }

// Stats returns the link's traffic counters.
func (l *Link) Stats() *util.Stats { return l.transport.Stats() }

// Done is closed when the direct channel is gone.
func (l *Link) Done() <-chan struct{} { return l.session.Done() }

// Err returns why the link ended: nil when the peer closed the channel,
// context.Canceled after Close.
func (l *Link) Err() error { return l.session.Err() }

// Close tears down the session and the direct channel.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.cancel()
		err = l.transport.Close()
	})
	return err
}
