// Package transport implements the direct-connection capability on a pion
// PeerConnection with one pre-negotiated DataChannel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairlink/internal/negotiation"
	"github.com/1ureka/pairlink/internal/util"
)

// Compile-time interface check.
var _ negotiation.Capability = (*Transport)(nil)

// Config selects the ICE servers and candidate policy of a Transport.
type Config struct {
	ICEServers      []string // STUN/TURN URLs; empty means host candidates only
	IncludeLoopback bool     // gather 127.0.0.1 candidates (single-host testing)
}

// Transport wraps a single PeerConnection + DataChannel pair. It exposes the
// descriptor primitives the negotiator drives, the channel event hooks the
// session surfaces, and message sending with backpressure.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	sender     *sender
	stats      *util.Stats
	openSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	pcState   webrtc.PeerConnectionState
	onOpen    func()
	onClose   func(error)
	closeOnce sync.Once
}

// NewTransport creates a Transport backed by a new PeerConnection and a
// pre-negotiated DataChannel. The caller performs signaling through the
// Capability methods and then uses Send / OnChannelMessage for data.
func NewTransport(ctx context.Context, cfg Config) (*Transport, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create DataChannel: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:         pc,
		dc:         dc,
		stats:      util.NewStats(),
		openSignal: make(chan struct{}),
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() {
			close(t.openSignal)
			t.mu.RLock()
			fn := t.onOpen
			t.mu.RUnlock()
			if fn != nil {
				fn()
			}
		})
	})

	// DC close cancels the transport context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		t.channelClosed(nil)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.channelClosed(fmt.Errorf("%w: peer connection failed", negotiation.ErrNegotiationFailed))
		case webrtc.PeerConnectionStateClosed:
			t.channelClosed(nil)
		}
	})

	// Start the sender goroutine.
	t.sender = newSender(tCtx, dc, t.openSignal, t.stats)

	return t, nil
}

// channelClosed cancels the transport context and fires the close hook once,
// whichever of DataChannel close or PeerConnection failure comes first.
// err is nil for a normal close.
func (t *Transport) channelClosed(err error) {
	t.closeOnce.Do(func() {
		t.cancel()
		t.mu.RLock()
		fn := t.onClose
		t.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open and
// the Transport is ready to send and receive.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down
// (DataChannel closed, PeerConnection failed or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close shuts down the DataChannel and PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// Stats returns the traffic counters of the DataChannel.
func (t *Transport) Stats() *util.Stats {
	return t.stats
}

// ---------------------------------------------------------------------------
// Descriptor negotiation
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
// pion's refusal is reported as negotiation.ErrCandidateRejected.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := t.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("%w: %w", negotiation.ErrCandidateRejected, err)
	}
	return nil
}

// SignalingState returns the PeerConnection's current signaling state.
func (t *Transport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

// ---------------------------------------------------------------------------
// Event hooks
// ---------------------------------------------------------------------------

// OnLocalCandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. The end-of-gathering signal is not forwarded.
func (t *Transport) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// OnChannelOpen registers a callback invoked once when the DataChannel opens.
func (t *Transport) OnChannelOpen(fn func()) {
	t.mu.Lock()
	t.onOpen = fn
	t.mu.Unlock()
}

// OnChannelMessage registers a callback invoked for every inbound DataChannel message.
func (t *Transport) OnChannelMessage(fn func([]byte)) {
	t.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.stats.AddRecv(len(msg.Data))
		fn(msg.Data)
	})
}

// OnChannelClose registers a callback invoked once when the DataChannel
// closes or the PeerConnection fails. A failure is reported as an error
// wrapping negotiation.ErrNegotiationFailed.
func (t *Transport) OnChannelClose(fn func(error)) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send enqueues a message for the peer. Messages queued before the channel
// opens are held until it does.
func (t *Transport) Send(data []byte) error {
	return t.sender.send(t.ctx, data)
}
