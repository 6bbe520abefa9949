package negotiation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ Capability = (*MemoryCapability)(nil)

// MemoryCapability is an in-process Capability for tests. It enforces the
// same signaling-state transitions as a real PeerConnection but produces
// synthetic descriptors and never opens a network path. Channel events are
// raised explicitly with EmitCandidate, Open, Deliver, CloseChannel and Fail.
type MemoryCapability struct {
	mu sync.Mutex

	name   string
	state  webrtc.SignalingState
	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription

	offers  int
	answers int
	applied []webrtc.ICECandidateInit

	// Reject, when set, decides which remote candidates are refused.
	Reject func(webrtc.ICECandidateInit) bool

	onCandidate func(webrtc.ICECandidateInit)
	onOpen      func()
	onMessage   func([]byte)
	onClose     func(error)
}

// NewMemoryCapability creates a capability in Stable state. name appears in
// the synthetic descriptors.
func NewMemoryCapability(name string) *MemoryCapability {
	return &MemoryCapability{
		name:  name,
		state: webrtc.SignalingStateStable,
	}
}

func (m *MemoryCapability) CreateOffer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == webrtc.SignalingStateClosed {
		return webrtc.SessionDescription{}, errors.New("capability closed")
	}
	m.offers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0\r\no=%s-offer-%d\r\n", m.name, m.offers),
	}, nil
}

func (m *MemoryCapability) CreateAnswer() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s", m.state)
	}
	m.answers++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0\r\no=%s-answer-%d\r\n", m.name, m.answers),
	}, nil
}

func (m *MemoryCapability) SetLocalDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case desc.Type == webrtc.SDPTypeOffer && m.state == webrtc.SignalingStateStable:
		m.state = webrtc.SignalingStateHaveLocalOffer
	case desc.Type == webrtc.SDPTypeAnswer && m.state == webrtc.SignalingStateHaveRemoteOffer:
		m.state = webrtc.SignalingStateStable
	case desc.Type == webrtc.SDPTypeRollback && m.state == webrtc.SignalingStateHaveLocalOffer:
		m.state = webrtc.SignalingStateStable
		m.local = nil
		return nil
	default:
		return fmt.Errorf("set local %s in %s", desc.Type, m.state)
	}
	m.local = &desc
	return nil
}

func (m *MemoryCapability) SetRemoteDescription(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case desc.Type == webrtc.SDPTypeOffer && m.state == webrtc.SignalingStateStable:
		m.state = webrtc.SignalingStateHaveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && m.state == webrtc.SignalingStateHaveLocalOffer:
		m.state = webrtc.SignalingStateStable
	default:
		return fmt.Errorf("set remote %s in %s", desc.Type, m.state)
	}
	m.remote = &desc
	return nil
}

func (m *MemoryCapability) AddICECandidate(c webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.remote == nil {
		return fmt.Errorf("%w: remote description not set", ErrCandidateRejected)
	}
	if m.Reject != nil && m.Reject(c) {
		return fmt.Errorf("%w: %s", ErrCandidateRejected, c.Candidate)
	}
	m.applied = append(m.applied, c)
	return nil
}

func (m *MemoryCapability) SignalingState() webrtc.SignalingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ---------------------------------------------------------------------------
// Hooks
// ---------------------------------------------------------------------------

func (m *MemoryCapability) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	m.mu.Lock()
	m.onCandidate = fn
	m.mu.Unlock()
}

func (m *MemoryCapability) OnChannelOpen(fn func()) {
	m.mu.Lock()
	m.onOpen = fn
	m.mu.Unlock()
}

func (m *MemoryCapability) OnChannelMessage(fn func([]byte)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

func (m *MemoryCapability) OnChannelClose(fn func(error)) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

// EmitCandidate simulates local candidate discovery.
func (m *MemoryCapability) EmitCandidate(c webrtc.ICECandidateInit) {
	m.mu.Lock()
	fn := m.onCandidate
	m.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// Open simulates the direct channel opening.
func (m *MemoryCapability) Open() {
	m.mu.Lock()
	fn := m.onOpen
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Deliver simulates an inbound channel message.
func (m *MemoryCapability) Deliver(data []byte) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// CloseChannel simulates the direct channel closing and moves the capability
// to the closed signaling state.
func (m *MemoryCapability) CloseChannel() {
	m.closeChannel(nil)
}

// Fail simulates the connection failing after negotiation.
func (m *MemoryCapability) Fail(cause error) {
	m.closeChannel(fmt.Errorf("%w: connection failed: %w", ErrNegotiationFailed, cause))
}

func (m *MemoryCapability) closeChannel(err error) {
	m.mu.Lock()
	m.state = webrtc.SignalingStateClosed
	fn := m.onClose
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Applied returns the remote candidates accepted so far, in order.
func (m *MemoryCapability) Applied() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), m.applied...)
}

// Offers returns how many offers have been created.
func (m *MemoryCapability) Offers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers
}

// Answers returns how many answers have been created.
func (m *MemoryCapability) Answers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answers
}

// LocalDescription returns the applied local descriptor, or nil.
func (m *MemoryCapability) LocalDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// RemoteDescription returns the applied remote descriptor, or nil.
func (m *MemoryCapability) RemoteDescription() *webrtc.SessionDescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}
