// Package negotiation implements the offer/answer state machine that runs on
// top of a direct-connection capability: role-aware descriptor exchange and
// staging of connectivity candidates that arrive before the remote
// descriptor.
//
// Nothing in this package is safe for concurrent use. The owning session
// serializes every call onto a single dispatch goroutine.
package negotiation

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrIllegalState is returned when a descriptor operation is not allowed
	// in the current state. It is never fatal.
	ErrIllegalState = errors.New("illegal negotiation state")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("negotiation closed")

	// ErrNegotiationFailed wraps capability errors that make the negotiation
	// unrecoverable (descriptor creation or application failed).
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrCandidateRejected is returned by Capability.AddICECandidate for
	// malformed or stale candidates.
	ErrCandidateRejected = errors.New("candidate rejected")
)

// Capability is the direct-connection primitive the negotiator drives.
// internal/transport implements it on a pion PeerConnection.
type Capability interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	// Event hooks. Implementations invoke them from their own goroutines.
	OnLocalCandidate(func(webrtc.ICECandidateInit))
	OnChannelOpen(func())
	OnChannelMessage(func([]byte))
	// OnChannelClose fires once. err is nil for a normal close and wraps
	// ErrNegotiationFailed when the connection failed.
	OnChannelClose(func(err error))
}

// Role is the side a session plays in the negotiation.
type Role int

const (
	RoleUnassigned Role = iota
	RoleInitiator
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleReceiver:
		return "receiver"
	default:
		return "unassigned"
	}
}

// State mirrors the capability's signaling state.
type State int

const (
	StateUnknown State = iota
	StateStable
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateOf maps a pion signaling state onto State. Provisional-answer states
// are never entered by this protocol and map to StateUnknown.
func stateOf(s webrtc.SignalingState) State {
	switch s {
	case webrtc.SignalingStateStable:
		return StateStable
	case webrtc.SignalingStateHaveLocalOffer:
		return StateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return StateHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return StateClosed
	default:
		return StateUnknown
	}
}
