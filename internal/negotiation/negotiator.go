package negotiation

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairlink/internal/message"
	"github.com/1ureka/pairlink/internal/util"
)

// Negotiator drives a Capability through the legal offer/answer sequence:
//
//	Stable ──createOffer──▶ HaveLocalOffer ──remote answer──▶ Stable
//	Stable ──remote offer─▶ HaveRemoteOffer ──local answer──▶ Stable
//	any    ──Close────────▶ Closed
//
// At most one local offer and at most one local answer are produced per
// negotiation; renegotiation is not supported.
type Negotiator struct {
	capability Capability
	staging    *Staging
	tag        string // log prefix

	offered  bool
	answered bool
	closed   bool
}

// NewNegotiator creates a negotiator over capability. tag prefixes its log lines.
func NewNegotiator(capability Capability, tag string) *Negotiator {
	return &Negotiator{
		capability: capability,
		staging:    NewStaging(),
		tag:        tag,
	}
}

// State returns the current negotiation state.
func (n *Negotiator) State() State {
	if n.closed {
		return StateClosed
	}
	return stateOf(n.capability.SignalingState())
}

// Offered reports whether a local offer has been created.
func (n *Negotiator) Offered() bool { return n.offered }

// RemoteAccepted reports whether a remote descriptor has been applied.
func (n *Negotiator) RemoteAccepted() bool { return n.staging.Flushed() }

// Staged returns the number of candidates waiting for the remote descriptor.
func (n *Negotiator) Staged() int { return n.staging.Len() }

// ---------------------------------------------------------------------------
// Descriptor operations
// ---------------------------------------------------------------------------

// CreateOffer creates the local offer and sets it as the local descriptor.
// Only an initiator in Stable state that has not offered yet may call it.
func (n *Negotiator) CreateOffer(role Role, secret message.Secret) (message.Envelope, error) {
	if n.closed {
		return message.Envelope{}, ErrClosed
	}
	if role != RoleInitiator {
		return message.Envelope{}, fmt.Errorf("%w: %s cannot create an offer", ErrIllegalState, role)
	}
	if n.offered || n.answered {
		return message.Envelope{}, fmt.Errorf("%w: descriptor already exchanged", ErrIllegalState)
	}
	if st := n.State(); st != StateStable {
		return message.Envelope{}, fmt.Errorf("%w: create offer in %s", ErrIllegalState, st)
	}

	offer, err := n.capability.CreateOffer()
	if err != nil {
		return message.Envelope{}, fmt.Errorf("%w: create offer: %w", ErrNegotiationFailed, err)
	}
	if err := n.capability.SetLocalDescription(offer); err != nil {
		return message.Envelope{}, fmt.Errorf("%w: set local offer: %w", ErrNegotiationFailed, err)
	}
	n.offered = true

	util.LogDebug("[%s] local offer set (%s)", n.tag, n.State())
	return message.Offer(offer, secret), nil
}

// Rollback withdraws the local offer before any answer arrived and returns
// to Stable, so that the negotiator may answer a remote offer instead.
func (n *Negotiator) Rollback() error {
	if n.closed {
		return ErrClosed
	}
	if !n.offered {
		return fmt.Errorf("%w: no local offer to roll back", ErrIllegalState)
	}
	if st := n.State(); st != StateHaveLocalOffer {
		return fmt.Errorf("%w: rollback in %s", ErrIllegalState, st)
	}

	if err := n.capability.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		return fmt.Errorf("%w: rollback local offer: %w", ErrNegotiationFailed, err)
	}
	n.offered = false

	util.LogDebug("[%s] local offer rolled back (%s)", n.tag, n.State())
	return nil
}

// OnRemoteOffer applies a remote offer and, if the capability then sits in
// HaveRemoteOffer, answers it. A nil envelope with a nil error means the
// offer was applied but no answer was due.
//
// While a local offer is outstanding the remote offer is refused: the
// initiator's offer wins a collision.
func (n *Negotiator) OnRemoteOffer(desc webrtc.SessionDescription, secret message.Secret) (*message.Envelope, error) {
	if n.closed {
		return nil, ErrClosed
	}
	if n.answered {
		return nil, fmt.Errorf("%w: offer already answered", ErrIllegalState)
	}
	if n.offered {
		return nil, fmt.Errorf("%w: offer collision with outstanding local offer", ErrIllegalState)
	}
	if st := n.State(); st != StateStable {
		return nil, fmt.Errorf("%w: remote offer in %s", ErrIllegalState, st)
	}

	if err := n.capability.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("%w: set remote offer: %w", ErrNegotiationFailed, err)
	}
	n.flush()

	if n.State() != StateHaveRemoteOffer {
		util.LogDebug("[%s] remote offer applied but state is %s, not answering", n.tag, n.State())
		return nil, nil
	}

	answer, err := n.capability.CreateAnswer()
	if err != nil {
		return nil, fmt.Errorf("%w: create answer: %w", ErrNegotiationFailed, err)
	}
	if err := n.capability.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("%w: set local answer: %w", ErrNegotiationFailed, err)
	}
	n.answered = true

	util.LogDebug("[%s] local answer set (%s)", n.tag, n.State())
	env := message.Answer(answer, secret)
	return &env, nil
}

// OnRemoteAnswer applies the remote answer to our outstanding offer.
// Answers outside HaveLocalOffer (duplicates, late retransmissions) are
// refused with ErrIllegalState and leave the state untouched.
func (n *Negotiator) OnRemoteAnswer(desc webrtc.SessionDescription) error {
	if n.closed {
		return ErrClosed
	}
	if st := n.State(); st != StateHaveLocalOffer {
		return fmt.Errorf("%w: remote answer in %s", ErrIllegalState, st)
	}

	if err := n.capability.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote answer: %w", ErrNegotiationFailed, err)
	}
	n.flush()

	util.LogDebug("[%s] remote answer set (%s)", n.tag, n.State())
	return nil
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

// OnLocalCandidate wraps a locally discovered candidate for the relay.
func (n *Negotiator) OnLocalCandidate(c webrtc.ICECandidateInit) message.Envelope {
	return message.Candidate(c)
}

// OnRemoteCandidate stages c until the remote descriptor is accepted and
// applies it directly afterwards. Rejections are logged and swallowed.
func (n *Negotiator) OnRemoteCandidate(c webrtc.ICECandidateInit) {
	if n.closed {
		return
	}
	if err := n.staging.Add(c, n.capability.AddICECandidate); err != nil {
		util.LogWarning("[%s] remote candidate rejected: %v", n.tag, err)
	}
}

// flush releases staged candidates right after a remote descriptor is set.
func (n *Negotiator) flush() {
	pending := n.staging.Len()
	rejected := n.staging.Flush(n.capability.AddICECandidate)
	for _, r := range rejected {
		util.LogWarning("[%s] staged candidate rejected: %v", n.tag, r.Err)
	}
	if pending > 0 {
		util.LogDebug("[%s] flushed %d staged candidates (%d rejected)", n.tag, pending, len(rejected))
	}
}

// Close moves the negotiator to its terminal state.
func (n *Negotiator) Close() {
	n.closed = true
}
