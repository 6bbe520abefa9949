package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairlink/internal/message"
	"github.com/1ureka/pairlink/internal/negotiation"
	"github.com/1ureka/pairlink/internal/util"
)

// ErrRelayClosed is reported when the relay connection drops before the
// direct channel has opened.
var ErrRelayClosed = errors.New("relay connection closed")

const defaultQueueSize = 64

// Hooks surface direct-channel events to the caller. They run on the
// session's dispatch goroutine and must not block.
type Hooks struct {
	OnOpen    func()
	OnMessage func([]byte)
	// OnClose is called once when the session is destroyed, after Done is
	// closed. err is nil when the direct channel closed normally.
	OnClose func(err error)
}

// Options configure a Session.
type Options struct {
	// ID identifies the session in logs. A random UUID is used when empty.
	ID string

	// EagerOffer creates the local offer inside Start and embeds it in the
	// probe; the offer envelope is then sent as soon as the match arrives.
	// Otherwise the offer is created only when matched as initiator.
	EagerOffer bool

	// QueueSize bounds the dispatch queue. Defaults to 64.
	QueueSize int

	Hooks Hooks
}

// Status is a snapshot of a session taken on its dispatch goroutine.
type Status struct {
	Role      negotiation.Role
	State     negotiation.State
	Secret    message.Secret
	Staged    int  // remote candidates waiting for the remote descriptor
	Held      int  // local candidates waiting for our descriptor to be sent
	Matched   bool // relay paired us with a peer
	Opened    bool // direct channel open
	Destroyed bool
}

// Session is the per-negotiation signaling state machine. It classifies
// relay envelopes, owns the role and shared secret, drives the Negotiator
// and forwards what it produces back to the relay.
//
// Every input (relay envelopes, caller requests, capability callbacks) is
// queued and executed one at a time on the goroutine running Run, so the
// loop-owned fields below need no locking.
type Session struct {
	id     string
	tag    string
	relay  Relay
	neg    *negotiation.Negotiator
	opts   Options
	events chan func()
	done   chan struct{}

	// Set once before done is closed.
	err   error
	final Status

	// Loop-owned state.
	role         negotiation.Role
	secret       message.Secret
	started      bool
	matched      bool
	pendingOffer *message.Envelope // eager offer held until matched
	offerSent    bool
	opened       bool
	relayGone    bool
	destroyed    bool

	// Local candidates gathered before our offer or answer was sent.
	described bool
	held      []webrtc.ICECandidateInit
}

// NewSession creates a session over relay and capability and registers the
// capability's event hooks. Call Run to start processing.
func NewSession(relay Relay, capability negotiation.Capability, opts Options) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	tag := opts.ID
	if len(tag) > 8 {
		tag = tag[:8]
	}

	s := &Session{
		id:     opts.ID,
		tag:    tag,
		relay:  relay,
		neg:    negotiation.NewNegotiator(capability, tag),
		opts:   opts,
		events: make(chan func(), opts.QueueSize),
		done:   make(chan struct{}),
	}

	capability.OnLocalCandidate(func(c webrtc.ICECandidateInit) {
		s.enqueue(func() { s.handleLocalCandidate(c) })
	})
	capability.OnChannelOpen(func() {
		s.enqueue(s.handleOpen)
	})
	capability.OnChannelMessage(func(data []byte) {
		s.enqueue(func() { s.handleMessage(data) })
	})
	capability.OnChannelClose(func(err error) {
		s.enqueue(func() {
			if err == nil {
				util.LogInfo("[%s] direct channel closed", s.tag)
			}
			s.destroy(err)
		})
	})

	return s
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Done is closed when the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error once Done is closed; nil before that and
// after a normal channel close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Start begins the session as initiator for code+password: the role is
// fixed to Initiator and a probe is sent to the relay.
func (s *Session) Start(code, password string) {
	secret := message.Secret{Code: code, Pass: password}
	s.enqueue(func() { s.start(secret, negotiation.RoleInitiator) })
}

// Join probes the relay for code+password without claiming a role; the
// relay's match decides whether this session offers or answers.
func (s *Session) Join(code, password string) {
	secret := message.Secret{Code: code, Pass: password}
	s.enqueue(func() { s.start(secret, negotiation.RoleUnassigned) })
}

// Dispatch queues an envelope delivered by the relay.
func (s *Session) Dispatch(env message.Envelope) {
	s.enqueue(func() { s.dispatch(env) })
}

// Inspect returns a snapshot of the session. After destruction it returns
// the state at the moment of destruction.
func (s *Session) Inspect(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if !s.enqueue(func() { reply <- s.status() }) {
		return s.final, nil
	}

	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return s.final, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Run reads the relay and processes queued events until the session is
// destroyed or ctx is cancelled. It must be called exactly once. The
// returned error is the session's terminal error.
func (s *Session) Run(ctx context.Context) error {
	go s.readRelay()

	for {
		select {
		case fn := <-s.events:
			fn()
		case <-ctx.Done():
			s.destroy(ctx.Err())
		}
		if s.destroyed {
			return s.err
		}
	}
}

// ---------------------------------------------------------------------------
// Queue
// ---------------------------------------------------------------------------

// enqueue hands fn to the dispatch goroutine. It reports false once the
// session is destroyed.
func (s *Session) enqueue(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// readRelay pumps relay envelopes into the queue. Malformed envelopes are
// dropped here; a read error ends the loop.
func (s *Session) readRelay() {
	for {
		env, err := s.relay.Receive()
		if errors.Is(err, message.ErrMalformed) {
			util.LogWarning("[%s] dropping relay envelope: %v", s.tag, err)
			continue
		}
		if err != nil {
			s.enqueue(func() { s.relayClosed(err) })
			return
		}
		if !s.enqueue(func() { s.dispatch(env) }) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Handlers (dispatch goroutine only)
// ---------------------------------------------------------------------------

func (s *Session) start(secret message.Secret, role negotiation.Role) {
	if s.started {
		util.LogWarning("[%s] session already started, ignoring", s.tag)
		return
	}
	s.started = true
	s.secret = secret
	if role != negotiation.RoleUnassigned {
		s.role = role
	}

	var sdp *webrtc.SessionDescription
	if s.opts.EagerOffer && s.role == negotiation.RoleInitiator {
		env, err := s.neg.CreateOffer(s.role, s.secret)
		if err != nil {
			s.negotiationError(err)
			return
		}
		s.pendingOffer = &env
		sdp = env.SDP
	}

	util.LogDebug("[%s] probing relay as %s", s.tag, s.role)
	s.send(message.Probe(secret, sdp))
}

func (s *Session) dispatch(env message.Envelope) {
	if err := env.Validate(); err != nil {
		util.LogWarning("[%s] dropping envelope: %v", s.tag, err)
		return
	}

	switch env.Type {
	case message.TypeMatch:
		s.handleMatch(*env.Initiator)
	case message.TypeNewRoom:
		util.LogInfo("[%s] no peer yet, waiting room created", s.tag)
	case message.TypeOffer:
		s.handleOffer(env)
	case message.TypeAnswer:
		s.negotiationError(s.neg.OnRemoteAnswer(*env.SDP))
	case message.TypeCandidate:
		s.neg.OnRemoteCandidate(*env.Candidate)
	default:
		util.LogWarning("[%s] dropping unexpected %q envelope", s.tag, env.Type)
	}
}

func (s *Session) handleMatch(initiator bool) {
	if s.matched {
		util.LogDebug("[%s] duplicate match ignored", s.tag)
		return
	}

	assigned := negotiation.RoleReceiver
	if initiator {
		assigned = negotiation.RoleInitiator
	}

	switch {
	case s.role == negotiation.RoleUnassigned || s.role == assigned:
	case assigned == negotiation.RoleReceiver && !s.offerSent:
		// The peer took the room first and will offer.
		if !s.becomeReceiver() {
			return
		}
	default:
		util.LogWarning("[%s] relay matched us as %s but session is %s, ignoring", s.tag, assigned, s.role)
		return
	}

	s.matched = true
	s.role = assigned
	util.LogInfo("[%s] matched with peer as %s", s.tag, s.role)

	if s.role == negotiation.RoleInitiator {
		s.sendOffer()
	}
}

// sendOffer sends the eager offer if one is held, or creates it now.
func (s *Session) sendOffer() {
	if s.offerSent {
		return
	}

	env := s.pendingOffer
	if env == nil {
		created, err := s.neg.CreateOffer(s.role, s.secret)
		if err != nil {
			s.negotiationError(err)
			return
		}
		env = &created
	}

	s.pendingOffer = nil
	s.offerSent = true
	s.sendDescription(*env)
}

// becomeReceiver demotes an initiator that has not sent its offer yet,
// withdrawing the eager offer if one is set. It reports false when the
// rollback failed.
func (s *Session) becomeReceiver() bool {
	if s.pendingOffer != nil {
		if err := s.neg.Rollback(); err != nil {
			s.negotiationError(err)
			return false
		}
		s.pendingOffer = nil
	}
	if s.role != negotiation.RoleReceiver {
		util.LogInfo("[%s] peer is offering, switching from %s to receiver", s.tag, s.role)
	}
	s.role = negotiation.RoleReceiver
	return true
}

func (s *Session) handleOffer(env message.Envelope) {
	switch {
	case s.role == negotiation.RoleUnassigned:
		// A session that was never told its role is answering.
		s.role = negotiation.RoleReceiver
	case s.role == negotiation.RoleInitiator && !s.offerSent:
		if !s.becomeReceiver() {
			return
		}
	}
	if s.secret.IsZero() {
		s.secret = env.Secret()
	}

	answer, err := s.neg.OnRemoteOffer(*env.SDP, s.secret)
	if err != nil {
		s.negotiationError(err)
		return
	}
	if answer != nil {
		s.sendDescription(*answer)
	}
}

// sendDescription sends our offer or answer, then the local candidates
// gathered before it. Holding them keeps candidates from reaching the relay
// before it has paired us, where they would be dropped.
func (s *Session) sendDescription(env message.Envelope) {
	s.send(env)
	s.described = true

	held := s.held
	s.held = nil
	for _, c := range held {
		s.send(s.neg.OnLocalCandidate(c))
	}
}

func (s *Session) handleLocalCandidate(c webrtc.ICECandidateInit) {
	if !s.described {
		s.held = append(s.held, c)
		return
	}
	s.send(s.neg.OnLocalCandidate(c))
}

func (s *Session) handleOpen() {
	s.opened = true
	util.LogSuccess("[%s] direct channel open", s.tag)
	if s.opts.Hooks.OnOpen != nil {
		s.opts.Hooks.OnOpen()
	}
}

func (s *Session) handleMessage(data []byte) {
	if s.opts.Hooks.OnMessage != nil {
		s.opts.Hooks.OnMessage(data)
	}
}

// negotiationError classifies a negotiator error: illegal-state refusals
// are warnings, anything else ends the session.
func (s *Session) negotiationError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, negotiation.ErrIllegalState):
		util.LogWarning("[%s] %v", s.tag, err)
	case errors.Is(err, negotiation.ErrClosed):
		util.LogDebug("[%s] %v", s.tag, err)
	default:
		s.destroy(err)
	}
}

// send forwards an envelope to the relay. Once the relay is gone, envelopes
// are dropped; late candidates after the channel opened are expected.
func (s *Session) send(env message.Envelope) {
	if s.relayGone {
		util.LogDebug("[%s] relay gone, dropping outbound %s", s.tag, env.Type)
		return
	}
	if err := s.relay.Send(env); err != nil {
		s.relayClosed(err)
	}
}

func (s *Session) relayClosed(err error) {
	if s.relayGone {
		return
	}
	s.relayGone = true

	if s.opened {
		util.LogDebug("[%s] relay closed after channel open: %v", s.tag, err)
		return
	}
	s.destroy(fmt.Errorf("%w: %w", ErrRelayClosed, err))
}

func (s *Session) status() Status {
	return Status{
		Role:      s.role,
		State:     s.neg.State(),
		Secret:    s.secret,
		Staged:    s.neg.Staged(),
		Held:      len(s.held),
		Matched:   s.matched,
		Opened:    s.opened,
		Destroyed: s.destroyed,
	}
}

// destroy ends the session: the negotiator is closed, the relay released,
// Done closed and the caller notified.
func (s *Session) destroy(err error) {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.err = err
	s.neg.Close()
	s.final = s.status()

	if err != nil {
		util.LogError("[%s] session destroyed: %v", s.tag, err)
	} else {
		util.LogDebug("[%s] session destroyed", s.tag)
	}

	s.relayGone = true
	_ = s.relay.Close()

	// done is closed first so the hook may call Inspect or Err.
	close(s.done)
	if s.opts.Hooks.OnClose != nil {
		s.opts.Hooks.OnClose(err)
	}
}
