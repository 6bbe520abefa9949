package negotiation

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/pairlink/internal/message"
)

var testSecret = message.Secret{Code: "1234", Pass: "secret"}

// offerFrom produces a genuine offer from a second in-memory capability.
func offerFrom(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	remote := NewMemoryCapability("remote")
	offer, err := remote.CreateOffer()
	if err != nil {
		t.Fatalf("remote CreateOffer: %v", err)
	}
	return offer
}

func answerDesc() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=remote-answer\r\n"}
}

// TestInitiatorOfferAnswer walks the initiator through Stable → HaveLocalOffer → Stable.
func TestInitiatorOfferAnswer(t *testing.T) {
	capability := NewMemoryCapability("local")
	n := NewNegotiator(capability, "test")

	env, err := n.CreateOffer(RoleInitiator, testSecret)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if env.Type != message.TypeOffer || env.SDP == nil || env.SDP.SDP == "" {
		t.Fatalf("offer envelope malformed: %+v", env)
	}
	if env.Secret() != testSecret {
		t.Errorf("offer does not echo the secret: %+v", env.Secret())
	}
	if n.State() != StateHaveLocalOffer {
		t.Fatalf("state = %s, want have-local-offer", n.State())
	}

	// Candidates before the answer are staged.
	n.OnRemoteCandidate(candidate(1))
	if n.Staged() != 1 || len(capability.Applied()) != 0 {
		t.Fatalf("candidate not staged: staged=%d applied=%d", n.Staged(), len(capability.Applied()))
	}

	if err := n.OnRemoteAnswer(answerDesc()); err != nil {
		t.Fatalf("OnRemoteAnswer: %v", err)
	}
	if n.State() != StateStable {
		t.Errorf("state = %s, want stable", n.State())
	}
	if n.Staged() != 0 || len(capability.Applied()) != 1 {
		t.Errorf("staged candidate not flushed: staged=%d applied=%d", n.Staged(), len(capability.Applied()))
	}
}

// TestCreateOfferPreconditions verifies the role and single-offer guards.
func TestCreateOfferPreconditions(t *testing.T) {
	for _, role := range []Role{RoleUnassigned, RoleReceiver} {
		n := NewNegotiator(NewMemoryCapability("local"), "test")
		if _, err := n.CreateOffer(role, testSecret); !errors.Is(err, ErrIllegalState) {
			t.Errorf("CreateOffer as %s: got %v, want ErrIllegalState", role, err)
		}
	}

	capability := NewMemoryCapability("local")
	n := NewNegotiator(capability, "test")
	if _, err := n.CreateOffer(RoleInitiator, testSecret); err != nil {
		t.Fatalf("first CreateOffer: %v", err)
	}
	if _, err := n.CreateOffer(RoleInitiator, testSecret); !errors.Is(err, ErrIllegalState) {
		t.Errorf("second CreateOffer: got %v, want ErrIllegalState", err)
	}
	if capability.Offers() != 1 {
		t.Errorf("capability created %d offers, want 1", capability.Offers())
	}
}

// TestReceiverAnswersOffer covers an offer arriving in Stable: an answer is
// produced and the state returns to Stable.
func TestReceiverAnswersOffer(t *testing.T) {
	capability := NewMemoryCapability("local")
	n := NewNegotiator(capability, "test")

	env, err := n.OnRemoteOffer(offerFrom(t), testSecret)
	if err != nil {
		t.Fatalf("OnRemoteOffer: %v", err)
	}
	if env == nil {
		t.Fatal("no answer produced")
	}
	if env.Type != message.TypeAnswer || env.SDP.Type != webrtc.SDPTypeAnswer {
		t.Errorf("answer envelope malformed: %+v", env)
	}
	if env.Secret() != testSecret {
		t.Errorf("answer does not echo the secret: %+v", env.Secret())
	}
	if n.State() != StateStable {
		t.Errorf("state = %s, want stable", n.State())
	}
	if !n.RemoteAccepted() {
		t.Error("remote descriptor not recorded as accepted")
	}
}

// TestDuplicateOfferProducesOneAnswer verifies at most one answer per negotiation.
func TestDuplicateOfferProducesOneAnswer(t *testing.T) {
	capability := NewMemoryCapability("local")
	n := NewNegotiator(capability, "test")
	offer := offerFrom(t)

	if _, err := n.OnRemoteOffer(offer, testSecret); err != nil {
		t.Fatalf("first offer: %v", err)
	}
	env, err := n.OnRemoteOffer(offer, testSecret)
	if !errors.Is(err, ErrIllegalState) || env != nil {
		t.Fatalf("duplicate offer: env=%v err=%v", env, err)
	}
	if capability.Answers() != 1 {
		t.Errorf("capability created %d answers, want 1", capability.Answers())
	}
}

// TestAnswerInStableIsNoop verifies the state guard on remote answers.
func TestAnswerInStableIsNoop(t *testing.T) {
	capability := NewMemoryCapability("local")
	n := NewNegotiator(capability, "test")

	err := n.OnRemoteAnswer(answerDesc())
	if !errors.Is(err, ErrIllegalState) {
		t.Fatalf("got %v, want ErrIllegalState", err)
	}
	if n.State() != StateStable {
		t.Errorf("state changed to %s", n.State())
	}
	if capability.RemoteDescription() != nil {
		t.Error("remote descriptor applied despite illegal state")
	}
	if n.RemoteAccepted() {
		t.Error("staging flushed by a refused answer")
	}
}

// TestGlareInitiatorOfferWins covers both orderings of a local offer racing a
// remote offer: no answer is produced while a local offer is outstanding and
// there are never two local offers.
func TestGlareInitiatorOfferWins(t *testing.T) {
	t.Run("local offer first", func(t *testing.T) {
		capability := NewMemoryCapability("local")
		n := NewNegotiator(capability, "test")

		if _, err := n.CreateOffer(RoleInitiator, testSecret); err != nil {
			t.Fatalf("CreateOffer: %v", err)
		}
		env, err := n.OnRemoteOffer(offerFrom(t), testSecret)
		if env != nil || !errors.Is(err, ErrIllegalState) {
			t.Fatalf("remote offer during glare: env=%v err=%v", env, err)
		}
		if n.State() != StateHaveLocalOffer {
			t.Errorf("state = %s, want have-local-offer", n.State())
		}
		if capability.Answers() != 0 {
			t.Errorf("answer created during glare")
		}
	})

	t.Run("remote offer first", func(t *testing.T) {
		capability := NewMemoryCapability("local")
		n := NewNegotiator(capability, "test")

		if env, err := n.OnRemoteOffer(offerFrom(t), testSecret); err != nil || env == nil {
			t.Fatalf("OnRemoteOffer: env=%v err=%v", env, err)
		}
		if _, err := n.CreateOffer(RoleInitiator, testSecret); !errors.Is(err, ErrIllegalState) {
			t.Fatalf("CreateOffer after answering: got %v", err)
		}
		if capability.Offers() != 0 || capability.Answers() != 1 {
			t.Errorf("offers=%d answers=%d, want 0 and 1", capability.Offers(), capability.Answers())
		}
	})
}

// racingCapability reports HaveLocalOffer right after a remote offer is set,
// as if a local offer had been created concurrently.
type racingCapability struct {
	*MemoryCapability
	raced bool
}

func (r *racingCapability) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := r.MemoryCapability.SetRemoteDescription(desc); err != nil {
		return err
	}
	r.raced = true
	return nil
}

func (r *racingCapability) SignalingState() webrtc.SignalingState {
	if r.raced {
		return webrtc.SignalingStateHaveLocalOffer
	}
	return r.MemoryCapability.SignalingState()
}

// TestOfferGuardDropsAnswer verifies that no answer is created unless the
// state after applying the remote offer is exactly HaveRemoteOffer.
func TestOfferGuardDropsAnswer(t *testing.T) {
	capability := &racingCapability{MemoryCapability: NewMemoryCapability("local")}
	n := NewNegotiator(capability, "test")

	env, err := n.OnRemoteOffer(offerFrom(t), testSecret)
	if err != nil {
		t.Fatalf("OnRemoteOffer: %v", err)
	}
	if env != nil {
		t.Fatalf("answer produced despite racing state: %+v", env)
	}
	if capability.Answers() != 0 {
		t.Errorf("capability created %d answers", capability.Answers())
	}
}

// TestRejectedCandidateDoesNotDisruptLaterOne verifies per-candidate failure isolation.
func TestRejectedCandidateDoesNotDisruptLaterOne(t *testing.T) {
	capability := NewMemoryCapability("local")
	capability.Reject = func(c webrtc.ICECandidateInit) bool {
		return c.Candidate == candidate(1).Candidate
	}
	n := NewNegotiator(capability, "test")

	if _, err := n.OnRemoteOffer(offerFrom(t), testSecret); err != nil {
		t.Fatalf("OnRemoteOffer: %v", err)
	}

	n.OnRemoteCandidate(candidate(1))
	n.OnRemoteCandidate(candidate(2))

	applied := capability.Applied()
	if len(applied) != 1 || applied[0].Candidate != candidate(2).Candidate {
		t.Errorf("applied = %+v, want only candidate 2", applied)
	}
	if n.State() != StateStable {
		t.Errorf("state = %s after rejection", n.State())
	}
}

// TestSetRemoteFailureIsFatal verifies that capability errors are reported as
// ErrNegotiationFailed.
func TestSetRemoteFailureIsFatal(t *testing.T) {
	n := NewNegotiator(NewMemoryCapability("local"), "test")

	// An answer descriptor in an offer slot is refused by the capability.
	_, err := n.OnRemoteOffer(answerDesc(), testSecret)
	if !errors.Is(err, ErrNegotiationFailed) {
		t.Fatalf("got %v, want ErrNegotiationFailed", err)
	}
	if errors.Is(err, ErrIllegalState) {
		t.Error("capability failure misreported as illegal state")
	}
}

// TestClosedIsTerminal verifies that every operation is refused after Close.
func TestClosedIsTerminal(t *testing.T) {
	capability := NewMemoryCapability("local")
	n := NewNegotiator(capability, "test")
	n.Close()

	if n.State() != StateClosed {
		t.Fatalf("state = %s, want closed", n.State())
	}
	if _, err := n.CreateOffer(RoleInitiator, testSecret); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateOffer: %v", err)
	}
	if _, err := n.OnRemoteOffer(offerFrom(t), testSecret); !errors.Is(err, ErrClosed) {
		t.Errorf("OnRemoteOffer: %v", err)
	}
	if err := n.OnRemoteAnswer(answerDesc()); !errors.Is(err, ErrClosed) {
		t.Errorf("OnRemoteAnswer: %v", err)
	}
	n.OnRemoteCandidate(candidate(1))
	if n.Staged() != 0 {
		t.Error("candidate staged after close")
	}
}

// TestRollbackThenAnswer withdraws a local offer so the remote offer can be
// answered instead.
func TestRollbackThenAnswer(t *testing.T) {
	capability := NewMemoryCapability("local")
	n := NewNegotiator(capability, "test")

	if err := n.Rollback(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Rollback without offer: got %v, want ErrIllegalState", err)
	}

	if _, err := n.CreateOffer(RoleInitiator, testSecret); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	n.OnRemoteCandidate(candidate(1))

	if err := n.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if n.State() != StateStable || n.Offered() || capability.LocalDescription() != nil {
		t.Fatalf("after rollback: state=%s offered=%v local=%v", n.State(), n.Offered(), capability.LocalDescription())
	}
	if n.Staged() != 1 {
		t.Errorf("rollback dropped staged candidates: %d", n.Staged())
	}

	answer, err := n.OnRemoteOffer(offerFrom(t), testSecret)
	if err != nil || answer == nil {
		t.Fatalf("OnRemoteOffer after rollback: %v, %v", answer, err)
	}
	if n.State() != StateStable || len(capability.Applied()) != 1 {
		t.Errorf("state=%s applied=%d", n.State(), len(capability.Applied()))
	}
}
